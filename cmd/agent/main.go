package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netmon/internal/agent"
	"github.com/netmon/internal/api/client"
	"github.com/netmon/internal/config"
	"github.com/netmon/internal/logger"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "netmon-agent",
		Short:        "netmon agent - registers this host and pushes its metrics",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg.Agent)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default ./config.yaml or /etc/netmon/config.yaml)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AgentConfig) error {
	// API_URL may point at the versioned prefix; the client adds it itself.
	baseURL := strings.TrimSuffix(strings.TrimSuffix(cfg.APIURL, "/"), "/api/v1")

	// Keys issued by the server carry the nm_ prefix, anything else is a
	// bearer token.
	var (
		apiKey string
		opts   []client.Option
	)
	if strings.HasPrefix(cfg.APIKey, "nm_") {
		apiKey = cfg.APIKey
	} else if cfg.APIKey != "" {
		opts = append(opts, client.WithToken(cfg.APIKey))
	}
	api, err := client.New(baseURL, apiKey, opts...)
	if err != nil {
		return err
	}

	var sources []agent.Source
	for _, name := range cfg.Sources {
		src, err := agent.NewSource(name)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no metric sources configured")
	}

	log := logger.WithComponent("main")
	log.Info().
		Str("api_url", baseURL).
		Str("host", cfg.HostName).
		Strs("sources", cfg.Sources).
		Dur("interval", cfg.Interval).
		Msg("starting agent")

	return agent.New(api, agent.Config{
		HostName:    cfg.HostName,
		HostIP:      cfg.HostIP,
		Tags:        cfg.Tags,
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
	}, sources...).Run(ctx)
}
