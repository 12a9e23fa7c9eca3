package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/api"
	"github.com/netmon/internal/auth"
	"github.com/netmon/internal/config"
	"github.com/netmon/internal/database"
	"github.com/netmon/internal/ingest"
	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/models"
	"github.com/netmon/internal/notify"
	"github.com/netmon/internal/repository"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "netmon-server",
		Short:        "netmon server - ingests metric samples and evaluates triggers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default ./config.yaml or /etc/netmon/config.yaml)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Init(cfg.Log.Level)
	log := logger.WithComponent("main")
	gin.SetMode(cfg.Server.Mode)

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer database.Close(db)
	repo := repository.New(db)

	if err := ensureAdmin(ctx, repo, cfg); err != nil {
		return err
	}

	sinks := []notify.Sink{notify.NewLogSink()}
	if n := cfg.Notify.Slack; n.WebhookURL != "" || (n.Token != "" && n.Channel != "") {
		sinks = append(sinks, notify.NewSlackSink(n.Token, n.Channel, n.WebhookURL))
	}
	if n := cfg.Notify.Email; n.SMTPHost != "" && len(n.ToReceivers) > 0 {
		sinks = append(sinks, notify.NewEmailSink(n.SMTPHost, n.SMTPPort, n.From, n.Password, n.ToReceivers))
	}
	if n := cfg.Notify.Kafka; len(n.Brokers) > 0 {
		kafka, err := notify.NewKafkaSink(n.Brokers, n.Topic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:   cfg.Notify.QueueSize,
		MaxAttempts: cfg.Notify.MaxAttempts,
	}, sinks...)
	dispatcher.Start(context.WithoutCancel(ctx))
	defer dispatcher.Close()

	engine := alert.NewEngine(repo, repo, dispatcher)
	restored, err := engine.Manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore active alerts: %w", err)
	}
	hostIDs, err := repo.AllHostIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hosts: %w", err)
	}
	loaded := 0
	for _, id := range hostIDs {
		n, err := engine.Registry.LoadHost(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load triggers of host %d: %w", id, err)
		}
		loaded += n
	}
	log.Info().Int("alerts", restored).Int("triggers", loaded).Int("hosts", len(hostIDs)).Msg("engine state restored")

	pipeline := ingest.NewPipeline(ingest.NewIngress(engine, repo), ingest.Config{
		Shards:    cfg.Engine.Shards,
		QueueSize: cfg.Engine.QueueSize,
	})
	// Workers keep running after a signal until Stop has drained the queues.
	pipeline.Start(context.WithoutCancel(ctx))

	outboxDone := make(chan struct{})
	go func() {
		defer close(outboxDone)
		engine.Manager.Run(ctx, cfg.Engine.RetryInterval)
	}()

	var limiter api.RateLimiter
	if cfg.RateLimit.RedisAddr != "" {
		limiter, err = api.NewRedisRateLimiter(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, cfg.RateLimit.RedisDB)
		if err != nil {
			return err
		}
	} else {
		limiter = api.NewMemoryRateLimiter()
	}
	defer limiter.Close()

	server := api.NewServer(api.Options{
		Repo:            repo,
		Engine:          engine,
		Pipeline:        pipeline,
		Auth:            auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL, repo),
		Limiter:         limiter,
		RateLimit:       cfg.RateLimit.Limit,
		RateWindow:      cfg.RateLimit.Window,
		DefaultTriggers: cfg.Engine.DefaultTriggers,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Server.Port) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	pipeline.Stop()
	<-outboxDone
	if err := engine.Manager.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Int("pending", engine.Manager.Pending()).Msg("unpersisted alert transitions left")
	}
	return nil
}

// ensureAdmin creates the configured admin account on first start.
func ensureAdmin(ctx context.Context, repo *repository.Repository, cfg *config.Config) error {
	if cfg.Auth.AdminPassword == "" {
		return nil
	}
	if _, err := repo.UserByUsername(ctx, cfg.Auth.AdminUser); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	admin := models.User{Username: cfg.Auth.AdminUser, Role: models.RoleAdmin, IsActive: true}
	if err := admin.SetPassword(cfg.Auth.AdminPassword); err != nil {
		return err
	}
	admin.RotateAPIKey()
	if err := repo.CreateUser(ctx, &admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	log := logger.WithComponent("main")
	log.Info().Str("username", admin.Username).Msg("admin user created")
	return nil
}
