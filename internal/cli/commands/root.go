package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netmon/internal/api/client"
)

// cliContext carries the settings shared by every command.
type cliContext struct {
	v *viper.Viper
}

// NewRootCommand builds the netmon CLI. Settings come from flags, NETMON_*
// environment variables and ~/.netmon.yaml, in that order.
func NewRootCommand() *cobra.Command {
	cc := &cliContext{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "netmon",
		Short: "netmon CLI - a host monitoring tool",
		Long: `netmon is a command-line client for the netmon server.
It manages hosts, triggers and alerts, and can push or inspect metric samples.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cc.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file (default $HOME/.netmon.yaml)")
	flags.String("api-url", "http://localhost:8000", "netmon server URL")
	flags.String("api-key", "", "API key")
	_ = cc.v.BindPFlag("config", flags.Lookup("config"))
	_ = cc.v.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = cc.v.BindPFlag("api_key", flags.Lookup("api-key"))

	cmd.AddCommand(newLoginCommand(cc))
	cmd.AddCommand(newWhoamiCommand(cc))
	cmd.AddCommand(newRotateKeyCommand(cc))
	cmd.AddCommand(newDashboardCommand(cc))
	cmd.AddCommand(NewHostCommand(cc))
	cmd.AddCommand(NewMetricCommand(cc))
	cmd.AddCommand(NewAlertCommand(cc))
	cmd.AddCommand(NewTriggerCommand(cc))

	return cmd
}

func (cc *cliContext) load() error {
	cc.v.SetEnvPrefix("NETMON")
	cc.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cc.v.AutomaticEnv()

	if path := cc.v.GetString("config"); path != "" {
		cc.v.SetConfigFile(path)
	} else {
		cc.v.SetConfigFile(defaultConfigPath())
	}
	if err := cc.v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netmon.yaml"
	}
	return filepath.Join(home, ".netmon.yaml")
}

// client builds an API client. A saved login token wins over the API key.
func (cc *cliContext) client() (*client.Client, error) {
	var opts []client.Option
	if token := cc.v.GetString("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	c, err := client.New(cc.v.GetString("api_url"), cc.v.GetString("api_key"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// saveToken stores the login token in the config file.
func (cc *cliContext) saveToken(token string) error {
	cc.v.Set("token", token)
	path := cc.v.ConfigFileUsed()
	if path == "" {
		path = defaultConfigPath()
	}
	if err := cc.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func parseTime(name, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s time: %w", name, err)
	}
	return t, nil
}
