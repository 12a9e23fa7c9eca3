package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCommand(cc *cliContext) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}
			token, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := cc.saveToken(token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Login successful")
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newWhoamiCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}
			u, err := c.Me(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get current user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) <%s>\n", u.Username, u.Role, u.Email)
			return nil
		},
	}
}

func newRotateKeyCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key",
		Short: "Issue a new API key for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}
			key, err := c.RotateAPIKey(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to rotate api key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newDashboardCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:     "dashboard",
		Short:   "Show host and alert totals",
		Aliases: []string{"dash"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}
			s, err := c.Dashboard(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load dashboard: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintf(w, "Generated\t%s\n", s.GeneratedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Hosts\t%d\n", s.TotalHosts)
			fmt.Fprintf(w, "Alerts\t%d (%d active, %d resolved)\n",
				s.AlertSummary.TotalAlerts, s.AlertSummary.ActiveAlerts, s.AlertSummary.ResolvedAlerts)
			fmt.Fprintf(w, "By level\tcritical=%d warning=%d info=%d\n",
				s.AlertSummary.CriticalAlerts, s.AlertSummary.WarningAlerts, s.AlertSummary.InfoAlerts)
			if len(s.TopTriggers) > 0 {
				fmt.Fprintln(w, "\nTRIGGER\tLEVEL\tALERTS")
				for _, t := range s.TopTriggers {
					fmt.Fprintf(w, "%s\t%s\t%d\n", t.Name, t.Level, t.AlertCount)
				}
			}
			return w.Flush()
		},
	}
}
