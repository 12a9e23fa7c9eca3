package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewAlertCommand(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alert",
		Short:   "Alert management commands",
		Aliases: []string{"alerts", "a"},
	}

	cmd.AddCommand(newAlertListCommand(cc))
	cmd.AddCommand(newAlertCreateCommand(cc))
	cmd.AddCommand(newAlertResolveCommand(cc))

	return cmd
}

func newAlertListCommand(cc *cliContext) *cobra.Command {
	var (
		hostID uint
		status string
		level  string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List alerts, newest first",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}

			alerts, err := c.ListAlerts(cmd.Context(), hostID, status, level)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tHOST\tLEVEL\tKEY\tVALUE\tSTATUS\tTRIGGERED\tTITLE")
			for _, alert := range alerts {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
					alert.ID,
					alert.HostID,
					alert.Level,
					alert.Key,
					alert.Value,
					alert.Status,
					alert.TriggeredAt.Format(time.RFC3339),
					alert.Title,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().UintVar(&hostID, "host", 0, "Filter by host id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by alert status (active/resolved)")
	cmd.Flags().StringVar(&level, "level", "", "Filter by alert level (info/warning/critical)")
	return cmd
}

func newAlertCreateCommand(cc *cliContext) *cobra.Command {
	var (
		message string
		level   string
	)

	cmd := &cobra.Command{
		Use:   "create [host_id] [title]",
		Short: "Open a manual alert on a host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := cc.client()
			if err != nil {
				return err
			}
			a, err := c.CreateAlert(cmd.Context(), hostID, args[1], message, level)
			if err != nil {
				return fmt.Errorf("failed to create alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %d created\n", a.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Alert message")
	cmd.Flags().StringVar(&level, "level", "warning", "Alert level (info/warning/critical)")
	return cmd
}

func newAlertResolveCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [alert_id]",
		Short: "Resolve an active alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := cc.client()
			if err != nil {
				return err
			}
			if _, err := c.ResolveAlert(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to resolve alert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %d resolved\n", id)
			return nil
		},
	}
}
