package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/netmon/internal/api/client"
)

func NewMetricCommand(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "metric",
		Short:   "Metric sample commands",
		Aliases: []string{"metrics", "m"},
	}

	cmd.AddCommand(newMetricLatestCommand(cc))
	cmd.AddCommand(newMetricHistoryCommand(cc))
	cmd.AddCommand(newMetricPushCommand(cc))

	return cmd
}

func newMetricLatestCommand(cc *cliContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "latest [host_id]",
		Short: "Show the newest value of every key of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := cc.client()
			if err != nil {
				return err
			}

			if watch {
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()

				for {
					if err := displayLatest(cmd, c, hostID); err != nil {
						return err
					}
					select {
					case <-cmd.Context().Done():
						return nil
					case <-ticker.C:
					}
					fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J") // Clear screen
				}
			}

			return displayLatest(cmd, c, hostID)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh every two seconds")
	return cmd
}

func displayLatest(cmd *cobra.Command, c *client.Client, hostID uint) error {
	samples, err := c.LatestMetrics(cmd.Context(), hostID)
	if err != nil {
		return fmt.Errorf("failed to get latest metrics: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tTIMESTAMP")
	for _, s := range samples {
		fmt.Fprintf(w, "%s\t%.2f\t%s\n", s.Key, s.Value, s.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func newMetricHistoryCommand(cc *cliContext) *cobra.Command {
	var (
		key   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history [host_id]",
		Short: "Show stored samples of a host, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := cc.client()
			if err != nil {
				return err
			}

			samples, err := c.ListMetrics(cmd.Context(), hostID, key, limit)
			if err != nil {
				return fmt.Errorf("failed to get metric history: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tKEY\tVALUE")
			for _, s := range samples {
				fmt.Fprintf(w, "%s\t%s\t%.2f\n", s.Timestamp.Format(time.RFC3339), s.Key, s.Value)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Only this metric key")
	cmd.Flags().IntVar(&limit, "limit", 0, "Limit the number of records")
	return cmd
}

func newMetricPushCommand(cc *cliContext) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "push [host_id] [key] [value]",
		Short: "Push one sample",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := parseID(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[2], err)
			}
			sample := client.Sample{HostID: hostID, Key: args[1], Value: value}
			if at != "" {
				ts, err := parseTime("sample", at)
				if err != nil {
					return err
				}
				sample.Timestamp = &ts
			}

			c, err := cc.client()
			if err != nil {
				return err
			}
			if err := c.PushSample(cmd.Context(), sample); err != nil {
				return fmt.Errorf("failed to push sample: %w", err)
			}
			printAccepted(cmd.OutOrStdout(), sample)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Sample time (RFC3339 format), default now")
	return cmd
}

func printAccepted(w io.Writer, s client.Sample) {
	fmt.Fprintf(w, "Sample %s=%g accepted for host %d\n", s.Key, s.Value, s.HostID)
}
