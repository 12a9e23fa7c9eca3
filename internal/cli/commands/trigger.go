package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/netmon/internal/models"
)

func NewTriggerCommand(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "trigger",
		Short:   "Trigger management commands",
		Aliases: []string{"triggers", "t"},
	}

	cmd.AddCommand(newTriggerListCommand(cc))
	cmd.AddCommand(newTriggerCreateCommand(cc))
	cmd.AddCommand(newTriggerToggleCommand(cc, true))
	cmd.AddCommand(newTriggerToggleCommand(cc, false))
	cmd.AddCommand(newTriggerDeleteCommand(cc))
	cmd.AddCommand(newTriggerTestCommand(cc))
	cmd.AddCommand(newTriggerExportCommand(cc))
	cmd.AddCommand(newTriggerImportCommand(cc))

	return cmd
}

func newTriggerListCommand(cc *cliContext) *cobra.Command {
	var hostID uint

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List triggers",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}
			triggers, err := c.ListTriggers(cmd.Context(), hostID)
			if err != nil {
				return fmt.Errorf("failed to list triggers: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tHOST\tNAME\tRULE\tDURATION\tLEVEL\tENABLED")
			for _, t := range triggers {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s %s %g\t%ds\t%s\t%v\n",
					t.ID, t.HostID, t.Name, t.Key, t.Condition, t.Threshold, t.Duration, t.AlertLevel, t.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().UintVar(&hostID, "host", 0, "Filter by host id")
	return cmd
}

// triggerFlags holds the rule flags shared by create and test.
type triggerFlags struct {
	condition string
	threshold float64
	duration  int
	level     string
}

func (f *triggerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.condition, "condition", ">", "Comparison (>, <, ==, !=)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Threshold value")
	cmd.Flags().IntVar(&f.duration, "duration", 0, "Seconds the condition must hold")
	cmd.Flags().StringVar(&f.level, "level", string(models.AlertLevelWarning), "Alert level (info/warning/critical)")
}

func (f *triggerFlags) trigger(hostID uint, key string) (models.Trigger, error) {
	cond, err := models.ParseCondition(f.condition)
	if err != nil {
		return models.Trigger{}, err
	}
	return models.Trigger{
		HostID:     hostID,
		Key:        key,
		Condition:  cond,
		Threshold:  f.threshold,
		Duration:   f.duration,
		AlertLevel: models.AlertLevel(f.level),
		Enabled:    true,
	}, nil
}

func newTriggerCreateCommand(cc *cliContext) *cobra.Command {
	var (
		rule        triggerFlags
		name        string
		description string
		disabled    bool
	)

	cmd := &cobra.Command{
		Use:   "create [host_id] [key]",
		Short: "Create a trigger on a metric key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := rule.trigger(hostID, args[1])
			if err != nil {
				return err
			}
			t.Name = name
			t.Description = description
			t.Enabled = !disabled

			c, err := cc.client()
			if err != nil {
				return err
			}
			created, err := c.CreateTrigger(cmd.Context(), t)
			if err != nil {
				return fmt.Errorf("failed to create trigger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trigger %d created\n", created.ID)
			return nil
		},
	}

	rule.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Trigger name")
	cmd.Flags().StringVar(&description, "description", "", "Trigger description")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the trigger disabled")
	return cmd
}

func newTriggerToggleCommand(cc *cliContext, enable bool) *cobra.Command {
	use, verb := "disable", "disabled"
	if enable {
		use, verb = "enable", "enabled"
	}

	return &cobra.Command{
		Use:   use + " [trigger_id]",
		Short: "Mark a trigger " + verb,
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
			if _, err := c.SetTriggerEnabled(cmd.Context(), id, enable); err != nil {
				return fmt.Errorf("failed to update trigger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trigger %d %s\n", id, verb)
			return nil
		},
	}
}

func newTriggerDeleteCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [trigger_id]",
		Short:   "Delete a trigger and resolve its active alert",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := cc.client()
			if err != nil {
				return err
			}
			if err := c.DeleteTrigger(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete trigger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trigger %d deleted\n", id)
			return nil
		},
	}
}

func newTriggerTestCommand(cc *cliContext) *cobra.Command {
	var (
		rule     triggerFlags
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "test [host_id] [key]",
		Short: "Replay stored samples through a rule without opening alerts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := rule.trigger(hostID, args[1])
			if err != nil {
				return err
			}

			end := time.Now().UTC()
			if to != "" {
				if end, err = parseTime("end", to); err != nil {
					return err
				}
			}
			start := end.Add(-time.Hour)
			if from != "" {
				if start, err = parseTime("start", from); err != nil {
					return err
				}
			}

			c, err := cc.client()
			if err != nil {
				return err
			}
			res, err := c.TestTrigger(cmd.Context(), t, start, end)
			if err != nil {
				return fmt.Errorf("failed to test trigger: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d samples, %d opened, %d resolved\n",
				res.Summary.Samples, res.Summary.Opened, res.Summary.Resolved)
			if len(res.Transitions) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "AT\tSTATUS\tVALUE")
			for _, tr := range res.Transitions {
				fmt.Fprintf(w, "%s\t%s\t%.2f\n", tr.At.Format(time.RFC3339), tr.Status, tr.Alert.Value)
			}
			return w.Flush()
		},
	}

	rule.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "Start time (RFC3339 format), default one hour before --to")
	cmd.Flags().StringVar(&to, "to", "", "End time (RFC3339 format), default now")
	return cmd
}

func newTriggerExportCommand(cc *cliContext) *cobra.Command {
	var (
		hostID uint
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export triggers as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if err := c.ExportTriggers(cmd.Context(), hostID, w); err != nil {
				return fmt.Errorf("failed to export triggers: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&hostID, "host", 0, "Only triggers of this host")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newTriggerImportCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import [host_id] [file]",
		Short: "Import exported triggers onto a host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := parseID(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[1], err)
			}
			defer f.Close()

			c, err := cc.client()
			if err != nil {
				return err
			}
			n, err := c.ImportTriggers(cmd.Context(), hostID, f)
			if err != nil {
				return fmt.Errorf("failed to import triggers: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d triggers onto host %d\n", n, hostID)
			return nil
		},
	}
}
