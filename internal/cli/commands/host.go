package commands

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewHostCommand(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "host",
		Short:   "Host management commands",
		Aliases: []string{"hosts", "h"},
	}

	cmd.AddCommand(newHostListCommand(cc))
	cmd.AddCommand(newHostCreateCommand(cc))
	cmd.AddCommand(newHostDeleteCommand(cc))

	return cmd
}

func newHostListCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List hosts",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}
			hosts, err := c.ListHosts(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list hosts: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tIP\tSTATUS\tTAGS\tLAST SEEN")
			for _, h := range hosts {
				lastSeen := "-"
				if h.LastSeen != nil {
					lastSeen = h.LastSeen.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					h.ID,
					h.Name,
					h.IPAddress,
					h.Status,
					strings.Join(h.Tags, ","),
					lastSeen,
				)
			}
			return w.Flush()
		},
	}
}

func newHostCreateCommand(cc *cliContext) *cobra.Command {
	var (
		ip   string
		tags []string
	)

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Register a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cc.client()
			if err != nil {
				return err
			}
			h, err := c.CreateHost(cmd.Context(), args[0], ip, tags)
			if err != nil {
				return fmt.Errorf("failed to create host: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Host %s created with ID %d\n", h.Name, h.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "127.0.0.1", "IP address")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	return cmd
}

func newHostDeleteCommand(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [host_id]",
		Short:   "Delete a host with its triggers and samples",
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
			if err := c.DeleteHost(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete host: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Host %d deleted\n", id)
			return nil
		},
	}
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}
