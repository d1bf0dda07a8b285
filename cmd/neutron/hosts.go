package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"neutron/internal/filter"
	"neutron/internal/logging"
	"neutron/internal/target"
)

func newHostsCmd(f *flags) *cobra.Command {
	var groupBy string

	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List the inventory targets after filtering",
		Long: `List every target a command would reach, in declaration order, without
connecting to any of them.

Examples:
  neutron hosts
  neutron hosts --filter 'kind:winrm'
  neutron hosts --group-by domain`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)

			selected, err := loadTargets(cfg, logger)
			if err != nil {
				return err
			}
			return writeHosts(cmd.OutOrStdout(), selected.Targets(), groupBy)
		},
	}
	cmd.Flags().StringVar(&groupBy, "group-by", "", "Group hosts by kind, port or domain")
	return cmd
}

func writeHosts(w io.Writer, targets []target.Target, groupBy string) error {
	if groupBy == "" {
		for _, t := range targets {
			if _, err := fmt.Fprintln(w, t.String()); err != nil {
				return err
			}
		}
		return nil
	}

	groups, err := filter.GroupTargets(targets, groupBy)
	if err != nil {
		return &SetupError{Message: "Invalid grouping", Err: err}
	}
	for _, g := range groups {
		fmt.Fprintf(w, "%s (%d)\n", g.Name, len(g.Targets))
		for _, t := range g.Targets {
			if _, err := fmt.Fprintf(w, "  %s\n", t.String()); err != nil {
				return err
			}
		}
	}
	return nil
}
