// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wardgate-dev/wardgate/internal/config"
	"github.com/wardgate-dev/wardgate/internal/hooks"
	"github.com/wardgate-dev/wardgate/internal/plugin"
)

func newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage hook guard plugins",
	}

	cmd.AddCommand(newPluginListCmd())

	return cmd
}

func newPluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plugin manifests in the configured plugins directory",
		RunE:  runPluginList,
	}
}

func runPluginList(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Discovery only; nothing is loaded, so a quiet registry suffices.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := plugin.NewManager(cfg.Plugins.Dir, hooks.NewRegistry(log), plugin.Deps{Logger: log}, log)

	instances, err := manager.Discover(cmd.Context())
	if err != nil {
		return err
	}

	if len(instances) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no plugins found in %s\n", cfg.Plugins.Dir)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tHOOKS\tDESCRIPTION")
	for _, inst := range instances {
		m := inst.Manifest()
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.Name, m.Version, len(m.Hooks), m.Description)
	}
	return w.Flush()
}
