// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root wardgate command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wardgate",
		Short:         "Wardgate — trust boundary enforcement for agent tool calls",
		Long:          "Wardgate wraps untrusted external content at the agent's trust boundary and runs every tool call through an intercepting hook pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newStartCmd(),
		newAuditCmd(),
		newPluginCmd(),
		newVersionCmd(),
	)

	return root
}

// newLogger builds the process logger from the verbose flag.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
