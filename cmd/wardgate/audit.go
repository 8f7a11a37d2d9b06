// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardgate-dev/wardgate/internal/config"
	"github.com/wardgate-dev/wardgate/internal/store"
	_ "github.com/wardgate-dev/wardgate/internal/store/sqlite"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the security audit log",
		Long:  "Read detection, block, sanitization, and hook failure records from the configured audit backend.",
		RunE:  runAudit,
	}

	cmd.Flags().String("kind", "", "filter by record kind (detection, block, sanitization, hook_failure)")
	cmd.Flags().String("from", "", "inclusive lower bound, RFC 3339")
	cmd.Flags().String("to", "", "exclusive upper bound, RFC 3339")
	cmd.Flags().Int("limit", 50, "maximum records to print")
	cmd.Flags().Int("offset", 0, "records to skip")
	cmd.Flags().Bool("json", false, "print records as JSON lines")

	return cmd
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	filter := store.AuditFilter{}
	if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
		filter.Kind = store.RecordKind(kind)
		if !filter.Kind.Valid() {
			return warderr.Errorf(warderr.CodeCLIInputInvalid, "unknown record kind %q", kind)
		}
	}
	if from, _ := cmd.Flags().GetString("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return warderr.Wrap(err, warderr.CodeCLIInputInvalid, "parsing --from")
		}
		filter.From = t
	}
	if to, _ := cmd.Flags().GetString("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return warderr.Wrap(err, warderr.CodeCLIInputInvalid, "parsing --to")
		}
		filter.To = t
	}
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.Offset, _ = cmd.Flags().GetInt("offset")

	sink, err := store.NewAuditSink(&store.Config{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
	})
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	records, err := sink.Query(cmd.Context(), filter)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()
	for _, rec := range records {
		if asJSON {
			line, err := json.Marshal(map[string]any{
				"id":        rec.ID,
				"timestamp": rec.Timestamp.Format(time.RFC3339Nano),
				"kind":      rec.Kind,
				"payload":   rec.Payload,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(line))
			continue
		}
		fmt.Fprintf(out, "%s  %-13s  %s  %v\n",
			rec.Timestamp.Format(time.RFC3339), rec.Kind, rec.ID, rec.Payload)
	}
	fmt.Fprintf(out, "%d record(s)\n", len(records))
	return nil
}
