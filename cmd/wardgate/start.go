// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wardgate-dev/wardgate/internal/agent"
	"github.com/wardgate-dev/wardgate/internal/boundary"
	"github.com/wardgate-dev/wardgate/internal/config"
	"github.com/wardgate-dev/wardgate/internal/hooks"
	"github.com/wardgate-dev/wardgate/internal/plugin"
	"github.com/wardgate-dev/wardgate/internal/server"
	"github.com/wardgate-dev/wardgate/internal/store"
	_ "github.com/wardgate-dev/wardgate/internal/store/sqlite"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the wardgate daemon",
		Long:  "Load configuration, initialize the boundary and hook pipeline, load plugins, and serve the HTTP control surface until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	log := newLogger(cmd)

	sink, err := store.NewAuditSink(&store.Config{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			log.Warn("closing audit sink", "error", cerr)
		}
	}()

	extra := make([]boundary.Signature, 0, len(cfg.Detector.Signatures))
	for _, sc := range cfg.Detector.Signatures {
		sig, err := boundary.CompileSignature(sc.ID, sc.Pattern, sc.Severity)
		if err != nil {
			return err
		}
		extra = append(extra, sig)
	}

	detector, err := boundary.NewDetector(sink, log, extra...)
	if err != nil {
		return err
	}
	wrapper := boundary.NewWrapper(detector, boundary.NewSanitizer(sink, log), log)

	registry := hooks.NewRegistry(log)
	runner := hooks.NewRunner(registry, sink, log, hooks.RunnerConfig{
		BeforeTimeout:    cfg.Hooks.BeforeTimeout,
		AfterTimeout:     cfg.Hooks.AfterTimeout,
		PersistTimeout:   cfg.Hooks.PersistTimeout,
		AfterConcurrency: cfg.Hooks.AfterConcurrency,
		DrainGrace:       cfg.Hooks.DrainGrace,
	})
	defer func() {
		if !runner.Drain() {
			log.Warn("after-hook tasks still running at shutdown deadline")
		}
	}()

	tools := agent.NewToolRegistry()
	registerBuiltinTools(tools)

	dispatcher, err := agent.NewDispatcher(agent.DispatcherConfig{
		Tools:       tools,
		Runner:      runner,
		Sink:        sink,
		Logger:      log,
		ToolTimeout: cfg.Tools.ExecutionTimeout,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := plugin.NewManager(cfg.Plugins.Dir, registry, plugin.Deps{
		Logger:  log,
		Wrapper: wrapper,
	}, log)
	if _, err := manager.Discover(ctx); err != nil {
		return err
	}
	if err := manager.LoadAll(ctx); err != nil {
		// Individual plugin failures are already logged; a fully empty
		// hook pipeline is still a functioning gateway.
		log.Warn("some plugins failed to load", "error", err)
	}

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, log)
	if err != nil {
		return err
	}
	srv.RegisterServices(&server.Services{
		Wrapper:    wrapper,
		Dispatcher: dispatcher,
		Sink:       sink,
		Plugins:    manager,
	})

	if err := srv.Start(ctx); err != nil {
		return warderr.Wrap(err, warderr.CodeServerStartFailure, "running server")
	}
	return nil
}

// registerBuiltinTools adds the tools the daemon ships with. Real tool
// surfaces register through the agent package; echo exists so a fresh
// install can exercise the pipeline end to end.
func registerBuiltinTools(tools *agent.ToolRegistry) {
	_ = tools.Register(agent.NewToolFunc("echo",
		func(_ context.Context, params map[string]any) (hooks.ToolResult, error) {
			msg, _ := params["message"].(string)
			return hooks.ToolResult{Content: msg}, nil
		}))
}
