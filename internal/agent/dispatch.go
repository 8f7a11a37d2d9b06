// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wardgate-dev/wardgate/internal/hooks"
	"github.com/wardgate-dev/wardgate/internal/store"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// DispatcherConfig holds dependencies for Dispatcher.
type DispatcherConfig struct {
	Tools  *ToolRegistry
	Runner *hooks.Runner
	Sink   store.AuditSink
	Logger *slog.Logger

	// ToolTimeout caps the underlying tool execution. Zero disables the
	// bound.
	ToolTimeout time.Duration
}

// DispatchResult is the outcome of one tool call. For a blocked call the
// block reason doubles as the tool's effective result content, so the agent
// can explain to the end user why the action did not occur.
type DispatchResult struct {
	CallID      string
	Result      hooks.ToolResult
	Blocked     bool
	BlockReason string
	State       CallState
}

// Dispatcher orchestrates the hook chains around one tool invocation:
// before hooks (may block or rewrite), the tool itself, after hooks
// (observational, not awaited), and persist hooks (transform, fail closed).
// One Dispatcher serves all concurrent pipelines; per-call state lives in
// the Call tracker and the hook context.
type Dispatcher struct {
	tools       *ToolRegistry
	runner      *hooks.Runner
	sink        store.AuditSink
	meter       store.AppendMeter
	log         *slog.Logger
	toolTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. Tools, Runner, Sink, and Logger are
// required.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Tools == nil {
		return nil, warderr.New(warderr.CodeServerConfigInvalid, "Tools is required")
	}
	if cfg.Runner == nil {
		return nil, warderr.New(warderr.CodeServerConfigInvalid, "Runner is required")
	}
	if cfg.Sink == nil {
		return nil, warderr.New(warderr.CodeServerConfigInvalid, "Sink is required")
	}
	if cfg.Logger == nil {
		return nil, warderr.New(warderr.CodeServerConfigInvalid, "Logger is required")
	}

	return &Dispatcher{
		tools:       cfg.Tools,
		runner:      cfg.Runner,
		sink:        cfg.Sink,
		log:         cfg.Logger.With("component", "dispatcher"),
		toolTimeout: cfg.ToolTimeout,
	}, nil
}

// Dispatch runs one tool call through the interception pipeline. Exactly
// one of {tool executed, call blocked} holds for any call: a blocked call
// never reaches the tool, and its block reason is returned as the result.
//
// Params are deep-copied into the call context, so before hooks rewriting
// them never mutate the caller's map.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, params map[string]any) (*DispatchResult, error) {
	tool, ok := d.tools.Lookup(toolName)
	if !ok {
		return nil, warderr.Errorf(warderr.CodeToolNotFound, "tool %q is not registered", toolName)
	}

	call := NewCall(uuid.NewString())
	hookCtx := &hooks.ToolCallContext{
		ToolName: toolName,
		Params:   hooks.CloneParams(params),
		CallID:   call.ID(),
	}

	if err := call.TransitionTo(StateBeforeHooksRunning); err != nil {
		return nil, err
	}
	if err := d.runner.RunBefore(ctx, hookCtx); err != nil {
		return nil, d.fail(call, err)
	}

	if hookCtx.Blocked {
		if err := call.TransitionTo(StateBlocked); err != nil {
			return nil, err
		}
		d.recordBlock(ctx, hookCtx)
		d.log.InfoContext(ctx, "tool call blocked",
			"tool", toolName,
			"call_id", call.ID(),
			"reason", hookCtx.BlockReason)
		return &DispatchResult{
			CallID:      call.ID(),
			Result:      hooks.ToolResult{Content: hookCtx.BlockReason},
			Blocked:     true,
			BlockReason: hookCtx.BlockReason,
			State:       call.State(),
		}, nil
	}

	if err := call.TransitionTo(StateDispatched); err != nil {
		return nil, err
	}

	// Session teardown mid-chain lets in-flight handlers finish but starts
	// no new phase; the same rule keeps the tool itself from starting.
	if err := ctx.Err(); err != nil {
		return nil, d.fail(call, warderr.Wrap(err, warderr.CodeToolExecutionFailure,
			"call canceled before tool execution",
			warderr.FieldTool(toolName), warderr.FieldCallID(call.ID())))
	}

	if err := call.TransitionTo(StateToolExecuting); err != nil {
		return nil, err
	}
	result, err := d.executeTool(ctx, tool, hookCtx.Params)
	if err != nil {
		return nil, d.fail(call, warderr.With(err,
			warderr.FieldTool(toolName), warderr.FieldCallID(call.ID())))
	}
	if err := call.TransitionTo(StateToolCompleted); err != nil {
		return nil, err
	}

	hookCtx.Result = &result
	d.runner.RunAfter(ctx, hookCtx)

	if err := ctx.Err(); err != nil {
		return nil, d.fail(call, warderr.Wrap(err, warderr.CodeHookPersistAborted,
			"call canceled before result persistence",
			warderr.FieldTool(toolName), warderr.FieldCallID(call.ID())))
	}

	if err := call.TransitionTo(StatePersistHooksRunning); err != nil {
		return nil, err
	}
	persisted, err := d.runner.RunPersist(ctx, hookCtx, result)
	if err != nil {
		return nil, d.fail(call, err)
	}
	if err := call.TransitionTo(StatePersisted); err != nil {
		return nil, err
	}

	return &DispatchResult{
		CallID: call.ID(),
		Result: persisted,
		State:  call.State(),
	}, nil
}

func (d *Dispatcher) executeTool(ctx context.Context, tool Tool, params map[string]any) (hooks.ToolResult, error) {
	execCtx := ctx
	if d.toolTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.toolTimeout)
		defer cancel()
	}

	result, err := tool.Execute(execCtx, params)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return hooks.ToolResult{}, warderr.Wrapf(err, warderr.CodeToolExecutionFailure,
				"tool %q execution timed out", tool.Name())
		}
		return hooks.ToolResult{}, warderr.Wrapf(err, warderr.CodeToolExecutionFailure,
			"executing tool %q", tool.Name())
	}
	return result, nil
}

// fail moves the call to its failed terminal state and passes the error
// through. The transition cannot legally fail from any non-terminal state;
// if it does, that error takes precedence since it signals a pipeline bug.
func (d *Dispatcher) fail(call *Call, err error) error {
	if terr := call.TransitionTo(StateFailed); terr != nil {
		return terr
	}
	return err
}

// recordBlock writes a Block audit record, best-effort.
func (d *Dispatcher) recordBlock(ctx context.Context, hookCtx *hooks.ToolCallContext) {
	rec := store.NewRecord(uuid.NewString(), store.KindBlock, map[string]any{
		"tool":    hookCtx.ToolName,
		"call_id": hookCtx.CallID,
		"reason":  hookCtx.BlockReason,
	})
	if err := d.sink.Record(ctx, rec); err != nil {
		consecutive, total := d.meter.Failure()
		store.LogAppendFailure(ctx, d.log, consecutive, "failed to append block record",
			slog.String("tool", hookCtx.ToolName),
			slog.String("call_id", hookCtx.CallID),
			slog.String("error", err.Error()),
			slog.Int64("consecutive_failures", consecutive),
			slog.Int64("total_failures", total),
		)
		return
	}
	d.meter.Success()
}
