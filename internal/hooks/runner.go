// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wardgate-dev/wardgate/internal/store"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// RunnerConfig bounds hook execution.
type RunnerConfig struct {
	// BeforeTimeout caps one BeforeToolCall handler. A timed-out handler is
	// treated as a block (fail closed). Zero disables the bound.
	BeforeTimeout time.Duration

	// AfterTimeout caps one AfterToolCall handler. A timed-out handler is a
	// dropped observation. Zero disables the bound.
	AfterTimeout time.Duration

	// PersistTimeout caps one ToolResultPersist handler. A timed-out
	// handler aborts persistence. Zero disables the bound.
	PersistTimeout time.Duration

	// AfterConcurrency caps concurrently running AfterToolCall handlers
	// across all calls. Zero means DefaultAfterConcurrency. When every slot
	// is busy, a new observation waits up to afterEnqueueGrace for one to
	// free; only after that is it dropped (and audited).
	AfterConcurrency int

	// DrainGrace is how long Drain waits for in-flight after-handlers at
	// shutdown. Zero means DefaultDrainGrace.
	DrainGrace time.Duration
}

const (
	DefaultAfterConcurrency = 16
	DefaultDrainGrace       = 5 * time.Second

	// afterEnqueueGrace is how long RunAfter waits for a free after-handler
	// slot when the set is saturated before dropping the observation. It
	// bounds how long one saturated burst can stall the calling pipeline.
	afterEnqueueGrace = 250 * time.Millisecond
)

// Runner executes hook chains with event-specific semantics. One Runner is
// shared by all concurrent tool-call pipelines; the only state it mutates is
// the after-handler task set and the audit sink, both safe for concurrent
// use.
type Runner struct {
	registry *Registry
	sink     store.AuditSink
	meter    store.AppendMeter
	log      *slog.Logger
	cfg      RunnerConfig

	afterTasks *errgroup.Group

	// afterSem bounds concurrently running after-handlers; afterTasks stays
	// unlimited so submission never blocks once a slot is held.
	afterSem chan struct{}

	// drainMu serializes after-task submission against Drain so no task can
	// be added once the drain wait has begun.
	drainMu  sync.RWMutex
	draining bool
}

// NewRunner creates a runner over the registry, writing absorbed failures
// to sink.
func NewRunner(registry *Registry, sink store.AuditSink, log *slog.Logger, cfg RunnerConfig) *Runner {
	if cfg.AfterConcurrency <= 0 {
		cfg.AfterConcurrency = DefaultAfterConcurrency
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = DefaultDrainGrace
	}

	return &Runner{
		registry:   registry,
		sink:       sink,
		log:        log.With("component", "hook_runner"),
		cfg:        cfg,
		afterTasks: &errgroup.Group{},
		afterSem:   make(chan struct{}, cfg.AfterConcurrency),
	}
}

// RunBefore executes the BeforeToolCall chain sequentially in registration
// order. The chain short-circuits on the first handler that blocks the
// call; a handler timeout is converted to a block on the spot. A handler
// error propagates as a structured failure identifying the plugin, and the
// caller must treat the call as failed (fail closed).
func (r *Runner) RunBefore(ctx context.Context, call *ToolCallContext) error {
	for _, reg := range r.registry.registrations(EventBeforeToolCall) {
		before := reg.Before
		err := r.callBounded(ctx, r.cfg.BeforeTimeout, func(hctx context.Context) error {
			return before(hctx, call)
		})
		if err != nil {
			if warderr.IsTimeout(err) {
				call.Block(fmt.Sprintf("before hook timed out (plugin %s)", reg.PluginID))
				r.log.WarnContext(ctx, "before hook timed out; blocking call",
					"plugin", reg.PluginID,
					"tool", call.ToolName,
					"call_id", call.CallID)
				return nil
			}
			return warderr.Wrap(err, warderr.CodeHookHandlerFailure, "before hook failed",
				warderr.FieldPlugin(reg.PluginID),
				warderr.FieldHookEvent(string(EventBeforeToolCall)),
				warderr.FieldCallID(call.CallID),
				warderr.FieldTool(call.ToolName))
		}
		if call.Blocked {
			return nil
		}
	}
	return nil
}

// RunAfter dispatches the AfterToolCall handlers without awaiting their
// completion. Each handler receives its own deep copy of the call context;
// mutations never reach the canonical result. Handler errors, panics, and
// timeouts are recorded to the audit sink and otherwise discarded. A
// saturated handler set stalls submission for at most afterEnqueueGrace
// per handler; observations that still cannot get a slot, or arrive while
// the runner is draining, are dropped and audited.
func (r *Runner) RunAfter(ctx context.Context, call *ToolCallContext) {
	regs := r.registry.registrations(EventAfterToolCall)
	if len(regs) == 0 {
		return
	}

	// Detached from the caller: the pipeline reports the tool result
	// without waiting, and session teardown must not cancel in-flight
	// observations.
	base := context.WithoutCancel(ctx)

	for _, reg := range regs {
		after := reg.After
		pluginID := reg.PluginID
		snapshot := call.Clone()

		if !r.acquireAfterSlot() {
			r.recordHookFailure(base, pluginID, call, "observation dropped: after-hook capacity saturated")
			continue
		}

		r.drainMu.RLock()
		started := false
		if !r.draining {
			r.afterTasks.Go(func() error {
				defer func() { <-r.afterSem }()
				err := r.callBounded(base, r.cfg.AfterTimeout, func(hctx context.Context) error {
					return after(hctx, snapshot)
				})
				if err != nil {
					r.recordHookFailure(base, pluginID, call, err.Error())
				}
				return nil
			})
			started = true
		}
		r.drainMu.RUnlock()

		if !started {
			<-r.afterSem
			r.recordHookFailure(base, pluginID, call, "observation dropped: runner draining")
		}
	}
}

// acquireAfterSlot reserves one after-handler slot, waiting up to
// afterEnqueueGrace when all slots are busy. Returns false if no slot
// freed within the grace.
func (r *Runner) acquireAfterSlot() bool {
	select {
	case r.afterSem <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(afterEnqueueGrace)
	defer timer.Stop()

	select {
	case r.afterSem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// RunPersist executes the ToolResultPersist transform chain sequentially;
// each handler receives the previous handler's output. Any handler error or
// timeout aborts persistence: the zero result and a structured failure are
// returned, because letting an unsanitized result through on handler
// failure would defeat the guard.
func (r *Runner) RunPersist(ctx context.Context, call *ToolCallContext, result ToolResult) (ToolResult, error) {
	current := result
	for _, reg := range r.registry.registrations(EventToolResultPersist) {
		persist := reg.Persist
		var next ToolResult
		err := r.callBounded(ctx, r.cfg.PersistTimeout, func(hctx context.Context) error {
			out, herr := persist(hctx, call, current)
			if herr != nil {
				return herr
			}
			next = out
			return nil
		})
		if err != nil {
			return ToolResult{}, warderr.Wrap(err, warderr.CodeHookPersistAborted,
				"persist hook failed; result not persisted",
				warderr.FieldPlugin(reg.PluginID),
				warderr.FieldHookEvent(string(EventToolResultPersist)),
				warderr.FieldCallID(call.CallID),
				warderr.FieldTool(call.ToolName))
		}
		current = next
	}
	return current, nil
}

// Drain stops accepting new after-handler work and waits up to the
// configured grace period for in-flight handlers. Returns false if the
// grace period expired with handlers still running.
func (r *Runner) Drain() bool {
	r.drainMu.Lock()
	r.draining = true
	r.drainMu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = r.afterTasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(r.cfg.DrainGrace):
		r.log.Warn("after-hook drain grace period expired with handlers still running")
		return false
	}
}

// callBounded runs fn, converting panics to errors, and bounds its wall
// time when timeout is positive. The handler context carries the deadline
// but is detached from caller cancellation: handlers already in flight are
// allowed to finish even if the enclosing session is torn down. On timeout
// the handler goroutine is abandoned to finish on its own; the bound keeps
// the pipeline moving, it does not reclaim the handler.
func (r *Runner) callBounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return safeCall(ctx, fn)
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- safeCall(hctx, fn)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return warderr.New(warderr.CodeHookHandlerTimeout, "hook handler timed out",
			warderr.Field("timeout", timeout.String()))
	}
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = warderr.Errorf(warderr.CodeHookHandlerFailure, "hook handler panicked: %v", p)
		}
	}()
	return fn(ctx)
}

// recordHookFailure writes an absorbed after-hook failure to the audit
// sink, best-effort.
func (r *Runner) recordHookFailure(ctx context.Context, pluginID string, call *ToolCallContext, reason string) {
	rec := store.NewRecord(uuid.NewString(), store.KindHookFailure, map[string]any{
		"plugin":  pluginID,
		"event":   string(EventAfterToolCall),
		"call_id": call.CallID,
		"tool":    call.ToolName,
		"reason":  reason,
	})
	if err := r.sink.Record(ctx, rec); err != nil {
		consecutive, total := r.meter.Failure()
		store.LogAppendFailure(ctx, r.log, consecutive, "failed to append hook failure record",
			slog.String("plugin", pluginID),
			slog.String("error", err.Error()),
			slog.Int64("consecutive_failures", consecutive),
			slog.Int64("total_failures", total),
		)
		return
	}
	r.meter.Success()
}
