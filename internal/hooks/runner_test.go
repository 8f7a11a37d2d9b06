// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package hooks_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardgate-dev/wardgate/internal/hooks"
	"github.com/wardgate-dev/wardgate/internal/store"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, cfg hooks.RunnerConfig) (*hooks.Registry, *hooks.Runner, *store.MemorySink) {
	t.Helper()
	registry := hooks.NewRegistry(discardLogger())
	sink := store.NewMemorySink()
	return registry, hooks.NewRunner(registry, sink, discardLogger(), cfg), sink
}

func newCall(tool string) *hooks.ToolCallContext {
	return &hooks.ToolCallContext{
		ToolName: tool,
		CallID:   "call-1",
		Params:   map[string]any{"path": "/tmp/x"},
	}
}

func TestRunBefore_BlockShortCircuits(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	var bInvoked bool
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "a", Order: 0,
		Before: func(_ context.Context, call *hooks.ToolCallContext) error {
			call.Block("tool denied by policy")
			return nil
		},
	}))
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "b", Order: 1,
		Before: func(_ context.Context, _ *hooks.ToolCallContext) error {
			bInvoked = true
			return nil
		},
	}))

	call := newCall("shell")
	require.NoError(t, runner.RunBefore(context.Background(), call))

	assert.True(t, call.Blocked)
	assert.Equal(t, "tool denied by policy", call.BlockReason)
	assert.False(t, bInvoked, "later handler must not run after a block")
}

func TestRunBefore_HandlersRunInOrder(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	var order []string
	appendName := func(name string) hooks.BeforeHandler {
		return func(_ context.Context, _ *hooks.ToolCallContext) error {
			order = append(order, name)
			return nil
		}
	}

	// Same Order value: registration sequence breaks the tie.
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "second", Order: 5, Before: appendName("second"),
	}))
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "third", Order: 5, Before: appendName("third"),
	}))
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "first", Order: 0, Before: appendName("first"),
	}))

	require.NoError(t, runner.RunBefore(context.Background(), newCall("shell")))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRunBefore_HandlersMayRewriteParams(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "rewriter", Order: 0,
		Before: func(_ context.Context, call *hooks.ToolCallContext) error {
			call.Params["path"] = "/sandbox/x"
			return nil
		},
	}))

	call := newCall("read_file")
	require.NoError(t, runner.RunBefore(context.Background(), call))
	assert.Equal(t, "/sandbox/x", call.Params["path"])
}

func TestRunBefore_HandlerErrorIdentifiesPlugin(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "flaky", Order: 0,
		Before: func(_ context.Context, _ *hooks.ToolCallContext) error {
			return warderr.New(warderr.CodeServerInternalFailure, "boom")
		},
	}))

	err := runner.RunBefore(context.Background(), newCall("shell"))
	require.Error(t, err)
	assert.True(t, warderr.HasCode(err, warderr.CodeHookHandlerFailure))
	assert.Equal(t, "flaky", warderr.FieldsOf(err)["plugin"])
}

func TestRunBefore_PanicIsConvertedToFailure(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "panicky", Order: 0,
		Before: func(_ context.Context, _ *hooks.ToolCallContext) error {
			panic("unexpected")
		},
	}))

	err := runner.RunBefore(context.Background(), newCall("shell"))
	require.Error(t, err)
	assert.True(t, warderr.HasCode(err, warderr.CodeHookHandlerFailure))
}

func TestRunBefore_TimeoutDegradesToBlock(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{BeforeTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "hung", Order: 0,
		Before: func(_ context.Context, _ *hooks.ToolCallContext) error {
			<-release
			return nil
		},
	}))

	call := newCall("shell")
	require.NoError(t, runner.RunBefore(context.Background(), call))
	assert.True(t, call.Blocked)
	assert.Contains(t, call.BlockReason, "hung")
}

func TestRunAfter_FailureIsolation(t *testing.T) {
	registry, runner, sink := newTestRunner(t, hooks.RunnerConfig{})

	ran := make(chan string, 2)
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventAfterToolCall, PluginID: "thrower", Order: 0,
		After: func(_ context.Context, _ *hooks.ToolCallContext) error {
			ran <- "thrower"
			panic("observer bug")
		},
	}))
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventAfterToolCall, PluginID: "quiet", Order: 1,
		After: func(_ context.Context, _ *hooks.ToolCallContext) error {
			ran <- "quiet"
			return nil
		},
	}))

	call := newCall("shell")
	call.Result = &hooks.ToolResult{Content: "canonical output"}
	runner.RunAfter(context.Background(), call)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-ran:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatal("after handlers did not run")
		}
	}
	assert.True(t, seen["thrower"] && seen["quiet"], "a failing observer must not stop the others")

	// The absorbed failure lands in the audit sink.
	require.True(t, runner.Drain())
	records, err := sink.Query(context.Background(), store.AuditFilter{Kind: store.KindHookFailure})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "thrower", records[0].Payload["plugin"])

	// And the canonical result is untouched.
	assert.Equal(t, "canonical output", call.Result.Content)
}

func TestRunAfter_MutationsDoNotReachCanonicalContext(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	done := make(chan struct{})
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventAfterToolCall, PluginID: "mutator", Order: 0,
		After: func(_ context.Context, snapshot *hooks.ToolCallContext) error {
			defer close(done)
			snapshot.Params["path"] = "/etc/shadow"
			snapshot.Result.Content = "tampered"
			snapshot.Block("should not stick")
			return nil
		},
	}))

	call := newCall("read_file")
	call.Result = &hooks.ToolResult{Content: "original"}
	runner.RunAfter(context.Background(), call)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("after handler did not run")
	}
	require.True(t, runner.Drain())

	assert.Equal(t, "/tmp/x", call.Params["path"])
	assert.Equal(t, "original", call.Result.Content)
	assert.False(t, call.Blocked)
}

func TestRunAfter_DroppedAfterDrain(t *testing.T) {
	registry, runner, sink := newTestRunner(t, hooks.RunnerConfig{})

	var invoked sync.Once
	var wasInvoked bool
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventAfterToolCall, PluginID: "late", Order: 0,
		After: func(_ context.Context, _ *hooks.ToolCallContext) error {
			invoked.Do(func() { wasInvoked = true })
			return nil
		},
	}))

	require.True(t, runner.Drain())
	runner.RunAfter(context.Background(), newCall("shell"))

	assert.False(t, wasInvoked)
	records, err := sink.Query(context.Background(), store.AuditFilter{Kind: store.KindHookFailure})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Payload["reason"], "dropped")
}

func TestRunAfter_SaturationWaitsForFreeSlot(t *testing.T) {
	registry, runner, sink := newTestRunner(t, hooks.RunnerConfig{AfterConcurrency: 1})

	observed := make(chan string, 2)
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventAfterToolCall, PluginID: "observer", Order: 0,
		After: func(_ context.Context, snapshot *hooks.ToolCallContext) error {
			if snapshot.ToolName == "slow" {
				time.Sleep(50 * time.Millisecond)
			}
			observed <- snapshot.ToolName
			return nil
		},
	}))

	// The first observation holds the only slot; the second must wait for
	// it to free rather than being dropped outright.
	runner.RunAfter(context.Background(), newCall("slow"))
	runner.RunAfter(context.Background(), newCall("fast"))

	for i := 0; i < 2; i++ {
		select {
		case <-observed:
		case <-time.After(2 * time.Second):
			t.Fatal("observation never ran")
		}
	}
	require.True(t, runner.Drain())

	records, err := sink.Query(context.Background(), store.AuditFilter{Kind: store.KindHookFailure})
	require.NoError(t, err)
	assert.Empty(t, records, "a briefly saturated set must not drop observations")
}

func TestRunAfter_SustainedSaturationDropsAndAudits(t *testing.T) {
	registry, runner, sink := newTestRunner(t, hooks.RunnerConfig{AfterConcurrency: 1})

	release := make(chan struct{})
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventAfterToolCall, PluginID: "stuck", Order: 0,
		After: func(_ context.Context, _ *hooks.ToolCallContext) error {
			<-release
			return nil
		},
	}))

	runner.RunAfter(context.Background(), newCall("first"))
	// The slot never frees, so this one is dropped once the enqueue grace
	// expires.
	runner.RunAfter(context.Background(), newCall("second"))

	records, err := sink.Query(context.Background(), store.AuditFilter{Kind: store.KindHookFailure})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "stuck", records[0].Payload["plugin"])
	assert.Contains(t, records[0].Payload["reason"], "saturated")
	assert.Equal(t, "second", records[0].Payload["tool"])

	close(release)
	require.True(t, runner.Drain())
}

func TestRunPersist_TransformChain(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	const secret = "sk-proj-supersecret"
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventToolResultPersist, PluginID: "redactor", Order: 0,
		Persist: func(_ context.Context, _ *hooks.ToolCallContext, result hooks.ToolResult) (hooks.ToolResult, error) {
			result.Content = strings.ReplaceAll(result.Content, secret, "[REDACTED]")
			return result, nil
		},
	}))
	var sawRedacted bool
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventToolResultPersist, PluginID: "annotator", Order: 1,
		Persist: func(_ context.Context, _ *hooks.ToolCallContext, result hooks.ToolResult) (hooks.ToolResult, error) {
			sawRedacted = !strings.Contains(result.Content, secret)
			result.Content += "\n(audited)"
			return result, nil
		},
	}))

	out, err := runner.RunPersist(context.Background(), newCall("shell"),
		hooks.ToolResult{Content: "the key is " + secret})
	require.NoError(t, err)

	assert.True(t, sawRedacted, "second handler must receive the first handler's output")
	assert.NotContains(t, out.Content, secret)
	assert.Contains(t, out.Content, "[REDACTED]")
	assert.Contains(t, out.Content, "(audited)")
}

func TestRunPersist_FailClosed(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventToolResultPersist, PluginID: "guard", Order: 0,
		Persist: func(_ context.Context, _ *hooks.ToolCallContext, _ hooks.ToolResult) (hooks.ToolResult, error) {
			return hooks.ToolResult{}, warderr.New(warderr.CodeServerInternalFailure, "cannot verify result")
		},
	}))

	_, err := runner.RunPersist(context.Background(), newCall("shell"), hooks.ToolResult{Content: "raw"})
	require.Error(t, err)
	assert.True(t, warderr.HasCode(err, warderr.CodeHookPersistAborted))
	assert.Equal(t, "guard", warderr.FieldsOf(err)["plugin"])
}

func TestRunPersist_TimeoutAbortsPersistence(t *testing.T) {
	registry, runner, _ := newTestRunner(t, hooks.RunnerConfig{PersistTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, registry.Register(hooks.Registration{
		Event: hooks.EventToolResultPersist, PluginID: "hung", Order: 0,
		Persist: func(_ context.Context, _ *hooks.ToolCallContext, result hooks.ToolResult) (hooks.ToolResult, error) {
			<-release
			return result, nil
		},
	}))

	_, err := runner.RunPersist(context.Background(), newCall("shell"), hooks.ToolResult{Content: "raw"})
	require.Error(t, err)
	assert.True(t, warderr.HasCode(err, warderr.CodeHookPersistAborted))
}

func TestRunPersist_NoHandlersPassesThrough(t *testing.T) {
	_, runner, _ := newTestRunner(t, hooks.RunnerConfig{})

	out, err := runner.RunPersist(context.Background(), newCall("shell"), hooks.ToolResult{Content: "untouched"})
	require.NoError(t, err)
	assert.Equal(t, "untouched", out.Content)
}
