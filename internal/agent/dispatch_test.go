// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package agent_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardgate-dev/wardgate/internal/agent"
	"github.com/wardgate-dev/wardgate/internal/hooks"
	"github.com/wardgate-dev/wardgate/internal/store"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	tools      *agent.ToolRegistry
	registry   *hooks.Registry
	sink       *store.MemorySink
	dispatcher *agent.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tools := agent.NewToolRegistry()
	registry := hooks.NewRegistry(discardLogger())
	sink := store.NewMemorySink()
	runner := hooks.NewRunner(registry, sink, discardLogger(), hooks.RunnerConfig{})

	dispatcher, err := agent.NewDispatcher(agent.DispatcherConfig{
		Tools:  tools,
		Runner: runner,
		Sink:   sink,
		Logger: discardLogger(),
	})
	require.NoError(t, err)

	return &fixture{tools: tools, registry: registry, sink: sink, dispatcher: dispatcher}
}

func registerEcho(t *testing.T, f *fixture) *int {
	t.Helper()
	executions := new(int)
	require.NoError(t, f.tools.Register(agent.NewToolFunc("echo",
		func(_ context.Context, params map[string]any) (hooks.ToolResult, error) {
			*executions++
			msg, _ := params["message"].(string)
			return hooks.ToolResult{Content: "echo: " + msg}, nil
		})))
	return executions
}

func TestDispatch_ExecutesAndPersists(t *testing.T) {
	f := newFixture(t)
	executions := registerEcho(t, f)

	out, err := f.dispatcher.Dispatch(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)

	assert.Equal(t, 1, *executions)
	assert.Equal(t, "echo: hi", out.Result.Content)
	assert.False(t, out.Blocked)
	assert.Equal(t, agent.StatePersisted, out.State)
	assert.NotEmpty(t, out.CallID)
}

func TestDispatch_BlockedCallNeverExecutesTool(t *testing.T) {
	f := newFixture(t)
	executions := registerEcho(t, f)

	require.NoError(t, f.registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "policy", Order: 0,
		Before: func(_ context.Context, call *hooks.ToolCallContext) error {
			call.Block("echo is not allowed here")
			return nil
		},
	}))

	out, err := f.dispatcher.Dispatch(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)

	assert.Equal(t, 0, *executions, "blocked call must not reach the tool")
	assert.True(t, out.Blocked)
	assert.Equal(t, "echo is not allowed here", out.BlockReason)
	assert.Equal(t, out.BlockReason, out.Result.Content, "block reason is the effective result")
	assert.Equal(t, agent.StateBlocked, out.State)

	records, qerr := f.sink.Query(context.Background(), store.AuditFilter{Kind: store.KindBlock})
	require.NoError(t, qerr)
	require.Len(t, records, 1)
	assert.Equal(t, "echo", records[0].Payload["tool"])
	assert.Equal(t, "echo is not allowed here", records[0].Payload["reason"])
}

func TestDispatch_UnknownTool(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, warderr.IsNotFound(err))
}

func TestDispatch_BeforeHookFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	executions := registerEcho(t, f)

	require.NoError(t, f.registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "broken", Order: 0,
		Before: func(_ context.Context, _ *hooks.ToolCallContext) error {
			return warderr.New(warderr.CodeServerInternalFailure, "policy backend unreachable")
		},
	}))

	_, err := f.dispatcher.Dispatch(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.True(t, warderr.HasCode(err, warderr.CodeHookHandlerFailure))
	assert.Equal(t, 0, *executions, "a failed before chain must not reach the tool")
}

func TestDispatch_BeforeHookRewritesParams(t *testing.T) {
	f := newFixture(t)
	registerEcho(t, f)

	require.NoError(t, f.registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "rewriter", Order: 0,
		Before: func(_ context.Context, call *hooks.ToolCallContext) error {
			call.Params["message"] = "rewritten"
			return nil
		},
	}))

	callerParams := map[string]any{"message": "original"}
	out, err := f.dispatcher.Dispatch(context.Background(), "echo", callerParams)
	require.NoError(t, err)

	assert.Equal(t, "echo: rewritten", out.Result.Content)
	assert.Equal(t, "original", callerParams["message"], "caller's map must not be mutated")
}

func TestDispatch_PersistChainTransformsResult(t *testing.T) {
	f := newFixture(t)

	const secret = "AKIA0123456789ABCDEF"
	require.NoError(t, f.tools.Register(agent.NewToolFunc("leaky",
		func(_ context.Context, _ map[string]any) (hooks.ToolResult, error) {
			return hooks.ToolResult{Content: "credentials: " + secret}, nil
		})))

	require.NoError(t, f.registry.Register(hooks.Registration{
		Event: hooks.EventToolResultPersist, PluginID: "redactor", Order: 0,
		Persist: func(_ context.Context, _ *hooks.ToolCallContext, result hooks.ToolResult) (hooks.ToolResult, error) {
			result.Content = strings.ReplaceAll(result.Content, secret, "[REDACTED]")
			return result, nil
		},
	}))

	out, err := f.dispatcher.Dispatch(context.Background(), "leaky", nil)
	require.NoError(t, err)
	assert.NotContains(t, out.Result.Content, secret)
	assert.Contains(t, out.Result.Content, "[REDACTED]")
}

func TestDispatch_PersistFailureSurfacesError(t *testing.T) {
	f := newFixture(t)
	registerEcho(t, f)

	require.NoError(t, f.registry.Register(hooks.Registration{
		Event: hooks.EventToolResultPersist, PluginID: "guard", Order: 0,
		Persist: func(_ context.Context, _ *hooks.ToolCallContext, _ hooks.ToolResult) (hooks.ToolResult, error) {
			return hooks.ToolResult{}, warderr.New(warderr.CodeServerInternalFailure, "verification failed")
		},
	}))

	_, err := f.dispatcher.Dispatch(context.Background(), "echo", map[string]any{"message": "hi"})
	require.Error(t, err)
	assert.True(t, warderr.HasCode(err, warderr.CodeHookPersistAborted))
	assert.Equal(t, "guard", warderr.FieldsOf(err)["plugin"])
}

func TestDispatch_AfterHookObservesResult(t *testing.T) {
	f := newFixture(t)
	registerEcho(t, f)

	observed := make(chan string, 1)
	require.NoError(t, f.registry.Register(hooks.Registration{
		Event: hooks.EventAfterToolCall, PluginID: "observer", Order: 0,
		After: func(_ context.Context, call *hooks.ToolCallContext) error {
			observed <- call.Result.Content
			return nil
		},
	}))

	out, err := f.dispatcher.Dispatch(context.Background(), "echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out.Result.Content)

	select {
	case content := <-observed:
		assert.Equal(t, "echo: hi", content)
	case <-time.After(2 * time.Second):
		t.Fatal("after hook did not observe the call")
	}
}

func TestDispatch_ToolErrorPropagates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tools.Register(agent.NewToolFunc("faulty",
		func(_ context.Context, _ map[string]any) (hooks.ToolResult, error) {
			return hooks.ToolResult{}, warderr.New(warderr.CodeToolExecutionFailure, "device on fire")
		})))

	_, err := f.dispatcher.Dispatch(context.Background(), "faulty", nil)
	require.Error(t, err)
	assert.True(t, warderr.HasCode(err, warderr.CodeToolExecutionFailure))
}

func TestDispatch_CanceledContextStopsBeforeTool(t *testing.T) {
	f := newFixture(t)
	executions := registerEcho(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.registry.Register(hooks.Registration{
		Event: hooks.EventBeforeToolCall, PluginID: "teardown", Order: 0,
		Before: func(_ context.Context, _ *hooks.ToolCallContext) error {
			// The session is torn down while the before chain is running;
			// the chain finishes but no new phase may start.
			cancel()
			return nil
		},
	}))

	_, err := f.dispatcher.Dispatch(ctx, "echo", map[string]any{"message": "hi"})
	require.Error(t, err)
	assert.Equal(t, 0, *executions, "no new phase may start after teardown")
}
