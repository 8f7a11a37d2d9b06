// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

// Package hooks provides the tool-call lifecycle hook system: ordered,
// named registrations keyed by event kind, and a runner that executes them
// with event-specific semantics (sequential short-circuit, isolated
// fire-and-forget, or fail-closed transform chain).
package hooks

import (
	"context"

	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// EventKind identifies a tool-call lifecycle extension point.
type EventKind string

const (
	// EventBeforeToolCall runs before the tool executes. Handlers run
	// sequentially and may block the call or rewrite its params.
	EventBeforeToolCall EventKind = "tool.before_call"

	// EventAfterToolCall runs after the tool completes. Handlers are
	// observational; their errors are absorbed.
	EventAfterToolCall EventKind = "tool.after_call"

	// EventToolResultPersist runs before the tool result is persisted.
	// Handlers form a sequential transform chain and fail closed.
	EventToolResultPersist EventKind = "tool.result_persist"
)

// Valid reports whether the event kind is a known lifecycle event.
func (k EventKind) Valid() bool {
	switch k {
	case EventBeforeToolCall, EventAfterToolCall, EventToolResultPersist:
		return true
	default:
		return false
	}
}

// ToolResult is the output of one tool invocation.
type ToolResult struct {
	Content  string
	Metadata map[string]string
}

// Clone returns a deep copy of the result.
func (r *ToolResult) Clone() *ToolResult {
	if r == nil {
		return nil
	}
	out := &ToolResult{Content: r.Content}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ToolCallContext is the mutable scratch state for one tool invocation's
// hook chain. It is passed by reference through the BeforeToolCall and
// ToolResultPersist chains and discarded when the chain completes. After
// hooks receive a deep copy, never the canonical context.
type ToolCallContext struct {
	ToolName    string
	Params      map[string]any
	CallID      string
	Result      *ToolResult
	Blocked     bool
	BlockReason string
}

// Block marks the call as blocked with the given reason.
func (c *ToolCallContext) Block(reason string) {
	c.Blocked = true
	c.BlockReason = reason
}

// Clone returns a deep copy of the context. Params are copied recursively
// for nested maps and slices so observational handlers cannot reach shared
// state through them.
func (c *ToolCallContext) Clone() *ToolCallContext {
	out := &ToolCallContext{
		ToolName:    c.ToolName,
		CallID:      c.CallID,
		Blocked:     c.Blocked,
		BlockReason: c.BlockReason,
		Result:      c.Result.Clone(),
	}
	out.Params = CloneParams(c.Params)
	return out
}

// CloneParams deep-copies a tool params map, recursing into nested maps and
// slices. Callers hand the copy to a hook chain so handler mutations cannot
// reach the original.
func CloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = copyValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = copyValue(vv)
		}
		return s
	default:
		return v
	}
}

// BeforeHandler observes and may mutate a pending tool call: it can rewrite
// params or block the call via ToolCallContext.Block.
type BeforeHandler func(ctx context.Context, call *ToolCallContext) error

// AfterHandler observes a completed tool call. It receives a copy of the
// call context; mutations never reach the canonical result.
type AfterHandler func(ctx context.Context, call *ToolCallContext) error

// PersistHandler transforms a tool result before persistence. Each handler
// receives the previous handler's output.
type PersistHandler func(ctx context.Context, call *ToolCallContext, result ToolResult) (ToolResult, error)

// Registration subscribes one handler to one lifecycle event. Exactly one
// of Before, After, or Persist must be set, matching Event. Execution order
// within an event is by ascending Order, ties broken by registration
// sequence.
type Registration struct {
	Event    EventKind
	PluginID string
	Order    int

	Before  BeforeHandler
	After   AfterHandler
	Persist PersistHandler
}

func (reg Registration) validate() error {
	if !reg.Event.Valid() {
		return warderr.Errorf(warderr.CodeHookRegistrationInvalid, "unknown event kind %q", reg.Event)
	}
	if reg.PluginID == "" {
		return warderr.New(warderr.CodeHookRegistrationInvalid, "registration must carry a plugin id",
			warderr.FieldHookEvent(string(reg.Event)))
	}

	var want, got string
	switch reg.Event {
	case EventBeforeToolCall:
		want = "Before"
		if reg.Before == nil {
			got = "none"
		}
	case EventAfterToolCall:
		want = "After"
		if reg.After == nil {
			got = "none"
		}
	case EventToolResultPersist:
		want = "Persist"
		if reg.Persist == nil {
			got = "none"
		}
	}
	if got != "" {
		return warderr.New(warderr.CodeHookRegistrationInvalid, "registration handler does not match event kind",
			warderr.FieldPlugin(reg.PluginID),
			warderr.FieldHookEvent(string(reg.Event)),
			warderr.Field("want_handler", want))
	}

	set := 0
	for _, present := range []bool{reg.Before != nil, reg.After != nil, reg.Persist != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return warderr.New(warderr.CodeHookRegistrationInvalid, "registration must set exactly one handler",
			warderr.FieldPlugin(reg.PluginID),
			warderr.FieldHookEvent(string(reg.Event)),
			warderr.Field("handlers_set", set))
	}
	return nil
}
