// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

// Package agent implements the tool-call interception pipeline: the
// dispatcher that orchestrates before/after/persist hook chains around one
// actual tool invocation, and the registry of invokable tools.
package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/wardgate-dev/wardgate/internal/hooks"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// Tool executes one named operation on behalf of the agent runtime.
type Tool interface {
	Name() string
	Execute(ctx context.Context, params map[string]any) (hooks.ToolResult, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (hooks.ToolResult, error)
}

// NewToolFunc wraps fn as a named Tool.
func NewToolFunc(name string, fn func(ctx context.Context, params map[string]any) (hooks.ToolResult, error)) *ToolFunc {
	return &ToolFunc{name: name, fn: fn}
}

func (t *ToolFunc) Name() string { return t.name }

func (t *ToolFunc) Execute(ctx context.Context, params map[string]any) (hooks.ToolResult, error) {
	return t.fn(ctx, params)
}

// ToolRegistry is a thread-safe map of invokable tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice replaces the earlier tool.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return warderr.New(warderr.CodeToolNotFound, "tool must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	return nil
}

// Lookup returns the tool registered under name.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
