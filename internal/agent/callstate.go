// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package agent

import (
	"sync"

	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// CallState is the lifecycle state of one tool call moving through the
// interception pipeline.
type CallState int

const (
	StatePending CallState = iota
	StateBeforeHooksRunning
	StateBlocked
	StateDispatched
	StateToolExecuting
	StateToolCompleted
	StatePersistHooksRunning
	StatePersisted
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBeforeHooksRunning:
		return "before_hooks_running"
	case StateBlocked:
		return "blocked"
	case StateDispatched:
		return "dispatched"
	case StateToolExecuting:
		return "tool_executing"
	case StateToolCompleted:
		return "tool_completed"
	case StatePersistHooksRunning:
		return "persist_hooks_running"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the call. Blocked is terminal:
// the underlying tool is never invoked once a call is blocked.
func (s CallState) Terminal() bool {
	switch s {
	case StateBlocked, StatePersisted, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions defines allowed state transitions as an adjacency list.
// Exactly one of {StateBlocked, StateDispatched} is reachable from the
// before-hooks phase, which is what guarantees a call is either blocked or
// executed, never both.
var validTransitions = map[CallState]map[CallState]bool{
	StatePending: {
		StateBeforeHooksRunning: true,
	},
	StateBeforeHooksRunning: {
		StateBlocked:    true,
		StateDispatched: true,
		StateFailed:     true,
	},
	StateDispatched: {
		StateToolExecuting: true,
		StateFailed:        true,
	},
	StateToolExecuting: {
		StateToolCompleted: true,
		StateFailed:        true,
	},
	StateToolCompleted: {
		StatePersistHooksRunning: true,
		StateFailed:              true,
	},
	StatePersistHooksRunning: {
		StatePersisted: true,
		StateFailed:    true,
	},
	StateBlocked:   {},
	StatePersisted: {},
	StateFailed:    {},
}

// ValidTransition reports whether moving from one state to another is
// allowed.
func ValidTransition(from, to CallState) bool {
	allowed, exists := validTransitions[from][to]
	return exists && allowed
}

// Call tracks the lifecycle state of one tool invocation.
type Call struct {
	mu    sync.RWMutex
	id    string
	state CallState
}

// NewCall creates a call tracker in StatePending.
func NewCall(id string) *Call {
	return &Call{id: id, state: StatePending}
}

// ID returns the call identifier.
func (c *Call) ID() string {
	return c.id
}

// State returns the current call state.
func (c *Call) State() CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TransitionTo attempts to move the call to a new state. An invalid
// transition indicates a pipeline bug and is returned as an error rather
// than applied.
func (c *Call) TransitionTo(newState CallState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !ValidTransition(c.state, newState) {
		return warderr.Errorf(warderr.CodeToolCallStateInvalid,
			"invalid call state transition: %s -> %s", c.state, newState)
	}

	c.state = newState
	return nil
}
