// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package plugin

import (
	"sync"

	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// State represents the lifecycle state of a loaded plugin.
type State int

const (
	StateDiscovered State = iota
	StateValidating
	StateLoading
	StateRunning
	StateDraining
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateValidating:
		return "validating"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// validStateTransitions defines allowed lifecycle transitions as an
// adjacency list.
var validStateTransitions = map[State]map[State]bool{
	StateDiscovered: {
		StateValidating: true,
	},
	StateValidating: {
		StateLoading: true,
		StateError:   true,
	},
	StateLoading: {
		StateRunning: true,
		StateError:   true,
	},
	StateRunning: {
		StateDraining: true,
		StateError:    true,
	},
	StateDraining: {
		StateStopping: true,
	},
	StateStopping: {
		StateStopped: true,
	},
	StateStopped: {},
	StateError:   {},
}

// ValidStateTransition returns true if transitioning between the two
// lifecycle states is allowed.
func ValidStateTransition(from, to State) bool {
	allowed, exists := validStateTransitions[from][to]
	return exists && allowed
}

// Instance is one discovered plugin with lifecycle state and, once running,
// the count of hook registrations it holds in the registry.
type Instance struct {
	mu        sync.RWMutex
	manifest  *Manifest
	state     State
	hookCount int
}

// NewInstance creates an Instance in the discovered state.
func NewInstance(manifest *Manifest) *Instance {
	return &Instance{manifest: manifest, state: StateDiscovered}
}

// Name returns the plugin name from its manifest.
func (i *Instance) Name() string {
	return i.manifest.Name
}

// Manifest returns the parsed manifest.
func (i *Instance) Manifest() *Manifest {
	return i.manifest
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// HookCount returns how many hook registrations the plugin holds.
func (i *Instance) HookCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.hookCount
}

func (i *Instance) setHookCount(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hookCount = n
}

// TransitionTo attempts a lifecycle transition. Returns an error and leaves
// the state unchanged if the transition is not valid.
func (i *Instance) TransitionTo(newState State) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !ValidStateTransition(i.state, newState) {
		return warderr.Errorf(warderr.CodePluginLifecycleTransitionInvalid,
			"invalid state transition for plugin %q: %s -> %s", i.manifest.Name, i.state, newState)
	}

	i.state = newState
	return nil
}
