// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package hooks

import (
	"log/slog"
	"slices"
	"sync"
)

// Registry owns the hook registrations. Plugins register at load time and
// deregister at unload; between those points the collection is read-mostly,
// so lookups take a read lock and copy the slice.
type Registry struct {
	mu      sync.RWMutex
	entries map[EventKind][]*entry
	seq     int64
	log     *slog.Logger
}

type entry struct {
	Registration
	seq int64
}

// NewRegistry creates an empty hook registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[EventKind][]*entry),
		log:     log.With("component", "hooks"),
	}
}

// Register adds a validated registration. Handlers for the same event are
// ordered by ascending Order, ties broken by registration sequence, so two
// registrations with equal Order run in the order they were registered.
func (r *Registry) Register(reg Registration) error {
	if err := reg.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e := &entry{Registration: reg, seq: r.seq}
	r.entries[reg.Event] = append(r.entries[reg.Event], e)
	slices.SortFunc(r.entries[reg.Event], func(a, b *entry) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return int(a.seq - b.seq)
	})

	r.log.Debug("registered hook",
		"plugin", reg.PluginID,
		"event", string(reg.Event),
		"order", reg.Order)
	return nil
}

// Unregister removes all of a plugin's registrations for one event and
// returns how many were removed.
func (r *Registry) Unregister(pluginID string, event EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(pluginID, event)
}

// UnregisterPlugin removes all of a plugin's registrations across every
// event. Called at plugin unload.
func (r *Registry) UnregisterPlugin(pluginID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for event := range r.entries {
		removed += r.removeLocked(pluginID, event)
	}
	return removed
}

func (r *Registry) removeLocked(pluginID string, event EventKind) int {
	before := len(r.entries[event])
	r.entries[event] = slices.DeleteFunc(r.entries[event], func(e *entry) bool {
		return e.PluginID == pluginID
	})
	removed := before - len(r.entries[event])
	if removed > 0 {
		r.log.Debug("unregistered hooks",
			"plugin", pluginID,
			"event", string(event),
			"removed", removed)
	}
	return removed
}

// Count returns the number of handlers registered for an event.
func (r *Registry) Count(event EventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[event])
}

// registrations returns an ordered snapshot of the entries for one event.
// The runner iterates the snapshot so a concurrent unregister cannot shift
// the chain mid-call.
func (r *Registry) registrations(event EventKind) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.entries[event]
	out := make([]*entry, len(src))
	copy(out, src)
	return out
}
