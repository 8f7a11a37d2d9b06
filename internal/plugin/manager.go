// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/wardgate-dev/wardgate/internal/hooks"
	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// Manager discovers plugin manifests on disk and drives each plugin
// through its lifecycle, registering its handlers with the hook registry
// while it is running.
type Manager struct {
	mu         sync.RWMutex
	pluginsDir string
	registry   *hooks.Registry
	deps       Deps
	log        *slog.Logger
	plugins    map[string]*Instance
}

// NewManager creates a Manager rooted at pluginsDir.
func NewManager(pluginsDir string, registry *hooks.Registry, deps Deps, log *slog.Logger) *Manager {
	return &Manager{
		pluginsDir: pluginsDir,
		registry:   registry,
		deps:       deps,
		log:        log.With("component", "plugin_manager"),
		plugins:    make(map[string]*Instance),
	}
}

// Discover scans pluginsDir for <name>/plugin.yaml manifests. Invalid or
// unreadable manifests are skipped with a warning; a missing directory is
// not an error. Each valid manifest yields a tracked Instance in the
// discovered state.
func (m *Manager) Discover(ctx context.Context) ([]*Instance, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, warderr.Wrap(err, warderr.CodePluginDiscoveryFailure, "reading plugins directory")
	}

	var discovered []*Instance

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		manifestPath := filepath.Join(m.pluginsDir, entry.Name(), "plugin.yaml")
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if !os.IsNotExist(err) {
				m.log.WarnContext(ctx, "skipping plugin: cannot read manifest",
					"path", manifestPath, "error", err)
			}
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			m.log.WarnContext(ctx, "skipping plugin: invalid manifest",
				"path", manifestPath, "error", err)
			continue
		}

		inst := NewInstance(manifest)

		m.mu.Lock()
		m.plugins[manifest.Name] = inst
		m.mu.Unlock()

		discovered = append(discovered, inst)
	}

	return discovered, nil
}

// Load takes a discovered plugin to running: validates the manifest,
// builds its handler registrations, and registers them. Any failure rolls
// back registrations already made for the plugin and leaves it in the
// error state.
func (m *Manager) Load(ctx context.Context, name string) error {
	inst, err := m.Get(name)
	if err != nil {
		return err
	}

	if err := inst.TransitionTo(StateValidating); err != nil {
		return err
	}
	if errs := inst.Manifest().Validate(); len(errs) > 0 {
		_ = inst.TransitionTo(StateError)
		return errs[0]
	}

	if err := inst.TransitionTo(StateLoading); err != nil {
		return err
	}

	registered := 0
	for _, spec := range inst.Manifest().Hooks {
		reg, err := buildRegistration(m.deps, name, spec)
		if err == nil {
			err = m.registry.Register(reg)
		}
		if err != nil {
			m.registry.UnregisterPlugin(name)
			_ = inst.TransitionTo(StateError)
			return warderr.Wrapf(err, warderr.CodePluginManifestValidateInvalid,
				"loading plugin %q handler %q", name, spec.Handler)
		}
		registered++
	}

	if err := inst.TransitionTo(StateRunning); err != nil {
		m.registry.UnregisterPlugin(name)
		return err
	}
	inst.setHookCount(registered)

	m.log.InfoContext(ctx, "plugin loaded",
		"plugin", name,
		"version", inst.Manifest().Version,
		"hooks", registered)
	return nil
}

// LoadAll loads every discovered plugin, in name order for deterministic
// registration. Plugins that fail to load are reported in the returned
// error but do not stop the others from loading.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	m.mu.RUnlock()
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err := m.Load(ctx, name); err != nil {
			m.log.WarnContext(ctx, "plugin failed to load", "plugin", name, "error", err)
			errs = append(errs, err)
		}
	}
	return warderr.Join(errs...)
}

// Unload removes a running plugin's handler registrations and stops it.
func (m *Manager) Unload(ctx context.Context, name string) error {
	inst, err := m.Get(name)
	if err != nil {
		return err
	}

	if err := inst.TransitionTo(StateDraining); err != nil {
		return err
	}

	// Deregistration stops new handler invocations; in-flight after-hook
	// tasks are drained by the runner on shutdown, not per plugin.
	removed := m.registry.UnregisterPlugin(name)
	inst.setHookCount(0)

	if err := inst.TransitionTo(StateStopping); err != nil {
		return err
	}
	if err := inst.TransitionTo(StateStopped); err != nil {
		return err
	}

	m.log.InfoContext(ctx, "plugin unloaded", "plugin", name, "hooks_removed", removed)
	return nil
}

// Get returns the tracked instance for name.
func (m *Manager) Get(name string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.plugins[name]
	if !ok {
		return nil, warderr.Errorf(warderr.CodePluginNotFound, "plugin %q not found", name)
	}
	return inst, nil
}

// List returns all tracked instances sorted by name.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Instance, 0, len(m.plugins))
	for _, inst := range m.plugins {
		list = append(list, inst)
	}
	slices.SortFunc(list, func(a, b *Instance) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return list
}
