// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package store

import (
	"sync"

	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// Config controls which backend the sink factory uses.
type Config struct {
	Backend string // "sqlite" or "memory"; empty defaults to "sqlite".
	Path    string // data directory for file-backed backends
}

// SinkFactory creates an AuditSink given a data directory path.
type SinkFactory func(dataPath string) (AuditSink, error)

var (
	sinkFactories = map[string]SinkFactory{}
	factoriesMu   sync.RWMutex
)

// RegisterBackend registers a factory function for a named sink backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, factory SinkFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	sinkFactories[name] = factory
}

func init() {
	RegisterBackend("memory", func(string) (AuditSink, error) {
		return NewMemorySink(), nil
	})
}

func resolveBackend(cfg *Config) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// NewAuditSink creates the audit sink for the configured backend.
func NewAuditSink(cfg *Config) (AuditSink, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := sinkFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, warderr.Errorf(warderr.CodeStoreBackendUnsupported,
			"unsupported sink backend: %q", backend)
	}

	return factory(cfg.Path)
}
