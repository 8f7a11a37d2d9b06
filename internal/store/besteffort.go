// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package store

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// AppendFailureEscalationThreshold is the number of consecutive audit append
// failures after which the failure is logged at Error instead of Warn. This
// gives operators visibility into persistent sink failures without flooding
// the error log on transient blips.
const AppendFailureEscalationThreshold = 3

// AppendMeter tracks consecutive and cumulative audit append failures for a
// single emitting component. The consecutive counter resets on success so
// intermittent failures do not permanently elevate the log level; the total
// never resets, keeping FAIL-SUCCESS-FAIL patterns visible to operators.
type AppendMeter struct {
	consecutive atomic.Int64
	total       atomic.Int64
}

// Failure records one append failure and returns the updated counters.
func (m *AppendMeter) Failure() (consecutive, total int64) {
	return m.consecutive.Add(1), m.total.Add(1)
}

// Success resets the consecutive failure counter.
func (m *AppendMeter) Success() {
	m.consecutive.Store(0)
}

// Total returns the cumulative failure count.
func (m *AppendMeter) Total() int64 {
	return m.total.Load()
}

// LogAppendFailure logs an audit append failure at an escalating level: Warn
// for the first (AppendFailureEscalationThreshold - 1) consecutive failures,
// Error thereafter.
//
// log must be non-nil; callers without an injected logger should pass
// slog.Default().
func LogAppendFailure(ctx context.Context, log *slog.Logger, consecutive int64, msg string, attrs ...slog.Attr) {
	logLevel := slog.LevelWarn
	if consecutive >= AppendFailureEscalationThreshold {
		logLevel = slog.LevelError
	}
	log.LogAttrs(ctx, logLevel, msg, attrs...)
}
