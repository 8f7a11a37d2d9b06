// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

// Package store defines the security audit sink: an append-only record of
// detections, blocks, sanitizations, and hook failures. Components write to
// the sink best-effort; the read side serves operational tooling only and is
// never fed back into the agent's context.
package store

import (
	"context"
	"time"
)

// RecordKind classifies an audit record.
type RecordKind string

const (
	// KindDetection records a pattern detector finding in external content.
	KindDetection RecordKind = "detection"

	// KindBlock records a tool call stopped before dispatch.
	KindBlock RecordKind = "block"

	// KindSanitization records a boundary marker neutralized inside
	// untrusted content.
	KindSanitization RecordKind = "sanitization"

	// KindHookFailure records an observational hook handler error that was
	// absorbed rather than propagated.
	KindHookFailure RecordKind = "hook_failure"
)

// Valid reports whether the kind is a known record kind.
func (k RecordKind) Valid() bool {
	switch k {
	case KindDetection, KindBlock, KindSanitization, KindHookFailure:
		return true
	default:
		return false
	}
}

// AuditRecord is a single append-only entry in the security audit log.
// Records are never edited or deleted by the core; retention and rotation
// belong to operational tooling.
type AuditRecord struct {
	ID        string
	Timestamp time.Time
	Kind      RecordKind
	Payload   map[string]any
}

// AuditFilter specifies criteria for querying audit records.
type AuditFilter struct {
	Kind   RecordKind
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// AuditSink is the append-only security audit log.
//
// Record must be safe for concurrent writers. Writers treat append failures
// as best-effort: an error from Record never fails the emitting operation
// (callers log it via LogAppendFailure and continue).
type AuditSink interface {
	Record(ctx context.Context, rec *AuditRecord) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error)
	Close() error
}
