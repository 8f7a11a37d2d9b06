// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package store

import (
	"context"
	"sync"
	"time"

	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// MemorySink is an in-memory AuditSink for tests and ephemeral runs.
// Appends are serialized behind a mutex; Query returns copies so callers
// cannot mutate stored records.
type MemorySink struct {
	mu      sync.RWMutex
	records []*AuditRecord
	closed  bool
}

// NewMemorySink creates an empty in-memory audit sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

var _ AuditSink = (*MemorySink)(nil)

func (s *MemorySink) Record(_ context.Context, rec *AuditRecord) error {
	if rec == nil {
		return warderr.New(warderr.CodeStoreInvalidInput, "audit record must not be nil")
	}
	if !rec.Kind.Valid() {
		return warderr.Errorf(warderr.CodeStoreInvalidInput, "invalid audit record kind %q", rec.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return warderr.New(warderr.CodeStoreClosed, "audit sink is closed")
	}

	s.records = append(s.records, cloneRecord(rec))
	return nil
}

func (s *MemorySink) Query(_ context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, warderr.New(warderr.CodeStoreClosed, "audit sink is closed")
	}

	var out []*AuditRecord
	skipped := 0
	for _, rec := range s.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, cloneRecord(rec))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored records. Test helper.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func matchesFilter(rec *AuditRecord, filter AuditFilter) bool {
	if filter.Kind != "" && rec.Kind != filter.Kind {
		return false
	}
	if !filter.From.IsZero() && rec.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !rec.Timestamp.Before(filter.To) {
		return false
	}
	return true
}

func cloneRecord(rec *AuditRecord) *AuditRecord {
	out := &AuditRecord{
		ID:        rec.ID,
		Timestamp: rec.Timestamp,
		Kind:      rec.Kind,
	}
	if rec.Payload != nil {
		out.Payload = make(map[string]any, len(rec.Payload))
		for k, v := range rec.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// NewRecord builds an audit record with the given kind and payload,
// stamping the current UTC time.
func NewRecord(id string, kind RecordKind, payload map[string]any) *AuditRecord {
	return &AuditRecord{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	}
}
