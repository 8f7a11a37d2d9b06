// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wardgate-dev/wardgate/internal/store"
)

// Compile-time interface check.
var _ store.AuditSink = (*AuditSink)(nil)

func init() {
	store.RegisterBackend("sqlite", func(dataPath string) (store.AuditSink, error) {
		// dataPath is a directory; a fresh install starts with nothing on
		// disk, so create it before sqlite tries to open the file inside.
		if err := os.MkdirAll(dataPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit data directory %s: %w", dataPath, err)
		}
		return NewAuditSink(filepath.Join(dataPath, "audit.db"))
	})
}

// AuditSink implements store.AuditSink backed by a SQLite database.
// Appends rely on SQLite's single-writer serialization; no coordination
// beyond the connection pool is needed for concurrent writers.
type AuditSink struct {
	db *sql.DB
}

// NewAuditSink opens (or creates) a SQLite database at dbPath and
// initialises the audit_records table.
func NewAuditSink(dbPath string) (*AuditSink, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging audit db: %w", err)
	}

	if err := migrateAudit(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating audit db: %w", err)
	}

	return &AuditSink{db: db}, nil
}

func migrateAudit(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_records (
	id        TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	kind      TEXT NOT NULL,
	payload   TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_records_kind      ON audit_records(kind);
`
	_, err := db.Exec(ddl)
	return err
}

// Record appends one audit record. Records are never updated or deleted
// through this type; the table is append-only by construction.
func (s *AuditSink) Record(ctx context.Context, rec *store.AuditRecord) error {
	payload := "{}"
	if rec.Payload != nil {
		b, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshalling audit payload: %w", err)
		}
		payload = string(b)
	}

	const q = `INSERT INTO audit_records (id, timestamp, kind, payload) VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q, rec.ID, formatTime(rec.Timestamp), string(rec.Kind), payload)
	if err != nil {
		return fmt.Errorf("appending audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Query returns records matching the filter, ordered by timestamp ascending.
func (s *AuditSink) Query(ctx context.Context, filter store.AuditFilter) ([]*store.AuditRecord, error) {
	var qb strings.Builder
	qb.WriteString(`SELECT id, timestamp, kind, payload FROM audit_records`)

	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, formatTime(filter.To))
	}

	if len(conditions) > 0 {
		qb.WriteString(" WHERE ")
		qb.WriteString(strings.Join(conditions, " AND "))
	}

	qb.WriteString(" ORDER BY timestamp ASC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	qb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var records []*store.AuditRecord
	for rows.Next() {
		var rec store.AuditRecord
		var ts, kind, payloadJSON string
		if err := rows.Scan(&rec.ID, &ts, &kind, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		rec.Kind = store.RecordKind(kind)
		rec.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing audit record %s timestamp: %w", rec.ID, err)
		}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
				return nil, fmt.Errorf("unmarshalling audit payload: %w", err)
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return records, nil
}

// Close closes the underlying database connection.
func (s *AuditSink) Close() error { return s.db.Close() }

// formatTime serialises a time for storage.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
