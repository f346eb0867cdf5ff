package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gpmonitor/internal/models"

	_ "modernc.org/sqlite"
)

const maxBusyTimeoutMs = 5000

// SQLiteSink stores events in an append-only audit_events table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the database at path and ensures the schema.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(absPath)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT NOT NULL,
		request_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		requested_service TEXT,
		resolved_service TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		client_ip TEXT,
		identity TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create audit_events table: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events (created_at DESC)"); err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_events (request_id)"); err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	return nil
}

// Write inserts evt.
func (s *SQLiteSink) Write(ctx context.Context, evt models.AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (created_at, request_id, kind, action, requested_service, resolved_service, outcome, error, duration_ms, client_ip, identity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.Timestamp.UTC().Format(time.RFC3339Nano),
		evt.RequestID,
		string(evt.Kind),
		evt.Action,
		evt.RequestedService,
		evt.ResolvedService,
		evt.Outcome,
		evt.Error,
		evt.DurationMs,
		evt.RequesterIP,
		evt.RequesterIdentity,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, request_id, kind, action, requested_service, resolved_service, outcome, error, duration_ms, client_ip, identity
		FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []models.AuditEvent{}
	for rows.Next() {
		var (
			evt                                   models.AuditEvent
			created, kind                         string
			requested, resolved, errText, ip, who sql.NullString
		)
		if err := rows.Scan(&created, &evt.RequestID, &kind, &evt.Action, &requested, &resolved, &evt.Outcome, &errText, &evt.DurationMs, &ip, &who); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.Kind = models.AuditKind(kind)
		evt.RequestedService = requested.String
		evt.ResolvedService = resolved.String
		evt.Error = errText.String
		evt.RequesterIP = ip.String
		evt.RequesterIdentity = who.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			evt.Timestamp = ts
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Close releases the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
