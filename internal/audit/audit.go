// Package audit records one immutable event per control attempt. Recording
// never fails from the caller's point of view: sink errors are logged and
// reported through the failure hook instead.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
)

const (
	defaultRecent = 200
	writeTimeout  = 5 * time.Second
)

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, evt models.AuditEvent) error
	Close() error
}

// Querier is implemented by sinks that can read back recent events.
type Querier interface {
	Recent(ctx context.Context, limit int) ([]models.AuditEvent, error)
}

// Logger fans an event out to the sink, the process log and an in-memory
// ring of recent events.
type Logger struct {
	sink Sink

	mu        sync.Mutex
	recent    []models.AuditEvent
	maxRecent int

	onFailure func(error)
	now       func() time.Time
}

// New creates an audit logger. A nil sink keeps events in the process log
// and the in-memory ring only.
func New(sink Sink, maxRecent int) *Logger {
	if maxRecent <= 0 {
		maxRecent = defaultRecent
	}
	return &Logger{
		sink:      sink,
		recent:    make([]models.AuditEvent, 0, maxRecent),
		maxRecent: maxRecent,
		now:       time.Now,
	}
}

// OnWriteFailure registers a hook called after a failed sink write.
func (l *Logger) OnWriteFailure(fn func(error)) {
	l.onFailure = fn
}

// Record stores evt. It does not return an error and does not panic.
func (l *Logger) Record(evt models.AuditEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.now().UTC()
	}

	l.remember(evt)

	logger.Info("audit",
		"request_id", evt.RequestID,
		"kind", evt.Kind,
		"action", evt.Action,
		"requested", evt.RequestedService,
		"resolved", evt.ResolvedService,
		"outcome", evt.Outcome,
		"duration_ms", evt.DurationMs,
		"ip", evt.RequesterIP,
		"identity", evt.RequesterIdentity,
	)

	if err := l.write(evt); err != nil {
		werr := ctlerr.New(ctlerr.CodeAuditWrite, fmt.Sprintf("request %s", evt.RequestID), err)
		logger.Error("audit write failed", "request_id", evt.RequestID, "action", evt.Action, "error", werr)
		if l.onFailure != nil {
			l.onFailure(werr)
		}
	}
}

func (l *Logger) write(evt models.AuditEvent) (err error) {
	if l.sink == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return l.sink.Write(ctx, evt)
}

func (l *Logger) remember(evt models.AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recent = append(l.recent, evt)

	// Keep only the last maxRecent events
	if len(l.recent) > l.maxRecent {
		l.recent = l.recent[len(l.recent)-l.maxRecent:]
	}
}

// Recent returns up to n events, newest first. Sinks that can be queried
// are preferred so history survives restarts.
func (l *Logger) Recent(ctx context.Context, n int) ([]models.AuditEvent, error) {
	if n <= 0 || n > l.maxRecent {
		n = l.maxRecent
	}
	if q, ok := l.sink.(Querier); ok {
		return q.Recent(ctx, n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.recent) {
		n = len(l.recent)
	}
	result := make([]models.AuditEvent, n)
	for i := 0; i < n; i++ {
		result[i] = l.recent[len(l.recent)-1-i]
	}
	return result, nil
}

// Reopen asks a file sink to reopen its file after external rotation.
func (l *Logger) Reopen() error {
	if r, ok := l.sink.(interface{ Reopen() error }); ok {
		return r.Reopen()
	}
	return nil
}

// Close closes the sink.
func (l *Logger) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}
