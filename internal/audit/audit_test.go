package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/models"
)

type recordingSink struct {
	events []models.AuditEvent
	closed bool
}

func (s *recordingSink) Write(ctx context.Context, evt models.AuditEvent) error {
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

type failingSink struct {
	panics bool
}

func (s *failingSink) Write(ctx context.Context, evt models.AuditEvent) error {
	if s.panics {
		panic("disk on fire")
	}
	return errors.New("disk full")
}

func (s *failingSink) Close() error { return nil }

func event(id, outcome string) models.AuditEvent {
	return models.AuditEvent{
		RequestID:        id,
		Kind:             models.AuditKindService,
		Action:           "restart",
		RequestedService: "nginx",
		ResolvedService:  "nginx",
		Outcome:          outcome,
		RequesterIP:      "127.0.0.1",
	}
}

func TestRecord_WritesToSinkAndStampsTime(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink, 10)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	l.Record(event("req-1", models.OutcomeSuccess))

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if !sink.events[0].Timestamp.Equal(fixed) {
		t.Fatalf("expected timestamp %v, got %v", fixed, sink.events[0].Timestamp)
	}
}

func TestRecord_SinkFailureIsSwallowed(t *testing.T) {
	for _, tc := range []struct {
		name string
		sink *failingSink
	}{
		{"error", &failingSink{}},
		{"panic", &failingSink{panics: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := New(tc.sink, 10)
			var reported []error
			l.OnWriteFailure(func(err error) { reported = append(reported, err) })

			l.Record(event("req-1", models.OutcomeSuccess))

			if len(reported) != 1 {
				t.Fatalf("expected one failure report, got %d", len(reported))
			}
			if !errors.Is(reported[0], ctlerr.ErrAuditWrite) {
				t.Fatalf("expected audit write error, got %v", reported[0])
			}
			// The event is still kept in memory.
			recent, err := l.Recent(context.Background(), 10)
			if err != nil || len(recent) != 1 {
				t.Fatalf("expected event in ring, got %v %v", recent, err)
			}
		})
	}
}

func TestRecent_NewestFirstAndBounded(t *testing.T) {
	l := New(nil, 3)
	for _, id := range []string{"a", "b", "c", "d"} {
		l.Record(event(id, models.OutcomeSuccess))
	}

	recent, err := l.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recent))
	}
	if recent[0].RequestID != "d" || recent[2].RequestID != "b" {
		t.Fatalf("unexpected order: %s %s %s", recent[0].RequestID, recent[1].RequestID, recent[2].RequestID)
	}

	recent, _ = l.Recent(context.Background(), 1)
	if len(recent) != 1 || recent[0].RequestID != "d" {
		t.Fatalf("expected only the newest event, got %+v", recent)
	}
}

func TestClose_ClosesSink(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink, 0)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.closed {
		t.Fatalf("expected sink to be closed")
	}
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	l := New(sink, 10)
	l.Record(event("req-1", models.OutcomeSuccess))
	l.Record(event("req-2", models.OutcomeDenied))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o007 != 0 {
		t.Fatalf("audit log must not be world accessible, mode %v", info.Mode().Perm())
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var evt models.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		ids = append(ids, evt.RequestID+":"+evt.Outcome)
	}
	if len(ids) != 2 || ids[0] != "req-1:SUCCESS" || ids[1] != "req-2:DENIED" {
		t.Fatalf("unexpected lines %v", ids)
	}
}

func TestFileSink_WriteAfterCloseFails(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	sink.Close()
	if err := sink.Write(context.Background(), event("x", models.OutcomeSuccess)); err == nil {
		t.Fatalf("expected error writing to closed sink")
	}
}

func TestFileSink_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	l := New(sink, 10)
	defer l.Close()

	l.Record(event("before", models.OutcomeSuccess))
	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	l.Record(event("after", models.OutcomeSuccess))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read reopened log: %v", err)
	}
	var evt models.AuditEvent
	if err := json.Unmarshal(data, &evt); err != nil || evt.RequestID != "after" {
		t.Fatalf("expected only the post-rotation event, got %q", data)
	}
}

func TestSQLiteSink_WriteAndRecent(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	l := New(sink, 10)
	defer l.Close()

	l.Record(event("req-1", models.OutcomeSuccess))
	failed := event("req-2", models.OutcomeFailed)
	failed.Error = "Job for nginx.service failed"
	failed.DurationMs = 42
	l.Record(failed)

	recent, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	got := recent[0]
	if got.RequestID != "req-2" || got.Outcome != models.OutcomeFailed || got.Error != failed.Error || got.DurationMs != 42 {
		t.Fatalf("unexpected newest event %+v", got)
	}
	if got.Kind != models.AuditKindService || got.RequesterIP != "127.0.0.1" {
		t.Fatalf("unexpected newest event %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to round-trip")
	}
}

func TestSQLiteSink_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatal(err)
	}
	New(sink, 10).Record(event("persisted", models.OutcomeSuccess))
	sink.Close()

	sink, err = NewSQLiteSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	events, err := sink.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 || events[0].RequestID != "persisted" {
		t.Fatalf("unexpected events %+v", events)
	}
}
