package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gpmonitor/internal/models"
)

func TestObserveControl(t *testing.T) {
	m := New()
	m.ObserveControl(models.AuditKindService, "restart", models.OutcomeSuccess, 120*time.Millisecond)
	m.ObserveControl(models.AuditKindService, "restart", models.OutcomeSuccess, 80*time.Millisecond)
	m.ObserveControl(models.AuditKindService, "invalid", models.OutcomeInvalid, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("service", "restart", models.OutcomeSuccess)); got != 2 {
		t.Fatalf("expected 2 successful restarts, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("service", "invalid", models.OutcomeInvalid)); got != 1 {
		t.Fatalf("expected 1 invalid request, got %v", got)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.AuditWriteFailed(errors.New("disk full"))
	m.RateLimited()
	m.RateLimited()
	m.ObserveHTTP("/health", 200)
	m.ObserveHTTP("", 404)

	if got := testutil.ToFloat64(m.auditFailures); got != 1 {
		t.Fatalf("expected 1 audit failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.rateLimited); got != 2 {
		t.Fatalf("expected 2 rate limited, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("unmatched", "4xx")); got != 1 {
		t.Fatalf("expected unmatched 4xx, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveControl(models.AuditKindReboot, "schedule", models.OutcomeSuccess, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(string(body), `gpmonitor_control_requests_total{action="schedule",kind="reboot",outcome="SUCCESS"} 1`) {
		t.Fatalf("missing control counter in exposition:\n%s", body)
	}
}
