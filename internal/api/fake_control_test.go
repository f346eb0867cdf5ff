package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"gpmonitor/internal/audit"
	"gpmonitor/internal/control"
	"gpmonitor/internal/docs"
	"gpmonitor/internal/metrics"
	"gpmonitor/internal/models"
	"gpmonitor/internal/registry"
	"gpmonitor/internal/resolver"
)

const testToken = "test-token"

type fakeExecutor struct {
	mu       sync.Mutex
	calls    []string
	outputs  map[string]string
	failures map[string]error
}

func argv(inv models.Invocation) string {
	return strings.TrimSpace(inv.Path + " " + strings.Join(inv.Args, " "))
}

func (f *fakeExecutor) Execute(ctx context.Context, inv models.Invocation) (models.ControlResult, error) {
	return f.ExecuteWithin(ctx, inv, time.Second)
}

func (f *fakeExecutor) ExecuteWithin(ctx context.Context, inv models.Invocation, timeout time.Duration) (models.ControlResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := argv(inv)
	f.calls = append(f.calls, k)
	res := models.ControlResult{
		ResolvedService: inv.ResolvedService,
		Output:          f.outputs[k],
		DurationMs:      3,
		Timestamp:       time.Now().UTC(),
	}
	if err := f.failures[k]; err != nil {
		return res, err
	}
	res.Success = true
	return res, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memorySink struct {
	mu     sync.Mutex
	events []models.AuditEvent
	fail   bool
}

func (s *memorySink) Write(ctx context.Context, evt models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) all() []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEvent(nil), s.events...)
}

type fakeJournal struct {
	mu    sync.Mutex
	lines []string
	units []string
	err   error
}

func (j *fakeJournal) Follow(ctx context.Context, unit string) (<-chan string, error) {
	j.mu.Lock()
	j.units = append(j.units, unit)
	j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	ch := make(chan string, len(j.lines))
	for _, l := range j.lines {
		ch <- l
	}
	close(ch)
	return ch, nil
}

type testServer struct {
	router  *Router
	exec    *fakeExecutor
	sink    *memorySink
	audit   *audit.Logger
	journal *fakeJournal
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	reg, err := registry.New(
		[]models.ServiceDescriptor{
			{Name: "nginx", Controllable: true},
			{Name: "mysql", Controllable: true},
			{Name: "mariadb", Controllable: true},
			{Name: "ssh", Controllable: false},
		},
		[]models.ServiceAlias{
			{Name: "database", Candidates: []string{"mysql", "mariadb"}},
			{Name: "remote", Candidates: []string{"ssh"}},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	ts := &testServer{
		exec:    &fakeExecutor{outputs: map[string]string{}, failures: map[string]error{}},
		sink:    &memorySink{},
		journal: &fakeJournal{},
		metrics: metrics.New(),
	}
	ts.audit = audit.New(ts.sink, 100)
	ts.audit.OnWriteFailure(ts.metrics.AuditWriteFailed)

	ctl := control.New(control.Options{
		Resolver: resolver.New(reg, models.MechanismSystemctl, []models.CommandSpec{
			{Name: "uptime", Argv: []string{"/usr/bin/uptime"}},
		}),
		Services:    reg,
		Executor:    ts.exec,
		Audit:       ts.audit,
		Observe:     ts.metrics.ObserveControl,
		RebootDelay: time.Minute,
	})

	opts := Options{
		Controller: ctl,
		Audit:      ts.audit,
		Services:   reg,
		Journal:    ts.journal,
		Docs: docs.NewService(fstest.MapFS{
			"api.adoc": {Data: []byte("= gpmonitor API\n\n== Endpoints\n\nPOST /control/service/{action}/{service}\n")},
		}),
		Metrics:   ts.metrics,
		Token:     testToken,
		Version:   "test",
		Mechanism: string(models.MechanismSystemctl),
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts.router = NewRouter(opts)
	return ts
}

// do sends an authenticated request.
func (ts *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}
