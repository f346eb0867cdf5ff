package control

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/models"
	"gpmonitor/internal/registry"
	"gpmonitor/internal/resolver"
)

// fakeExecutor records invocations and answers from a table keyed by the
// invocation's argv.
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []models.Invocation
	outputs   map[string]string
	failures  map[string]error
	block     chan struct{}
	started   chan struct{}
	ctxErrors []error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outputs:  make(map[string]string),
		failures: make(map[string]error),
	}
}

func key(inv models.Invocation) string {
	return strings.TrimSpace(inv.Path + " " + strings.Join(inv.Args, " "))
}

func (f *fakeExecutor) Execute(ctx context.Context, inv models.Invocation) (models.ControlResult, error) {
	return f.ExecuteWithin(ctx, inv, time.Second)
}

func (f *fakeExecutor) ExecuteWithin(ctx context.Context, inv models.Invocation, timeout time.Duration) (models.ControlResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	k := key(inv)
	out, failure := f.outputs[k], f.failures[k]
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.ctxErrors = append(f.ctxErrors, ctx.Err())
	f.mu.Unlock()

	res := models.ControlResult{
		ResolvedService: inv.ResolvedService,
		Output:          out,
		Timestamp:       time.Now().UTC(),
	}
	if failure != nil {
		return res, failure
	}
	res.Success = true
	return res, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) call(i int) models.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *recordingAuditor) Record(evt models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
}

func (a *recordingAuditor) all() []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AuditEvent(nil), a.events...)
}

type harness struct {
	ctl   *Controller
	exec  *fakeExecutor
	audit *recordingAuditor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := registry.New(
		[]models.ServiceDescriptor{
			{Name: "nginx", Controllable: true},
			{Name: "mysql", Controllable: true},
			{Name: "mariadb", Controllable: true},
			{Name: "redis-server", Controllable: true},
			{Name: "ssh", Controllable: false},
		},
		[]models.ServiceAlias{
			{Name: "database", Candidates: []string{"mysql", "mariadb"}},
			{Name: "php", Candidates: []string{"php8.3-fpm", "php8.2-fpm"}},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	commands := []models.CommandSpec{
		{Name: "uptime", Argv: []string{"/usr/bin/uptime"}},
		{Name: "gp-reload-stack", Argv: []string{"/usr/local/bin/gp", "stack", "reload"}, Mutating: true},
	}
	exec := newFakeExecutor()
	audit := &recordingAuditor{}
	ctl := New(Options{
		Resolver:    resolver.New(reg, models.MechanismSystemctl, commands),
		Services:    reg,
		Executor:    exec,
		Audit:       audit,
		RebootDelay: 5 * time.Minute,
	})
	return &harness{ctl: ctl, exec: exec, audit: audit}
}

var errExitStatus = ctlerr.New(ctlerr.CodeExecutionFailed, "systemctl restart nginx.service", nil).
	WithOutput("Job for nginx.service failed because the control process exited with error code.")
