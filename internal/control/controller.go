// Package control runs the lifecycle of a control request: validate,
// resolve, serialize per service, execute and audit exactly once.
package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
	"gpmonitor/internal/resolver"
)

// Executor runs resolved invocations.
type Executor interface {
	Execute(ctx context.Context, inv models.Invocation) (models.ControlResult, error)
	ExecuteWithin(ctx context.Context, inv models.Invocation, timeout time.Duration) (models.ControlResult, error)
}

// Auditor records audit events. Record must not fail.
type Auditor interface {
	Record(evt models.AuditEvent)
}

// Observer is told about every finished request, for metrics.
type Observer func(kind models.AuditKind, action, outcome string, elapsed time.Duration)

// Services is the part of the registry the status snapshot walks.
type Services interface {
	Services() []models.ServiceDescriptor
	Aliases() []models.ServiceAlias
}

// Options configures a Controller.
type Options struct {
	Resolver *resolver.Resolver
	Services Services
	Executor Executor
	Audit    Auditor
	Observe  Observer

	StatusTimeout     time.Duration
	StatusConcurrency int
	RebootDelay       time.Duration
	ShutdownPath      string
}

// Controller is safe for concurrent use.
type Controller struct {
	resolver *resolver.Resolver
	services Services
	exec     Executor
	audit    Auditor
	observe  Observer

	statusTimeout     time.Duration
	statusConcurrency int

	inflight *inflight
	reboot   *rebootScheduler
	now      func() time.Time
}

// New creates a controller.
func New(opts Options) *Controller {
	c := &Controller{
		resolver:          opts.Resolver,
		services:          opts.Services,
		exec:              opts.Executor,
		audit:             opts.Audit,
		observe:           opts.Observe,
		statusTimeout:     opts.StatusTimeout,
		statusConcurrency: opts.StatusConcurrency,
		inflight:          newInflight(),
		now:               time.Now,
	}
	if c.statusTimeout <= 0 {
		c.statusTimeout = 10 * time.Second
	}
	if c.statusConcurrency < 1 {
		c.statusConcurrency = 8
	}
	if c.observe == nil {
		c.observe = func(models.AuditKind, string, string, time.Duration) {}
	}
	c.reboot = newRebootScheduler(opts.ShutdownPath, opts.RebootDelay)
	return c
}

// Commands lists the allow-listed commands.
func (c *Controller) Commands() []models.CommandSpec {
	return c.resolver.Commands()
}

// Service performs one service action. The audit record is written
// whatever the outcome, including validation failures.
func (c *Controller) Service(ctx context.Context, req models.ControlRequest) (result models.ControlResult, err error) {
	start := c.now()
	label := "invalid"
	evt := models.AuditEvent{
		RequestID:         req.RequestID,
		Kind:              models.AuditKindService,
		Action:            clip(req.Action, 64),
		RequestedService:  clip(req.TargetService, 256),
		RequesterIP:       req.RequesterIP,
		RequesterIdentity: req.RequesterIdentity,
	}
	defer func() {
		if result.Timestamp.IsZero() {
			result.Timestamp = start.UTC()
		}
		c.finish(&evt, label, result, err, start)
	}()

	action, err := resolver.ParseAction(req.Action)
	if err != nil {
		return result, err
	}
	label = action.String()
	evt.Action = label

	// Checked before the lookup so the answer does not depend on the
	// allow-list.
	if action.Mutating() && req.Method != "" && req.Method != http.MethodPost {
		return result, ctlerr.New(ctlerr.CodeMethodNotAllowed,
			fmt.Sprintf("%s changes state and requires POST", label), nil)
	}

	inv, err := c.resolver.Resolve(label, req.TargetService)
	if err != nil {
		return result, err
	}
	result.ResolvedService = inv.ResolvedService

	if action.Mutating() {
		release, ok := c.inflight.acquire(inv.ResolvedService)
		if !ok {
			return result, ctlerr.New(ctlerr.CodeServiceBusy,
				fmt.Sprintf("another operation on %s is in progress", inv.ResolvedService), nil)
		}
		defer release()
	}

	logger.Debug("executing service action", "request_id", req.RequestID, "action", label, "service", inv.ResolvedService)

	// A client hanging up must not abort a half-done restart.
	return c.exec.Execute(context.WithoutCancel(ctx), inv)
}

// Command runs an allow-listed command. Mutating commands need POST.
func (c *Controller) Command(ctx context.Context, req models.CommandRequest) (result models.ControlResult, err error) {
	start := c.now()
	label := "invalid"
	evt := models.AuditEvent{
		RequestID:         req.RequestID,
		Kind:              models.AuditKindCommand,
		Action:            "run",
		RequestedService:  clip(req.Name, 256),
		RequesterIP:       req.RequesterIP,
		RequesterIdentity: req.RequesterIdentity,
	}
	defer func() {
		if result.Timestamp.IsZero() {
			result.Timestamp = start.UTC()
		}
		c.finish(&evt, label, result, err, start)
	}()

	spec, inv, err := c.resolver.Command(req.Name)
	if err != nil {
		return result, err
	}
	label = spec.Name
	result.ResolvedService = spec.Name

	if spec.Mutating {
		if req.Method != http.MethodPost {
			return result, ctlerr.New(ctlerr.CodeMethodNotAllowed,
				fmt.Sprintf("command %s changes state and requires POST", spec.Name), nil)
		}
		release, ok := c.inflight.acquire("command:" + spec.Name)
		if !ok {
			return result, ctlerr.New(ctlerr.CodeServiceBusy,
				fmt.Sprintf("command %s is already running", spec.Name), nil)
		}
		defer release()
	}

	return c.exec.Execute(context.WithoutCancel(ctx), inv)
}

func (c *Controller) finish(evt *models.AuditEvent, label string, result models.ControlResult, err error, start time.Time) {
	elapsed := c.now().Sub(start)
	evt.ResolvedService = result.ResolvedService
	evt.Outcome = Outcome(err)
	evt.DurationMs = max(elapsed.Milliseconds(), 0)
	evt.Timestamp = start.UTC()
	if err != nil {
		evt.Error = err.Error()
	}
	c.audit.Record(*evt)
	c.observe(evt.Kind, label, evt.Outcome, elapsed)
}

// Outcome maps an error to the audit outcome.
func Outcome(err error) string {
	if err == nil {
		return models.OutcomeSuccess
	}
	var cerr *ctlerr.Error
	if !errors.As(err, &cerr) {
		return models.OutcomeFailed
	}
	switch cerr.Code {
	case ctlerr.CodeInvalidAction, ctlerr.CodeMethodNotAllowed:
		return models.OutcomeInvalid
	case ctlerr.CodeUnknownService, ctlerr.CodeUnresolvableAlias, ctlerr.CodeUnknownCommand:
		return models.OutcomeDenied
	case ctlerr.CodeExecutionTimeout:
		return models.OutcomeTimeout
	case ctlerr.CodeServiceBusy, ctlerr.CodeRebootScheduled:
		return models.OutcomeBusy
	default:
		return models.OutcomeFailed
	}
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// inflight tracks keys with a mutating operation in progress.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

func (f *inflight) acquire(key string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return nil, false
	}
	f.keys[key] = struct{}{}
	return func() {
		f.mu.Lock()
		delete(f.keys, key)
		f.mu.Unlock()
	}, true
}
