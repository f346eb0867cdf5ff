package platform

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/models"
)

// DefaultTimeout bounds an invocation when none is configured
const DefaultTimeout = 30 * time.Second

// Executor runs invocations with a timeout and classifies the outcome
type Executor struct {
	backends map[models.InvocationKind]Backend
	timeout  time.Duration
	now      func() time.Time
}

// NewExecutor creates an executor. A nil backend leaves that kind unsupported.
func NewExecutor(process Backend, dbus Backend, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e := &Executor{
		backends: make(map[models.InvocationKind]Backend, 2),
		timeout:  timeout,
		now:      time.Now,
	}
	if process != nil {
		e.backends[models.InvocationCommand] = process
	}
	if dbus != nil {
		e.backends[models.InvocationDBus] = dbus
	}
	return e
}

// Timeout returns the per-invocation bound
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute runs inv. The returned result is filled in on failure too, so
// callers can report duration and output either way.
func (e *Executor) Execute(ctx context.Context, inv models.Invocation) (models.ControlResult, error) {
	return e.ExecuteWithin(ctx, inv, e.timeout)
}

// ExecuteWithin is Execute with an explicit timeout.
func (e *Executor) ExecuteWithin(ctx context.Context, inv models.Invocation, timeout time.Duration) (models.ControlResult, error) {
	start := e.now()
	result := models.ControlResult{
		ResolvedService: inv.ResolvedService,
		Timestamp:       start.UTC(),
	}

	backend, ok := e.backends[inv.Kind]
	if !ok {
		return result, ctlerr.New(ctlerr.CodeExecutionFailed, fmt.Sprintf("no backend for %s invocations", inv.Kind), nil)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := backend.Invoke(runCtx, inv)

	result.DurationMs = max(e.now().Sub(start).Milliseconds(), 0)
	result.Output = strings.TrimSpace(out.Stdout)
	result.Warnings = strings.TrimSpace(out.Stderr)
	result.ExitCode = out.ExitCode

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, ctlerr.New(ctlerr.CodeExecutionTimeout, fmt.Sprintf("%s did not finish within %s", describe(inv), timeout), runCtx.Err()).
			WithOutput(combinedOutput(out))
	}
	if err != nil && !(out.Exited && slices.Contains(inv.OKExitCodes, out.ExitCode)) {
		return result, ctlerr.New(ctlerr.CodeExecutionFailed, describe(inv), err).
			WithOutput(combinedOutput(out))
	}

	result.Success = true
	return result, nil
}

func describe(inv models.Invocation) string {
	if inv.Kind == models.InvocationDBus {
		return fmt.Sprintf("%s %s", inv.Method, inv.Unit)
	}
	return strings.TrimSpace(inv.Path + " " + strings.Join(inv.Args, " "))
}

func combinedOutput(out Output) string {
	stdout := strings.TrimSpace(out.Stdout)
	stderr := strings.TrimSpace(out.Stderr)
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}
