package platform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
)

const (
	defaultWaitDelay = 2 * time.Second
	maxCapturedBytes = 64 << 10
)

// ProcessBackend runs argv invocations as child processes. Each child gets
// its own process group so a timeout kills everything it spawned.
type ProcessBackend struct {
	waitDelay time.Duration
}

// NewProcessBackend creates a new process backend
func NewProcessBackend() *ProcessBackend {
	return &ProcessBackend{waitDelay: defaultWaitDelay}
}

func (p *ProcessBackend) Name() string {
	return "process"
}

// Invoke runs inv.Path with inv.Args. No shell is involved.
func (p *ProcessBackend) Invoke(ctx context.Context, inv models.Invocation) (Output, error) {
	if inv.Kind != models.InvocationCommand {
		return Output{}, fmt.Errorf("process backend cannot run %s invocations", inv.Kind)
	}

	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C", "SYSTEMD_PAGER=", "SYSTEMD_COLORS=0")
	cmd.WaitDelay = p.waitDelay
	setProcessGroup(cmd)

	stdout := &cappedBuffer{limit: maxCapturedBytes}
	stderr := &cappedBuffer{limit: maxCapturedBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("running command", "path", inv.Path, "args", inv.Args)
	err := cmd.Run()

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
		out.Exited = cmd.ProcessState.Exited()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%s exited with status %d: %w", inv.Path, out.ExitCode, err)
		}
		return out, fmt.Errorf("run %s: %w", inv.Path, err)
	}
	return out, nil
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}

// Journal follows unit logs through journalctl
type Journal struct{}

// NewJournal creates a new journal follower
func NewJournal() *Journal {
	return &Journal{}
}

// Follow returns a channel that streams log lines for a unit until ctx is done
func (j *Journal) Follow(ctx context.Context, unit string) (<-chan string, error) {
	ch := make(chan string, 100)

	// Follow, last 100 lines
	cmd := exec.CommandContext(ctx, "journalctl", "-f", "-n", "100", "--no-pager", "-o", "short-iso", "-u", unit)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start journalctl: %w", err)
	}

	go func() {
		defer close(ch)
		defer cmd.Wait()

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case ch <- scanner.Text():
			}
		}
	}()

	return ch, nil
}
