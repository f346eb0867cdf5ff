package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
)

// DefaultShutdownPath is the shutdown binary used to schedule reboots.
const DefaultShutdownPath = "/sbin/shutdown"

const rebootMessage = "gpmonitor: reboot requested"

// rebootScheduler remembers the pending reboot so a second request while
// one is scheduled is rejected instead of pushing it back. mu is never held
// while shutdown runs; running marks an invocation in progress.
type rebootScheduler struct {
	mu           sync.Mutex
	path         string
	delay        time.Duration
	scheduledFor time.Time
	running      bool
}

func newRebootScheduler(path string, delay time.Duration) *rebootScheduler {
	if path == "" {
		path = DefaultShutdownPath
	}
	if delay < 0 {
		delay = 0
	}
	return &rebootScheduler{path: path, delay: delay}
}

func (s *rebootScheduler) scheduleInvocation() models.Invocation {
	when := "now"
	if minutes := int(s.delay / time.Minute); minutes > 0 {
		when = fmt.Sprintf("+%d", minutes)
	}
	return models.Invocation{
		Kind:            models.InvocationCommand,
		Path:            s.path,
		Args:            []string{"-r", when, rebootMessage},
		ResolvedService: "server",
	}
}

func (s *rebootScheduler) cancelInvocation() models.Invocation {
	return models.Invocation{
		Kind:            models.InvocationCommand,
		Path:            s.path,
		Args:            []string{"-c"},
		ResolvedService: "server",
	}
}

// Reboot schedules a reboot, or cancels the pending one when req.Cancel.
func (c *Controller) Reboot(ctx context.Context, req models.RebootRequest) (result models.RebootResult, err error) {
	start := c.now()
	action := "schedule"
	if req.Cancel {
		action = "cancel"
	}
	evt := models.AuditEvent{
		RequestID:         req.RequestID,
		Kind:              models.AuditKindReboot,
		Action:            action,
		RequestedService:  "server",
		RequesterIP:       req.RequesterIP,
		RequesterIdentity: req.RequesterIdentity,
	}
	defer func() {
		if result.Timestamp.IsZero() {
			result.Timestamp = start.UTC()
		}
		c.finish(&evt, action, result.ControlResult, err, start)
	}()

	s := c.reboot
	result.ResolvedService = "server"

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		if req.Cancel {
			return result, ctlerr.New(ctlerr.CodeServiceBusy, "a reboot request is in progress", nil)
		}
		return result, ctlerr.New(ctlerr.CodeRebootScheduled, "restart already being scheduled", nil)
	}
	if !req.Cancel && !s.scheduledFor.IsZero() && start.Before(s.scheduledFor) {
		pending := s.scheduledFor
		s.mu.Unlock()
		result.ScheduledFor = &pending
		return result, ctlerr.New(ctlerr.CodeRebootScheduled,
			fmt.Sprintf("restart already scheduled for %s", pending.UTC().Format(time.RFC3339)), nil)
	}
	s.running = true
	s.mu.Unlock()

	inv := s.scheduleInvocation()
	if req.Cancel {
		inv = s.cancelInvocation()
	}
	result.ControlResult, err = c.exec.Execute(context.WithoutCancel(ctx), inv)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		return result, err
	}

	if req.Cancel {
		s.scheduledFor = time.Time{}
		logger.Info("reboot cancelled", "request_id", req.RequestID)
		return result, nil
	}
	s.scheduledFor = start.Add(s.delay)
	when := s.scheduledFor.UTC()
	result.ScheduledFor = &when
	logger.Warn("reboot scheduled", "request_id", req.RequestID, "at", when.Format(time.RFC3339))
	return result, nil
}
