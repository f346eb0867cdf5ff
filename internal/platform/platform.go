package platform

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
)

// Output is what a backend captured from one invocation
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Exited   bool // The command ran and reported an exit status
}

// Backend carries out invocations of one kind
type Backend interface {
	// Name returns the backend name (e.g., "process", "dbus")
	Name() string

	// Invoke runs the invocation until it completes or ctx is done
	Invoke(ctx context.Context, inv models.Invocation) (Output, error)
}

// JournalFollower streams log lines for a unit
type JournalFollower interface {
	Follow(ctx context.Context, unit string) (<-chan string, error)
}

var (
	systemdRunDir   = "/run/systemd/system"
	systemBusSocket = "/run/dbus/system_bus_socket"
)

// Detect checks that the host is managed by systemd and settles the
// mechanism used for service invocations. A D-Bus request falls back to
// systemctl when the system bus socket is missing.
func Detect(requested models.Mechanism) (models.Mechanism, error) {
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	if _, err := os.Stat(systemdRunDir); err != nil {
		return "", fmt.Errorf("systemd not detected on this Linux system")
	}

	switch requested {
	case models.MechanismDBus:
		if _, err := os.Stat(systemBusSocket); err != nil {
			logger.Warn("system bus not available, falling back to systemctl", "socket", systemBusSocket, "error", err)
			return models.MechanismSystemctl, nil
		}
		return models.MechanismDBus, nil
	case models.MechanismSystemctl, "":
		return models.MechanismSystemctl, nil
	default:
		return "", fmt.Errorf("unknown mechanism %q", requested)
	}
}
