package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"

	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
)

// unitManager is the part of the systemd manager API used here.
// *dbus.Conn satisfies it.
type unitManager interface {
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ReloadUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	Close()
}

// DBusBackend talks to the systemd manager over the system bus. The
// connection is opened on first use and reopened after a call error.
type DBusBackend struct {
	mu   sync.Mutex
	conn unitManager
	dial func(ctx context.Context) (unitManager, error)
}

// NewDBusBackend creates a new D-Bus backend
func NewDBusBackend() *DBusBackend {
	return &DBusBackend{
		dial: func(ctx context.Context) (unitManager, error) {
			conn, err := dbus.NewSystemConnectionContext(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}

func (b *DBusBackend) Name() string {
	return "dbus"
}

func (b *DBusBackend) connection(ctx context.Context) (unitManager, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	b.conn = conn
	return conn, nil
}

func (b *DBusBackend) drop(conn unitManager) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == conn {
		b.conn.Close()
		b.conn = nil
	}
}

// Close releases the bus connection
func (b *DBusBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Invoke performs a unit job or a property read
func (b *DBusBackend) Invoke(ctx context.Context, inv models.Invocation) (Output, error) {
	if inv.Kind != models.InvocationDBus {
		return Output{}, fmt.Errorf("dbus backend cannot run %s invocations", inv.Kind)
	}
	conn, err := b.connection(ctx)
	if err != nil {
		return Output{}, err
	}

	logger.Debug("dbus call", "method", inv.Method, "unit", inv.Unit)

	switch inv.Method {
	case models.DBusStartUnit:
		return b.job(ctx, conn, conn.StartUnitContext, inv)
	case models.DBusStopUnit:
		return b.job(ctx, conn, conn.StopUnitContext, inv)
	case models.DBusRestartUnit:
		return b.job(ctx, conn, conn.RestartUnitContext, inv)
	case models.DBusReloadUnit:
		return b.job(ctx, conn, conn.ReloadUnitContext, inv)
	case models.DBusActiveState, models.DBusUnitFileState, models.DBusUnitStatus:
		props, err := conn.GetUnitPropertiesContext(ctx, inv.Unit)
		if err != nil {
			if ctx.Err() == nil {
				b.drop(conn)
			}
			return Output{Stderr: err.Error()}, fmt.Errorf("read properties of %s: %w", inv.Unit, err)
		}
		return Output{Stdout: formatProperties(inv.Method, props), Exited: true}, nil
	default:
		return Output{}, fmt.Errorf("unsupported dbus method %q", inv.Method)
	}
}

type jobFunc func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

// job enqueues a unit job and waits for systemd to report its result.
func (b *DBusBackend) job(ctx context.Context, conn unitManager, call jobFunc, inv models.Invocation) (Output, error) {
	ch := make(chan string, 1)
	if _, err := call(ctx, inv.Unit, "replace", ch); err != nil {
		if ctx.Err() == nil {
			b.drop(conn)
		}
		return Output{Stderr: err.Error()}, fmt.Errorf("%s %s: %w", inv.Method, inv.Unit, err)
	}

	select {
	case result := <-ch:
		out := Output{Stdout: fmt.Sprintf("job %s", result), Exited: true}
		if result != "done" {
			out.ExitCode = 1
			return out, fmt.Errorf("%s %s: job %s", inv.Method, inv.Unit, result)
		}
		return out, nil
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}

var statusProperties = []string{"Id", "Description", "LoadState", "ActiveState", "SubState", "UnitFileState", "MainPID", "ActiveEnterTimestamp"}

func formatProperties(method string, props map[string]interface{}) string {
	switch method {
	case models.DBusActiveState, models.DBusUnitFileState:
		return propertyString(props[method])
	}
	var b strings.Builder
	for _, key := range statusProperties {
		v, ok := props[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", key, propertyString(v))
	}
	return strings.TrimRight(b.String(), "\n")
}

func propertyString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
