package platform

import (
	"context"
	"sync"

	"gpmonitor/internal/models"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []models.Invocation

	out   Output
	err   error
	block bool // wait for ctx instead of returning
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Invoke(ctx context.Context, inv models.Invocation) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Output{Stderr: "killed"}, ctx.Err()
	}
	return f.out, f.err
}

type fakeUnitManager struct {
	mu      sync.Mutex
	jobs    []string
	result  string
	props   map[string]interface{}
	callErr error
	closed  int
}

func (m *fakeUnitManager) record(method, name string, ch chan<- string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, method+" "+name)
	if m.callErr != nil {
		return 0, m.callErr
	}
	if m.result != "" {
		ch <- m.result
	}
	return len(m.jobs), nil
}

func (m *fakeUnitManager) StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error) {
	return m.record("start", name, ch)
}

func (m *fakeUnitManager) StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error) {
	return m.record("stop", name, ch)
}

func (m *fakeUnitManager) RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error) {
	return m.record("restart", name, ch)
}

func (m *fakeUnitManager) ReloadUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error) {
	return m.record("reload", name, ch)
}

func (m *fakeUnitManager) GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callErr != nil {
		return nil, m.callErr
	}
	return m.props, nil
}

func (m *fakeUnitManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}
