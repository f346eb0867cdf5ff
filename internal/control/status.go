package control

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
)

var knownStates = map[string]bool{
	models.StatusActive:       true,
	models.StatusInactive:     true,
	models.StatusFailed:       true,
	models.StatusActivating:   true,
	models.StatusDeactivating: true,
}

// Snapshot reports is-active and is-enabled for every declared service
// and aggregates the aliases. Probe failures are reported per service.
func (c *Controller) Snapshot(ctx context.Context) models.StatusSnapshot {
	descriptors := c.services.Services()
	aliases := c.services.Aliases()

	// Alias candidates that are not declared still need a probe.
	probe := make([]string, 0, len(descriptors))
	seen := make(map[string]bool)
	for _, d := range descriptors {
		probe = append(probe, d.Name)
		seen[d.Name] = true
	}
	for _, a := range aliases {
		for _, name := range a.Candidates {
			if !seen[name] {
				probe = append(probe, name)
				seen[name] = true
			}
		}
	}

	var (
		mu       sync.Mutex
		statuses = make(map[string]models.ServiceStatus, len(probe))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.statusConcurrency)
	for _, name := range probe {
		name := name
		g.Go(func() error {
			st := c.probe(gctx, name)
			mu.Lock()
			statuses[name] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	snap := models.StatusSnapshot{
		Timestamp: c.now().UTC().Format(time.RFC3339),
		Services:  make(map[string]models.ServiceStatus, len(descriptors)),
		Aliases:   make(map[string]models.AliasStatus, len(aliases)),
	}
	for _, d := range descriptors {
		st := statuses[d.Name]
		st.Controllable = d.Controllable
		snap.Services[d.Name] = st
	}
	for _, a := range aliases {
		agg := models.AliasStatus{
			Services:       append([]string(nil), a.Candidates...),
			ActiveServices: []string{},
		}
		for _, name := range a.Candidates {
			if statuses[name].Active {
				agg.ActiveServices = append(agg.ActiveServices, name)
			}
		}
		agg.ActiveCount = len(agg.ActiveServices)
		agg.Active = agg.ActiveCount > 0
		snap.Aliases[a.Name] = agg
	}
	return snap
}

func (c *Controller) probe(ctx context.Context, name string) models.ServiceStatus {
	active, err := c.query(ctx, models.ActionIsActive, name)
	if err != nil {
		logger.Debug("status probe failed", "service", name, "error", err)
		return models.ServiceStatus{Status: models.StatusError, Error: err.Error()}
	}

	st := models.ServiceStatus{Status: models.StatusUnknown}
	if knownStates[active] {
		st.Status = active
	}
	st.Active = active == models.StatusActive

	enabled, err := c.query(ctx, models.ActionIsEnabled, name)
	if err != nil {
		logger.Debug("enabled probe failed", "service", name, "error", err)
	}
	st.Enabled = strings.HasPrefix(enabled, "enabled")
	return st
}

func (c *Controller) query(ctx context.Context, action models.Action, name string) (string, error) {
	inv, err := c.resolver.ForService(action, name)
	if err != nil {
		return "", err
	}
	res, err := c.exec.ExecuteWithin(ctx, inv, c.statusTimeout)
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(res.Output), "\n")
	return strings.TrimSpace(first), nil
}
