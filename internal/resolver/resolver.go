// Package resolver turns (action, service) pairs into concrete invocations.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/models"
)

// DefaultSystemctl is the systemctl binary used for command invocations.
const DefaultSystemctl = "systemctl"

// systemctl LSB exit codes 1-3 mean "not running" for query verbs.
var queryExitCodes = []int{1, 2, 3}

// Lookup is the subset of the allow-list registry the resolver needs.
type Lookup interface {
	Resolve(name string) (string, error)
}

// Resolver validates requests and builds invocations.
type Resolver struct {
	lookup    Lookup
	mechanism models.Mechanism
	systemctl string
	commands  map[string]models.CommandSpec
}

// New creates a resolver. An empty mechanism means systemctl.
func New(lookup Lookup, mechanism models.Mechanism, commands []models.CommandSpec) *Resolver {
	if mechanism == "" {
		mechanism = models.MechanismSystemctl
	}
	r := &Resolver{
		lookup:    lookup,
		mechanism: mechanism,
		systemctl: DefaultSystemctl,
		commands:  make(map[string]models.CommandSpec, len(commands)),
	}
	for _, c := range commands {
		r.commands[c.Name] = c
	}
	return r
}

// Mechanism returns the configured service mechanism.
func (r *Resolver) Mechanism() models.Mechanism {
	return r.mechanism
}

// ParseAction validates a raw action name.
func ParseAction(raw string) (models.Action, error) {
	action, ok := models.LookupAction(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return 0, ctlerr.New(ctlerr.CodeInvalidAction, fmt.Sprintf("unsupported action %q", raw), nil)
	}
	return action, nil
}

// Resolve validates the pair and returns the invocation for it. The raw
// target is only used as a lookup key.
func (r *Resolver) Resolve(rawAction, target string) (models.Invocation, error) {
	action, err := ParseAction(rawAction)
	if err != nil {
		return models.Invocation{}, err
	}
	service, err := r.lookup.Resolve(target)
	if err != nil {
		return models.Invocation{}, err
	}
	return r.ForService(action, service)
}

// ForService builds the invocation for an already resolved service.
func (r *Resolver) ForService(action models.Action, service string) (models.Invocation, error) {
	if !action.Valid() {
		return models.Invocation{}, ctlerr.New(ctlerr.CodeInvalidAction, action.String(), nil)
	}
	unit := unitName(service)

	if r.mechanism == models.MechanismDBus {
		return models.Invocation{
			Kind:            models.InvocationDBus,
			Method:          dbusMethod(action),
			Unit:            unit,
			ResolvedService: service,
		}, nil
	}

	inv := models.Invocation{
		Kind:            models.InvocationCommand,
		Path:            r.systemctl,
		ResolvedService: service,
	}
	switch action {
	case models.ActionStatus:
		inv.Args = []string{"status", "--no-pager", "--lines=20", unit}
	default:
		inv.Args = []string{action.String(), unit}
	}
	if !action.Mutating() {
		inv.OKExitCodes = queryExitCodes
	}
	return inv, nil
}

// Command resolves an allow-listed command by name.
func (r *Resolver) Command(name string) (models.CommandSpec, models.Invocation, error) {
	spec, ok := r.commands[name]
	if !ok || len(spec.Argv) == 0 {
		return models.CommandSpec{}, models.Invocation{}, ctlerr.New(ctlerr.CodeUnknownCommand, fmt.Sprintf("command %q is not allow-listed", name), nil)
	}
	return spec, models.Invocation{
		Kind:            models.InvocationCommand,
		Path:            spec.Argv[0],
		Args:            append([]string(nil), spec.Argv[1:]...),
		ResolvedService: spec.Name,
	}, nil
}

// Commands lists the allow-listed commands sorted by name.
func (r *Resolver) Commands() []models.CommandSpec {
	out := make([]models.CommandSpec, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func dbusMethod(action models.Action) string {
	switch action {
	case models.ActionStart:
		return models.DBusStartUnit
	case models.ActionStop:
		return models.DBusStopUnit
	case models.ActionRestart:
		return models.DBusRestartUnit
	case models.ActionReload:
		return models.DBusReloadUnit
	case models.ActionIsActive:
		return models.DBusActiveState
	case models.ActionIsEnabled:
		return models.DBusUnitFileState
	default:
		return models.DBusUnitStatus
	}
}

// unitName ensures the .service suffix unless a unit type is already given.
func unitName(service string) string {
	for _, suffix := range []string{".service", ".socket", ".timer", ".target", ".path", ".mount"} {
		if strings.HasSuffix(service, suffix) {
			return service
		}
	}
	return service + ".service"
}
