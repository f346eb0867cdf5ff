package models

import "time"

// InvocationKind selects the mechanism that carries out an invocation
type InvocationKind string

const (
	InvocationCommand InvocationKind = "command" // argv subprocess
	InvocationDBus    InvocationKind = "dbus"    // systemd manager call
)

// Mechanism selects how service invocations are carried out
type Mechanism string

const (
	MechanismSystemctl Mechanism = "systemctl"
	MechanismDBus      Mechanism = "dbus"
)

// D-Bus methods and unit properties understood by the executor
const (
	DBusStartUnit     = "StartUnit"
	DBusStopUnit      = "StopUnit"
	DBusRestartUnit   = "RestartUnit"
	DBusReloadUnit    = "ReloadUnit"
	DBusUnitStatus    = "GetUnitProperties"
	DBusActiveState   = "ActiveState"
	DBusUnitFileState = "UnitFileState"
)

// Invocation is a fully resolved, safe-to-execute operation
type Invocation struct {
	Kind InvocationKind `json:"kind"`

	// Command invocations
	Path string   `json:"path,omitempty"`
	Args []string `json:"args,omitempty"`
	// OKExitCodes lists exit statuses that count as success besides 0
	OKExitCodes []int `json:"okExitCodes,omitempty"`

	// D-Bus invocations
	Method string `json:"method,omitempty"`
	Unit   string `json:"unit,omitempty"`

	// ResolvedService is reported back to the caller
	ResolvedService string `json:"resolvedService"`
}

// ControlRequest is a single attempt to act on a service
type ControlRequest struct {
	Action            string
	TargetService     string
	Method            string // HTTP method, mutating actions need POST
	RequestID         string
	RequesterIP       string
	RequesterIdentity string
}

// ControlResult is the outcome of an executed invocation
type ControlResult struct {
	Success         bool      `json:"success"`
	ResolvedService string    `json:"resolvedService"`
	Output          string    `json:"output"`
	Warnings        string    `json:"warnings,omitempty"`
	ExitCode        int       `json:"exitCode"`
	DurationMs      int64     `json:"durationMs"`
	Timestamp       time.Time `json:"timestamp"`
}

// CommandRequest asks for an allow-listed command to be run
type CommandRequest struct {
	Name              string
	Method            string // HTTP method, mutating commands need POST
	RequestID         string
	RequesterIP       string
	RequesterIdentity string
}

// RebootRequest schedules or cancels a host reboot
type RebootRequest struct {
	Cancel            bool
	RequestID         string
	RequesterIP       string
	RequesterIdentity string
}

// RebootResult describes the scheduler state after a reboot request
type RebootResult struct {
	ControlResult
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}
