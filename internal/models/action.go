package models

import "fmt"

// Action is one of the fixed service control operations
type Action int

const (
	ActionStart Action = iota + 1
	ActionStop
	ActionRestart
	ActionReload
	ActionStatus
	ActionIsActive
	ActionIsEnabled
)

var actionNames = map[Action]string{
	ActionStart:     "start",
	ActionStop:      "stop",
	ActionRestart:   "restart",
	ActionReload:    "reload",
	ActionStatus:    "status",
	ActionIsActive:  "is-active",
	ActionIsEnabled: "is-enabled",
}

// Actions lists every action in declaration order
func Actions() []Action {
	return []Action{
		ActionStart, ActionStop, ActionRestart, ActionReload,
		ActionStatus, ActionIsActive, ActionIsEnabled,
	}
}

// LookupAction maps a raw action name to its enum value
func LookupAction(name string) (Action, bool) {
	for a, n := range actionNames {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Valid reports whether a is a member of the enum
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// Mutating reports whether the action changes unit state
func (a Action) Mutating() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart, ActionReload:
		return true
	default:
		return false
	}
}

// MarshalText encodes the action by name
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid action %d", int(a))
	}
	return []byte(a.String()), nil
}
