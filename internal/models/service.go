package models

// ServiceDescriptor is an entry of the allow-list
type ServiceDescriptor struct {
	Name         string `json:"name"`
	Controllable bool   `json:"controllable"`
}

// ServiceAlias maps a logical group name to ordered candidate services
type ServiceAlias struct {
	Name       string   `json:"name"`
	Candidates []string `json:"candidates"`
}

// Status constants reported by the status snapshot
const (
	StatusActive       = "active"
	StatusInactive     = "inactive"
	StatusFailed       = "failed"
	StatusActivating   = "activating"
	StatusDeactivating = "deactivating"
	StatusUnknown      = "unknown"
	StatusError        = "error"
)

// ServiceStatus is the snapshot entry for a single descriptor
type ServiceStatus struct {
	Active       bool   `json:"active"`
	Enabled      bool   `json:"enabled"`
	Status       string `json:"status"`
	Controllable bool   `json:"controllable"`
	Error        string `json:"error,omitempty"`
}

// AliasStatus aggregates the state of an alias' candidates
type AliasStatus struct {
	Services       []string `json:"services"`
	ActiveCount    int      `json:"activeCount"`
	Active         bool     `json:"active"`
	ActiveServices []string `json:"activeServices"`
}

// StatusSnapshot is the payload of GET /control/services/status
type StatusSnapshot struct {
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Aliases   map[string]AliasStatus   `json:"aliases"`
}

// CommandSpec is an allow-listed operator command
type CommandSpec struct {
	Name     string   `json:"name"`
	Argv     []string `json:"argv"`     // Absolute executable path first
	Mutating bool     `json:"mutating"` // Requires POST
}
