package models

import "time"

// AuditKind groups audit events by the surface that produced them
type AuditKind string

const (
	AuditKindService AuditKind = "service"
	AuditKindCommand AuditKind = "command"
	AuditKindReboot  AuditKind = "reboot"
)

// Outcome values recorded in the audit log
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
	OutcomeTimeout = "TIMEOUT"
	OutcomeDenied  = "DENIED"
	OutcomeInvalid = "INVALID"
	OutcomeBusy    = "BUSY"
)

// AuditEvent is an append-only record of one control attempt
type AuditEvent struct {
	RequestID         string    `json:"requestId"`
	Kind              AuditKind `json:"kind"`
	Action            string    `json:"action"`
	RequestedService  string    `json:"requestedService"`
	ResolvedService   string    `json:"resolvedService,omitempty"`
	Outcome           string    `json:"outcome"`
	Error             string    `json:"error,omitempty"`
	DurationMs        int64     `json:"durationMs"`
	RequesterIP       string    `json:"requesterIp"`
	RequesterIdentity string    `json:"requesterIdentity,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
