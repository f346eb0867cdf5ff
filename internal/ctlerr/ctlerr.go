// Package ctlerr defines the typed errors surfaced by the control layer.
package ctlerr

import "fmt"

// Code classifies a control error.
type Code string

const (
	CodeInvalidAction     Code = "invalid_action"
	CodeUnknownService    Code = "unknown_service"
	CodeUnresolvableAlias Code = "unresolvable_alias"
	CodeUnknownCommand    Code = "unknown_command"
	CodeMethodNotAllowed  Code = "method_not_allowed"
	CodeExecutionTimeout  Code = "execution_timeout"
	CodeExecutionFailed   Code = "execution_failed"
	CodeServiceBusy       Code = "service_busy"
	CodeRebootScheduled   Code = "reboot_scheduled"
	CodeAuditWrite        Code = "audit_write"
)

// Sentinels for errors.Is. Only the Code is compared.
var (
	ErrInvalidAction     = &Error{Code: CodeInvalidAction, Message: "invalid action"}
	ErrUnknownService    = &Error{Code: CodeUnknownService, Message: "unknown service"}
	ErrUnresolvableAlias = &Error{Code: CodeUnresolvableAlias, Message: "alias has no allowed candidate"}
	ErrUnknownCommand    = &Error{Code: CodeUnknownCommand, Message: "unknown command"}
	ErrMethodNotAllowed  = &Error{Code: CodeMethodNotAllowed, Message: "method not allowed"}
	ErrExecutionTimeout  = &Error{Code: CodeExecutionTimeout, Message: "execution timed out"}
	ErrExecutionFailed   = &Error{Code: CodeExecutionFailed, Message: "execution failed"}
	ErrServiceBusy       = &Error{Code: CodeServiceBusy, Message: "service busy"}
	ErrRebootScheduled   = &Error{Code: CodeRebootScheduled, Message: "restart already scheduled"}
	ErrAuditWrite        = &Error{Code: CodeAuditWrite, Message: "audit write failed"}
)

// Error is a typed control error. Output carries captured command output
// for execution errors.
type Error struct {
	Code    Code
	Message string
	Output  string
	Err     error
}

// New constructs a new typed Error.
func New(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithOutput returns a copy of e carrying captured command output.
func (e *Error) WithOutput(output string) *Error {
	cp := *e
	cp.Output = output
	return &cp
}
