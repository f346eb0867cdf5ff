package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gpmonitor/internal/ctlerr"
	"gpmonitor/internal/docs"
	"gpmonitor/internal/logger"
	"gpmonitor/internal/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
	defaultDoc        = "api.adoc"
)

// errServiceNotControllable is the only code a caller sees for a service
// denial, whether the name is unknown, monitored only or an alias without
// an allowed candidate.
const errServiceNotControllable = "service_not_controllable"

// Controller is the control layer the handlers drive.
type Controller interface {
	Service(ctx context.Context, req models.ControlRequest) (models.ControlResult, error)
	Command(ctx context.Context, req models.CommandRequest) (models.ControlResult, error)
	Reboot(ctx context.Context, req models.RebootRequest) (models.RebootResult, error)
	Snapshot(ctx context.Context) models.StatusSnapshot
	Commands() []models.CommandSpec
}

// AuditReader returns recent audit events, newest first.
type AuditReader interface {
	Recent(ctx context.Context, n int) ([]models.AuditEvent, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	ctl       Controller
	audit     AuditReader
	docs      *docs.Service
	version   string
	mechanism string
	now       func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(ctl Controller, audit AuditReader, docsSvc *docs.Service, version, mechanism string) *Handler {
	return &Handler{
		ctl:       ctl,
		audit:     audit,
		docs:      docsSvc,
		version:   version,
		mechanism: mechanism,
		now:       time.Now,
	}
}

// ServiceResponse is the body of a successful service action
type ServiceResponse struct {
	Success         bool      `json:"success"`
	Action          string    `json:"action"`
	Service         string    `json:"service"`
	ResolvedService string    `json:"resolvedService"`
	Output          string    `json:"output"`
	Warnings        string    `json:"warnings,omitempty"`
	ExitCode        int       `json:"exitCode"`
	DurationMs      int64     `json:"durationMs"`
	RequestID       string    `json:"requestId"`
	Timestamp       time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every error
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Output    string `json:"output,omitempty"`
}

// jsonResponse writes a JSON response
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

// errorResponse writes an error response
func errorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	jsonResponse(w, status, ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: RequestIDFrom(r.Context()),
	})
}

// controlError maps a control error to its HTTP status and body. Denials
// get a generic message so the allow-list cannot be probed.
func controlError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorResponse{
		Error:     string(ctlerr.CodeExecutionFailed),
		Message:   "internal error",
		RequestID: RequestIDFrom(r.Context()),
	}
	status := http.StatusInternalServerError

	var cerr *ctlerr.Error
	if errors.As(err, &cerr) {
		body.Error = string(cerr.Code)
		body.Message = cerr.Message
		body.Output = cerr.Output
		switch cerr.Code {
		case ctlerr.CodeInvalidAction:
			status = http.StatusBadRequest
			body.Message = "invalid action, expected one of " + actionList()
		case ctlerr.CodeUnknownService, ctlerr.CodeUnresolvableAlias:
			status = http.StatusNotFound
			body.Error = errServiceNotControllable
			body.Message = "service is not controllable"
		case ctlerr.CodeUnknownCommand:
			status = http.StatusNotFound
			body.Message = "command is not allow-listed"
		case ctlerr.CodeMethodNotAllowed:
			status = http.StatusMethodNotAllowed
		case ctlerr.CodeServiceBusy, ctlerr.CodeRebootScheduled:
			status = http.StatusConflict
		case ctlerr.CodeExecutionTimeout, ctlerr.CodeExecutionFailed:
			status = http.StatusInternalServerError
		}
	} else {
		logger.Error("unclassified control error", "request_id", body.RequestID, "error", err)
	}

	jsonResponse(w, status, body)
}

func actionList() string {
	names := make([]string, 0, len(models.Actions()))
	for _, a := range models.Actions() {
		names = append(names, a.String())
	}
	return strings.Join(names, ", ")
}

// Health reports liveness. It needs no token.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"version":   h.version,
		"mechanism": h.mechanism,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// ServiceAction handles /control/service/{action}/{service}
func (h *Handler) ServiceAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	service := chi.URLParam(r, "service")

	res, err := h.ctl.Service(r.Context(), models.ControlRequest{
		Action:            action,
		TargetService:     service,
		Method:            r.Method,
		RequestID:         RequestIDFrom(r.Context()),
		RequesterIP:       clientIP(r),
		RequesterIdentity: identity(r),
	})
	if err != nil {
		controlError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, ServiceResponse{
		Success:         true,
		Action:          strings.ToLower(strings.TrimSpace(action)),
		Service:         service,
		ResolvedService: res.ResolvedService,
		Output:          res.Output,
		Warnings:        res.Warnings,
		ExitCode:        res.ExitCode,
		DurationMs:      res.DurationMs,
		RequestID:       RequestIDFrom(r.Context()),
		Timestamp:       res.Timestamp,
	})
}

// ServicesStatus returns the status snapshot
func (h *Handler) ServicesStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.ctl.Snapshot(r.Context()))
}

// ListCommands returns the allow-listed commands
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"commands": h.ctl.Commands(),
	})
}

// RunCommand handles /control/command/{name}
func (h *Handler) RunCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	res, err := h.ctl.Command(r.Context(), models.CommandRequest{
		Name:              name,
		Method:            r.Method,
		RequestID:         RequestIDFrom(r.Context()),
		RequesterIP:       clientIP(r),
		RequesterIdentity: identity(r),
	})
	if err != nil {
		controlError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"command":    name,
		"output":     res.Output,
		"warnings":   res.Warnings,
		"exitCode":   res.ExitCode,
		"durationMs": res.DurationMs,
		"requestId":  RequestIDFrom(r.Context()),
		"timestamp":  res.Timestamp,
	})
}

// ScheduleReboot handles POST /control/server/reboot
func (h *Handler) ScheduleReboot(w http.ResponseWriter, r *http.Request) {
	h.reboot(w, r, false)
}

// CancelReboot handles DELETE /control/server/reboot
func (h *Handler) CancelReboot(w http.ResponseWriter, r *http.Request) {
	h.reboot(w, r, true)
}

func (h *Handler) reboot(w http.ResponseWriter, r *http.Request, cancel bool) {
	res, err := h.ctl.Reboot(r.Context(), models.RebootRequest{
		Cancel:            cancel,
		RequestID:         RequestIDFrom(r.Context()),
		RequesterIP:       clientIP(r),
		RequesterIdentity: identity(r),
	})
	if err != nil {
		controlError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"success":    true,
		"output":     res.Output,
		"durationMs": res.DurationMs,
		"requestId":  RequestIDFrom(r.Context()),
		"timestamp":  res.Timestamp,
	}
	if cancel {
		body["message"] = "scheduled reboot cancelled"
	} else {
		body["message"] = "reboot scheduled"
		body["scheduledFor"] = res.ScheduledFor
	}
	jsonResponse(w, http.StatusOK, body)
}

// Audit returns recent audit events
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			errorResponse(w, r, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		logger.Error("failed to read audit events", "request_id", RequestIDFrom(r.Context()), "error", err)
		errorResponse(w, r, http.StatusInternalServerError, "audit_read", "failed to read audit events")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>gpmonitor {{.Version}} - {{.Current}}</title>
</head>
<body>
<nav><ul>
{{- range .Docs}}
<li><a href="/docs/{{.}}">{{.}}</a></li>
{{- end}}
</ul></nav>
<main>
{{.Content}}
</main>
</body>
</html>
`))

type docsView struct {
	Version string
	Current string
	Docs    []string
	Content template.HTML
}

// Docs serves the rendered API reference inside a page listing every
// embedded document.
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		name = defaultDoc
	}
	content, err := h.docs.GetDoc(name)
	if errors.Is(err, docs.ErrNotFound) {
		errorResponse(w, r, http.StatusNotFound, "not_found", "no such document")
		return
	}
	if err != nil {
		logger.Error("failed to render docs", "doc", name, "error", err)
		errorResponse(w, r, http.StatusInternalServerError, "docs", "failed to render document")
		return
	}
	list, err := h.docs.ListDocs()
	if err != nil {
		logger.Warn("failed to list docs", "error", err)
	}

	var buf bytes.Buffer
	if err := docsPage.Execute(&buf, docsView{
		Version: h.version,
		Current: name,
		Docs:    list,
		Content: template.HTML(content),
	}); err != nil {
		logger.Error("failed to execute docs template", "doc", name, "error", err)
		errorResponse(w, r, http.StatusInternalServerError, "docs", "failed to render document")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
