/*
handlers.go - HTTP API handlers for the appeal case-status ledger

PURPOSE:
  Exposes the ledger, the lifecycle events and the notification audit via
  REST. Handles HTTP request/response and JSON serialization, and
  delegates to the appeal package.

ENDPOINTS:
  Cases:
    POST   /cases                                       Create case (initial status)
    GET    /cases/{id}                                  Case with current status
    GET    /cases/{id}/status-history                   All status records
    GET    /cases/{id}/status/{status}/created-date     Latest entry into status
    GET    /cases/{id}/audit-trail                      Audit entries
    GET    /cases/{id}/notifications                    Sent notifications

  Status changes:
    POST   /cases/{id}/status-transition   {status, notify}  Progress the case
    POST   /cases/{id}/status-rollback     {status}     Roll back to status
    POST   /cases/{id}/decision            {outcome}    Publish decision
    POST   /cases/{id}/withdrawal                       Withdraw

  Ops:
    GET    /healthz
    GET    /metrics

ACTOR:
  The acting user is read from the X-User-Id header, defaulting to
  "system". Authentication happens upstream.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Case not found, rollback target never held
  - 409: Duplicate case reference
  - 500: Internal errors (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

// ActorHeader names the header carrying the acting user.
const ActorHeader = "X-User-Id"

const defaultActor = "system"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Ledger        *appeal.Ledger
	Lifecycle     *appeal.Lifecycle
	Notifications notify.AuditStore
	Logger        *slog.Logger

	// Health is optional; when set, /healthz reports its error as 503.
	Health func(ctx context.Context) error
}

// NewHandler creates a new handler.
func NewHandler(ledger *appeal.Ledger, lifecycle *appeal.Lifecycle, notifications notify.AuditStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Ledger:        ledger,
		Lifecycle:     lifecycle,
		Notifications: notifications,
		Logger:        logger,
	}
}

// =============================================================================
// CASE HANDLERS
// =============================================================================

// CreateCase inserts a case with its initial status.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, initial, err := h.Ledger.CreateCase(r.Context(), appeal.Case{
		Reference:      strings.TrimSpace(req.Reference),
		AppellantEmail: req.AppellantEmail,
		LPAEmail:       req.LPAEmail,
		SiteAddress:    req.SiteAddress,
	}, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCaseDTO(c, &initial))
}

// GetCase returns the case and its current status.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	c, err := h.Ledger.GetCase(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var current *appeal.StatusRecord
	rec, err := h.Ledger.Current(r.Context(), id)
	switch {
	case err == nil:
		current = &rec
	case !appeal.IsNotFound(err):
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toCaseDTO(c, current))
}

// GetStatusHistory returns every status record, oldest first.
func (h *Handler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	history, err := h.Ledger.History(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusHistoryDTO{CaseID: int64(id), History: toStatusRecordDTOs(history)})
}

// GetStatusCreatedDate returns when the case most recently entered a status.
func (h *Handler) GetStatusCreatedDate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}
	status, err := appeal.ParseStatus(chi.URLParam(r, "status"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	created, err := h.Ledger.StatusCreatedDate(r.Context(), id, status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusCreatedDateDTO{CreatedDate: created})
}

func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	entries, err := h.Ledger.AuditTrail(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuditEntryDTOs(entries))
}

// ListNotifications returns the notifications recorded for the case reference.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	c, err := h.Ledger.GetCase(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	records, err := h.Notifications.ListNotifications(r.Context(), c.Reference)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toNotificationDTOs(records))
}

// =============================================================================
// STATUS CHANGE HANDLERS
// =============================================================================

// TransitionStatus makes the requested status current, notifying the
// parties when the request asks for it.
func (h *Handler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	target, err := appeal.ParseStatus(req.Status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	rec, err := h.Lifecycle.Progress(r.Context(), id, actor(r), target, req.Notify)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusRecordDTO(rec))
}

// RollbackStatus truncates history back to the latest record of the status.
func (h *Handler) RollbackStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}
	var req RollbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Ledger.Rollback(r.Context(), id, actor(r), appeal.Status(req.Status))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusRecordDTO(rec))
}

func (h *Handler) PublishDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Lifecycle.PublishDecision(r.Context(), id, actor(r), req.Outcome)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusRecordDTO(rec))
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caseID(w, r)
	if !ok {
		return
	}

	rec, err := h.Lifecycle.Withdraw(r.Context(), id, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusRecordDTO(rec))
}

// =============================================================================
// OPS HANDLERS
// =============================================================================

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ActorHeader)); v != "" {
		return v
	}
	return defaultActor
}

func (h *Handler) caseID(w http.ResponseWriter, r *http.Request) (appeal.CaseID, bool) {
	id, err := appeal.ParseCaseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return 0, false
	}
	return id, true
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    "validation",
				Details: fieldErrors(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "appeal_status":
			out[field] = fmt.Sprintf("unknown appeal status %q", fe.Value())
		case "email":
			out[field] = "must be an email address"
		case "max":
			out[field] = "must be at most " + fe.Param() + " characters"
		default:
			out[field] = "failed " + fe.Tag()
		}
	}
	return out
}

// respondError maps domain errors to HTTP statuses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case appeal.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation"})
	case appeal.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, appeal.ErrDuplicateReference):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Appeal reference already exists", Code: "duplicate_reference"})
	default:
		h.Logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
