/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request bodies are checked with go-playground/validator. The custom
  appeal_status tag accepts only the enumerated case statuses.
*/
package api

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

// =============================================================================
// VALIDATION
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("appeal_status", validateAppealStatus)
}

func validateAppealStatus(fl validator.FieldLevel) bool {
	_, err := appeal.ParseStatus(fl.Field().String())
	return err == nil
}

// =============================================================================
// REQUESTS
// =============================================================================

type CreateCaseRequest struct {
	Reference      string `json:"reference" validate:"required,max=64"`
	AppellantEmail string `json:"appellant_email" validate:"omitempty,email"`
	LPAEmail       string `json:"lpa_email" validate:"omitempty,email"`
	SiteAddress    string `json:"site_address" validate:"max=512"`
}

// TransitionRequest sets Notify to email appellant and LPA about the new
// stage.
type TransitionRequest struct {
	Status string `json:"status" validate:"required,appeal_status"`
	Notify bool   `json:"notify"`
}

// RollbackRequest accepts any non-empty token; a status the case never
// held is reported as not found.
type RollbackRequest struct {
	Status string `json:"status" validate:"required"`
}

type DecisionRequest struct {
	Outcome string `json:"outcome" validate:"required,max=64"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CaseDTO struct {
	ID             int64            `json:"id"`
	Reference      string           `json:"reference"`
	AppellantEmail string           `json:"appellant_email,omitempty"`
	LPAEmail       string           `json:"lpa_email,omitempty"`
	SiteAddress    string           `json:"site_address,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Status         *StatusRecordDTO `json:"status,omitempty"`
}

type StatusRecordDTO struct {
	ID                  int64     `json:"id"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	Valid               bool      `json:"valid"`
	SubStateMachineName string    `json:"sub_state_machine_name,omitempty"`
	CompoundStateName   string    `json:"compound_state_name,omitempty"`
}

type StatusHistoryDTO struct {
	CaseID  int64             `json:"case_id"`
	History []StatusRecordDTO `json:"history"`
}

// StatusCreatedDateDTO encodes as {} when the case never held the status.
type StatusCreatedDateDTO struct {
	CreatedDate *time.Time `json:"createdDate,omitempty"`
}

type AuditEntryDTO struct {
	ID       string    `json:"id"`
	Actor    string    `json:"actor"`
	Details  string    `json:"details"`
	LoggedAt time.Time `json:"logged_at"`
}

type NotificationDTO struct {
	ID        string    `json:"id"`
	Template  string    `json:"template"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCaseDTO(c appeal.Case, current *appeal.StatusRecord) CaseDTO {
	dto := CaseDTO{
		ID:             int64(c.ID),
		Reference:      c.Reference,
		AppellantEmail: c.AppellantEmail,
		LPAEmail:       c.LPAEmail,
		SiteAddress:    c.SiteAddress,
		CreatedAt:      c.CreatedAt,
	}
	if current != nil {
		status := toStatusRecordDTO(*current)
		dto.Status = &status
	}
	return dto
}

func toStatusRecordDTO(rec appeal.StatusRecord) StatusRecordDTO {
	return StatusRecordDTO{
		ID:                  rec.ID,
		Status:              string(rec.Status),
		CreatedAt:           rec.CreatedAt,
		Valid:               rec.Valid,
		SubStateMachineName: rec.SubStateMachineName,
		CompoundStateName:   rec.CompoundStateName,
	}
}

func toStatusRecordDTOs(recs []appeal.StatusRecord) []StatusRecordDTO {
	out := make([]StatusRecordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toStatusRecordDTO(rec))
	}
	return out
}

func toAuditEntryDTOs(entries []appeal.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryDTO{ID: e.ID, Actor: e.Actor, Details: e.Details, LoggedAt: e.LoggedAt})
	}
	return out
}

func toNotificationDTOs(records []notify.NotificationAuditRecord) []NotificationDTO {
	out := make([]NotificationDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, NotificationDTO{
			ID:        rec.ID,
			Template:  rec.Template,
			Recipient: rec.Recipient,
			Subject:   rec.Subject,
			Message:   rec.Message,
			SentAt:    rec.SentAt,
		})
	}
	return out
}
