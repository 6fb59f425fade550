/*
Package appeal provides the case-status ledger for appeal casework.

PURPOSE:
  Records the lifecycle of an appeal case as an ordered stack of status
  records. Exactly one record per case is valid (the current status).
  Transitions push a new valid record; rollbacks truncate the stack back
  to an earlier record and reinstate it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: One of the enumerated lifecycle tokens
  - Case: The owning appeal case and its notification recipients
  - StatusRecord: One row per status a case has ever held
  - AuditEntry: Who changed what, and when

LEDGER INVARIANT:
  For every case that exists, exactly one StatusRecord has Valid = true.
  It holds before and after every transition and rollback.

SEE ALSO:
  - ledger.go: Transition and read helpers
  - rollback.go: Destructive rollback to an earlier status
  - store.go: Persistence interfaces
*/
package appeal

import (
	"strconv"
	"time"
)

// =============================================================================
// STATUS - Enumerated lifecycle tokens
// =============================================================================

type Status string

const (
	StatusAssignCaseOfficer  Status = "assign_case_officer"
	StatusValidation         Status = "validation"
	StatusReadyToStart       Status = "ready_to_start"
	StatusLPAQuestionnaire   Status = "lpa_questionnaire"
	StatusEvent              Status = "event"
	StatusAwaitingEvent      Status = "awaiting_event"
	StatusIssueDetermination Status = "issue_determination"
	StatusAwaitingTransfer   Status = "awaiting_transfer"
	StatusInvalid            Status = "invalid"
	StatusTransferred        Status = "transferred"
	StatusClosed             Status = "closed"
	StatusWithdrawn          Status = "withdrawn"
	StatusComplete           Status = "complete"
)

// InitialStatus is the status every new case starts in.
const InitialStatus = StatusAssignCaseOfficer

var allStatuses = []Status{
	StatusAssignCaseOfficer,
	StatusValidation,
	StatusReadyToStart,
	StatusLPAQuestionnaire,
	StatusEvent,
	StatusAwaitingEvent,
	StatusIssueDetermination,
	StatusAwaitingTransfer,
	StatusInvalid,
	StatusTransferred,
	StatusClosed,
	StatusWithdrawn,
	StatusComplete,
}

// Statuses returns every lifecycle token in workflow order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is one of the enumerated tokens.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s conventionally ends a case. Nothing in the
// ledger enforces this; callers use it as a guard.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusWithdrawn, StatusTransferred, StatusClosed:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus converts a raw token into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Message: "unknown appeal status " + strconv.Quote(raw), Err: ErrInvalidStatus}
	}
	return s, nil
}

// =============================================================================
// CASE
// =============================================================================

type CaseID int64

func (id CaseID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseCaseID parses a numeric case identifier from a path segment.
func ParseCaseID(raw string) (CaseID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, &ValidationError{Field: "id", Message: "appeal id must be a positive integer"}
	}
	return CaseID(n), nil
}

// Case is the owning appeal. Only the fields the ledger and its
// notifications need are modelled here.
type Case struct {
	ID             CaseID
	Reference      string
	AppellantEmail string
	LPAEmail       string
	SiteAddress    string
	CreatedAt      time.Time
}

// =============================================================================
// STATUS RECORD - One ledger row
// =============================================================================

// StatusRecord is one status a case has held. Rows are never edited apart
// from the Valid flag; history is appended to or truncated from the tail.
type StatusRecord struct {
	ID        int64
	CaseID    CaseID
	Status    Status
	CreatedAt time.Time
	Valid     bool

	// Opaque tags for nested/compound states.
	SubStateMachineName string
	CompoundStateName   string
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

type AuditEntry struct {
	ID       string
	CaseID   CaseID
	Actor    string
	Details  string
	LoggedAt time.Time
}
