/*
ledger.go - Case-status ledger and state transition service

PURPOSE:
  The Ledger is the source of truth for where a case is in its lifecycle.
  It is a stack of StatusRecords ordered by CreatedAt; the top of the stack
  is the single valid record.

TRANSITION (one transaction):
  1. Lock the case (GetCase inside WithTx)
  2. Set Valid = false on the current record, if any
  3. Insert the new record with Valid = true
  4. Write an audit-trail entry attributed to the actor
  After commit, integration subscribers are told the case changed.
  A failure in steps 1-4 rolls everything back; a broadcast failure is
  only logged.

TRANSITION GRAPH:
  There is none. Any token may follow any other; legality is enforced by
  callers with IsCurrentStatus (see lifecycle.go).

TIMESTAMPS:
  CreatedAt is truncated to microseconds (the coarsest store precision)
  and forced strictly after the current record, so ordering by CreatedAt
  is total within a case.

SEE ALSO:
  - rollback.go: Reverting to an earlier status
  - store.go: TxStore contract
*/
package appeal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store       TxStore
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

type LedgerOption func(*Ledger)

// WithBroadcaster sets the post-commit integration broadcaster.
func WithBroadcaster(b Broadcaster) LedgerOption {
	return func(l *Ledger) { l.broadcaster = b }
}

func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store TxStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// WRITES
// =============================================================================

// CreateCase inserts a case together with its initial valid status record.
func (l *Ledger) CreateCase(ctx context.Context, c Case, actor string) (Case, StatusRecord, error) {
	if c.Reference == "" {
		return Case{}, StatusRecord{}, &ValidationError{Field: "reference", Message: "reference is required"}
	}

	var (
		created Case
		initial StatusRecord
	)
	err := l.store.WithTx(ctx, func(s Store) error {
		now := l.timestamp(nil)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}

		var err error
		created, err = s.CreateCase(ctx, c)
		if err != nil {
			return err
		}

		initial, err = s.InsertStatus(ctx, StatusRecord{
			CaseID:    created.ID,
			Status:    InitialStatus,
			CreatedAt: now,
			Valid:     true,
		})
		if err != nil {
			return err
		}

		return s.AppendAudit(ctx, l.auditEntry(created.ID, actor, "Case created with status "+string(InitialStatus), now))
	})
	if err != nil {
		return Case{}, StatusRecord{}, asDomainError("create case", err)
	}

	l.logger.Info("case created", "case_id", created.ID, "reference", created.Reference, "actor", actor)
	return created, initial, nil
}

// TransitionOption customises a single Transition call.
type TransitionOption func(*transitionConfig)

type transitionConfig struct {
	precondition func(current *StatusRecord) error
}

// WithPrecondition runs check against the current record inside the
// transaction, after the case is locked. A non-nil error aborts the
// transition unchanged. current is nil when the case has no valid record.
func WithPrecondition(check func(current *StatusRecord) error) TransitionOption {
	return func(c *transitionConfig) { c.precondition = check }
}

// Transition makes target the case's current status.
func (l *Ledger) Transition(ctx context.Context, id CaseID, actor string, target Status, opts ...TransitionOption) (StatusRecord, error) {
	if !target.Valid() {
		return StatusRecord{}, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown appeal status %q", target), Err: ErrInvalidStatus}
	}
	var cfg transitionConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		c        Case
		previous *StatusRecord
		next     StatusRecord
	)
	err := l.store.WithTx(ctx, func(s Store) error {
		var err error
		c, err = lockCase(ctx, s, id)
		if err != nil {
			return err
		}

		previous, err = s.CurrentStatus(ctx, id)
		if err != nil {
			return err
		}
		if cfg.precondition != nil {
			if err := cfg.precondition(previous); err != nil {
				return err
			}
		}

		now := l.timestamp(previous)
		if previous != nil {
			if err := s.SetValid(ctx, previous.ID, false); err != nil {
				return err
			}
		}

		next, err = s.InsertStatus(ctx, StatusRecord{
			CaseID:    id,
			Status:    target,
			CreatedAt: now,
			Valid:     true,
		})
		if err != nil {
			return err
		}

		return s.AppendAudit(ctx, l.auditEntry(id, actor, "Case progressed to "+string(target), now))
	})
	if err != nil {
		err = asDomainError("transition", err)
		if IsClientError(err) {
			l.logger.Warn("status transition rejected", "case_id", id, "target", target, "actor", actor, "error", err)
			return StatusRecord{}, err
		}
		l.logger.Error("status transition failed", "case_id", id, "target", target, "actor", actor, "error", err)
		return StatusRecord{}, err
	}

	from := ""
	if previous != nil {
		from = string(previous.Status)
	}
	statusChanges.WithLabelValues("transition").Inc()
	l.logger.Info("case status changed", "case_id", id, "from", from, "to", target, "actor", actor)

	l.broadcast(ctx, c, next)
	return next, nil
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) GetCase(ctx context.Context, id CaseID) (Case, error) {
	c, err := l.store.GetCase(ctx, id)
	if err != nil {
		return Case{}, l.mapReadError("get case", id, err)
	}
	return c, nil
}

// Current returns the valid record of an existing case.
func (l *Ledger) Current(ctx context.Context, id CaseID) (StatusRecord, error) {
	if _, err := l.GetCase(ctx, id); err != nil {
		return StatusRecord{}, err
	}
	rec, err := l.store.CurrentStatus(ctx, id)
	if err != nil {
		return StatusRecord{}, asDomainError("current status", err)
	}
	if rec == nil {
		return StatusRecord{}, &NotFoundError{Message: fmt.Sprintf("Appeal %d has no current status", id), Err: ErrStatusNotFound}
	}
	return *rec, nil
}

// IsCurrentStatus reports whether the case's single valid record holds status.
func (l *Ledger) IsCurrentStatus(ctx context.Context, id CaseID, status Status) (bool, error) {
	rec, err := l.Current(ctx, id)
	if err != nil {
		return false, err
	}
	return rec.Status == status, nil
}

// History returns every status record of the case, oldest first.
func (l *Ledger) History(ctx context.Context, id CaseID) ([]StatusRecord, error) {
	if _, err := l.GetCase(ctx, id); err != nil {
		return nil, err
	}
	recs, err := l.store.History(ctx, id)
	if err != nil {
		return nil, asDomainError("history", err)
	}
	return recs, nil
}

// StatusCreatedDate returns when the case most recently entered status, or
// nil if it never held it.
func (l *Ledger) StatusCreatedDate(ctx context.Context, id CaseID, status Status) (*time.Time, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown appeal status %q", status), Err: ErrInvalidStatus}
	}
	if _, err := l.GetCase(ctx, id); err != nil {
		return nil, err
	}
	rec, err := l.store.LatestWithStatus(ctx, id, status)
	if err != nil {
		return nil, asDomainError("status created date", err)
	}
	if rec == nil {
		return nil, nil
	}
	created := rec.CreatedAt
	return &created, nil
}

func (l *Ledger) AuditTrail(ctx context.Context, id CaseID) ([]AuditEntry, error) {
	if _, err := l.GetCase(ctx, id); err != nil {
		return nil, err
	}
	entries, err := l.store.AuditTrail(ctx, id)
	if err != nil {
		return nil, asDomainError("audit trail", err)
	}
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timestamp returns now, truncated to microseconds and strictly after top.
func (l *Ledger) timestamp(top *StatusRecord) time.Time {
	now := l.now().UTC().Truncate(time.Microsecond)
	if top != nil && !now.After(top.CreatedAt) {
		now = top.CreatedAt.Add(time.Microsecond)
	}
	return now
}

func (l *Ledger) auditEntry(id CaseID, actor, details string, at time.Time) AuditEntry {
	if actor == "" {
		actor = "system"
	}
	return AuditEntry{
		ID:       uuid.NewString(),
		CaseID:   id,
		Actor:    actor,
		Details:  details,
		LoggedAt: at,
	}
}

func (l *Ledger) broadcast(ctx context.Context, c Case, current StatusRecord) {
	if l.broadcaster == nil {
		return
	}
	if err := l.broadcaster.BroadcastCase(ctx, c, current); err != nil {
		l.logger.Warn("case broadcast failed", "case_id", c.ID, "status", current.Status, "error", err)
	}
}

// lockCase loads (and, inside a transaction, locks) the case.
func lockCase(ctx context.Context, s Store, id CaseID) (Case, error) {
	c, err := s.GetCase(ctx, id)
	if err != nil && IsNotFound(err) {
		return Case{}, caseNotFound(id)
	}
	return c, err
}

func (l *Ledger) mapReadError(op string, id CaseID, err error) error {
	if IsNotFound(err) {
		return caseNotFound(id)
	}
	return asDomainError(op, err)
}
