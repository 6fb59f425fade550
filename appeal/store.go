/*
store.go - Persistence interfaces for the case-status ledger

PURPOSE:
  Defines the boundary between ledger logic and the relational store.
  The ledger never talks to a database directly; it composes these
  operations inside TxStore.WithTx so that every transition or rollback
  is a single all-or-nothing unit of work.

KEY INTERFACES:
  Store:       Case and status-record reads/writes plus the audit trail
  TxStore:     Store with WithTx (atomic unit of work)
  Broadcaster: Post-commit integration notification (fire-and-forget)
  Notifier:    Outbound case notifications (implemented by notify.Dispatcher)

CONCURRENCY:
  Implementations must serialise concurrent WithTx calls touching the same
  case. SQLite does so with a process lock and a single connection;
  PostgreSQL locks the case row with SELECT ... FOR UPDATE.

IMPLEMENTATIONS:
  - appeal/store/memory.go: In-memory, for tests and -driver=memory
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)
*/
package appeal

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store is the set of ledger operations available inside (or outside) a
// transaction.
type Store interface {
	// CreateCase inserts a case and assigns its ID.
	// Returns ErrDuplicateReference if the reference is taken.
	CreateCase(ctx context.Context, c Case) (Case, error)

	// GetCase returns the case. Inside a transaction implementations lock
	// the case row for the rest of the unit of work.
	// Returns ErrCaseNotFound if it doesn't exist.
	GetCase(ctx context.Context, id CaseID) (Case, error)

	// CurrentStatus returns the single valid record, or nil if the case has none.
	CurrentStatus(ctx context.Context, id CaseID) (*StatusRecord, error)

	// LatestWithStatus returns the most recent record holding status, or nil.
	LatestWithStatus(ctx context.Context, id CaseID, status Status) (*StatusRecord, error)

	// History returns every record for the case ordered by CreatedAt.
	History(ctx context.Context, id CaseID) ([]StatusRecord, error)

	// InsertStatus appends a record and returns it with its ID assigned.
	InsertStatus(ctx context.Context, rec StatusRecord) (StatusRecord, error)

	// SetValid flips the valid flag of a single record.
	SetValid(ctx context.Context, recordID int64, valid bool) error

	// DeleteStatusesAfter removes every record of the case created strictly
	// after cutoff and returns how many were removed.
	DeleteStatusesAfter(ctx context.Context, id CaseID, cutoff time.Time) (int64, error)

	// AppendAudit writes an audit-trail entry.
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// AuditTrail returns the audit entries of a case, oldest first.
	AuditTrail(ctx context.Context, id CaseID) ([]AuditEntry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SIDE EFFECTS
// =============================================================================

// Broadcaster tells integration subscribers that a case changed. It is
// called after commit; its failure never fails the change.
type Broadcaster interface {
	BroadcastCase(ctx context.Context, c Case, current StatusRecord) error
}

// Notifier sends one templated notification to one recipient.
type Notifier interface {
	Dispatch(ctx context.Context, template, recipient string, personalisation map[string]any) error
}
