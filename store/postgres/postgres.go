/*
Package postgres provides a PostgreSQL implementation of the storage interfaces.

PURPOSE:
  Same contract as store/sqlite, backed by a pgx connection pool. Used when
  the server runs with -driver=postgres.

INTERFACES IMPLEMENTED:
  appeal.TxStore:     Cases, status records, audit trail, WithTx
  notify.AuditStore:  Sent-notification records

CONCURRENCY:
  WithTx runs fn inside a pgx transaction. GetCase in a transaction issues
  SELECT ... FOR UPDATE, so concurrent transitions and rollbacks on the same
  case queue on the row lock. A partial unique index keeps at most one
  valid status row per case even if a caller bypasses the ledger.

TIMESTAMPS:
  TIMESTAMPTZ (microsecond precision). The ledger truncates to microseconds
  before writing, so values round-trip exactly.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

const schema = `
CREATE TABLE IF NOT EXISTS appeals (
	id BIGSERIAL PRIMARY KEY,
	reference TEXT NOT NULL UNIQUE,
	appellant_email TEXT NOT NULL DEFAULT '',
	lpa_email TEXT NOT NULL DEFAULT '',
	site_address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS appeal_status (
	id BIGSERIAL PRIMARY KEY,
	appeal_id BIGINT NOT NULL REFERENCES appeals(id),
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	valid BOOLEAN NOT NULL DEFAULT TRUE,
	sub_state_machine_name TEXT,
	compound_state_name TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_appeal_status_single_valid
	ON appeal_status(appeal_id) WHERE valid;
CREATE INDEX IF NOT EXISTS idx_appeal_status_case_created
	ON appeal_status(appeal_id, created_at);

CREATE TABLE IF NOT EXISTS audit_trail (
	id TEXT PRIMARY KEY,
	appeal_id BIGINT NOT NULL REFERENCES appeals(id),
	actor TEXT NOT NULL,
	details TEXT NOT NULL,
	logged_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_audit_trail_case
	ON audit_trail(appeal_id, logged_at);

CREATE TABLE IF NOT EXISTS notification_audit (
	id TEXT PRIMARY KEY,
	case_reference TEXT NOT NULL,
	template TEXT NOT NULL,
	subject TEXT NOT NULL,
	recipient TEXT NOT NULL,
	message TEXT NOT NULL,
	sent_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_notification_audit_reference
	ON notification_audit(case_reference, sent_at);
`

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements appeal.TxStore and notify.AuditStore on PostgreSQL.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var (
	_ appeal.TxStore    = (*Store)(nil)
	_ notify.AuditStore = (*Store)(nil)
)

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{queries: queries{db: pool}, pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(appeal.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx, lock: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queries implements appeal.Store over a pool or a transaction. With lock
// set, GetCase takes a row lock held until the transaction ends.
type queries struct {
	db   DBTX
	lock bool
}

// =============================================================================
// CASES
// =============================================================================

func (q *queries) CreateCase(ctx context.Context, c appeal.Case) (appeal.Case, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO appeals (reference, appellant_email, lpa_email, site_address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		c.Reference, c.AppellantEmail, c.LPAEmail, c.SiteAddress, c.CreatedAt.UTC(),
	).Scan(&c.ID)
	if err != nil {
		var e *pgconn.PgError
		if errors.As(err, &e) && e.Code == pgerrcode.UniqueViolation {
			return appeal.Case{}, appeal.ErrDuplicateReference
		}
		return appeal.Case{}, fmt.Errorf("failed to insert appeal: %w", err)
	}
	return c, nil
}

func (q *queries) GetCase(ctx context.Context, id appeal.CaseID) (appeal.Case, error) {
	query := `
		SELECT id, reference, appellant_email, lpa_email, site_address, created_at
		FROM appeals WHERE id = $1`
	if q.lock {
		query += ` FOR UPDATE`
	}

	var c appeal.Case
	err := q.db.QueryRow(ctx, query, int64(id)).
		Scan(&c.ID, &c.Reference, &c.AppellantEmail, &c.LPAEmail, &c.SiteAddress, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return appeal.Case{}, appeal.ErrCaseNotFound
	}
	if err != nil {
		return appeal.Case{}, fmt.Errorf("failed to get appeal: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// =============================================================================
// STATUS RECORDS
// =============================================================================

const statusColumns = `id, appeal_id, status, created_at, valid, sub_state_machine_name, compound_state_name`

func (q *queries) CurrentStatus(ctx context.Context, id appeal.CaseID) (*appeal.StatusRecord, error) {
	return q.queryOneStatus(ctx, `
		SELECT `+statusColumns+` FROM appeal_status
		WHERE appeal_id = $1 AND valid
		ORDER BY created_at DESC, id DESC LIMIT 1`, int64(id))
}

func (q *queries) LatestWithStatus(ctx context.Context, id appeal.CaseID, status appeal.Status) (*appeal.StatusRecord, error) {
	return q.queryOneStatus(ctx, `
		SELECT `+statusColumns+` FROM appeal_status
		WHERE appeal_id = $1 AND status = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`, int64(id), string(status))
}

func (q *queries) History(ctx context.Context, id appeal.CaseID) ([]appeal.StatusRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+statusColumns+` FROM appeal_status
		WHERE appeal_id = $1
		ORDER BY created_at ASC, id ASC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to scan status history: %w", err)
	}
	return records, nil
}

func (q *queries) InsertStatus(ctx context.Context, rec appeal.StatusRecord) (appeal.StatusRecord, error) {
	err := q.db.QueryRow(ctx, `
		INSERT INTO appeal_status (appeal_id, status, created_at, valid, sub_state_machine_name, compound_state_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		int64(rec.CaseID), string(rec.Status), rec.CreatedAt.UTC(), rec.Valid,
		nullText(rec.SubStateMachineName), nullText(rec.CompoundStateName),
	).Scan(&rec.ID)
	if err != nil {
		return appeal.StatusRecord{}, fmt.Errorf("failed to insert status: %w", err)
	}
	return rec, nil
}

func (q *queries) SetValid(ctx context.Context, recordID int64, valid bool) error {
	tag, err := q.db.Exec(ctx, `UPDATE appeal_status SET valid = $1 WHERE id = $2`, valid, recordID)
	if err != nil {
		return fmt.Errorf("failed to update status validity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return appeal.ErrStatusNotFound
	}
	return nil
}

func (q *queries) DeleteStatusesAfter(ctx context.Context, id appeal.CaseID, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM appeal_status WHERE appeal_id = $1 AND created_at > $2`,
		int64(id), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete statuses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *queries) queryOneStatus(ctx context.Context, query string, args ...any) (*appeal.StatusRecord, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, scanStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan status: %w", err)
	}
	return &rec, nil
}

func scanStatus(row pgx.CollectableRow) (appeal.StatusRecord, error) {
	var (
		rec      appeal.StatusRecord
		status   string
		subState *string
		compound *string
	)
	if err := row.Scan(&rec.ID, &rec.CaseID, &status, &rec.CreatedAt, &rec.Valid, &subState, &compound); err != nil {
		return rec, err
	}
	rec.Status = appeal.Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if subState != nil {
		rec.SubStateMachineName = *subState
	}
	if compound != nil {
		rec.CompoundStateName = *compound
	}
	return rec, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func (q *queries) AppendAudit(ctx context.Context, entry appeal.AuditEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_trail (id, appeal_id, actor, details, logged_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, int64(entry.CaseID), entry.Actor, entry.Details, entry.LoggedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q *queries) AuditTrail(ctx context.Context, id appeal.CaseID) ([]appeal.AuditEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, appeal_id, actor, details, logged_at FROM audit_trail
		WHERE appeal_id = $1
		ORDER BY logged_at ASC, seq ASC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (appeal.AuditEntry, error) {
		var e appeal.AuditEntry
		err := row.Scan(&e.ID, &e.CaseID, &e.Actor, &e.Details, &e.LoggedAt)
		e.LoggedAt = e.LoggedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit trail: %w", err)
	}
	return entries, nil
}

// =============================================================================
// NOTIFICATION AUDIT (notify.AuditStore interface)
// =============================================================================

func (s *Store) SaveNotification(ctx context.Context, rec notify.NotificationAuditRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_audit (id, case_reference, template, subject, recipient, message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.CaseReference, rec.Template, rec.Subject, rec.Recipient, rec.Message, rec.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, caseReference string) ([]notify.NotificationAuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_reference, template, subject, recipient, message, sent_at
		FROM notification_audit
		WHERE case_reference = $1
		ORDER BY sent_at ASC, seq ASC`, caseReference)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notify.NotificationAuditRecord, error) {
		var rec notify.NotificationAuditRecord
		err := row.Scan(&rec.ID, &rec.CaseReference, &rec.Template, &rec.Subject, &rec.Recipient, &rec.Message, &rec.SentAt)
		rec.SentAt = rec.SentAt.UTC()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return records, nil
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
