/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the case-status ledger store (appeal.TxStore) and the
  notification audit store (notify.AuditStore) on SQLite. The PostgreSQL
  store in store/postgres follows the same schema with dialect changes.

INTERFACES IMPLEMENTED:
  appeal.TxStore:     Cases, status records, audit trail, WithTx
  notify.AuditStore:  Sent-notification records

KEY TABLES:
  appeals:            One row per case (reference is unique)
  appeal_status:      Status history; exactly one valid row per case
  audit_trail:        Human-readable change log
  notification_audit: One row per notification actually sent

INDEXES:
  - idx_appeal_status_single_valid: Enforces at most one valid row per case
  - idx_appeal_status_case_created: History, rollback cutoff (hot path)
  - idx_notification_audit_reference: Notifications by case reference

TIMESTAMPS:
  Stored as INTEGER Unix nanoseconds (UTC). Ordering and the rollback
  cutoff comparison are plain integer comparisons.

CONCURRENCY:
  WithTx holds a process mutex and opens the transaction with
  BEGIN IMMEDIATE, so read-modify-write units of work never interleave.
  Reads outside a transaction go straight to the pool.

USAGE:
  store, err := sqlite.New("./data/appeals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := appeal.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - appeal/store.go: Interface definitions
  - appeal/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal"
	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var (
	_ appeal.TxStore    = (*Store)(nil)
	_ notify.AuditStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS appeals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		appellant_email TEXT NOT NULL DEFAULT '',
		lpa_email TEXT NOT NULL DEFAULT '',
		site_address TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS appeal_status (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		appeal_id INTEGER NOT NULL REFERENCES appeals(id),
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		valid INTEGER NOT NULL DEFAULT 1,
		sub_state_machine_name TEXT,
		compound_state_name TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_appeal_status_single_valid
		ON appeal_status(appeal_id) WHERE valid = 1;
	CREATE INDEX IF NOT EXISTS idx_appeal_status_case_created
		ON appeal_status(appeal_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_trail (
		id TEXT PRIMARY KEY,
		appeal_id INTEGER NOT NULL REFERENCES appeals(id),
		actor TEXT NOT NULL,
		details TEXT NOT NULL,
		logged_at INTEGER NOT NULL
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
		sent_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notification_audit_reference
		ON notification_audit(case_reference, sent_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (appeal.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store appeal.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements appeal.Store against a pool or an open transaction.
type queries struct {
	q querier
}

// =============================================================================
// CASES
// =============================================================================

func (s *queries) CreateCase(ctx context.Context, c appeal.Case) (appeal.Case, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO appeals (reference, appellant_email, lpa_email, site_address, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.Reference, c.AppellantEmail, c.LPAEmail, c.SiteAddress, toUnix(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return appeal.Case{}, appeal.ErrDuplicateReference
		}
		return appeal.Case{}, fmt.Errorf("failed to insert appeal: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return appeal.Case{}, fmt.Errorf("failed to read appeal id: %w", err)
	}
	c.ID = appeal.CaseID(id)
	return c, nil
}

// GetCase reads the case row. Within WithTx the immediate transaction
// already holds the database write lock.
func (s *queries) GetCase(ctx context.Context, id appeal.CaseID) (appeal.Case, error) {
	var (
		c         appeal.Case
		createdAt int64
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, reference, appellant_email, lpa_email, site_address, created_at
		FROM appeals WHERE id = ?`, int64(id),
	).Scan(&c.ID, &c.Reference, &c.AppellantEmail, &c.LPAEmail, &c.SiteAddress, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return appeal.Case{}, appeal.ErrCaseNotFound
	}
	if err != nil {
		return appeal.Case{}, fmt.Errorf("failed to get appeal: %w", err)
	}
	c.CreatedAt = fromUnix(createdAt)
	return c, nil
}

// =============================================================================
// STATUS RECORDS
// =============================================================================

const statusColumns = `id, appeal_id, status, created_at, valid, sub_state_machine_name, compound_state_name`

func (s *queries) CurrentStatus(ctx context.Context, id appeal.CaseID) (*appeal.StatusRecord, error) {
	return s.queryOneStatus(ctx, `
		SELECT `+statusColumns+` FROM appeal_status
		WHERE appeal_id = ? AND valid = 1
		ORDER BY created_at DESC, id DESC LIMIT 1`, int64(id))
}

func (s *queries) LatestWithStatus(ctx context.Context, id appeal.CaseID, status appeal.Status) (*appeal.StatusRecord, error) {
	return s.queryOneStatus(ctx, `
		SELECT `+statusColumns+` FROM appeal_status
		WHERE appeal_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, int64(id), string(status))
}

func (s *queries) History(ctx context.Context, id appeal.CaseID) ([]appeal.StatusRecord, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+statusColumns+` FROM appeal_status
		WHERE appeal_id = ?
		ORDER BY created_at ASC, id ASC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var records []appeal.StatusRecord
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *queries) InsertStatus(ctx context.Context, rec appeal.StatusRecord) (appeal.StatusRecord, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO appeal_status (appeal_id, status, created_at, valid, sub_state_machine_name, compound_state_name)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(rec.CaseID), string(rec.Status), toUnix(rec.CreatedAt), rec.Valid,
		nullString(rec.SubStateMachineName), nullString(rec.CompoundStateName),
	)
	if err != nil {
		return appeal.StatusRecord{}, fmt.Errorf("failed to insert status: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return appeal.StatusRecord{}, fmt.Errorf("failed to read status id: %w", err)
	}
	rec.ID = id
	return rec, nil
}

func (s *queries) SetValid(ctx context.Context, recordID int64, valid bool) error {
	res, err := s.q.ExecContext(ctx, `UPDATE appeal_status SET valid = ? WHERE id = ?`, valid, recordID)
	if err != nil {
		return fmt.Errorf("failed to update status validity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update status validity: %w", err)
	}
	if n == 0 {
		return appeal.ErrStatusNotFound
	}
	return nil
}

func (s *queries) DeleteStatusesAfter(ctx context.Context, id appeal.CaseID, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM appeal_status WHERE appeal_id = ? AND created_at > ?`,
		int64(id), toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete statuses: %w", err)
	}
	return res.RowsAffected()
}

func (s *queries) queryOneStatus(ctx context.Context, query string, args ...any) (*appeal.StatusRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanStatus(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanStatus(rows *sql.Rows) (appeal.StatusRecord, error) {
	var (
		rec       appeal.StatusRecord
		status    string
		createdAt int64
		subState  sql.NullString
		compound  sql.NullString
	)
	if err := rows.Scan(&rec.ID, &rec.CaseID, &status, &createdAt, &rec.Valid, &subState, &compound); err != nil {
		return rec, fmt.Errorf("failed to scan status: %w", err)
	}
	rec.Status = appeal.Status(status)
	rec.CreatedAt = fromUnix(createdAt)
	rec.SubStateMachineName = subState.String
	rec.CompoundStateName = compound.String
	return rec, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func (s *queries) AppendAudit(ctx context.Context, entry appeal.AuditEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_trail (id, appeal_id, actor, details, logged_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, int64(entry.CaseID), entry.Actor, entry.Details, toUnix(entry.LoggedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *queries) AuditTrail(ctx context.Context, id appeal.CaseID) ([]appeal.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, appeal_id, actor, details, logged_at FROM audit_trail
		WHERE appeal_id = ?
		ORDER BY logged_at ASC, rowid ASC`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []appeal.AuditEntry
	for rows.Next() {
		var (
			e        appeal.AuditEntry
			loggedAt int64
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Actor, &e.Details, &loggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.LoggedAt = fromUnix(loggedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// NOTIFICATION AUDIT (notify.AuditStore interface)
// =============================================================================

func (s *Store) SaveNotification(ctx context.Context, rec notify.NotificationAuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_audit (id, case_reference, template, subject, recipient, message, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CaseReference, rec.Template, rec.Subject, rec.Recipient, rec.Message, toUnix(rec.SentAt))
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, caseReference string) ([]notify.NotificationAuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_reference, template, subject, recipient, message, sent_at
		FROM notification_audit
		WHERE case_reference = ?
		ORDER BY sent_at ASC, rowid ASC`, caseReference)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var records []notify.NotificationAuditRecord
	for rows.Next() {
		var (
			rec    notify.NotificationAuditRecord
			sentAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.CaseReference, &rec.Template, &rec.Subject, &rec.Recipient, &rec.Message, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		rec.SentAt = fromUnix(sentAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
