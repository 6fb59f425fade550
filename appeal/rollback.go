/*
rollback.go - Reverting a case to a previously held status

PURPOSE:
  Undoes one or more transitions made in error by truncating the ledger
  back to the most recent record holding the target status.

ALGORITHM (one transaction):
  1. Lock the case
  2. Find the most recent record with Status == target; none -> not found,
     nothing is mutated
  3. Delete every record created strictly after it
  4. Set its Valid = true (all newer rows are gone, so it is the only one)
  5. Write an audit-trail entry

  Rollback is destructive: truncated rows are deleted, not archived.
  Callers must treat it as irreversible.

EXAMPLE:
  [A(t1), B(t2), C(t3, valid)]  --Rollback(B)-->  [A(t1), B(t2, valid)]
*/
package appeal

import (
	"context"
	"time"
)

// Rollback reinstates target as the current status of the case.
func (l *Ledger) Rollback(ctx context.Context, id CaseID, actor string, target Status) (StatusRecord, error) {
	if target == "" {
		return StatusRecord{}, &ValidationError{Field: "status", Message: "status is required"}
	}

	var (
		c        Case
		restored StatusRecord
		removed  int64
	)
	err := l.store.WithTx(ctx, func(s Store) error {
		var err error
		c, err = lockCase(ctx, s, id)
		if err != nil {
			return err
		}

		rec, err := s.LatestWithStatus(ctx, id, target)
		if err != nil {
			return err
		}
		if rec == nil {
			return statusNotFound(id, target)
		}

		removed, err = s.DeleteStatusesAfter(ctx, id, rec.CreatedAt)
		if err != nil {
			return err
		}

		if err := s.SetValid(ctx, rec.ID, true); err != nil {
			return err
		}

		restored = *rec
		restored.Valid = true

		now := l.now().UTC().Truncate(time.Microsecond)
		return s.AppendAudit(ctx, l.auditEntry(id, actor, "Case status rolled back to "+string(target), now))
	})
	if err != nil {
		err = asDomainError("rollback", err)
		if IsNotFound(err) {
			l.logger.Warn("status rollback rejected", "case_id", id, "target", target, "actor", actor, "error", err)
		} else {
			l.logger.Error("status rollback failed", "case_id", id, "target", target, "actor", actor, "error", err)
		}
		return StatusRecord{}, err
	}

	statusChanges.WithLabelValues("rollback").Inc()
	l.logger.Info("case status rolled back", "case_id", id, "to", target, "removed", removed, "actor", actor)

	l.broadcast(ctx, c, restored)
	return restored, nil
}
