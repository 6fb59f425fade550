// Package store provides in-memory appeal.Store implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/appeal"
)

// ErrValidConflict mirrors the SQL partial unique index: a case can have
// at most one valid status record.
var ErrValidConflict = errors.New("appeal already has a valid status record")

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	cases        map[appeal.CaseID]appeal.Case
	references   map[string]appeal.CaseID
	statuses     map[appeal.CaseID][]appeal.StatusRecord // ordered by CreatedAt
	recordCase   map[int64]appeal.CaseID
	audit        map[appeal.CaseID][]appeal.AuditEntry
	nextCaseID   int64
	nextRecordID int64
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() state {
	return state{
		cases:      make(map[appeal.CaseID]appeal.Case),
		references: make(map[string]appeal.CaseID),
		statuses:   make(map[appeal.CaseID][]appeal.StatusRecord),
		recordCase: make(map[int64]appeal.CaseID),
		audit:      make(map[appeal.CaseID][]appeal.AuditEntry),
	}
}

func (m *Memory) CreateCase(_ context.Context, c appeal.Case) (appeal.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCase(c)
}

func (m *Memory) GetCase(_ context.Context, id appeal.CaseID) (appeal.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCase(id)
}

func (m *Memory) CurrentStatus(_ context.Context, id appeal.CaseID) (*appeal.StatusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentStatus(id), nil
}

func (m *Memory) LatestWithStatus(_ context.Context, id appeal.CaseID, status appeal.Status) (*appeal.StatusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestWithStatus(id, status), nil
}

func (m *Memory) History(_ context.Context, id appeal.CaseID) ([]appeal.StatusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history(id), nil
}

func (m *Memory) InsertStatus(_ context.Context, rec appeal.StatusRecord) (appeal.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertStatus(rec)
}

func (m *Memory) SetValid(_ context.Context, recordID int64, valid bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setValid(recordID, valid)
}

func (m *Memory) DeleteStatusesAfter(_ context.Context, id appeal.CaseID, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteAfter(id, cutoff), nil
}

func (m *Memory) AppendAudit(_ context.Context, entry appeal.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[entry.CaseID] = append(m.audit[entry.CaseID], entry)
	return nil
}

func (m *Memory) AuditTrail(_ context.Context, id appeal.CaseID) ([]appeal.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]appeal.AuditEntry{}, m.audit[id]...), nil
}

// =============================================================================
// UNLOCKED OPERATIONS - callers hold mu
// =============================================================================

func (s *state) createCase(c appeal.Case) (appeal.Case, error) {
	if _, taken := s.references[c.Reference]; taken {
		return appeal.Case{}, appeal.ErrDuplicateReference
	}
	s.nextCaseID++
	c.ID = appeal.CaseID(s.nextCaseID)
	s.cases[c.ID] = c
	s.references[c.Reference] = c.ID
	return c, nil
}

func (s *state) getCase(id appeal.CaseID) (appeal.Case, error) {
	c, ok := s.cases[id]
	if !ok {
		return appeal.Case{}, appeal.ErrCaseNotFound
	}
	return c, nil
}

func (s *state) currentStatus(id appeal.CaseID) *appeal.StatusRecord {
	recs := s.statuses[id]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Valid {
			rec := recs[i]
			return &rec
		}
	}
	return nil
}

func (s *state) latestWithStatus(id appeal.CaseID, status appeal.Status) *appeal.StatusRecord {
	recs := s.statuses[id]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Status == status {
			rec := recs[i]
			return &rec
		}
	}
	return nil
}

func (s *state) history(id appeal.CaseID) []appeal.StatusRecord {
	return append([]appeal.StatusRecord{}, s.statuses[id]...)
}

func (s *state) insertStatus(rec appeal.StatusRecord) (appeal.StatusRecord, error) {
	if rec.Valid && s.currentStatus(rec.CaseID) != nil {
		return appeal.StatusRecord{}, ErrValidConflict
	}
	s.nextRecordID++
	rec.ID = s.nextRecordID

	recs := s.statuses[rec.CaseID]
	i := sort.Search(len(recs), func(i int) bool {
		return recs[i].CreatedAt.After(rec.CreatedAt)
	})
	recs = append(recs, appeal.StatusRecord{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	s.statuses[rec.CaseID] = recs
	s.recordCase[rec.ID] = rec.CaseID
	return rec, nil
}

func (s *state) setValid(recordID int64, valid bool) error {
	id, ok := s.recordCase[recordID]
	if !ok {
		return appeal.ErrStatusNotFound
	}
	recs := s.statuses[id]
	for i := range recs {
		if recs[i].ID == recordID {
			if valid && !recs[i].Valid && s.currentStatus(id) != nil {
				return ErrValidConflict
			}
			recs[i].Valid = valid
			return nil
		}
	}
	return appeal.ErrStatusNotFound
}

func (s *state) deleteAfter(id appeal.CaseID, cutoff time.Time) int64 {
	recs := s.statuses[id]
	i := sort.Search(len(recs), func(i int) bool {
		return recs[i].CreatedAt.After(cutoff)
	})
	for _, rec := range recs[i:] {
		delete(s.recordCase, rec.ID)
	}
	s.statuses[id] = recs[:i:i]
	return int64(len(recs) - i)
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.cases {
		c.cases[k] = v
	}
	for k, v := range s.references {
		c.references[k] = v
	}
	for k, v := range s.statuses {
		c.statuses[k] = append([]appeal.StatusRecord{}, v...)
	}
	for k, v := range s.recordCase {
		c.recordCase[k] = v
	}
	for k, v := range s.audit {
		c.audit[k] = append([]appeal.AuditEntry{}, v...)
	}
	c.nextCaseID = s.nextCaseID
	c.nextRecordID = s.nextRecordID
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are fully serialised.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(appeal.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()

	if err := fn(&txMemoryView{s: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

type txMemoryView struct {
	s *state
}

func (tv *txMemoryView) CreateCase(_ context.Context, c appeal.Case) (appeal.Case, error) {
	return tv.s.createCase(c)
}

func (tv *txMemoryView) GetCase(_ context.Context, id appeal.CaseID) (appeal.Case, error) {
	return tv.s.getCase(id)
}

func (tv *txMemoryView) CurrentStatus(_ context.Context, id appeal.CaseID) (*appeal.StatusRecord, error) {
	return tv.s.currentStatus(id), nil
}

func (tv *txMemoryView) LatestWithStatus(_ context.Context, id appeal.CaseID, status appeal.Status) (*appeal.StatusRecord, error) {
	return tv.s.latestWithStatus(id, status), nil
}

func (tv *txMemoryView) History(_ context.Context, id appeal.CaseID) ([]appeal.StatusRecord, error) {
	return tv.s.history(id), nil
}

func (tv *txMemoryView) InsertStatus(_ context.Context, rec appeal.StatusRecord) (appeal.StatusRecord, error) {
	return tv.s.insertStatus(rec)
}

func (tv *txMemoryView) SetValid(_ context.Context, recordID int64, valid bool) error {
	return tv.s.setValid(recordID, valid)
}

func (tv *txMemoryView) DeleteStatusesAfter(_ context.Context, id appeal.CaseID, cutoff time.Time) (int64, error) {
	return tv.s.deleteAfter(id, cutoff), nil
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry appeal.AuditEntry) error {
	tv.s.audit[entry.CaseID] = append(tv.s.audit[entry.CaseID], entry)
	return nil
}

func (tv *txMemoryView) AuditTrail(_ context.Context, id appeal.CaseID) ([]appeal.AuditEntry, error) {
	return append([]appeal.AuditEntry{}, tv.s.audit[id]...), nil
}
