package notify

import (
	"context"
	"sync"
)

// MemoryAuditStore keeps notification records in memory (tests, -driver=memory).
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []NotificationAuditRecord
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (m *MemoryAuditStore) SaveNotification(_ context.Context, rec NotificationAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryAuditStore) ListNotifications(_ context.Context, caseReference string) ([]NotificationAuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []NotificationAuditRecord
	for _, rec := range m.records {
		if rec.CaseReference == caseReference {
			out = append(out, rec)
		}
	}
	return out, nil
}

// All returns every record, in insertion order.
func (m *MemoryAuditStore) All() []NotificationAuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]NotificationAuditRecord{}, m.records...)
}
