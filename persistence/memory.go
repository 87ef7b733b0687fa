package persistence

import (
	"context"
	"sync"

	"github.com/wfunc/joysync/models"
)

// Memory keeps the most recent records in a bounded slice.
type Memory struct {
	records []models.SessionRecord
	limit   int
	mutex   sync.RWMutex
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 256
	}
	return &Memory{limit: limit}
}

func (m *Memory) SaveSession(ctx context.Context, record *models.SessionRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.records = append(m.records, *record)
	if over := len(m.records) - m.limit; over > 0 {
		m.records = append(m.records[:0:0], m.records[over:]...)
	}
	return nil
}

func (m *Memory) LoadSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].ID == id {
			r := m.records[i]
			return &r, nil
		}
	}
	return nil, ErrRecordNotFound
}

// RecentSessions returns up to limit records, newest first.
func (m *Memory) RecentSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	result := make([]models.SessionRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.records[i])
	}
	return result, nil
}

func (m *Memory) Close() error {
	return nil
}
