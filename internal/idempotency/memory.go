package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps idempotency records in process memory. It backs
// tests and the no-database fallback mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Begin(ctx context.Context, key string, now time.Time, ttl time.Duration) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[key]
	if ok && now.Before(existing.ExpiresAt) && existing.Status != StatusFailed {
		return existing, false, nil
	}

	rec := Record{
		Key:       key,
		Status:    StatusInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.records[key] = rec
	return rec, true, nil
}

func (m *MemoryStore) Complete(ctx context.Context, key string, response []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil
	}
	rec.Status = StatusCompleted
	rec.Response = response
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Fail(ctx context.Context, key string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil
	}
	rec.Status = StatusFailed
	rec.ErrorMsg = message
	m.records[key] = rec
	return nil
}

// Record returns the stored record for a key (for tests/inspection).
func (m *MemoryStore) Record(key string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok
}
