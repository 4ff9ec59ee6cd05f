package ratelimit

import (
	"context"
	"sync"
	"time"

	"sitecart/internal/sharding"
)

const memoryShards = 16

type window struct {
	count     int64
	startedAt time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]window
}

// MemoryStore keeps fixed-window counters in process memory, sharded
// by key so hot subjects don't serialize unrelated ones.
type MemoryStore struct {
	shards [memoryShards]*shard

	mu  sync.Mutex
	now func() time.Time
}

// NewMemoryStore constructs an in-memory counter store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{windows: make(map[string]window)}
	}
	return m
}

// SetClock injects the time source (for tests).
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) clock() func() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MemoryStore) Incr(ctx context.Context, key string, windowDur time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	s := m.shards[sharding.Index(key, memoryShards)]
	now := m.clock()()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.startedAt) >= windowDur {
		w = window{count: 0, startedAt: now}
	}
	w.count++
	s.windows[key] = w
	return w.count, windowDur - now.Sub(w.startedAt), nil
}
