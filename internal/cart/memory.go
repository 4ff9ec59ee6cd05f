package cart

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps cart documents in memory. It backs tests and the
// no-database fallback mode; a mutex stands in for the row lock the
// Postgres store takes.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]Cart
}

// NewMemoryStore constructs an empty in-memory cart store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]Cart)}
}

func cartKey(userID, siteID string) string {
	return userID + "|" + siteID
}

func (m *MemoryStore) Get(ctx context.Context, userID, siteID string) (Cart, error) {
	if err := ctx.Err(); err != nil {
		return Cart{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartKey(userID, siteID)]
	if !ok {
		return Cart{UserID: userID, SiteID: siteID}, nil
	}
	return c, nil
}

func (m *MemoryStore) Update(ctx context.Context, userID, siteID string, apply func(Cart) Cart) (Cart, error) {
	if err := ctx.Err(); err != nil {
		return Cart{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cartKey(userID, siteID)
	current, ok := m.carts[key]
	if !ok {
		current = Cart{UserID: userID, SiteID: siteID}
	}
	next := apply(current)
	m.carts[key] = next
	return next, nil
}

func (m *MemoryStore) Touch(ctx context.Context, userID, siteID string, at time.Time, staleAfter time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cartKey(userID, siteID)
	c, ok := m.carts[key]
	if !ok {
		c = Cart{UserID: userID, SiteID: siteID}
	}
	if ok && at.Sub(c.LastActivityAt) < staleAfter {
		return false, nil
	}
	c.LastActivityAt = at
	m.carts[key] = c
	return true, nil
}
