// Package claim defines the idempotency store: an atomic, durable
// reservation of the right to deliver one occurrence of a notification.
package claim

import (
	"context"
	"sync"
	"time"
)

// Store records claims. TryClaim must be a single atomic read-modify-write:
// of any number of concurrent callers passing the same (key, occurrence),
// exactly one gets true.
type Store interface {
	TryClaim(ctx context.Context, key, occurrence string) (bool, error)
}

// Memory is an in-process Store. It is only correct within one process and
// is used by tests and local runs.
type Memory struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{claims: make(map[string]time.Time), now: time.Now}
}

// TryClaim implements Store.
func (m *Memory) TryClaim(_ context.Context, key, occurrence string) (bool, error) {
	k := key + "\x00" + occurrence
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.claims[k]; exists {
		return false, nil
	}
	m.claims[k] = m.now()
	return true, nil
}

// Len returns the number of recorded claims.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

// PurgeClaims drops claims older than maxAge and returns how many were removed.
func (m *Memory) PurgeClaims(_ context.Context, maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-maxAge)
	var n int64
	for k, at := range m.claims {
		if at.Before(cutoff) {
			delete(m.claims, k)
			n++
		}
	}
	return n, nil
}
