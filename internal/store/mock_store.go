// ABOUTME: Mock Store implementation for testing
// ABOUTME: Keeps outcomes in memory so relay and gateway tests run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by MockStore after Close.
var ErrClosed = errors.New("store closed")

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	outcomes []*SessionOutcome
	closed   bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordOutcome implements Store.
func (m *MockStore) RecordOutcome(_ context.Context, o *SessionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	cp := *o
	m.outcomes = append(m.outcomes, &cp)
	return nil
}

// CountOutcomes implements Store.
func (m *MockStore) CountOutcomes(_ context.Context, since time.Time) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, o := range m.outcomes {
		if !o.CreatedAt.Before(since) {
			counts[o.Outcome]++
		}
	}
	return counts, nil
}

// ListOutcomes implements Store.
func (m *MockStore) ListOutcomes(_ context.Context, limit int) ([]*SessionOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SessionOutcome, len(m.outcomes))
	for i, o := range m.outcomes {
		cp := *o
		out[len(m.outcomes)-1-i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Outcomes returns every recorded outcome in insertion order.
func (m *MockStore) Outcomes() []SessionOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionOutcome, len(m.outcomes))
	for i, o := range m.outcomes {
		out[i] = *o
	}
	return out
}

// Close implements Store.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
