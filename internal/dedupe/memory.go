// ABOUTME: In-process TTL set of message IDs with a size cap
// ABOUTME: Evicts oldest first through an insertion-ordered list and sweeps expired IDs each minute

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Checker reports whether a message ID has already been handled.
type Checker interface {
	// CheckAndMark returns true if key was seen within the TTL. Otherwise
	// it records key and returns false.
	CheckAndMark(ctx context.Context, key string) bool
	Close() error
}

type memoryEntry struct {
	seenAt time.Time
	elem   *list.Element
}

// Memory is a Checker backed by a map and a list ordered by last sighting.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      *list.List // front is the least recently seen key
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-process checker and starts its sweeper.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	m := &Memory{
		entries:    make(map[string]*memoryEntry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	go m.sweepLoop(time.Minute)
	return m
}

// CheckAndMark implements Checker. The check and the mark happen under one lock.
func (m *Memory) CheckAndMark(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok {
		if now.Sub(e.seenAt) < m.ttl {
			return true
		}
		e.seenAt = now
		m.order.MoveToBack(e.elem)
		return false
	}

	if len(m.entries) >= m.maxEntries {
		if oldest := m.order.Front(); oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(string))
		}
	}
	m.entries[key] = &memoryEntry{seenAt: now, elem: m.order.PushBack(key)}
	return false
}

// Len returns the number of tracked IDs, expired ones included until the next sweep.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep drops expired IDs. The list is ordered by sighting so it stops at the first live one.
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for e := m.order.Front(); e != nil; {
		key := e.Value.(string)
		if now.Sub(m.entries[key].seenAt) < m.ttl {
			return
		}
		next := e.Next()
		m.order.Remove(e)
		delete(m.entries, key)
		e = next
	}
}

// Close stops the sweeper. Safe to call more than once.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}
