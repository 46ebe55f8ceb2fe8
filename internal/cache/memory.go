package cache

import (
	"context"
	"sync"
	"time"

	"signalwatch/internal/model"
)

const compactThreshold = 10000

type memoryEntry struct {
	analysis model.Analysis
	expires  time.Time
}

// Memory is an in-process TTL cache. Expired entries are swept once the
// map outgrows limit; limit then doubles from the surviving size.
type Memory struct {
	mu          sync.Mutex
	items       map[string]memoryEntry
	now         func() time.Time
	limit       int
	compactions int
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryEntry), now: time.Now, limit: compactThreshold}
}

// WithClock swaps the time source; used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(ctx context.Context, key string) (model.Analysis, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.items[key]
	if !ok {
		return model.Analysis{}, false
	}
	if !m.now().Before(entry.expires) {
		delete(m.items, key)
		return model.Analysis{}, false
	}
	return entry.analysis, true
}

func (m *Memory) Put(ctx context.Context, key string, analysis model.Analysis, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.items[key] = memoryEntry{analysis: analysis, expires: now.Add(ttl)}
	if len(m.items) > m.limit {
		m.compact(now)
	}
}

func (m *Memory) compact(now time.Time) {
	for k, entry := range m.items {
		if !now.Before(entry.expires) {
			delete(m.items, k)
		}
	}
	m.compactions++
	m.limit = max(compactThreshold, 2*len(m.items))
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Backend() string {
	return "memory"
}

func (m *Memory) Close() error {
	return nil
}
