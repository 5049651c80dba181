package counter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for single-instance deployments and tests.
// All operations hold one mutex, which is what makes the increment-and-check
// atomic. Expired entries are dropped lazily on access and swept periodically.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

type memEntry struct {
	n       int64
	expires time.Time
}

// NewMemory creates a Memory store with a background sweeper.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go m.sweep(time.Minute)
	return m
}

// NewMemoryAt creates a Memory store with an injectable clock and no
// background sweeper. Intended for tests.
func NewMemoryAt(now func() time.Time) *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		stop:    make(chan struct{}),
		now:     now,
	}
}

func (m *Memory) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := m.now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expires) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

// live returns the entry for key if present and unexpired, deleting it otherwise.
func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if m.now().After(e.expires) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) IncrWithLimit(_ context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if limit > 0 && e.n >= limit {
		return e.n, false, nil
	}
	if !ok {
		e = memEntry{expires: m.now().Add(ttl)}
	}
	e.n++
	m.entries[key] = e
	return e.n, true, nil
}

func (m *Memory) Add(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		e = memEntry{expires: m.now().Add(ttl)}
	}
	e.n += n
	m.entries[key] = e
	return e.n, nil
}

func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, _ := m.live(key)
	return e.n, nil
}

func (m *Memory) SetNX(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = memEntry{n: 1, expires: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
