package mycache

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	value     int64
	expiresAt time.Time
}

type InMemoryCache struct {
	mutex    sync.Mutex
	counters map[string]counter
	now      func() time.Time
}

func NewInMemoryCache(c context.Context) (*InMemoryCache, func(), error) {
	return &InMemoryCache{
		counters: make(map[string]counter),
		now:      time.Now,
	}, func() {}, nil
}

func (m *InMemoryCache) Increment(c context.Context, key string, ttl time.Duration) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	existing, found := m.counters[key]
	if !found || m.now().After(existing.expiresAt) {
		existing = counter{value: 0, expiresAt: m.now().Add(ttl)}
	}
	existing.value++
	m.counters[key] = existing

	return existing.value, nil
}

func (m *InMemoryCache) TTL(c context.Context, key string) (time.Duration, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	existing, found := m.counters[key]
	if !found || m.now().After(existing.expiresAt) {
		return 0, nil
	}

	return existing.expiresAt.Sub(m.now()), nil
}

func (m *InMemoryCache) Ping(c context.Context) error {
	return nil
}

// SetClock allows tests to control window expiry.
func (m *InMemoryCache) SetClock(now func() time.Time) {
	m.now = now
}
