package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMemorySize = 65536
	defaultMemoryTTL  = 10 * time.Minute
)

type window struct {
	start time.Time
	count int
}

// Memory keeps counters in process. Idle keys are evicted after ttl, which
// must exceed the longest window callers use.
type Memory struct {
	mu      sync.Mutex
	clock   Clock
	windows *lru.LRU[string, *window]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = defaultMemorySize
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &Memory{
		clock:   realClock{},
		windows: lru.NewLRU[string, *window](size, nil, ttl),
	}
}

func (m *Memory) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Memory) Ratelimited(_ context.Context, key Key, limit int, period time.Duration) (time.Duration, error) {
	now := m.clock.Now()
	id := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows.Get(id)
	if !ok || !w.start.Add(period).After(now) {
		w = &window{start: now}
		m.windows.Add(id, w)
	}
	w.count++
	if w.count > limit {
		return w.start.Add(period).Sub(now), nil
	}
	return 0, nil
}
