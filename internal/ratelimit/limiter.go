package ratelimit

import (
	"sync"
	"time"
)

// sweepInterval is how often the background sweep evicts dead windows.
const sweepInterval = 5 * time.Minute

// evictionGrace is how long a fully elapsed window survives before it is
// eligible for eviction.
const evictionGrace = time.Minute

// Options configure one rate-limit check. The same limiter can serve several
// routes with different budgets by varying the prefix.
type Options struct {
	Window      time.Duration
	MaxRequests int
	KeyPrefix   string
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed   bool
	Remaining int
}

// Metrics is the limiter's observable state for the admin surface.
// LiveEntries is -1 when the backend does not track entry counts locally.
type Metrics struct {
	Backend     string `json:"backend"`
	LiveEntries int    `json:"live_entries"`
	Denied      uint64 `json:"denied"`
}

// Limiter bounds how many requests a key may make inside a fixed window.
// Implementations fail closed: any internal error denies the request.
type Limiter interface {
	Check(key string, opts Options) Decision
	Metrics() Metrics
	Close()
}

type entry struct {
	count       int
	window      time.Duration
	windowStart time.Time
	lastSeen    time.Time
}

// MemoryLimiter is the in-process Limiter. Entries live in a mutex-guarded
// map; stale windows are evicted lazily on lookup and by a background sweep.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	denied  uint64

	stopCh chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewMemoryLimiter creates a memory-backed limiter and starts its sweep loop.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go m.sweepLoop()
	return m
}

// Check counts one request against the key's current window. The increment
// and the comparison happen under a single lock acquisition, so concurrent
// requests for the same key cannot slip past the budget.
func (m *MemoryLimiter) Check(key string, opts Options) Decision {
	if opts.MaxRequests <= 0 || opts.Window <= 0 {
		// Misconfigured budget denies rather than admits.
		return Decision{Allowed: false, Remaining: 0}
	}

	now := m.now()
	mapKey := opts.KeyPrefix + key

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[mapKey]
	if ok && now.Sub(e.windowStart) >= e.window+evictionGrace && now.Sub(e.lastSeen) >= evictionGrace {
		delete(m.entries, mapKey)
		ok = false
	}
	if !ok || now.Sub(e.windowStart) >= e.window {
		m.entries[mapKey] = &entry{
			count:       1,
			window:      opts.Window,
			windowStart: now,
			lastSeen:    now,
		}
		return Decision{Allowed: true, Remaining: opts.MaxRequests - 1}
	}

	e.count++
	e.lastSeen = now
	if e.count > opts.MaxRequests {
		m.denied++
		return Decision{Allowed: false, Remaining: 0}
	}
	return Decision{Allowed: true, Remaining: opts.MaxRequests - e.count}
}

// Metrics reports the live entry count and total denials.
func (m *MemoryLimiter) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{Backend: "memory", LiveEntries: len(m.entries), Denied: m.denied}
}

// Close stops the background sweep. The limiter stays usable afterwards;
// only lazy eviction remains.
func (m *MemoryLimiter) Close() {
	m.once.Do(func() {
		close(m.stopCh)
	})
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(m.now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryLimiter) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if now.Sub(e.windowStart) >= e.window+evictionGrace && now.Sub(e.lastSeen) >= evictionGrace {
			delete(m.entries, key)
		}
	}
}
