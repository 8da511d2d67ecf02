package memory

import (
	"context"
	"sync"
	"time"
)

// Counter is an in-process fixed-window rate counter for dev setups and
// tests. It does not survive restarts or scale across instances; deploys
// use the redis implementation.
type Counter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	started time.Time
}

func NewCounter() *Counter {
	return &Counter{windows: make(map[string]*window), now: time.Now}
}

// NewCounterWithClock is a test hook.
func NewCounterWithClock(now func() time.Time) *Counter {
	return &Counter{windows: make(map[string]*window), now: now}
}

func (c *Counter) Allow(_ context.Context, key string, limit int, windowSize time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.Sub(w.started) >= windowSize {
		c.windows[key] = &window{count: 1, started: now}
		return limit >= 1, nil
	}

	w.count++
	return w.count <= limit, nil
}

// Sweep drops expired windows. Callers run it periodically; there is no
// background goroutine so tests stay deterministic.
func (c *Counter) Sweep(windowSize time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-2 * windowSize)
	for k, w := range c.windows {
		if w.started.Before(cutoff) {
			delete(c.windows, k)
		}
	}
}
