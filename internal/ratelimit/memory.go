package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a simple in-memory per-key sliding window rate limiter. It is
// local to one process; use Redis when running several replicas.
type Memory struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	timestamps []time.Time
}

// NewMemory creates a limiter that allows limit requests per window per key.
// It starts a background goroutine to clean up stale entries.
func NewMemory(limit int, window time.Duration) *Memory {
	m := &Memory{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Stop terminates the background cleanup goroutine.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Allow never returns an error.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-m.window)

	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{}
		m.visitors[key] = v
	}

	pruneTimestamps(v, cutoff)

	if len(v.timestamps) >= m.limit {
		// Denied: reset when the oldest timestamp leaves the window.
		return Decision{Limit: m.limit, Reset: v.timestamps[0].Add(m.window)}, nil
	}

	v.timestamps = append(v.timestamps, now)
	return Decision{
		Allowed:   true,
		Limit:     m.limit,
		Remaining: m.limit - len(v.timestamps),
		Reset:     now.Add(m.window),
	}, nil
}

// pruneTimestamps removes timestamps older than cutoff from a visitor in place.
func pruneTimestamps(v *visitor, cutoff time.Time) {
	valid := v.timestamps[:0]
	for _, ts := range v.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	v.timestamps = valid
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			cutoff := time.Now().Add(-m.window)
			for key, v := range m.visitors {
				pruneTimestamps(v, cutoff)
				if len(v.timestamps) == 0 {
					delete(m.visitors, key)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}
