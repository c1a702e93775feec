package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count int
	start time.Time
}

// Memory is a process-local fixed window limiter.
type Memory struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	counters  map[string]*counter
	lastSweep time.Time

	now func() time.Time
}

func NewMemory(max int, window time.Duration) *Memory {
	return &Memory{
		max:      max,
		window:   window,
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.window {
		m.sweep(now)
	}

	c, ok := m.counters[key]
	if !ok || now.Sub(c.start) >= m.window {
		c = &counter{start: now}
		m.counters[key] = c
	}
	c.count++

	return decide(c.count, m.max, c.start, m.window, now), nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// sweep drops expired windows. Caller holds mu.
func (m *Memory) sweep(now time.Time) {
	for key, c := range m.counters {
		if now.Sub(c.start) >= m.window {
			delete(m.counters, key)
		}
	}
	m.lastSweep = now
}
