package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks remaining capacity for one agent type.
type bucket struct {
	tokens     float64
	lastAccess time.Time
}

// MemoryLimiter implements Limiter with an independent in-memory token
// bucket per agent type: a configurable sustained rate (tokens per
// second) and burst capacity. A background goroutine evicts buckets for
// agent types that have gone quiet, so a long-lived process with churning
// registrations stays bounded.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter.
//   - rate: sustained invocations per second per agent type
//   - burst: maximum burst size (bucket capacity)
//
// Call Close to stop the eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the agent type's bucket. Returns false
// when the bucket is empty (the invocation is throttled).
func (m *MemoryLimiter) Allow(_ context.Context, agentType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[agentType]
	if !ok {
		// First invocation for this type: full bucket minus one token.
		m.buckets[agentType] = &bucket{
			tokens:     m.burst - 1,
			lastAccess: now,
		}
		return true, nil
	}

	elapsed := now.Sub(b.lastAccess).Seconds()
	b.tokens += elapsed * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.lastAccess = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for agentType, b := range m.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(m.buckets, agentType)
		}
	}
}
