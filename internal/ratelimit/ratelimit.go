// Package ratelimit throttles agent invocations per agent type.
//
// LLM providers enforce their own request quotas; throttling locally keeps
// a wide stage fan-out from burning the retry budget on provider 429s. The
// in-memory token bucket is the stock implementation — a deployment that
// shares quota across instances can substitute its own Limiter.
package ratelimit

import "context"

// Limiter decides whether an invocation of the given agent type should
// proceed. Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the invocation should proceed. An error
	// signals a limiter malfunction; callers treat errors as fail-open
	// rather than blocking agent traffic.
	Allow(ctx context.Context, agentType string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every invocation. Used when throttling is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
