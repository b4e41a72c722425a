// Package backend provides the interchangeable workflow execution engines
// and the health-driven selection logic that routes requests between them.
package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Job is one workflow execution request.
type Job struct {
	SubjectID string
	Config    model.WorkflowConfig
}

// Handle tracks one submitted job to its terminal result.
type Handle interface {
	// Result blocks until the job reaches a terminal stage or ctx ends.
	Result(ctx context.Context) (model.WorkflowResult, error)
}

// Backend is one execution engine. Both engines implement it identically
// so the switcher can treat them interchangeably.
type Backend interface {
	Mode() model.BackendMode
	Submit(ctx context.Context, job Job) (Handle, error)
	// Health returns the engine's current self-reported metrics. Cheap,
	// never blocks on in-flight work.
	Health(ctx context.Context) model.SystemHealthMetrics
}

// WorkflowFunc is the execution seam between the engines and the
// orchestrator. Failures are encoded in the result's terminal stage, not
// as a Go error.
type WorkflowFunc func(ctx context.Context, subjectID string, cfg model.WorkflowConfig) model.WorkflowResult

// resultHandle is the shared handle implementation: one buffered slot
// filled by the engine goroutine.
type resultHandle struct {
	done chan model.WorkflowResult
}

func newResultHandle() *resultHandle {
	return &resultHandle{done: make(chan model.WorkflowResult, 1)}
}

func (h *resultHandle) deliver(res model.WorkflowResult) {
	h.done <- res
}

func (h *resultHandle) Result(ctx context.Context) (model.WorkflowResult, error) {
	select {
	case <-ctx.Done():
		return model.WorkflowResult{}, ctx.Err()
	case res := <-h.done:
		return res, nil
	}
}

// engineStats is the self-accounting both engines feed their health
// metrics from. Lock-free on the hot path; the latency average is a
// simple exponential decay.
type engineStats struct {
	capacity int64

	inFlight atomic.Int64
	total    atomic.Int64
	failed   atomic.Int64

	mu        sync.Mutex
	avgMs     float64
	havePoint bool
}

func newEngineStats(capacity int) *engineStats {
	if capacity < 1 {
		capacity = 1
	}
	return &engineStats{capacity: int64(capacity)}
}

func (s *engineStats) begin() { s.inFlight.Add(1) }

func (s *engineStats) end(elapsed time.Duration, succeeded bool) {
	s.inFlight.Add(-1)
	s.total.Add(1)
	if !succeeded {
		s.failed.Add(1)
	}

	ms := float64(elapsed.Milliseconds())
	s.mu.Lock()
	if s.havePoint {
		s.avgMs = 0.8*s.avgMs + 0.2*ms
	} else {
		s.avgMs = ms
		s.havePoint = true
	}
	s.mu.Unlock()
}

func (s *engineStats) metrics() model.SystemHealthMetrics {
	total := s.total.Load()
	var errRate float64
	if total > 0 {
		errRate = float64(s.failed.Load()) / float64(total)
	}

	s.mu.Lock()
	avg := s.avgMs
	s.mu.Unlock()

	return model.SystemHealthMetrics{
		Available:      true,
		ResponseTimeMs: avg,
		ErrorRate:      errRate,
		Load:           float64(s.inFlight.Load()) / float64(s.capacity),
	}
}
