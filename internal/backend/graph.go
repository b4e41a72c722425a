package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/kaigi/internal/model"
)

// GraphEngine is the lightweight in-memory engine: it runs the workflow
// directly on a goroutine with no persistence. Fast, but a crash loses
// the run.
type GraphEngine struct {
	run    WorkflowFunc
	logger *slog.Logger
	stats  *engineStats
	closed atomic.Bool
}

// NewGraphEngine creates the in-memory engine. capacity bounds the load
// metric, not admission; the engine never queues.
func NewGraphEngine(run WorkflowFunc, logger *slog.Logger, capacity int) *GraphEngine {
	return &GraphEngine{run: run, logger: logger, stats: newEngineStats(capacity)}
}

// Mode implements Backend.
func (g *GraphEngine) Mode() model.BackendMode { return model.ModeGraph }

// Submit implements Backend.
func (g *GraphEngine) Submit(ctx context.Context, job Job) (Handle, error) {
	if g.closed.Load() {
		return nil, fmt.Errorf("backend: graph engine closed")
	}

	h := newResultHandle()
	g.stats.begin()
	go func() {
		start := time.Now()
		res := g.run(ctx, job.SubjectID, job.Config)
		g.stats.end(time.Since(start), res.Succeeded())
		h.deliver(res)
	}()
	return h, nil
}

// Health implements Backend.
func (g *GraphEngine) Health(ctx context.Context) model.SystemHealthMetrics {
	m := g.stats.metrics()
	m.Available = !g.closed.Load()
	return m
}

// Close rejects further submissions. In-flight runs finish.
func (g *GraphEngine) Close() { g.closed.Store(true) }
