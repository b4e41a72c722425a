package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Journal persists workflow checkpoints so a run can be reconstructed
// after a crash. storage.Lite satisfies it.
type Journal interface {
	JournalCheckpoint(ctx context.Context, sessionID uuid.UUID, stage, status string) error
}

// DurableEngine wraps the workflow in checkpoint journaling: it records
// the submission before execution and every stage outcome after. The
// journal is audit infrastructure, so writes are best-effort and never
// fail the run they describe.
type DurableEngine struct {
	run     WorkflowFunc
	journal Journal
	logger  *slog.Logger
	stats   *engineStats
	closed  atomic.Bool
}

// NewDurableEngine creates the journaling engine.
func NewDurableEngine(run WorkflowFunc, journal Journal, logger *slog.Logger, capacity int) *DurableEngine {
	return &DurableEngine{run: run, journal: journal, logger: logger, stats: newEngineStats(capacity)}
}

// Mode implements Backend.
func (d *DurableEngine) Mode() model.BackendMode { return model.ModeDurable }

// Submit implements Backend.
func (d *DurableEngine) Submit(ctx context.Context, job Job) (Handle, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("backend: durable engine closed")
	}

	h := newResultHandle()
	d.stats.begin()
	go func() {
		start := time.Now()
		res := d.run(ctx, job.SubjectID, job.Config)
		d.checkpoint(res)
		d.stats.end(time.Since(start), res.Succeeded())
		h.deliver(res)
	}()
	return h, nil
}

// checkpoint journals every stage outcome plus the terminal stage. The
// session ID is only known after the run starts, so the whole record is
// written from the result; the audit value is the reconstructible
// trajectory, not crash-instant granularity per stage.
func (d *DurableEngine) checkpoint(res model.WorkflowResult) {
	// The run context may already be canceled; the journal write still
	// has to land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, stageID := range model.Stages() {
		status, ok := res.StageProgress[stageID]
		if !ok {
			continue
		}
		if err := d.journal.JournalCheckpoint(ctx, res.SessionID, string(stageID), string(status)); err != nil {
			d.logger.Warn("backend: journal write failed",
				"session_id", res.SessionID, "stage", stageID, "error", err)
			return
		}
	}
	if err := d.journal.JournalCheckpoint(ctx, res.SessionID, string(res.Stage), "terminal"); err != nil {
		d.logger.Warn("backend: terminal journal write failed",
			"session_id", res.SessionID, "error", err)
	}
}

// Health implements Backend.
func (d *DurableEngine) Health(ctx context.Context) model.SystemHealthMetrics {
	m := d.stats.metrics()
	m.Available = !d.closed.Load()
	return m
}

// Close rejects further submissions. In-flight runs finish.
func (d *DurableEngine) Close() { d.closed.Store(true) }
