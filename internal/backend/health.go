package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Monitor refreshes per-backend health on an interval and serves the
// latest snapshot without blocking. Selection only ever reads the
// snapshot; a stale one is preferred over waiting on a probe.
type Monitor struct {
	backends []Backend
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot model.HealthSnapshot

	// group collapses concurrent refresh requests into one probe pass.
	group  singleflight.Group
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a health monitor over the given backends and takes
// an initial snapshot so selection never sees an empty one.
func NewMonitor(logger *slog.Logger, backends ...Backend) *Monitor {
	m := &Monitor{backends: backends, logger: logger, snapshot: model.HealthSnapshot{}}
	m.Refresh(context.Background())
	return m
}

// Snapshot returns a copy of the latest health view.
func (m *Monitor) Snapshot() model.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(model.HealthSnapshot, len(m.snapshot))
	for mode, metrics := range m.snapshot {
		out[mode] = metrics
	}
	return out
}

// Refresh probes all backends once. Concurrent callers share a single
// probe pass.
func (m *Monitor) Refresh(ctx context.Context) {
	_, _, _ = m.group.Do("probe", func() (any, error) {
		next := make(model.HealthSnapshot, len(m.backends))
		for _, b := range m.backends {
			next[b.Mode()] = b.Health(ctx)
		}

		m.mu.Lock()
		m.snapshot = next
		m.mu.Unlock()
		return nil, nil
	})
}

// Start launches the periodic refresh loop. Call Stop to halt it.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Refresh(loopCtx)
				m.logger.Debug("backend: health refreshed", "backends", len(m.backends))
			}
		}
	}()
}

// Stop halts the refresh loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}
