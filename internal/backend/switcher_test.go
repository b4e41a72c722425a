package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaigi/internal/model"
)

// fakeBackend scripts per-call behavior for switcher tests.
type fakeBackend struct {
	mode model.BackendMode

	mu        sync.Mutex
	calls     int
	submitErr error
	results   []model.WorkflowResult
	health    model.SystemHealthMetrics
}

func newFakeBackend(mode model.BackendMode) *fakeBackend {
	return &fakeBackend{
		mode:   mode,
		health: model.SystemHealthMetrics{Available: true},
	}
}

func (f *fakeBackend) Mode() model.BackendMode { return f.mode }

func (f *fakeBackend) Submit(ctx context.Context, job Job) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}

	res := completedResult(job.SubjectID)
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	h := newResultHandle()
	h.deliver(res)
	return h, nil
}

func (f *fakeBackend) Health(ctx context.Context) model.SystemHealthMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func completedResult(subjectID string) model.WorkflowResult {
	return model.WorkflowResult{
		SessionID: uuid.New(),
		SubjectID: subjectID,
		Stage:     model.StageCompleted,
	}
}

func failedResult(subjectID string) model.WorkflowResult {
	return model.WorkflowResult{
		SessionID: uuid.New(),
		SubjectID: subjectID,
		Stage:     model.StageFailed,
		Error:     "stage analysis: success threshold not met",
	}
}

func newTestSwitcher(t *testing.T, durable, graph *fakeBackend) *Switcher {
	t.Helper()
	monitor := NewMonitor(slog.Default(), durable, graph)
	return NewSwitcher(monitor, slog.Default(), DefaultSwitcherConfig(), durable, graph)
}

func TestExecute_OverrideBypassesSelection(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	graph := newFakeBackend(model.ModeGraph)
	s := newTestSwitcher(t, durable, graph)

	res, decision, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, model.ModeGraph)
	require.NoError(t, err)

	assert.Equal(t, model.ModeGraph, decision.Mode)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.Contains(t, decision.Reason, "override")
	assert.True(t, res.Succeeded())
	assert.Equal(t, 1, graph.callCount())
	assert.Equal(t, 0, durable.callCount())
}

func TestExecute_EngineErrorFailsOver(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	durable.submitErr = errors.New("journal unavailable")
	graph := newFakeBackend(model.ModeGraph)
	s := newTestSwitcher(t, durable, graph)

	res, _, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, model.ModeDurable)
	require.NoError(t, err, "failover absorbs the first engine's error")
	assert.True(t, res.Succeeded())
	assert.Equal(t, 1, durable.callCount())
	assert.Equal(t, 1, graph.callCount())
}

func TestExecute_BothEnginesFailingYieldsCompositeError(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	durable.submitErr = errors.New("journal unavailable")
	graph := newFakeBackend(model.ModeGraph)
	graph.submitErr = errors.New("engine closed")
	s := newTestSwitcher(t, durable, graph)

	_, _, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, model.ModeDurable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal unavailable")
	assert.Contains(t, err.Error(), "engine closed")
}

func TestExecute_UnsuccessfulResultIsNotRetried(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	durable.results = []model.WorkflowResult{failedResult("AAPL")}
	graph := newFakeBackend(model.ModeGraph)
	s := newTestSwitcher(t, durable, graph)

	res, _, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, model.ModeDurable)
	require.NoError(t, err, "a terminal failed workflow is a result, not an error")
	assert.False(t, res.Succeeded())
	assert.Equal(t, 0, graph.callCount(), "degraded results never trigger failover outside hybrid")

	hist := s.History()
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Succeeded, "the failure feeds the decision history")
}

func TestExecute_HybridRetriesUnsuccessfulResult(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	durable.results = []model.WorkflowResult{failedResult("AAPL")}
	graph := newFakeBackend(model.ModeGraph)
	s := newTestSwitcher(t, durable, graph)

	res, decision, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, model.ModeHybrid)
	require.NoError(t, err)
	assert.Equal(t, model.ModeHybrid, decision.Mode)
	assert.True(t, res.Succeeded(), "hybrid retries a failed result on the alternate engine")
	assert.Equal(t, 1, durable.callCount())
	assert.Equal(t, 1, graph.callCount())
}

func TestExecute_HybridBudgetExhaustedCarriesBothErrors(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	durable.submitErr = errors.New("durable down")
	graph := newFakeBackend(model.ModeGraph)
	graph.submitErr = errors.New("graph down")
	s := newTestSwitcher(t, durable, graph)

	_, _, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, model.ModeHybrid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "durable down")
	assert.Contains(t, err.Error(), "graph down")
}

func TestExecute_HybridExhaustedResultCarriesAllFailures(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	durableFail := failedResult("AAPL")
	durableFail.Error = "stage analysis: success threshold not met"
	durable.results = []model.WorkflowResult{durableFail}

	graph := newFakeBackend(model.ModeGraph)
	graphFail := failedResult("AAPL")
	graphFail.Error = "stage trading_decision: success threshold not met"
	graph.results = []model.WorkflowResult{graphFail}

	s := newTestSwitcher(t, durable, graph)

	res, _, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, model.ModeHybrid)
	require.NoError(t, err, "a terminal failed workflow is a result, not an error")
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Error, "stage analysis: success threshold not met")
	assert.Contains(t, res.Error, "stage trading_decision: success threshold not met")
	assert.Contains(t, res.Error, string(model.ModeDurable))
	assert.Contains(t, res.Error, string(model.ModeGraph))
}

func TestExecute_NoBackendAvailable(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	durable.health = model.SystemHealthMetrics{Available: false}
	graph := newFakeBackend(model.ModeGraph)
	graph.health = model.SystemHealthMetrics{Available: false}
	s := newTestSwitcher(t, durable, graph)

	_, decision, err := s.Execute(context.Background(), Job{SubjectID: "AAPL"}, "")
	require.ErrorIs(t, err, ErrNoBackend)
	assert.Equal(t, model.ModeFallback, decision.Mode)
	assert.Equal(t, 1.0, decision.Confidence)
}

func TestHistory_RingIsBounded(t *testing.T) {
	ring := newDecisionRing(3)
	for i := 0; i < 10; i++ {
		ring.add(DecisionOutcome{Decision: model.BackendDecision{Reason: string(rune('a' + i))}})
	}

	got := ring.list()
	require.Len(t, got, 3)
	assert.Equal(t, "h", got[0].Decision.Reason)
	assert.Equal(t, "j", got[2].Decision.Reason, "oldest entries are overwritten first")
}

func TestMonitor_SnapshotRefreshes(t *testing.T) {
	durable := newFakeBackend(model.ModeDurable)
	graph := newFakeBackend(model.ModeGraph)
	m := NewMonitor(slog.Default(), durable, graph)

	snap := m.Snapshot()
	assert.True(t, snap[model.ModeDurable].Available)
	assert.True(t, snap[model.ModeGraph].Available)

	durable.mu.Lock()
	durable.health = model.SystemHealthMetrics{Available: false}
	durable.mu.Unlock()

	m.Refresh(context.Background())
	snap = m.Snapshot()
	assert.False(t, snap[model.ModeDurable].Available)
	assert.True(t, snap[model.ModeGraph].Available)
}
