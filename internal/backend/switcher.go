package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kaigi/internal/model"
	"github.com/ashita-ai/kaigi/internal/telemetry"
)

// ErrNoBackend is returned when selection resolves to fallback because
// no execution engine is available.
var ErrNoBackend = errors.New("backend: no execution backend available")

// SwitcherConfig tunes the switcher.
type SwitcherConfig struct {
	Thresholds Thresholds
	// HybridAttempts is the total submission budget for a hybrid run,
	// alternating between the two engines.
	HybridAttempts int
	// HistorySize bounds the decision history ring.
	HistorySize int
}

// DefaultSwitcherConfig returns the stock switching policy.
func DefaultSwitcherConfig() SwitcherConfig {
	return SwitcherConfig{
		Thresholds:     DefaultThresholds(),
		HybridAttempts: 2,
		HistorySize:    1000,
	}
}

// Switcher routes workflow jobs to an execution engine: selection via the
// health snapshot, explicit override bypass, and automatic failover when
// an engine errors.
type Switcher struct {
	backends map[model.BackendMode]Backend
	monitor  *Monitor
	logger   *slog.Logger
	cfg      SwitcherConfig
	history  *decisionRing

	decisions metric.Int64Counter
}

// NewSwitcher creates a switcher over the given engines.
func NewSwitcher(monitor *Monitor, logger *slog.Logger, cfg SwitcherConfig, backends ...Backend) *Switcher {
	byMode := make(map[model.BackendMode]Backend, len(backends))
	for _, b := range backends {
		byMode[b.Mode()] = b
	}

	meter := telemetry.Meter("kaigi/backend")
	decisions, _ := meter.Int64Counter("kaigi.backend.decisions",
		metric.WithDescription("Backend selection decisions by mode and outcome"))

	return &Switcher{
		backends:  byMode,
		monitor:   monitor,
		logger:    logger,
		cfg:       cfg,
		history:   newDecisionRing(cfg.HistorySize),
		decisions: decisions,
	}
}

// Execute routes one job. A non-empty override bypasses selection
// entirely; otherwise the selector scores the latest health snapshot.
//
// Engine errors trigger automatic failover to the alternate engine. A
// result that came back unsuccessful is not retried unless the run is
// hybrid; it is recorded as feedback in the decision history and handed
// to the caller as-is.
func (s *Switcher) Execute(ctx context.Context, job Job, override model.BackendMode) (model.WorkflowResult, model.BackendDecision, error) {
	decision := s.decide(job, override)
	s.logger.Info("backend: routing job",
		"subject_id", job.SubjectID, "mode", string(decision.Mode),
		"reason", decision.Reason, "confidence", decision.Confidence)

	var (
		res model.WorkflowResult
		err error
	)
	switch decision.Mode {
	case model.ModeFallback:
		err = ErrNoBackend
	case model.ModeHybrid:
		res, err = s.executeHybrid(ctx, job)
	default:
		res, err = s.executeWithFailover(ctx, job, decision.Mode)
	}

	s.record(ctx, decision, res, err)
	return res, decision, err
}

func (s *Switcher) decide(job Job, override model.BackendMode) model.BackendDecision {
	if override != "" {
		return model.BackendDecision{
			Mode:         override,
			Reason:       "explicit caller override",
			Confidence:   1.0,
			Alternatives: []model.BackendMode{},
			Timestamp:    time.Now().UTC(),
		}
	}
	meta := model.RequestMeta{
		Complexity: job.Config.Complexity,
		Priority:   job.Config.PriorityBackend,
	}
	return SelectBackend(meta, s.monitor.Snapshot(), s.cfg.Thresholds)
}

// executeWithFailover runs on the chosen engine and fails over to the
// alternate only when the engine itself errors.
func (s *Switcher) executeWithFailover(ctx context.Context, job Job, mode model.BackendMode) (model.WorkflowResult, error) {
	res, err := s.runOn(ctx, job, mode)
	if err == nil {
		return res, nil
	}

	alt, ok := alternate(mode)
	if !ok || s.backends[alt] == nil {
		return model.WorkflowResult{}, err
	}
	s.logger.Warn("backend: failing over",
		"subject_id", job.SubjectID, "from", string(mode), "to", string(alt), "error", err)

	altRes, altErr := s.runOn(ctx, job, alt)
	if altErr != nil {
		return model.WorkflowResult{}, fmt.Errorf("backend: both engines failed: %s: %v; %s: %v",
			mode, err, alt, altErr)
	}
	return altRes, nil
}

// executeHybrid alternates between the engines within the attempt budget.
// Under hybrid, an unsuccessful result also counts as a failed attempt.
// Exhausting the budget surfaces a composite error carrying every
// attempt's failure.
func (s *Switcher) executeHybrid(ctx context.Context, job Job) (model.WorkflowResult, error) {
	attempts := s.cfg.HybridAttempts
	if attempts < 1 {
		attempts = 1
	}

	mode := s.preferredMode()
	var failures []string
	var lastRes model.WorkflowResult
	haveRes := false

	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := s.runOn(ctx, job, mode)
		if err == nil && res.Succeeded() {
			return res, nil
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", mode, err))
		} else {
			failures = append(failures, fmt.Sprintf("%s: workflow failed: %s", mode, res.Error))
			lastRes, haveRes = res, true
		}
		if alt, ok := alternate(mode); ok && s.backends[alt] != nil {
			mode = alt
		}
	}

	if haveRes {
		// A terminal-but-failed workflow result is still inspectable;
		// prefer it over a bare error, but carry every attempt's failure
		// so the earlier ones are not lost.
		lastRes.Error = "hybrid attempts exhausted: " + joinFailures(failures)
		return lastRes, nil
	}
	return model.WorkflowResult{}, fmt.Errorf("backend: hybrid budget exhausted: %s",
		joinFailures(failures))
}

func (s *Switcher) runOn(ctx context.Context, job Job, mode model.BackendMode) (model.WorkflowResult, error) {
	b, ok := s.backends[mode]
	if !ok {
		return model.WorkflowResult{}, fmt.Errorf("backend: no engine registered for mode %s", mode)
	}
	h, err := b.Submit(ctx, job)
	if err != nil {
		return model.WorkflowResult{}, err
	}
	return h.Result(ctx)
}

// preferredMode picks the hybrid starting engine: durable when available,
// otherwise graph.
func (s *Switcher) preferredMode() model.BackendMode {
	snap := s.monitor.Snapshot()
	for _, mode := range candidateOrder {
		if snap[mode].Available && s.backends[mode] != nil {
			return mode
		}
	}
	return model.ModeDurable
}

func (s *Switcher) record(ctx context.Context, decision model.BackendDecision, res model.WorkflowResult, err error) {
	outcome := DecisionOutcome{Decision: decision, Succeeded: err == nil && res.Succeeded()}
	if err != nil {
		outcome.Error = err.Error()
	}
	s.history.add(outcome)

	status := "success"
	if !outcome.Succeeded {
		status = "failure"
	}
	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(decision.Mode)),
		attribute.String("outcome", status),
	))
}

// History returns a copy of the retained decision outcomes, oldest first.
func (s *Switcher) History() []DecisionOutcome {
	return s.history.list()
}

func alternate(mode model.BackendMode) (model.BackendMode, bool) {
	switch mode {
	case model.ModeDurable:
		return model.ModeGraph, true
	case model.ModeGraph:
		return model.ModeDurable, true
	default:
		return "", false
	}
}

func joinFailures(failures []string) string {
	out := ""
	for i, f := range failures {
		if i > 0 {
			out += "; "
		}
		out += f
	}
	return out
}

// DecisionOutcome pairs a routing decision with what actually happened.
type DecisionOutcome struct {
	Decision  model.BackendDecision
	Succeeded bool
	Error     string
}

// decisionRing is a bounded append-only ring of recent decisions.
// Best-effort telemetry: a lost update under a race costs nothing.
type decisionRing struct {
	mu    sync.Mutex
	buf   []DecisionOutcome
	next  int
	count int
}

func newDecisionRing(size int) *decisionRing {
	if size < 1 {
		size = 1
	}
	return &decisionRing{buf: make([]DecisionOutcome, size)}
}

func (r *decisionRing) add(d DecisionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *decisionRing) list() []DecisionOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DecisionOutcome, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
