// Package kaigi is the public API for embedding the Kaigi decision
// workflow orchestrator.
//
// Consumers register their agents, then run workflows:
//
//	app, err := kaigi.New(
//	    kaigi.WithLogger(logger),
//	    kaigi.WithTextAgent("market", "Market Analyst", completer),
//	    kaigi.WithAgent("risk", "Risk Desk", myRiskAgent),
//	)
//	if err != nil { ... }
//	app.Start(ctx)
//	defer app.Shutdown(context.Background())
//	res, err := app.Execute(ctx, "AAPL", spec)
//
// The import graph enforces a strict no-cycle rule: kaigi (root) imports
// internal/*, but internal/* never imports kaigi (root). Public types
// (WorkflowSpec, Result, Verdict) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file
// that sees both sides of the boundary.
package kaigi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/kaigi/internal/agent"
	"github.com/ashita-ai/kaigi/internal/backend"
	"github.com/ashita-ai/kaigi/internal/config"
	"github.com/ashita-ai/kaigi/internal/debate"
	"github.com/ashita-ai/kaigi/internal/model"
	"github.com/ashita-ai/kaigi/internal/orchestrator"
	"github.com/ashita-ai/kaigi/internal/ratelimit"
	"github.com/ashita-ai/kaigi/internal/session"
	"github.com/ashita-ai/kaigi/internal/stage"
	"github.com/ashita-ai/kaigi/internal/storage"
	"github.com/ashita-ai/kaigi/internal/telemetry"
	"github.com/ashita-ai/kaigi/migrations"
)

// defaultEngineCapacity bounds each engine's load metric denominator.
const defaultEngineCapacity = 16

// App is the Kaigi orchestrator lifecycle. Construct with New(), start
// background loops with Start(), run workflows with Execute().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	version  string
	records  storage.RecordStore // nil when audit is disabled
	lite     *storage.Lite
	sessions *session.Store
	orch     *orchestrator.Orchestrator
	monitor  *backend.Monitor
	switcher *backend.Switcher
	durable  *backend.DurableEngine
	graph    *backend.GraphEngine
	limiter  ratelimit.Limiter

	otelShutdown func(context.Context) error

	retentionCancel context.CancelFunc
	retentionDone   chan struct{}
}

// New initialises the orchestrator: loads configuration, opens the audit
// store and journal, registers agents, and wires both execution engines.
// It does NOT start any goroutines — call Start().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.retryCount > 0 {
		cfg.RetryCount = o.retryCount
	}
	if o.backoffBase > 0 {
		cfg.BackoffBase = o.backoffBase
	}
	if o.callTimeout > 0 {
		cfg.CallTimeout = o.callTimeout
	}
	if o.minSuccess > 0 {
		cfg.MinSuccess = o.minSuccess
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kaigi starting", "version", version, "agents", len(o.agents))

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// The embedded store always opens: the durable engine journals into
	// it even when Postgres carries the audit trail.
	lite, err := storage.OpenLite(cfg.SQLitePath, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	var records storage.RecordStore
	switch {
	case o.disableAudit:
		logger.Warn("audit trail disabled, invocations will not be recorded")
	case cfg.DatabaseURL != "":
		db, dbErr := storage.New(context.Background(), cfg.DatabaseURL, logger)
		if dbErr == nil {
			dbErr = db.RunMigrations(context.Background(), migrations.FS)
		}
		if dbErr != nil {
			_ = lite.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", dbErr)
		}
		records = db
		logger.Info("audit store: postgres")
	default:
		records = lite
		logger.Info("audit store: sqlite", "path", cfg.SQLitePath)
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if o.rateLimitPerSecond > 0 {
		limiter = ratelimit.NewMemoryLimiter(o.rateLimitPerSecond, o.rateLimitBurst)
		logger.Info("agent rate limiting: memory (in-process token bucket)",
			"per_second", o.rateLimitPerSecond, "burst", o.rateLimitBurst)
	}

	registry := agent.NewRegistry()
	for _, reg := range o.agents {
		impl, regErr := buildAgent(reg, limiter)
		if regErr == nil {
			regErr = registry.Register(reg.agentType, impl)
		}
		if regErr != nil {
			closeQuietly(records, lite, limiter, otelShutdown)
			return nil, fmt.Errorf("agent %q: %w", reg.agentType, regErr)
		}
	}

	runner := agent.NewRunner(registry, records, logger, agent.RunnerConfig{
		RetryCount:  cfg.RetryCount,
		BackoffBase: cfg.BackoffBase,
		CallTimeout: cfg.CallTimeout,
	})
	sessions := session.NewStore(logger, cfg.SessionTTL)
	executor := stage.NewExecutor(runner, sessions, logger, cfg.MinSuccess)
	debates := debate.NewCoordinator(runner, sessions, logger)
	orch := orchestrator.New(sessions, executor, debates, logger, orchestrator.Options{
		MaxDebateRounds: cfg.MaxDebateRounds,
		AnalysisTimeout: cfg.AnalysisTimeout,
		DebateTimeout:   cfg.DebateTimeout,
		DecisionTimeout: cfg.DecisionTimeout,
	})

	workflow := backend.WorkflowFunc(func(ctx context.Context, subjectID string, wcfg model.WorkflowConfig) model.WorkflowResult {
		return orch.ExecuteWorkflow(ctx, subjectID, wcfg)
	})
	durable := backend.NewDurableEngine(workflow, lite, logger, defaultEngineCapacity)
	graph := backend.NewGraphEngine(workflow, logger, defaultEngineCapacity)
	monitor := backend.NewMonitor(logger, durable, graph)
	switcher := backend.NewSwitcher(monitor, logger, backend.SwitcherConfig{
		Thresholds: backend.Thresholds{
			Complexity: cfg.ComplexityThreshold,
			Load:       cfg.LoadThreshold,
			ErrorRate:  cfg.ErrorRateThreshold,
		},
		HybridAttempts: cfg.HybridRetryAttempts,
		HistorySize:    cfg.DecisionHistorySize,
	}, durable, graph)

	return &App{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		records:      records,
		lite:         lite,
		sessions:     sessions,
		orch:         orch,
		monitor:      monitor,
		switcher:     switcher,
		durable:      durable,
		graph:        graph,
		limiter:      limiter,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background loops: session TTL sweep, backend health
// refresh, and the audit retention sweep when configured.
func (a *App) Start(ctx context.Context) {
	a.sessions.Start(ctx, a.cfg.SweepInterval)
	a.monitor.Start(ctx, a.cfg.HealthInterval)

	if a.cfg.RetentionDays > 0 && a.records != nil {
		loopCtx, cancel := context.WithCancel(ctx)
		a.retentionCancel = cancel
		a.retentionDone = make(chan struct{})
		go a.retentionLoop(loopCtx)
	}
}

// Execute runs the full workflow for one subject, routed through backend
// selection. It blocks until the run reaches a terminal stage; a run
// whose stages failed still returns a Result (with Err set), not an
// error. Errors are reserved for total conditions, e.g. no backend
// available.
func (a *App) Execute(ctx context.Context, subjectID string, spec WorkflowSpec) (Result, error) {
	return a.execute(ctx, subjectID, spec, "")
}

// ExecuteOn bypasses backend selection and runs on the named engine.
func (a *App) ExecuteOn(ctx context.Context, subjectID string, spec WorkflowSpec, on Backend) (Result, error) {
	if on == "" {
		return Result{}, fmt.Errorf("kaigi: ExecuteOn requires a backend")
	}
	return a.execute(ctx, subjectID, spec, on)
}

func (a *App) execute(ctx context.Context, subjectID string, spec WorkflowSpec, override Backend) (Result, error) {
	if subjectID == "" {
		return Result{}, fmt.Errorf("kaigi: subject ID is required")
	}

	job := backend.Job{SubjectID: subjectID, Config: toModelConfig(spec)}
	res, decision, err := a.switcher.Execute(ctx, job, model.BackendMode(override))
	if err != nil {
		return Result{}, err
	}
	return toPublicResult(res, decision), nil
}

// Session returns a read-only snapshot of a session, or false when it is
// unknown or already swept. Absence is a normal terminal case for status
// polls, not an error.
func (a *App) Session(id uuid.UUID) (SessionView, bool) {
	sess, ok := a.orch.GetSessionState(id)
	if !ok {
		return SessionView{}, false
	}
	return toPublicSession(sess), true
}

// Invocations queries the audit trail.
func (a *App) Invocations(ctx context.Context, filter InvocationFilter) ([]Invocation, error) {
	if a.records == nil {
		return nil, fmt.Errorf("kaigi: audit trail is disabled")
	}
	mf := model.RecordFilter{
		SessionID: filter.SessionID,
		From:      filter.From,
		To:        filter.To,
		Limit:     filter.Limit,
	}
	if filter.AgentType != "" {
		mf.AgentType = &filter.AgentType
	}
	if filter.Status != "" {
		status := model.InvocationStatus(filter.Status)
		mf.Status = &status
	}
	recs, err := a.records.QueryInvocations(ctx, mf)
	if err != nil {
		return nil, err
	}
	out := make([]Invocation, len(recs))
	for i, rec := range recs {
		out[i] = toPublicInvocation(rec)
	}
	return out, nil
}

// Stats aggregates the audit trail per agent type and model.
func (a *App) Stats(ctx context.Context) ([]TypeStats, error) {
	if a.records == nil {
		return nil, fmt.Errorf("kaigi: audit trail is disabled")
	}
	stats, err := a.records.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TypeStats, len(stats))
	for i, s := range stats {
		out[i] = TypeStats{
			AgentType:    s.AgentType,
			Model:        s.Model,
			Count:        s.Count,
			SuccessCount: s.SuccessCount,
			SuccessRate:  s.SuccessRate,
			AvgLatencyMs: s.AvgLatencyMs,
			TotalTokens:  s.TotalTokens,
		}
	}
	return out, nil
}

// CleanupOlderThan soft-retires audit records older than the given number
// of days and returns how many were retired.
func (a *App) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if a.records == nil {
		return 0, fmt.Errorf("kaigi: audit trail is disabled")
	}
	return a.records.CleanupOlderThan(ctx, days)
}

// Shutdown stops the background loops, closes both engines, and releases
// the stores and telemetry provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kaigi shutting down")

	if a.retentionCancel != nil {
		a.retentionCancel()
		<-a.retentionDone
	}
	a.monitor.Stop()
	a.sessions.Stop()
	a.durable.Close()
	a.graph.Close()
	_ = a.limiter.Close()

	if a.records != nil && a.records != storage.RecordStore(a.lite) {
		if err := a.records.Close(ctx); err != nil {
			a.logger.Error("audit store close error", "error", err)
		}
	}
	if err := a.lite.Close(ctx); err != nil {
		a.logger.Error("journal close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("kaigi stopped")
	return nil
}

func (a *App) retentionLoop(ctx context.Context) {
	defer close(a.retentionDone)
	ticker := time.NewTicker(a.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			retired, err := a.records.CleanupOlderThan(opCtx, a.cfg.RetentionDays)
			cancel()
			if err != nil {
				a.logger.Warn("retention sweep failed", "error", err)
				continue
			}
			if retired > 0 {
				a.logger.Info("retention sweep retired records", "retired", retired)
			}
		}
	}
}

// ── Adapters (defined here because this file imports both sides) ──────────

// buildAgent wires one registration into the internal capability
// interface, with the rate limiter in front.
func buildAgent(reg agentRegistration, limiter ratelimit.Limiter) (agent.Agent, error) {
	switch {
	case reg.agent != nil:
		return &publicAgentAdapter{
			agentType: reg.agentType,
			name:      reg.name,
			inner:     reg.agent,
			limiter:   limiter,
		}, nil
	case reg.completer != nil:
		inner := agent.NewTextAgent(reg.agentType, reg.name, func(ctx context.Context, prompt string) (agent.Completion, error) {
			comp, err := reg.completer(ctx, prompt)
			if err != nil {
				return agent.Completion{}, err
			}
			return agent.Completion{
				Content: comp.Content,
				Model:   comp.Model,
				Tokens:  model.TokenUsage{Total: comp.Tokens},
			}, nil
		}, nil)
		return &limitedAgent{agentType: reg.agentType, inner: inner, limiter: limiter}, nil
	default:
		return nil, fmt.Errorf("no implementation provided")
	}
}

// limitedAgent enforces the per-type rate limit in front of an internal
// agent. A throttled call surfaces as a rate-limit error, which the
// runner's transient retry policy absorbs.
type limitedAgent struct {
	agentType string
	inner     agent.Agent
	limiter   ratelimit.Limiter
}

func (l *limitedAgent) Invoke(ctx context.Context, in agent.Input) (model.AgentResult, error) {
	ok, err := l.limiter.Allow(ctx, l.agentType)
	if err == nil && !ok {
		return model.AgentResult{}, model.NewAgentError(model.KindRateLimit, l.agentType,
			fmt.Errorf("local rate limit exceeded"))
	}
	// Limiter malfunction fails open.
	return l.inner.Invoke(ctx, in)
}

// publicAgentAdapter converts between the public Agent interface and the
// internal one, applying the rate limit like limitedAgent.
type publicAgentAdapter struct {
	agentType string
	name      string
	inner     Agent
	limiter   ratelimit.Limiter
}

func (p *publicAgentAdapter) Invoke(ctx context.Context, in agent.Input) (model.AgentResult, error) {
	ok, err := p.limiter.Allow(ctx, p.agentType)
	if err == nil && !ok {
		return model.AgentResult{}, model.NewAgentError(model.KindRateLimit, p.agentType,
			fmt.Errorf("local rate limit exceeded"))
	}

	verdict, err := p.inner.Invoke(ctx, toPublicInput(in))
	if err != nil {
		return model.AgentResult{}, err
	}
	res := toModelResult(verdict)
	if res.AgentType == "" {
		res.AgentType = p.agentType
	}
	if res.AgentName == "" {
		res.AgentName = p.name
	}
	return res, nil
}

func closeQuietly(records storage.RecordStore, lite *storage.Lite, limiter ratelimit.Limiter, otelShutdown func(context.Context) error) {
	ctx := context.Background()
	if records != nil && records != storage.RecordStore(lite) {
		_ = records.Close(ctx)
	}
	_ = lite.Close(ctx)
	_ = limiter.Close()
	_ = otelShutdown(ctx)
}

// ── Type converters ───────────────────────────────────────────────────────

func toModelConfig(spec WorkflowSpec) model.WorkflowConfig {
	agents := make(map[model.StageID][]string, len(spec.StageAgents))
	for st, types := range spec.StageAgents {
		agents[model.StageID(st)] = append([]string(nil), types...)
	}
	return model.WorkflowConfig{
		StageAgents:     agents,
		MaxDebateRounds: spec.MaxDebateRounds,
		Complexity:      spec.Complexity,
		PriorityBackend: model.BackendMode(spec.Priority),
		Metadata:        spec.Metadata,
	}
}

func toModelResult(v Verdict) model.AgentResult {
	return model.AgentResult{
		AgentType:      v.AgentType,
		AgentName:      v.AgentName,
		Model:          v.Model,
		Analysis:       v.Analysis,
		Score:          v.Score,
		Confidence:     v.Confidence,
		Recommendation: v.Recommendation,
		Insights:       v.Insights,
		Risks:          v.Risks,
		TokensUsed:     v.TokensUsed,
	}
}

func toPublicInput(in agent.Input) Input {
	history := make([]Message, len(in.History))
	for i, msg := range in.History {
		history[i] = Message{
			AgentType: msg.AgentType,
			AgentName: msg.AgentName,
			Content:   msg.Content,
			Stage:     Stage(msg.Stage),
			Timestamp: msg.Timestamp,
		}
	}
	return Input{
		SessionID: in.SessionID,
		SubjectID: in.SubjectID,
		Stage:     Stage(in.Stage),
		Prompt:    in.Prompt,
		History:   history,
	}
}

func toPublicVerdict(r model.AgentResult) Verdict {
	return Verdict{
		AgentType:      r.AgentType,
		AgentName:      r.AgentName,
		Model:          r.Model,
		Analysis:       r.Analysis,
		Score:          r.Score,
		Confidence:     r.Confidence,
		Recommendation: r.Recommendation,
		Insights:       r.Insights,
		Risks:          r.Risks,
		TokensUsed:     r.TokensUsed,
	}
}

func toPublicResult(res model.WorkflowResult, decision model.BackendDecision) Result {
	progress := make(map[Stage]string, len(res.StageProgress))
	for st, status := range res.StageProgress {
		progress[Stage(st)] = string(status)
	}
	verdicts := make([]Verdict, len(res.Results))
	for i, r := range res.Results {
		verdicts[i] = toPublicVerdict(r)
	}
	return Result{
		SessionID:      res.SessionID,
		SubjectID:      res.SubjectID,
		Stage:          Stage(res.Stage),
		StageProgress:  progress,
		Verdicts:       verdicts,
		AggregateScore: res.AggregateScore,
		Recommendation: res.Recommendation,
		ConsensusRatio: res.ConsensusRatio,
		DebateSummary:  res.DebateSummary,
		BackendMode:    Backend(decision.Mode),
		BackendReason:  decision.Reason,
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
		Err:            res.Error,
	}
}

func toPublicSession(sess model.WorkflowSession) SessionView {
	status := make(map[Stage]string, len(sess.StageStatus))
	for st, s := range sess.StageStatus {
		status[Stage(st)] = string(s)
	}
	messages := make([]Message, len(sess.Messages))
	for i, msg := range sess.Messages {
		messages[i] = Message{
			AgentType: msg.AgentType,
			AgentName: msg.AgentName,
			Content:   msg.Content,
			Stage:     Stage(msg.Stage),
			Timestamp: msg.Timestamp,
		}
	}
	round := 0
	if sess.Debate != nil {
		round = sess.Debate.Round
	}
	return SessionView{
		ID:          sess.ID,
		SubjectID:   sess.SubjectID,
		Stage:       Stage(sess.Stage),
		StageStatus: status,
		Messages:    messages,
		DebateRound: round,
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
	}
}

func toPublicInvocation(rec model.AgentInvocationRecord) Invocation {
	inv := Invocation{
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		AgentType:   rec.AgentType,
		AgentName:   rec.AgentName,
		Model:       rec.Model,
		Status:      string(rec.Status),
		InputPrompt: rec.InputPrompt,
		Output:      rec.OutputContent,
		TokensUsed:  rec.Tokens.Total,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.ErrorCode != nil {
		inv.ErrorCode = *rec.ErrorCode
	}
	if rec.ErrorMessage != nil {
		inv.ErrorMessage = *rec.ErrorMessage
	}
	return inv
}
