// Package orchestrator sequences the analysis pipeline: it owns stage
// transitions, delegates fan-outs to the stage executor and the debate
// coordinator, and aggregates agent verdicts into the final result.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kaigi/internal/debate"
	"github.com/ashita-ai/kaigi/internal/model"
	"github.com/ashita-ai/kaigi/internal/session"
	"github.com/ashita-ai/kaigi/internal/stage"
	"github.com/ashita-ai/kaigi/internal/telemetry"
)

// Options are the orchestrator-level defaults. Per-run values in
// model.WorkflowConfig override them where set.
type Options struct {
	MaxDebateRounds int
	AnalysisTimeout time.Duration
	DebateTimeout   time.Duration
	DecisionTimeout time.Duration
}

// DefaultOptions returns the stock pipeline policy.
func DefaultOptions() Options {
	return Options{
		MaxDebateRounds: 3,
		AnalysisTimeout: 5 * time.Minute,
		DebateTimeout:   10 * time.Minute,
		DecisionTimeout: 5 * time.Minute,
	}
}

// Orchestrator drives workflow sessions through the fixed stage order.
type Orchestrator struct {
	sessions *session.Store
	executor *stage.Executor
	debates  *debate.Coordinator
	logger   *slog.Logger
	opts     Options

	workflows metric.Int64Counter
	duration  metric.Float64Histogram
}

// New creates an orchestrator.
func New(sessions *session.Store, executor *stage.Executor, debates *debate.Coordinator, logger *slog.Logger, opts Options) *Orchestrator {
	meter := telemetry.Meter("kaigi/orchestrator")
	workflows, _ := meter.Int64Counter("kaigi.workflows",
		metric.WithDescription("Workflow runs by terminal stage"))
	duration, _ := meter.Float64Histogram("kaigi.workflow.duration_seconds",
		metric.WithDescription("End-to-end workflow duration"))

	return &Orchestrator{
		sessions:  sessions,
		executor:  executor,
		debates:   debates,
		logger:    logger,
		opts:      opts,
		workflows: workflows,
		duration:  duration,
	}
}

// ExecuteWorkflow runs the full pipeline for one subject and always
// returns an inspectable result. Stage failures never panic or surface as
// a Go error: a stage that cannot meet its success threshold moves the
// session to the failed state and the partial result carries everything
// gathered up to that point, with Error describing the failure.
//
// Stages without a StageAgents entry are skipped, except the research
// debate which falls back to a plain fan-out when it has fewer than the
// three roles (proponent, opponent, judge) the sub-protocol needs.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, subjectID string, cfg model.WorkflowConfig) model.WorkflowResult {
	sess := o.sessions.Create(subjectID)
	res := model.WorkflowResult{
		SessionID: sess.ID,
		SubjectID: subjectID,
		StartedAt: time.Now().UTC(),
	}
	o.logger.Info("workflow: started", "session_id", sess.ID, "subject_id", subjectID)

	o.setStatus(sess.ID, model.StageInit, model.StageDone)

	for _, stageID := range workStages {
		agents := cfg.StageAgents[stageID]
		if len(agents) == 0 {
			o.setStatus(sess.ID, stageID, model.StageSkipped)
			continue
		}

		o.enterStage(sess.ID, stageID)

		var failErr error
		if stageID == model.StageResearchDebate && len(agents) >= 3 {
			failErr = o.runDebate(ctx, sess.ID, subjectID, agents, cfg, &res)
		} else {
			failErr = o.runFanOut(ctx, sess.ID, stageID, subjectID, agents, &res)
		}
		if failErr != nil {
			o.setStatus(sess.ID, stageID, model.StageErrored)
			return o.fail(sess.ID, stageID, failErr, res)
		}
		o.setStatus(sess.ID, stageID, model.StageDone)
	}

	o.advance(sess.ID, model.StageCompleted)
	o.aggregate(&res)
	res.Stage = model.StageCompleted
	res.StageProgress = o.progress(sess.ID)
	res.CompletedAt = time.Now().UTC()

	o.finish(ctx, res)
	return res
}

// workStages are the stages that dispatch agents, in order. Init and the
// terminal stages carry no work of their own.
var workStages = []model.StageID{
	model.StageAnalysis,
	model.StageResearchDebate,
	model.StageTradingDecision,
	model.StageRiskAssessment,
	model.StageFinalDecision,
	model.StageReflection,
}

func (o *Orchestrator) runFanOut(ctx context.Context, sessionID uuid.UUID, stageID model.StageID, subjectID string, agents []string, res *model.WorkflowResult) error {
	prompt := o.stagePrompt(stageID, subjectID, res)
	results, status := o.executor.RunStage(ctx, sessionID, stageID, agents, prompt, o.stageTimeout(stageID))
	res.Results = append(res.Results, results...)
	if status == model.StageErrored {
		return fmt.Errorf("orchestrator: stage %s: success threshold not met", stageID)
	}
	return nil
}

// runDebate maps the first three configured agents onto the proponent,
// opponent and judge roles.
func (o *Orchestrator) runDebate(ctx context.Context, sessionID uuid.UUID, subjectID string, agents []string, cfg model.WorkflowConfig, res *model.WorkflowResult) error {
	maxRounds := cfg.MaxDebateRounds
	if maxRounds == 0 {
		maxRounds = o.opts.MaxDebateRounds
	}
	dctx := ctx
	if o.opts.DebateTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, o.opts.DebateTimeout)
		defer cancel()
	}

	dres, err := o.debates.Run(dctx, sessionID, fmt.Sprintf("How should we act on %s?", subjectID), debate.Config{
		ProponentType: agents[0],
		OpponentType:  agents[1],
		JudgeType:     agents[2],
		MaxRounds:     maxRounds,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: debate: %w", err)
	}

	res.Results = append(res.Results, dres.Verdict)
	res.DebateSummary = dres.Summary()
	return nil
}

func (o *Orchestrator) stagePrompt(stageID model.StageID, subjectID string, res *model.WorkflowResult) string {
	switch stageID {
	case model.StageAnalysis:
		return fmt.Sprintf("Analyze %s from your specialty's perspective.", subjectID)
	case model.StageResearchDebate:
		return fmt.Sprintf("Research the case for and against acting on %s.", subjectID)
	case model.StageTradingDecision:
		return fmt.Sprintf("Propose a concrete decision for %s based on the prior findings.", subjectID)
	case model.StageRiskAssessment:
		return fmt.Sprintf("Assess the risks of the proposed decision for %s.", subjectID)
	case model.StageFinalDecision:
		return fmt.Sprintf("Render the final decision for %s, weighing analysis, debate and risk.", subjectID)
	case model.StageReflection:
		// Reflection sees the consensus so it can critique the run itself.
		snapshot := *res
		o.aggregate(&snapshot)
		return fmt.Sprintf(
			"Reflect on the completed run for %s. Consensus recommendation: %q (ratio %.2f). Identify what the process missed.",
			subjectID, snapshot.Recommendation, snapshot.ConsensusRatio)
	default:
		return fmt.Sprintf("Contribute your assessment of %s.", subjectID)
	}
}

func (o *Orchestrator) stageTimeout(stageID model.StageID) time.Duration {
	switch stageID {
	case model.StageAnalysis:
		return o.opts.AnalysisTimeout
	case model.StageResearchDebate:
		return o.opts.DebateTimeout
	default:
		return o.opts.DecisionTimeout
	}
}

// aggregate computes the cross-agent consensus: mean of the scores that
// were produced, the plurality recommendation with ties broken by first
// appearance, and the consensus ratio (plurality share of all votes).
func (o *Orchestrator) aggregate(res *model.WorkflowResult) {
	var (
		scoreSum   float64
		scoreCount int
		votes      = map[string]int{}
		order      []string
	)
	for _, r := range res.Results {
		if r.Score != nil {
			scoreSum += *r.Score
			scoreCount++
		}
		if r.Recommendation != "" {
			if votes[r.Recommendation] == 0 {
				order = append(order, r.Recommendation)
			}
			votes[r.Recommendation]++
		}
	}

	if scoreCount > 0 {
		mean := scoreSum / float64(scoreCount)
		res.AggregateScore = &mean
	}

	total := 0
	for _, n := range votes {
		total += n
	}
	best, bestN := "", 0
	for _, rec := range order {
		if votes[rec] > bestN {
			best, bestN = rec, votes[rec]
		}
	}
	res.Recommendation = best
	if total > 0 {
		res.ConsensusRatio = float64(bestN) / float64(total)
	} else {
		res.ConsensusRatio = 0
	}
}

// fail moves the session to the absorbing failed state and seals the
// partial result.
func (o *Orchestrator) fail(sessionID uuid.UUID, stageID model.StageID, cause error, res model.WorkflowResult) model.WorkflowResult {
	o.advance(sessionID, model.StageFailed)
	o.aggregate(&res)
	res.Stage = model.StageFailed
	res.StageProgress = o.progress(sessionID)
	res.Error = cause.Error()
	res.CompletedAt = time.Now().UTC()

	o.logger.Error("workflow: failed",
		"session_id", sessionID, "stage", stageID, "error", cause)
	o.finish(context.Background(), res)
	return res
}

func (o *Orchestrator) finish(ctx context.Context, res model.WorkflowResult) {
	elapsed := res.CompletedAt.Sub(res.StartedAt).Seconds()
	o.workflows.Add(ctx, 1, metric.WithAttributes(attribute.String("terminal_stage", string(res.Stage))))
	o.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("terminal_stage", string(res.Stage))))
	o.logger.Info("workflow: finished",
		"session_id", res.SessionID, "stage", string(res.Stage),
		"results", len(res.Results), "elapsed_s", elapsed)
}

// enterStage advances the session pointer and flips the stage in progress.
func (o *Orchestrator) enterStage(sessionID uuid.UUID, stageID model.StageID) {
	o.sessions.Apply(sessionID, func(sess model.WorkflowSession) model.WorkflowSession {
		if model.CanTransition(sess.Stage, stageID) {
			sess.Stage = stageID
		}
		sess.StageStatus[stageID] = model.StageInProgress
		return sess
	})
}

func (o *Orchestrator) setStatus(sessionID uuid.UUID, stageID model.StageID, status model.StageStatus) {
	o.sessions.Apply(sessionID, func(sess model.WorkflowSession) model.WorkflowSession {
		sess.StageStatus[stageID] = status
		return sess
	})
}

func (o *Orchestrator) advance(sessionID uuid.UUID, to model.StageID) {
	o.sessions.Apply(sessionID, func(sess model.WorkflowSession) model.WorkflowSession {
		if model.CanTransition(sess.Stage, to) {
			sess.Stage = to
		}
		if to == model.StageCompleted {
			sess.StageStatus[model.StageCompleted] = model.StageDone
		}
		return sess
	})
}

func (o *Orchestrator) progress(sessionID uuid.UUID) map[model.StageID]model.StageStatus {
	sess, ok := o.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.StageStatus
}

// GetSessionState returns a copy of the live session, if it still exists.
// Sessions outlive their run until the store's TTL sweep collects them.
func (o *Orchestrator) GetSessionState(id uuid.UUID) (model.WorkflowSession, bool) {
	return o.sessions.Get(id)
}
