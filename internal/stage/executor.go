// Package stage runs a set of agents concurrently for one pipeline stage,
// tolerating partial failure.
package stage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kaigi/internal/agent"
	"github.com/ashita-ai/kaigi/internal/model"
	"github.com/ashita-ai/kaigi/internal/session"
)

// Outcome is the tagged result of one fan-out task.
type Outcome struct {
	AgentType string
	Result    model.AgentResult
	Err       error
}

// Ok reports whether the task produced a usable result.
func (o Outcome) Ok() bool { return o.Err == nil }

// Executor dispatches stage fan-outs through the agent runner and applies
// the partial-success rule.
type Executor struct {
	runner   *agent.Runner
	sessions *session.Store
	logger   *slog.Logger
	// minSuccess is the number of agents that must succeed for the stage
	// to complete. The threshold is configurable because the "right"
	// minimum is a policy choice, not a law.
	minSuccess int
}

// NewExecutor creates a stage executor.
func NewExecutor(runner *agent.Runner, sessions *session.Store, logger *slog.Logger, minSuccess int) *Executor {
	if minSuccess < 1 {
		minSuccess = 1
	}
	return &Executor{runner: runner, sessions: sessions, logger: logger, minSuccess: minSuccess}
}

// RunStage dispatches all agents concurrently and joins their tagged
// outcomes. The stage completes when at least minSuccess agents succeed;
// individual failures are logged and excluded from the result set. Results
// already completed when the stage deadline expires are kept.
//
// Successful results are appended to the session's message log in
// completion order. No ordering is guaranteed among the agents themselves.
func (e *Executor) RunStage(ctx context.Context, sessionID uuid.UUID, stageID model.StageID, agentTypes []string, prompt string, timeout time.Duration) ([]model.AgentResult, model.StageStatus) {
	if len(agentTypes) == 0 {
		return nil, model.StageDone
	}

	stageCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	history := e.history(sessionID)

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	g, gctx := errgroup.WithContext(stageCtx)
	for _, agentType := range agentTypes {
		g.Go(func() error {
			in := agent.Input{
				SessionID: sessionID,
				SubjectID: e.subjectID(sessionID),
				Stage:     stageID,
				Prompt:    prompt,
				History:   history,
			}
			res, err := e.runner.Invoke(gctx, agentType, in)
			out := Outcome{AgentType: agentType, Result: res, Err: err}

			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()

			if err == nil {
				e.appendMessage(sessionID, stageID, res)
			}
			// Task errors are absorbed here; returning them would cancel
			// sibling agents through the errgroup.
			return nil
		})
	}
	_ = g.Wait()

	return e.join(sessionID, stageID, outcomes)
}

// join applies the partial-success rule deterministically over the tagged
// outcomes.
func (e *Executor) join(sessionID uuid.UUID, stageID model.StageID, outcomes []Outcome) ([]model.AgentResult, model.StageStatus) {
	var results []model.AgentResult
	for _, o := range outcomes {
		if o.Ok() {
			results = append(results, o.Result)
			continue
		}
		e.logger.Warn("stage: agent failed",
			"session_id", sessionID, "stage", stageID, "agent_type", o.AgentType, "error", o.Err)
	}

	status := model.StageDone
	if len(results) < e.minSuccess {
		status = model.StageErrored
	}
	e.logger.Info("stage: fan-out joined",
		"session_id", sessionID, "stage", stageID,
		"dispatched", len(outcomes), "succeeded", len(results), "status", string(status))
	return results, status
}

func (e *Executor) history(sessionID uuid.UUID) []model.AgentMessage {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.Messages
}

func (e *Executor) subjectID(sessionID uuid.UUID) string {
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		return ""
	}
	return sess.SubjectID
}

func (e *Executor) appendMessage(sessionID uuid.UUID, stageID model.StageID, res model.AgentResult) {
	msg := model.AgentMessage{
		ID:        uuid.New(),
		AgentType: res.AgentType,
		AgentName: res.AgentName,
		Content:   res.Analysis,
		Stage:     stageID,
		Timestamp: time.Now().UTC(),
	}
	ok := e.sessions.Apply(sessionID, func(sess model.WorkflowSession) model.WorkflowSession {
		sess.Messages = append(sess.Messages, msg)
		return sess
	})
	if !ok {
		e.logger.Warn("stage: session gone, dropping message",
			"session_id", sessionID, "agent_type", res.AgentType)
	}
}
