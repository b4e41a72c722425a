// Package debate runs the bounded-round adversarial sub-protocol inside
// the research stage. A proponent and an opponent alternate for a fixed
// number of rounds, then a judge renders the verdict over the full
// transcript.
package debate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaigi/internal/agent"
	"github.com/ashita-ai/kaigi/internal/model"
	"github.com/ashita-ai/kaigi/internal/session"
)

// StopFunc decides after a finished round whether the positions have
// converged enough to skip the remaining rounds. It sees the latest
// proponent and opponent arguments.
type StopFunc func(proponent, opponent string) bool

// Config shapes one debate run.
type Config struct {
	ProponentType string
	OpponentType  string
	JudgeType     string
	// MaxRounds caps the proponent/opponent exchanges. The judge call is
	// not a round and always happens.
	MaxRounds int
	// EarlyStop is optional; nil means all rounds run.
	EarlyStop StopFunc
}

// Result is the outcome of a completed debate.
type Result struct {
	Verdict    model.AgentResult
	Rounds     int
	Transcript []string
}

// Summary renders the transcript as a single block for downstream stages.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Debate concluded after %d round(s).\n", r.Rounds)
	for _, line := range r.Transcript {
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Verdict: %s", r.Verdict.Analysis)
	return b.String()
}

// Coordinator drives debates through the agent runner, journaling every
// exchange into the session's debate state.
type Coordinator struct {
	runner   *agent.Runner
	sessions *session.Store
	logger   *slog.Logger
}

// NewCoordinator creates a debate coordinator.
func NewCoordinator(runner *agent.Runner, sessions *session.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{runner: runner, sessions: sessions, logger: logger}
}

// Run executes the debate: up to cfg.MaxRounds proponent-then-opponent
// exchanges, then exactly one judge call over the accumulated transcript.
// The two sides within a round are strictly sequential so the opponent
// always sees the proponent's argument it is rebutting.
//
// The session's debate state is updated after every call; IsComplete is
// set once the judge has rendered the verdict and never unset.
func (c *Coordinator) Run(ctx context.Context, sessionID uuid.UUID, topic string, cfg Config) (Result, error) {
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}

	c.seedState(sessionID, cfg.MaxRounds)

	var transcript []string
	rounds := 0
	for round := 1; round <= cfg.MaxRounds; round++ {
		pro, err := c.argue(ctx, sessionID, cfg.ProponentType, topic, transcript,
			"Argue FOR the position.")
		if err != nil {
			return Result{}, fmt.Errorf("debate: round %d proponent: %w", round, err)
		}
		transcript = append(transcript, speakerLine(cfg.ProponentType, round, pro.Analysis))
		c.recordTurn(sessionID, round, pro.Analysis, "", transcript)

		opp, err := c.argue(ctx, sessionID, cfg.OpponentType, topic, transcript,
			"Argue AGAINST the position, rebutting the latest argument.")
		if err != nil {
			return Result{}, fmt.Errorf("debate: round %d opponent: %w", round, err)
		}
		transcript = append(transcript, speakerLine(cfg.OpponentType, round, opp.Analysis))
		c.recordTurn(sessionID, round, "", opp.Analysis, transcript)

		rounds = round
		if cfg.EarlyStop != nil && cfg.EarlyStop(pro.Analysis, opp.Analysis) {
			c.logger.Info("debate: early convergence", "session_id", sessionID, "round", round)
			break
		}
	}

	verdict, err := c.argue(ctx, sessionID, cfg.JudgeType, topic, transcript,
		"Weigh both sides of the transcript and render a final judgment.")
	if err != nil {
		return Result{}, fmt.Errorf("debate: judge: %w", err)
	}
	c.markComplete(sessionID)

	return Result{Verdict: verdict, Rounds: rounds, Transcript: transcript}, nil
}

func (c *Coordinator) argue(ctx context.Context, sessionID uuid.UUID, agentType, topic string, transcript []string, instruction string) (model.AgentResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Debate topic: %s\n\n", topic)
	if len(transcript) > 0 {
		b.WriteString("Transcript so far:\n")
		for _, line := range transcript {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(instruction)

	in := agent.Input{
		SessionID: sessionID,
		Stage:     model.StageResearchDebate,
		Prompt:    b.String(),
	}
	return c.runner.Invoke(ctx, agentType, in)
}

// seedState installs a fresh debate state unless a completed one already
// exists. IsComplete is monotonic for the session lifetime, so a finished
// debate is never restarted in place.
func (c *Coordinator) seedState(sessionID uuid.UUID, maxRounds int) {
	c.sessions.Apply(sessionID, func(sess model.WorkflowSession) model.WorkflowSession {
		if sess.Debate != nil && sess.Debate.IsComplete {
			return sess
		}
		sess.Debate = &model.DebateState{MaxRounds: maxRounds}
		return sess
	})
}

func (c *Coordinator) recordTurn(sessionID uuid.UUID, round int, proponent, opponent string, transcript []string) {
	ok := c.sessions.Apply(sessionID, func(sess model.WorkflowSession) model.WorkflowSession {
		if sess.Debate == nil || sess.Debate.IsComplete {
			return sess
		}
		if proponent != "" {
			sess.Debate.ProponentHistory = append(sess.Debate.ProponentHistory, proponent)
		}
		if opponent != "" {
			sess.Debate.OpponentHistory = append(sess.Debate.OpponentHistory, opponent)
		}
		sess.Debate.FullHistory = append([]string(nil), transcript...)
		if round > sess.Debate.Round {
			sess.Debate.Round = round
		}
		return sess
	})
	if !ok {
		c.logger.Warn("debate: session gone, turn not journaled", "session_id", sessionID)
	}
}

func (c *Coordinator) markComplete(sessionID uuid.UUID) {
	c.sessions.Apply(sessionID, func(sess model.WorkflowSession) model.WorkflowSession {
		if sess.Debate != nil {
			sess.Debate.IsComplete = true
		}
		return sess
	})
}

func speakerLine(agentType string, round int, content string) string {
	return fmt.Sprintf("[round %d, %s] %s", round, agentType, content)
}
