package debate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaigi/internal/agent"
	"github.com/ashita-ai/kaigi/internal/model"
	"github.com/ashita-ai/kaigi/internal/session"
)

// countingAgent replies with a fixed line and tallies its calls.
type countingAgent struct {
	mu    sync.Mutex
	reply string
	calls int
	fail  error
}

func (a *countingAgent) Invoke(ctx context.Context, in agent.Input) (model.AgentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail != nil {
		return model.AgentResult{}, a.fail
	}
	return model.AgentResult{Analysis: a.reply}, nil
}

func (a *countingAgent) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newDebateFixture(t *testing.T, pro, opp, judge *countingAgent) (*Coordinator, *session.Store, model.WorkflowSession) {
	t.Helper()
	reg := agent.NewRegistry()
	require.NoError(t, reg.Register("bull", pro))
	require.NoError(t, reg.Register("bear", opp))
	require.NoError(t, reg.Register("judge", judge))
	runner := agent.NewRunner(reg, nil, slog.Default(), agent.RunnerConfig{
		RetryCount:  0,
		BackoffBase: time.Millisecond,
		CallTimeout: time.Second,
	})
	sessions := session.NewStore(slog.Default(), time.Minute)
	sess := sessions.Create("AAPL")
	return NewCoordinator(runner, sessions, slog.Default()), sessions, sess
}

func baseConfig(maxRounds int) Config {
	return Config{
		ProponentType: "bull",
		OpponentType:  "bear",
		JudgeType:     "judge",
		MaxRounds:     maxRounds,
	}
}

func TestRun_AllRoundsThenJudge(t *testing.T) {
	pro := &countingAgent{reply: "growth is strong"}
	opp := &countingAgent{reply: "valuation is stretched"}
	judge := &countingAgent{reply: "proponent carries the day"}
	c, sessions, sess := newDebateFixture(t, pro, opp, judge)

	res, err := c.Run(context.Background(), sess.ID, "buy AAPL?", baseConfig(3))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 3, pro.count())
	assert.Equal(t, 3, opp.count())
	assert.Equal(t, 1, judge.count(), "judge runs exactly once")
	assert.Len(t, res.Transcript, 6, "two entries per round")
	assert.Equal(t, "proponent carries the day", res.Verdict.Analysis)

	got, ok := sessions.Get(sess.ID)
	require.True(t, ok)
	require.NotNil(t, got.Debate)
	assert.True(t, got.Debate.IsComplete)
	assert.Equal(t, 3, got.Debate.Round)
	assert.Equal(t, 3, got.Debate.MaxRounds)
	assert.Len(t, got.Debate.ProponentHistory, 3)
	assert.Len(t, got.Debate.OpponentHistory, 3)
	assert.Len(t, got.Debate.FullHistory, 6)
}

func TestRun_EarlyStopSkipsRemainingRounds(t *testing.T) {
	pro := &countingAgent{reply: "agreed, hold"}
	opp := &countingAgent{reply: "agreed, hold"}
	judge := &countingAgent{reply: "hold"}
	c, _, sess := newDebateFixture(t, pro, opp, judge)

	cfg := baseConfig(5)
	cfg.EarlyStop = func(p, o string) bool { return p == o }

	res, err := c.Run(context.Background(), sess.ID, "buy AAPL?", cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, pro.count())
	assert.Equal(t, 1, opp.count())
	assert.Equal(t, 1, judge.count(), "judge still runs after early convergence")
}

func TestRun_OpponentSeesProponentArgument(t *testing.T) {
	pro := &countingAgent{reply: "buy on momentum"}
	judge := &countingAgent{reply: "verdict"}

	var oppPrompt string
	opp := agent.Func(func(ctx context.Context, in agent.Input) (model.AgentResult, error) {
		oppPrompt = in.Prompt
		return model.AgentResult{Analysis: "momentum fades"}, nil
	})

	reg := agent.NewRegistry()
	require.NoError(t, reg.Register("bull", pro))
	require.NoError(t, reg.Register("bear", opp))
	require.NoError(t, reg.Register("judge", judge))
	runner := agent.NewRunner(reg, nil, slog.Default(), agent.RunnerConfig{
		RetryCount: 0, BackoffBase: time.Millisecond, CallTimeout: time.Second,
	})
	sessions := session.NewStore(slog.Default(), time.Minute)
	sess := sessions.Create("AAPL")
	c := NewCoordinator(runner, sessions, slog.Default())

	_, err := c.Run(context.Background(), sess.ID, "buy AAPL?", baseConfig(1))
	require.NoError(t, err)
	assert.Contains(t, oppPrompt, "buy on momentum", "opponent rebuts the live argument")
}

func TestRun_ProponentFailureAborts(t *testing.T) {
	pro := &countingAgent{fail: model.NewAgentError(model.KindAuth, "bull", errors.New("401"))}
	opp := &countingAgent{reply: "unused"}
	judge := &countingAgent{reply: "unused"}
	c, _, sess := newDebateFixture(t, pro, opp, judge)

	_, err := c.Run(context.Background(), sess.ID, "buy AAPL?", baseConfig(2))
	require.Error(t, err)
	assert.Equal(t, 0, opp.count())
	assert.Equal(t, 0, judge.count())
}

func TestRun_JudgeFailureLeavesDebateIncomplete(t *testing.T) {
	pro := &countingAgent{reply: "for"}
	opp := &countingAgent{reply: "against"}
	judge := &countingAgent{fail: model.NewAgentError(model.KindAuth, "judge", errors.New("401"))}
	c, sessions, sess := newDebateFixture(t, pro, opp, judge)

	_, err := c.Run(context.Background(), sess.ID, "topic", baseConfig(1))
	require.Error(t, err)

	// No verdict was rendered, so the debate must stay open for a retry.
	got, ok := sessions.Get(sess.ID)
	require.True(t, ok)
	require.NotNil(t, got.Debate)
	assert.False(t, got.Debate.IsComplete)
}

func TestRun_CompleteStateIsMonotonic(t *testing.T) {
	pro := &countingAgent{reply: "for"}
	opp := &countingAgent{reply: "against"}
	judge := &countingAgent{reply: "verdict"}
	c, sessions, sess := newDebateFixture(t, pro, opp, judge)

	_, err := c.Run(context.Background(), sess.ID, "topic", baseConfig(1))
	require.NoError(t, err)

	first, _ := sessions.Get(sess.ID)
	require.NotNil(t, first.Debate)
	require.True(t, first.Debate.IsComplete)

	// A second run must not reset the finished state in place.
	_, err = c.Run(context.Background(), sess.ID, "topic", baseConfig(1))
	require.NoError(t, err)

	second, _ := sessions.Get(sess.ID)
	require.NotNil(t, second.Debate)
	assert.True(t, second.Debate.IsComplete)
	assert.Equal(t, first.Debate.Round, second.Debate.Round,
		"completed debate state is immutable")
}

func TestRun_ZeroMaxRoundsClampedToOne(t *testing.T) {
	pro := &countingAgent{reply: "for"}
	opp := &countingAgent{reply: "against"}
	judge := &countingAgent{reply: "verdict"}
	c, _, sess := newDebateFixture(t, pro, opp, judge)

	res, err := c.Run(context.Background(), sess.ID, "topic", baseConfig(0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
}

func TestResult_Summary(t *testing.T) {
	res := Result{
		Verdict:    model.AgentResult{Analysis: "hold"},
		Rounds:     1,
		Transcript: []string{"[round 1, bull] for", "[round 1, bear] against"},
	}
	s := res.Summary()
	assert.Contains(t, s, "1 round(s)")
	assert.Contains(t, s, "[round 1, bull] for")
	assert.Contains(t, s, "Verdict: hold")
}
