package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflowSession(t *testing.T) {
	s := NewWorkflowSession("AAPL")

	assert.Equal(t, "AAPL", s.SubjectID)
	assert.Equal(t, StageInit, s.Stage)
	assert.NotEqual(t, uuid.Nil, s.ID)
	require.Len(t, s.StageStatus, len(Stages()))
	for _, st := range Stages() {
		assert.Equal(t, StagePending, s.StageStatus[st])
	}
}

func TestWorkflowSession_CloneIsDeep(t *testing.T) {
	s := NewWorkflowSession("AAPL")
	s.Debate = &DebateState{MaxRounds: 3, FullHistory: []string{"opening"}}
	s.Messages = append(s.Messages, AgentMessage{
		ID:        uuid.New(),
		AgentType: "market",
		Content:   "bullish",
		Stage:     StageAnalysis,
		Timestamp: time.Now().UTC(),
	})

	c := s.Clone()
	c.StageStatus[StageAnalysis] = StageDone
	c.Messages[0].Content = "bearish"
	c.Debate.FullHistory[0] = "rebuttal"
	c.Debate.Round = 2

	assert.Equal(t, StagePending, s.StageStatus[StageAnalysis])
	assert.Equal(t, "bullish", s.Messages[0].Content)
	assert.Equal(t, "opening", s.Debate.FullHistory[0])
	assert.Equal(t, 0, s.Debate.Round)
}

func TestWorkflowSession_JSONRoundTrip(t *testing.T) {
	s := NewWorkflowSession("BTC-USD")
	s.Stage = StageResearchDebate
	s.StageStatus[StageAnalysis] = StageDone
	s.StageStatus[StageResearchDebate] = StageInProgress
	s.Debate = &DebateState{
		ProponentHistory: []string{"bull case"},
		OpponentHistory:  []string{"bear case"},
		FullHistory:      []string{"bull case", "bear case"},
		Round:            1,
		MaxRounds:        3,
	}
	s.Messages = []AgentMessage{{
		ID:        uuid.New(),
		AgentType: "fundamentals",
		AgentName: "Fundamentals Analyst",
		Content:   "strong balance sheet",
		Stage:     StageAnalysis,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}}
	s.CreatedAt = time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	s.UpdatedAt = time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got WorkflowSession
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, s, got)
}

func TestDebateState_CloneIsDeep(t *testing.T) {
	d := DebateState{FullHistory: []string{"a"}, Round: 1, MaxRounds: 2}
	c := d.Clone()
	c.FullHistory = append(c.FullHistory, "b")
	c.FullHistory[0] = "x"

	assert.Equal(t, []string{"a"}, d.FullHistory)
}
