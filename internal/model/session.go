package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentMessage is one agent contribution recorded on a session.
// Immutable once appended.
type AgentMessage struct {
	ID        uuid.UUID `json:"id"`
	AgentType string    `json:"agent_type"`
	AgentName string    `json:"agent_name"`
	Content   string    `json:"content"`
	Stage     StageID   `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// DebateState tracks the bounded-round adversarial sub-protocol.
// Round never exceeds MaxRounds; IsComplete is monotonic — once true it
// stays true for the lifetime of the session.
type DebateState struct {
	ProponentHistory []string `json:"proponent_history"`
	OpponentHistory  []string `json:"opponent_history"`
	FullHistory      []string `json:"full_history"`
	Round            int      `json:"round"`
	MaxRounds        int      `json:"max_rounds"`
	IsComplete       bool     `json:"is_complete"`
}

// Clone returns a deep copy of the debate state.
func (d DebateState) Clone() DebateState {
	out := d
	out.ProponentHistory = append([]string(nil), d.ProponentHistory...)
	out.OpponentHistory = append([]string(nil), d.OpponentHistory...)
	out.FullHistory = append([]string(nil), d.FullHistory...)
	return out
}

// WorkflowSession is the mutable record for one analysis run.
// A session is owned exclusively by the orchestrator run that created it
// and is mutated only through the session store's Apply.
type WorkflowSession struct {
	ID          uuid.UUID               `json:"id"`
	SubjectID   string                  `json:"subject_id"`
	Stage       StageID                 `json:"stage"`
	StageStatus map[StageID]StageStatus `json:"stage_status"`
	Debate      *DebateState            `json:"debate,omitempty"`
	Messages    []AgentMessage          `json:"messages"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Clone returns a deep copy of the session. The store hands out clones so
// readers never observe a partially applied mutation.
func (s WorkflowSession) Clone() WorkflowSession {
	out := s
	out.StageStatus = make(map[StageID]StageStatus, len(s.StageStatus))
	for k, v := range s.StageStatus {
		out.StageStatus[k] = v
	}
	out.Messages = append([]AgentMessage(nil), s.Messages...)
	if s.Debate != nil {
		d := s.Debate.Clone()
		out.Debate = &d
	}
	return out
}

// NewWorkflowSession creates a session positioned at StageInit with every
// pipeline stage pending.
func NewWorkflowSession(subjectID string) WorkflowSession {
	now := time.Now().UTC()
	status := make(map[StageID]StageStatus, len(stageOrder))
	for _, st := range stageOrder {
		status[st] = StagePending
	}
	return WorkflowSession{
		ID:          uuid.New(),
		SubjectID:   subjectID,
		Stage:       StageInit,
		StageStatus: status,
		Messages:    []AgentMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
