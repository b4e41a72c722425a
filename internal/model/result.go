package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentResult is the structured verdict returned by one agent invocation.
// Score and Confidence are optional — not every agent produces them.
type AgentResult struct {
	AgentType      string   `json:"agent_type"`
	AgentName      string   `json:"agent_name"`
	Model          string   `json:"model,omitempty"`
	Analysis       string   `json:"analysis"`
	Score          *float64 `json:"score,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Insights       []string `json:"insights,omitempty"`
	Risks          []string `json:"risks,omitempty"`
	TokensUsed     int      `json:"tokens_used,omitempty"`
}

// WorkflowResult is the terminal, inspectable outcome of one workflow run.
// ExecuteWorkflow returns it even when stages failed — StageProgress shows
// exactly which ones.
type WorkflowResult struct {
	SessionID      uuid.UUID               `json:"session_id"`
	SubjectID      string                  `json:"subject_id"`
	Stage          StageID                 `json:"stage"`
	StageProgress  map[StageID]StageStatus `json:"stage_progress"`
	Results        []AgentResult           `json:"results"`
	AggregateScore *float64                `json:"aggregate_score,omitempty"`
	Recommendation string                  `json:"recommendation,omitempty"`
	ConsensusRatio float64                 `json:"consensus_ratio"`
	DebateSummary  string                  `json:"debate_summary,omitempty"`
	StartedAt      time.Time               `json:"started_at"`
	CompletedAt    time.Time               `json:"completed_at"`
	Error          string                  `json:"error,omitempty"`
}

// Succeeded reports whether the run reached StageCompleted.
func (r WorkflowResult) Succeeded() bool {
	return r.Stage == StageCompleted
}

// WorkflowConfig carries the per-run knobs a caller may set.
// Zero values fall back to the orchestrator's configured defaults.
type WorkflowConfig struct {
	// StageAgents maps each pipeline stage to the agent types dispatched
	// for it. Stages without an entry are skipped.
	StageAgents     map[StageID][]string `json:"stage_agents,omitempty"`
	MaxDebateRounds int                  `json:"max_debate_rounds,omitempty"`
	// Complexity is a caller-supplied estimate in [0,1] used by backend
	// selection; 0 means unknown.
	Complexity float64 `json:"complexity,omitempty"`
	// PriorityBackend is an explicit caller hint; empty means no preference.
	PriorityBackend BackendMode    `json:"priority_backend,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
