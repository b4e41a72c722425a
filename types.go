package kaigi

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a public pipeline stage identifier.
type Stage string

const (
	StageInit            Stage = "init"
	StageAnalysis        Stage = "analysis"
	StageResearchDebate  Stage = "research_debate"
	StageTradingDecision Stage = "trading_decision"
	StageRiskAssessment  Stage = "risk_assessment"
	StageFinalDecision   Stage = "final_decision"
	StageReflection      Stage = "reflection"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// Backend names a workflow execution engine for override and priority hints.
type Backend string

const (
	BackendDurable Backend = "durable"
	BackendGraph   Backend = "graph"
	BackendHybrid  Backend = "hybrid"
)

// WorkflowSpec is the public per-run configuration.
// It is a curated view of internal/model.WorkflowConfig — no internal
// package imports, safe to construct from outside the module.
type WorkflowSpec struct {
	// StageAgents maps each stage to the agent types dispatched for it.
	// Stages without an entry are skipped. The research debate stage uses
	// its first three entries as proponent, opponent and judge.
	StageAgents map[Stage][]string
	// MaxDebateRounds caps the debate loop; 0 uses the configured default.
	MaxDebateRounds int
	// Complexity is a caller-supplied estimate in [0,1] feeding backend
	// selection; 0 means unknown.
	Complexity float64
	// Priority is an explicit backend preference; empty means none.
	Priority Backend
	Metadata map[string]any
}

// Verdict is the public view of one agent's structured output.
type Verdict struct {
	AgentType      string
	AgentName      string
	Model          string
	Analysis       string
	Score          *float64
	Confidence     *float64
	Recommendation string
	Insights       []string
	Risks          []string
	TokensUsed     int
}

// Result is the terminal outcome of one workflow run.
type Result struct {
	SessionID      uuid.UUID
	SubjectID      string
	Stage          Stage
	StageProgress  map[Stage]string
	Verdicts       []Verdict
	AggregateScore *float64
	Recommendation string
	ConsensusRatio float64
	DebateSummary  string
	BackendMode    Backend
	BackendReason  string
	StartedAt      time.Time
	CompletedAt    time.Time
	// Err is non-empty when the run reached the failed stage. It describes
	// the stage failure; the run itself still returned normally.
	Err string
}

// Succeeded reports whether the run reached the completed stage.
func (r Result) Succeeded() bool { return r.Stage == StageCompleted }

// Message is one agent contribution on a session transcript.
type Message struct {
	AgentType string
	AgentName string
	Content   string
	Stage     Stage
	Timestamp time.Time
}

// SessionView is a read-only snapshot of a live or recently finished run.
type SessionView struct {
	ID          uuid.UUID
	SubjectID   string
	Stage       Stage
	StageStatus map[Stage]string
	Messages    []Message
	DebateRound int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InvocationFilter narrows audit queries.
type InvocationFilter struct {
	SessionID *uuid.UUID
	AgentType string
	Status    string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Invocation is the public view of one audit record.
type Invocation struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	AgentType    string
	AgentName    string
	Model        string
	Status       string
	InputPrompt  string
	Output       string
	TokensUsed   int
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorCode    string
	ErrorMessage string
}

// TypeStats aggregates audit records per agent type and model.
type TypeStats struct {
	AgentType    string
	Model        string
	Count        int64
	SuccessCount int64
	SuccessRate  float64
	AvgLatencyMs float64
	TotalTokens  int64
}
