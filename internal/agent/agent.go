// Package agent defines the agent capability interface and the runner that
// invokes agents with retry, timeout, and audit recording.
//
// Orchestration code depends only on the Agent interface and stable agent
// type identifiers — never on concrete implementations.
package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Input is the context handed to one agent invocation.
type Input struct {
	SessionID uuid.UUID
	SubjectID string
	Stage     model.StageID
	// Prompt is the instruction for this invocation. The orchestration
	// layer treats it as opaque text.
	Prompt string
	// History carries prior agent messages for context-aware agents.
	History  []model.AgentMessage
	Metadata map[string]any
}

// Agent is the capability interface every analysis agent implements,
// regardless of domain behavior. Orchestration never inspects
// agent-internal state.
type Agent interface {
	Invoke(ctx context.Context, in Input) (model.AgentResult, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, in Input) (model.AgentResult, error)

// Invoke implements Agent.
func (f Func) Invoke(ctx context.Context, in Input) (model.AgentResult, error) {
	return f(ctx, in)
}
