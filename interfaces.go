package kaigi

import (
	"context"

	"github.com/google/uuid"
)

// Input is the context handed to an agent for one invocation.
type Input struct {
	SessionID uuid.UUID
	SubjectID string
	Stage     Stage
	Prompt    string
	History   []Message
}

// Agent is the capability interface every registered agent implements.
// Orchestration never inspects agent-internal state — it sees only the
// returned verdict or the error.
type Agent interface {
	Invoke(ctx context.Context, in Input) (Verdict, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc func(ctx context.Context, in Input) (Verdict, error)

// Invoke implements Agent.
func (f AgentFunc) Invoke(ctx context.Context, in Input) (Verdict, error) { return f(ctx, in) }

// Completion is the raw output of one LLM call made on behalf of a
// text-backed agent.
type Completion struct {
	Content string
	Model   string
	Tokens  int
}

// Completer is the LLM transport seam. The actual client (OpenAI,
// Anthropic, local) lives outside this module; WithTextAgent wires a
// Completer into a line-parsed agent.
type Completer func(ctx context.Context, prompt string) (Completion, error)
