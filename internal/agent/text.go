package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Completion is the raw output of one LLM call.
type Completion struct {
	Content string
	Model   string
	Tokens  model.TokenUsage
}

// CompletionFunc is the transport seam for LLM-backed agents. The actual
// client (OpenAI, Anthropic, local) lives outside this module.
type CompletionFunc func(ctx context.Context, prompt string) (Completion, error)

// TextAgent adapts a completion transport plus a ResultParser into the
// Agent capability interface.
type TextAgent struct {
	agentType string
	name      string
	complete  CompletionFunc
	parser    ResultParser
}

// NewTextAgent builds an LLM-backed agent. A nil parser falls back to
// LineParser.
func NewTextAgent(agentType, name string, complete CompletionFunc, parser ResultParser) *TextAgent {
	if parser == nil {
		parser = LineParser{}
	}
	return &TextAgent{agentType: agentType, name: name, complete: complete, parser: parser}
}

// Invoke implements Agent.
func (a *TextAgent) Invoke(ctx context.Context, in Input) (model.AgentResult, error) {
	prompt := a.buildPrompt(in)

	comp, err := a.complete(ctx, prompt)
	if err != nil {
		return model.AgentResult{}, fmt.Errorf("agent %s: completion: %w", a.agentType, err)
	}

	res, err := a.parser.Parse(comp.Content)
	if err != nil {
		return model.AgentResult{}, model.NewAgentError(model.KindData, a.agentType, err)
	}
	res.AgentType = a.agentType
	res.AgentName = a.name
	res.Model = comp.Model
	res.TokensUsed = comp.Tokens.Total
	return res, nil
}

func (a *TextAgent) buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nStage: %s\n\n", in.SubjectID, in.Stage)
	if len(in.History) > 0 {
		b.WriteString("Prior findings:\n")
		for _, msg := range in.History {
			fmt.Fprintf(&b, "[%s] %s\n", msg.AgentType, msg.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString(in.Prompt)
	return b.String()
}
