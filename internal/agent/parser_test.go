package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaigi/internal/model"
)

func TestLineParser_FullOutput(t *testing.T) {
	content := `The fundamentals look strong this quarter.

Score: 0.82
Confidence: 75%
Recommendation: Buy.

Insights:
- revenue growth accelerating
- margin expansion in services

Risks:
* regulatory pressure in the EU
`
	res, err := LineParser{}.Parse(content)
	require.NoError(t, err)

	require.NotNil(t, res.Score)
	assert.InDelta(t, 0.82, *res.Score, 1e-9)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 0.75, *res.Confidence, 1e-9)
	assert.Equal(t, "buy", res.Recommendation)
	assert.Equal(t, []string{"revenue growth accelerating", "margin expansion in services"}, res.Insights)
	assert.Equal(t, []string{"regulatory pressure in the EU"}, res.Risks)
	assert.Contains(t, res.Analysis, "fundamentals look strong")
}

func TestLineParser_UnstructuredTextIsStillValid(t *testing.T) {
	res, err := LineParser{}.Parse("just some prose with no labels")
	require.NoError(t, err)
	assert.Nil(t, res.Score)
	assert.Empty(t, res.Recommendation)
	assert.Equal(t, "just some prose with no labels", res.Analysis)
}

func TestLineParser_ScoreVariants(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"Score: 0.5", 0.5},
		{"score: 50%", 0.5},
		{"SCORE: 85", 0.85},
		{"Score: 1.0", 1.0},
		{"Score: -3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res, err := LineParser{}.Parse(tt.in)
			require.NoError(t, err)
			require.NotNil(t, res.Score)
			assert.InDelta(t, tt.want, *res.Score, 1e-9)
		})
	}
}

func TestLineParser_BulletsOutsideSectionIgnored(t *testing.T) {
	res, err := LineParser{}.Parse("- stray bullet\nInsights:\n- real insight")
	require.NoError(t, err)
	assert.Equal(t, []string{"real insight"}, res.Insights)
}

func TestTextAgent_InvokeParsesCompletion(t *testing.T) {
	complete := func(ctx context.Context, prompt string) (Completion, error) {
		assert.Contains(t, prompt, "Subject: AAPL")
		assert.Contains(t, prompt, "[news] headlines positive")
		return Completion{
			Content: "Looks good.\nScore: 0.9\nRecommendation: buy",
			Model:   "gpt-4o",
			Tokens:  model.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
		}, nil
	}
	a := NewTextAgent("market", "Market Analyst", complete, nil)

	res, err := a.Invoke(context.Background(), Input{
		SubjectID: "AAPL",
		Stage:     model.StageAnalysis,
		Prompt:    "assess the market",
		History:   []model.AgentMessage{{AgentType: "news", Content: "headlines positive"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "market", res.AgentType)
	assert.Equal(t, "Market Analyst", res.AgentName)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Equal(t, 15, res.TokensUsed)
	require.NotNil(t, res.Score)
	assert.InDelta(t, 0.9, *res.Score, 1e-9)
	assert.Equal(t, "buy", res.Recommendation)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := Func(func(ctx context.Context, in Input) (model.AgentResult, error) {
		return model.AgentResult{}, nil
	})

	require.NoError(t, reg.Register("market", noop))
	require.NoError(t, reg.Register("news", noop))
	assert.Error(t, reg.Register("market", noop), "duplicate registration must fail")
	assert.Error(t, reg.Register("", noop))
	assert.Error(t, reg.Register("x", nil))

	_, ok := reg.Get("market")
	assert.True(t, ok)
	_, ok = reg.Get("ghost")
	assert.False(t, ok)
	assert.Equal(t, []string{"market", "news"}, reg.Types())
}
