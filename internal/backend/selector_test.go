package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaigi/internal/model"
)

func healthy() model.SystemHealthMetrics {
	return model.SystemHealthMetrics{Available: true, ResponseTimeMs: 100, ErrorRate: 0.01, Load: 0.2}
}

func TestSelectBackend_ZeroAvailableIsFallback(t *testing.T) {
	snap := model.HealthSnapshot{
		model.ModeDurable: {Available: false},
		model.ModeGraph:   {Available: false},
	}

	d := SelectBackend(model.RequestMeta{}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeFallback, d.Mode)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Empty(t, d.Alternatives)
}

func TestSelectBackend_SingleAvailableWins(t *testing.T) {
	snap := model.HealthSnapshot{
		model.ModeDurable: {Available: false},
		model.ModeGraph:   healthy(),
	}

	d := SelectBackend(model.RequestMeta{}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeGraph, d.Mode)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestSelectBackend_ErrorRateRoutesToHealthyBackend(t *testing.T) {
	degraded := healthy()
	degraded.ErrorRate = 0.2
	clean := healthy()
	clean.ErrorRate = 0.02
	snap := model.HealthSnapshot{
		model.ModeDurable: degraded,
		model.ModeGraph:   clean,
	}

	d := SelectBackend(model.RequestMeta{}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeGraph, d.Mode)
	assert.Contains(t, d.Reason, "graph error rate 0.02")
	assert.Equal(t, []model.BackendMode{model.ModeDurable}, d.Alternatives)
}

func TestSelectBackend_HighComplexityPrefersDurable(t *testing.T) {
	snap := model.HealthSnapshot{
		model.ModeDurable: healthy(),
		model.ModeGraph:   healthy(),
	}

	d := SelectBackend(model.RequestMeta{Complexity: 0.9}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeDurable, d.Mode)
	assert.Contains(t, d.Reason, "complexity")
}

func TestSelectBackend_LowComplexityPrefersGraph(t *testing.T) {
	snap := model.HealthSnapshot{
		model.ModeDurable: healthy(),
		model.ModeGraph:   healthy(),
	}

	d := SelectBackend(model.RequestMeta{Complexity: 0.3}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeGraph, d.Mode)
}

func TestSelectBackend_PriorityHintBeatsWeakRules(t *testing.T) {
	snap := model.HealthSnapshot{
		model.ModeDurable: healthy(),
		model.ModeGraph:   healthy(),
	}

	d := SelectBackend(model.RequestMeta{Priority: model.ModeGraph}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeGraph, d.Mode)
	assert.Contains(t, d.Reason, "priority")
}

func TestSelectBackend_OverloadedBackendAvoided(t *testing.T) {
	loaded := healthy()
	loaded.Load = 0.95
	snap := model.HealthSnapshot{
		model.ModeDurable: loaded,
		model.ModeGraph:   healthy(),
	}

	d := SelectBackend(model.RequestMeta{}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeGraph, d.Mode)
	assert.Contains(t, d.Reason, "load")
}

func TestSelectBackend_LatencyBreaksIndifference(t *testing.T) {
	slow := healthy()
	slow.ResponseTimeMs = 400
	fast := healthy()
	fast.ResponseTimeMs = 80
	snap := model.HealthSnapshot{
		model.ModeDurable: slow,
		model.ModeGraph:   fast,
	}

	d := SelectBackend(model.RequestMeta{}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeGraph, d.Mode)
	assert.Contains(t, d.Reason, "response time")
}

func TestSelectBackend_NoRuleFiresDefaultsToHybrid(t *testing.T) {
	// Identical metrics everywhere: no rule can prefer either side.
	snap := model.HealthSnapshot{
		model.ModeDurable: healthy(),
		model.ModeGraph:   healthy(),
	}

	d := SelectBackend(model.RequestMeta{}, snap, DefaultThresholds())

	assert.Equal(t, model.ModeHybrid, d.Mode)
}

func TestSelectBackend_Deterministic(t *testing.T) {
	metas := []model.RequestMeta{
		{},
		{Complexity: 0.9},
		{Complexity: 0.3, Priority: model.ModeDurable},
	}
	snap := model.HealthSnapshot{
		model.ModeDurable: {Available: true, ResponseTimeMs: 120, ErrorRate: 0.05, Load: 0.5},
		model.ModeGraph:   {Available: true, ResponseTimeMs: 90, ErrorRate: 0.08, Load: 0.6},
	}

	for _, meta := range metas {
		first := SelectBackend(meta, snap, DefaultThresholds())
		for i := 0; i < 50; i++ {
			again := SelectBackend(meta, snap, DefaultThresholds())
			require.Equal(t, first.Mode, again.Mode)
			require.Equal(t, first.Reason, again.Reason)
			require.Equal(t, first.Confidence, again.Confidence)
		}
	}
}

func TestSelectBackend_PriorityIgnoredWhenUnavailable(t *testing.T) {
	snap := model.HealthSnapshot{
		model.ModeDurable: healthy(),
		model.ModeGraph:   healthy(),
	}

	d := SelectBackend(model.RequestMeta{Priority: model.ModeFallback}, snap, DefaultThresholds())

	assert.NotEqual(t, model.ModeFallback, d.Mode, "a hint for a non-engine mode never wins")
}
