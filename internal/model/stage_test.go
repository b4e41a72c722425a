package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageOrder_Fixed(t *testing.T) {
	stages := Stages()
	require.Equal(t, StageInit, stages[0])
	require.Equal(t, StageCompleted, stages[len(stages)-1])

	// Every stage strictly precedes its successor.
	for i := 0; i < len(stages)-1; i++ {
		assert.Less(t, StageIndex(stages[i]), StageIndex(stages[i+1]))
	}
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	stages := Stages()
	for i, from := range stages {
		for j, to := range stages {
			got := CanTransition(from, to)
			if from == StageCompleted {
				assert.False(t, got, "completed is terminal")
				continue
			}
			assert.Equal(t, j > i, got, "from=%s to=%s", from, to)
		}
	}
}

func TestCanTransition_FailedAbsorbing(t *testing.T) {
	for _, from := range Stages() {
		if from == StageCompleted {
			continue
		}
		assert.True(t, CanTransition(from, StageFailed), "from=%s", from)
	}
	assert.False(t, CanTransition(StageFailed, StageAnalysis))
	assert.False(t, CanTransition(StageFailed, StageFailed))
	assert.False(t, CanTransition(StageCompleted, StageFailed))
}

func TestNextStage(t *testing.T) {
	next, ok := NextStage(StageInit)
	require.True(t, ok)
	assert.Equal(t, StageAnalysis, next)

	_, ok = NextStage(StageCompleted)
	assert.False(t, ok)
	_, ok = NextStage(StageFailed)
	assert.False(t, ok)
}

func TestStageIndex_FailedNotOnPath(t *testing.T) {
	assert.Equal(t, -1, StageIndex(StageFailed))
	assert.Equal(t, -1, StageIndex(StageID("bogus")))
}
