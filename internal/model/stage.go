// Package model defines the core domain types for Kaigi.
//
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible. Everything here is plain data —
// behavior lives in the packages that own each lifecycle.
package model

// StageID identifies one sequential phase of the analysis pipeline.
type StageID string

const (
	StageInit            StageID = "init"
	StageAnalysis        StageID = "analysis"
	StageResearchDebate  StageID = "research_debate"
	StageTradingDecision StageID = "trading_decision"
	StageRiskAssessment  StageID = "risk_assessment"
	StageFinalDecision   StageID = "final_decision"
	StageReflection      StageID = "reflection"
	StageCompleted       StageID = "completed"
	// StageFailed is the absorbing failure state, reachable from any stage.
	StageFailed StageID = "failed"
)

// stageOrder is the fixed total order of pipeline stages.
// StageFailed is deliberately absent — it is not part of the forward path.
var stageOrder = []StageID{
	StageInit,
	StageAnalysis,
	StageResearchDebate,
	StageTradingDecision,
	StageRiskAssessment,
	StageFinalDecision,
	StageReflection,
	StageCompleted,
}

// Stages returns the pipeline stages in execution order.
func Stages() []StageID {
	out := make([]StageID, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// StageIndex returns the position of s in the fixed stage order,
// or -1 for StageFailed and unknown stages.
func StageIndex(s StageID) int {
	for i, id := range stageOrder {
		if id == s {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after s in the fixed order.
// The terminal stages (Completed, Failed) have no successor.
func NextStage(s StageID) (StageID, bool) {
	i := StageIndex(s)
	if i < 0 || i == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// CanTransition reports whether a session may move from stage from to stage to.
// Transitions only advance forward through the fixed order; StageFailed is
// reachable from any non-terminal stage.
func CanTransition(from, to StageID) bool {
	if from == StageCompleted || from == StageFailed {
		return false
	}
	if to == StageFailed {
		return true
	}
	fi, ti := StageIndex(from), StageIndex(to)
	if fi < 0 || ti < 0 {
		return false
	}
	return ti > fi
}

// StageStatus is the lifecycle state of a single stage within a session.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageDone       StageStatus = "completed"
	StageErrored    StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// Terminal reports whether the status will not change again.
func (s StageStatus) Terminal() bool {
	return s == StageDone || s == StageErrored || s == StageSkipped
}
