package backend

import (
	"fmt"
	"time"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Thresholds are the tuning knobs for backend selection.
type Thresholds struct {
	// Complexity above which a request is routed to the durable engine.
	Complexity float64
	// Load above which a backend is considered saturated.
	Load float64
	// ErrorRate above which a backend is considered degraded.
	ErrorRate float64
}

// DefaultThresholds returns the stock selection policy.
func DefaultThresholds() Thresholds {
	return Thresholds{Complexity: 0.7, Load: 0.8, ErrorRate: 0.1}
}

// candidateOrder fixes the iteration order over the snapshot map so
// selection is deterministic for identical inputs.
var candidateOrder = []model.BackendMode{model.ModeDurable, model.ModeGraph}

type vote struct {
	mode       model.BackendMode
	reason     string
	confidence float64
}

// SelectBackend scores the available backends against the request and
// returns the winning decision. Pure function of its inputs: no I/O, no
// clock reads beyond the decision timestamp, deterministic for identical
// (meta, snapshot) pairs.
//
// Rules fire in a fixed order (complexity, priority, load, error rate,
// latency); the vote with the highest confidence wins and ties keep the
// earlier rule's vote. No votes at all defaults to the hybrid strategy.
func SelectBackend(meta model.RequestMeta, snapshot model.HealthSnapshot, th Thresholds) model.BackendDecision {
	now := time.Now().UTC()

	var available []model.BackendMode
	for _, mode := range candidateOrder {
		if snapshot[mode].Available {
			available = append(available, mode)
		}
	}

	switch len(available) {
	case 0:
		return model.BackendDecision{
			Mode:         model.ModeFallback,
			Reason:       "no backend available",
			Confidence:   1.0,
			Alternatives: []model.BackendMode{},
			Timestamp:    now,
		}
	case 1:
		return model.BackendDecision{
			Mode:         available[0],
			Reason:       "only available backend",
			Confidence:   1.0,
			Alternatives: []model.BackendMode{},
			Timestamp:    now,
		}
	}

	votes := collectVotes(meta, snapshot, th, available)

	best := vote{mode: model.ModeHybrid, reason: "no rule preferred a backend", confidence: 0.5}
	found := false
	for _, v := range votes {
		if !found || v.confidence > best.confidence {
			best = v
			found = true
		}
	}

	return model.BackendDecision{
		Mode:         best.mode,
		Reason:       best.reason,
		Confidence:   best.confidence,
		Alternatives: alternatives(available, best.mode),
		Timestamp:    now,
	}
}

func collectVotes(meta model.RequestMeta, snapshot model.HealthSnapshot, th Thresholds, available []model.BackendMode) []vote {
	var votes []vote

	// Complexity: heavyweight requests are worth the durable engine's
	// journaling overhead; simple ones are not.
	if meta.Complexity >= th.Complexity && isAvailable(available, model.ModeDurable) {
		votes = append(votes, vote{
			mode:       model.ModeDurable,
			reason:     fmt.Sprintf("request complexity %.2f at or above %.2f", meta.Complexity, th.Complexity),
			confidence: 0.9,
		})
	} else if meta.Complexity > 0 && isAvailable(available, model.ModeGraph) {
		votes = append(votes, vote{
			mode:       model.ModeGraph,
			reason:     fmt.Sprintf("request complexity %.2f below %.2f", meta.Complexity, th.Complexity),
			confidence: 0.6,
		})
	}

	// Explicit caller priority.
	if meta.Priority != "" && isAvailable(available, meta.Priority) {
		votes = append(votes, vote{
			mode:       meta.Priority,
			reason:     "caller priority hint",
			confidence: 0.85,
		})
	}

	// Load: route away from a saturated backend.
	for _, mode := range available {
		if snapshot[mode].Load >= th.Load {
			if other, ok := leastLoaded(snapshot, available, mode); ok {
				votes = append(votes, vote{
					mode:       other,
					reason:     fmt.Sprintf("%s load %.2f at or above %.2f", mode, snapshot[mode].Load, th.Load),
					confidence: 0.75,
				})
			}
			break
		}
	}

	// Error rate: route to a healthy backend when another is degraded.
	for _, mode := range available {
		if snapshot[mode].ErrorRate > th.ErrorRate {
			if other, ok := lowestErrorRate(snapshot, available, mode); ok {
				votes = append(votes, vote{
					mode:       other,
					reason:     fmt.Sprintf("%s error rate %.2f within threshold %.2f", other, snapshot[other].ErrorRate, th.ErrorRate),
					confidence: 0.8,
				})
			}
			break
		}
	}

	// Latency: weak preference for the faster backend.
	if fast, ok := fastest(snapshot, available); ok {
		votes = append(votes, vote{
			mode:       fast,
			reason:     fmt.Sprintf("%s has the lowest response time (%.0fms)", fast, snapshot[fast].ResponseTimeMs),
			confidence: 0.5,
		})
	}

	return votes
}

func isAvailable(available []model.BackendMode, mode model.BackendMode) bool {
	for _, m := range available {
		if m == mode {
			return true
		}
	}
	return false
}

func leastLoaded(snapshot model.HealthSnapshot, available []model.BackendMode, exclude model.BackendMode) (model.BackendMode, bool) {
	var best model.BackendMode
	bestLoad := 0.0
	found := false
	for _, mode := range available {
		if mode == exclude {
			continue
		}
		if !found || snapshot[mode].Load < bestLoad {
			best, bestLoad, found = mode, snapshot[mode].Load, true
		}
	}
	return best, found
}

func lowestErrorRate(snapshot model.HealthSnapshot, available []model.BackendMode, exclude model.BackendMode) (model.BackendMode, bool) {
	var best model.BackendMode
	bestRate := 0.0
	found := false
	for _, mode := range available {
		if mode == exclude {
			continue
		}
		if !found || snapshot[mode].ErrorRate < bestRate {
			best, bestRate, found = mode, snapshot[mode].ErrorRate, true
		}
	}
	return best, found
}

// fastest returns the backend with the strictly lowest response time.
// Equal times produce no vote rather than an arbitrary winner.
func fastest(snapshot model.HealthSnapshot, available []model.BackendMode) (model.BackendMode, bool) {
	var best model.BackendMode
	bestMs := 0.0
	found := false
	tied := false
	for _, mode := range available {
		ms := snapshot[mode].ResponseTimeMs
		switch {
		case !found:
			best, bestMs, found = mode, ms, true
		case ms < bestMs:
			best, bestMs, tied = mode, ms, false
		case ms == bestMs:
			tied = true
		}
	}
	if !found || tied {
		return "", false
	}
	return best, true
}

func alternatives(available []model.BackendMode, chosen model.BackendMode) []model.BackendMode {
	out := []model.BackendMode{}
	for _, mode := range available {
		if mode != chosen {
			out = append(out, mode)
		}
	}
	return out
}
