package storage

import (
	"sort"

	"github.com/ashita-ai/kaigi/internal/model"
)

// sortRecordsNewestFirst orders merged cross-shard results by start time
// descending. Ties keep their relative order.
func sortRecordsNewestFirst(recs []model.AgentInvocationRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})
}

// sortStats orders stats rows by agent type then model for stable output.
func sortStats(stats []model.AgentTypeStats) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].AgentType != stats[j].AgentType {
			return stats[i].AgentType < stats[j].AgentType
		}
		return stats[i].Model < stats[j].Model
	})
}
