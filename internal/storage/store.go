// Package storage provides the execution record stores for Kaigi.
//
// Two implementations share one contract: DB is the PostgreSQL store
// (pgxpool, one table per agent type for write/query locality), and Lite is
// the embedded SQLite store for single-node deployments. Records are
// append/update only — nothing deletes rows outside retention sweeps.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaigi/internal/model"
)

// RecordStore persists one audit record per agent invocation, partitioned
// by agent type.
//
// Callers treat writes as best-effort: an Update after a failed Create must
// degrade to logging inside the store, never surface an error that would
// mask the business failure it is recording.
type RecordStore interface {
	// CreateInvocation inserts a pending record and returns its ID.
	CreateInvocation(ctx context.Context, rec model.AgentInvocationRecord) error
	// UpdateInvocation writes the terminal fields for a record.
	UpdateInvocation(ctx context.Context, agentType string, id uuid.UUID, upd model.InvocationUpdate) error
	// QueryInvocations returns records matching the filter, newest first.
	QueryInvocations(ctx context.Context, filter model.RecordFilter) ([]model.AgentInvocationRecord, error)
	// Stats aggregates per agent type and model.
	Stats(ctx context.Context) ([]model.AgentTypeStats, error)
	// CleanupOlderThan soft-retires terminal records older than the given
	// number of days and returns the number retired.
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
	// Close releases the underlying connections.
	Close(ctx context.Context) error
}
