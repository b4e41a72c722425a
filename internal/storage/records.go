package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/kaigi/internal/model"
)

// recordColumns is the shared column list for invocation shard tables.
const recordColumns = `id, session_id, agent_type, agent_name, model,
	input_prompt, output_content,
	prompt_tokens, completion_tokens, total_tokens,
	started_at, completed_at, status, error_code, error_message, metadata`

// ensureShard creates the invocation table for an agent type if needed and
// registers it. Table names are derived, not user input — shardTable
// normalizes to [a-z0-9_].
func (db *DB) ensureShard(ctx context.Context, agentType string) (string, error) {
	db.mu.Lock()
	if table, ok := db.shards[agentType]; ok {
		db.mu.Unlock()
		return table, nil
	}
	db.mu.Unlock()

	table, err := shardTable(agentType)
	if err != nil {
		return "", err
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			agent_type TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			input_prompt TEXT NOT NULL DEFAULT '',
			output_content TEXT NOT NULL DEFAULT '',
			prompt_tokens INT NOT NULL DEFAULT 0,
			completion_tokens INT NOT NULL DEFAULT 0,
			total_tokens INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'pending',
			error_code TEXT,
			error_message TEXT,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			retired_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS %s_session_idx ON %s (session_id);
		CREATE INDEX IF NOT EXISTS %s_started_idx ON %s (started_at DESC)`,
		table, table, table, table, table)
	if _, err := db.pool.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("storage: create shard %s: %w", table, err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO invocation_shards (agent_type, table_name)
		 VALUES ($1, $2)
		 ON CONFLICT (agent_type) DO NOTHING`,
		agentType, table,
	)
	if err != nil {
		return "", fmt.Errorf("storage: register shard %s: %w", table, err)
	}

	db.mu.Lock()
	db.shards[agentType] = table
	db.mu.Unlock()
	db.logger.Debug("storage: shard ready", "agent_type", agentType, "table", table)
	return table, nil
}

// CreateInvocation inserts a pending invocation record into its shard.
func (db *DB) CreateInvocation(ctx context.Context, rec model.AgentInvocationRecord) error {
	table, err := db.ensureShard(ctx, rec.AgentType)
	if err != nil {
		return err
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal invocation metadata: %w", err)
	}

	_, err = db.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::jsonb)`,
		table, recordColumns),
		rec.ID, rec.SessionID, rec.AgentType, rec.AgentName, rec.Model,
		rec.InputPrompt, rec.OutputContent,
		rec.Tokens.Prompt, rec.Tokens.Completion, rec.Tokens.Total,
		rec.StartedAt, rec.CompletedAt, rec.Status, rec.ErrorCode, rec.ErrorMessage, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert invocation: %w", err)
	}
	return nil
}

// UpdateInvocation writes the terminal fields for a record.
// Returns ErrNotFound when the record does not exist (e.g. its Create failed).
func (db *DB) UpdateInvocation(ctx context.Context, agentType string, id uuid.UUID, upd model.InvocationUpdate) error {
	table, err := db.ensureShard(ctx, agentType)
	if err != nil {
		return err
	}
	var tag pgconn.CommandTag
	err = WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		var execErr error
		tag, execErr = db.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET
				status = $2,
				output_content = $3,
				model = CASE WHEN $4 = '' THEN model ELSE $4 END,
				agent_name = CASE WHEN $5 = '' THEN agent_name ELSE $5 END,
				prompt_tokens = $6,
				completion_tokens = $7,
				total_tokens = $8,
				completed_at = $9,
				error_code = $10,
				error_message = $11
			WHERE id = $1`, table),
			id, upd.Status, upd.OutputContent, upd.Model, upd.AgentName,
			upd.Tokens.Prompt, upd.Tokens.Completion, upd.Tokens.Total,
			upd.CompletedAt, upd.ErrorCode, upd.ErrorMessage,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("storage: update invocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// listShards returns all registered shard tables, optionally restricted to
// one agent type.
func (db *DB) listShards(ctx context.Context, agentType *string) (map[string]string, error) {
	query := `SELECT agent_type, table_name FROM invocation_shards`
	var args []any
	if agentType != nil {
		query += ` WHERE agent_type = $1`
		args = append(args, *agentType)
	}
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list shards: %w", err)
	}
	defer rows.Close()

	shards := make(map[string]string)
	for rows.Next() {
		var at, table string
		if err := rows.Scan(&at, &table); err != nil {
			return nil, fmt.Errorf("storage: scan shard row: %w", err)
		}
		shards[at] = table
	}
	return shards, rows.Err()
}

// buildRecordWhereClause renders the filter into a WHERE clause and args.
// Retired (soft-deleted) rows are always excluded.
func buildRecordWhereClause(filter model.RecordFilter) (string, []any) {
	clauses := []string{"retired_at IS NULL"}
	var args []any
	n := 1
	if filter.SessionID != nil {
		clauses = append(clauses, fmt.Sprintf("session_id = $%d", n))
		args = append(args, *filter.SessionID)
		n++
	}
	if filter.Status != nil {
		clauses = append(clauses, fmt.Sprintf("status = $%d", n))
		args = append(args, *filter.Status)
		n++
	}
	if filter.From != nil {
		clauses = append(clauses, fmt.Sprintf("started_at >= $%d", n))
		args = append(args, *filter.From)
		n++
	}
	if filter.To != nil {
		clauses = append(clauses, fmt.Sprintf("started_at < $%d", n))
		args = append(args, *filter.To)
		n++
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// QueryInvocations returns records matching the filter, newest first.
// When filter.AgentType is set only that shard is scanned.
func (db *DB) QueryInvocations(ctx context.Context, filter model.RecordFilter) ([]model.AgentInvocationRecord, error) {
	shards, err := db.listShards(ctx, filter.AgentType)
	if err != nil {
		return nil, err
	}

	where, args := buildRecordWhereClause(filter)
	var out []model.AgentInvocationRecord
	for _, table := range shards {
		query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY started_at DESC`, recordColumns, table, where)
		if filter.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		}
		rows, err := db.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("storage: query invocations from %s: %w", table, err)
		}
		recs, err := scanRecords(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	sortRecordsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func scanRecords(rows pgx.Rows) ([]model.AgentInvocationRecord, error) {
	defer rows.Close()
	var out []model.AgentInvocationRecord
	for rows.Next() {
		var rec model.AgentInvocationRecord
		var metaJSON []byte
		err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.AgentType, &rec.AgentName, &rec.Model,
			&rec.InputPrompt, &rec.OutputContent,
			&rec.Tokens.Prompt, &rec.Tokens.Completion, &rec.Tokens.Total,
			&rec.StartedAt, &rec.CompletedAt, &rec.Status, &rec.ErrorCode, &rec.ErrorMessage, &metaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: scan invocation: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("storage: unmarshal invocation metadata: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates counts, success rate, latency, and token totals per
// agent type and model.
func (db *DB) Stats(ctx context.Context) ([]model.AgentTypeStats, error) {
	shards, err := db.listShards(ctx, nil)
	if err != nil {
		return nil, err
	}

	var out []model.AgentTypeStats
	for agentType, table := range shards {
		rows, err := db.pool.Query(ctx, fmt.Sprintf(`
			SELECT model,
			       COUNT(*),
			       COUNT(*) FILTER (WHERE status = 'success'),
			       COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000)
			                FILTER (WHERE completed_at IS NOT NULL), 0),
			       COALESCE(SUM(total_tokens), 0)
			FROM %s
			WHERE retired_at IS NULL
			GROUP BY model
			ORDER BY model`, table))
		if err != nil {
			return nil, fmt.Errorf("storage: stats from %s: %w", table, err)
		}
		for rows.Next() {
			s := model.AgentTypeStats{AgentType: agentType}
			if err := rows.Scan(&s.Model, &s.Count, &s.SuccessCount, &s.AvgLatencyMs, &s.TotalTokens); err != nil {
				rows.Close()
				return nil, fmt.Errorf("storage: scan stats row: %w", err)
			}
			if s.Count > 0 {
				s.SuccessRate = float64(s.SuccessCount) / float64(s.Count)
			}
			out = append(out, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("storage: stats rows from %s: %w", table, err)
		}
	}
	sortStats(out)
	return out, nil
}

// CleanupOlderThan soft-retires terminal records older than the given number
// of days. Pending records are never retired — a crashed run's pending rows
// are evidence, not garbage.
func (db *DB) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("storage: cleanup days must be positive, got %d", days)
	}
	shards, err := db.listShards(ctx, nil)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var total int64
	for _, table := range shards {
		var tag pgconn.CommandTag
		err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
			var execErr error
			tag, execErr = db.pool.Exec(ctx, fmt.Sprintf(`
				UPDATE %s SET retired_at = now()
				WHERE retired_at IS NULL
				  AND status <> 'pending'
				  AND started_at < $1`, table),
				cutoff,
			)
			return execErr
		})
		if err != nil {
			return total, fmt.Errorf("storage: cleanup %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
