package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/kaigi/internal/model"
)

// Lite is the embedded SQLite record store for single-node deployments.
// It implements the same RecordStore contract as DB, plus the workflow
// journal used by the durable engine.
type Lite struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	shards map[string]string
}

// OpenLite opens (creating if necessary) the SQLite store at path.
// Use ":memory:" for an ephemeral store in tests.
func OpenLite(path string, logger *slog.Logger) (*Lite, error) {
	dsn := path
	if path != ":memory:" {
		// WAL keeps the concurrent stage fan-out from serializing on writes.
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; a bounded pool avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	l := &Lite{db: db, logger: logger, shards: make(map[string]string)}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Lite) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS invocation_shards (
			agent_type TEXT PRIMARY KEY,
			table_name TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS workflow_journal_session_idx ON workflow_journal (session_id)`,
	}
	for _, stmt := range ddl {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: sqlite migrate: %w", err)
		}
	}
	return nil
}

func (l *Lite) ensureShard(ctx context.Context, agentType string) (string, error) {
	l.mu.Lock()
	if table, ok := l.shards[agentType]; ok {
		l.mu.Unlock()
		return table, nil
	}
	l.mu.Unlock()

	table, err := shardTable(agentType)
	if err != nil {
		return "", err
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			input_prompt TEXT NOT NULL DEFAULT '',
			output_content TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			error_code TEXT,
			error_message TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			retired_at TEXT
		)`, table)
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return "", fmt.Errorf("storage: create shard %s: %w", table, err)
	}
	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_session_idx ON %s (session_id)`, table, table)); err != nil {
		return "", fmt.Errorf("storage: index shard %s: %w", table, err)
	}
	if _, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO invocation_shards (agent_type, table_name) VALUES (?, ?)`,
		agentType, table); err != nil {
		return "", fmt.Errorf("storage: register shard %s: %w", table, err)
	}

	l.mu.Lock()
	l.shards[agentType] = table
	l.mu.Unlock()
	l.logger.Debug("storage: shard ready", "agent_type", agentType, "table", table)
	return table, nil
}

// sqliteTimeLayout is fixed-width so stored timestamps compare correctly
// as strings (RFC3339Nano drops trailing zeros and breaks lexicographic
// ordering for sub-second values).
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func sqliteTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CreateInvocation inserts a pending invocation record into its shard.
func (l *Lite) CreateInvocation(ctx context.Context, rec model.AgentInvocationRecord) error {
	table, err := l.ensureShard(ctx, rec.AgentType)
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
	var completedAt any
	if rec.CompletedAt != nil {
		completedAt = sqliteTime(*rec.CompletedAt)
	}

	_, err = l.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, session_id, agent_type, agent_name, model,
			input_prompt, output_content,
			prompt_tokens, completion_tokens, total_tokens,
			started_at, completed_at, status, error_code, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
		rec.ID.String(), rec.SessionID.String(), rec.AgentType, rec.AgentName, rec.Model,
		rec.InputPrompt, rec.OutputContent,
		rec.Tokens.Prompt, rec.Tokens.Completion, rec.Tokens.Total,
		sqliteTime(rec.StartedAt), completedAt, string(rec.Status), rec.ErrorCode, rec.ErrorMessage, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("storage: insert invocation: %w", err)
	}
	return nil
}

// UpdateInvocation writes the terminal fields for a record.
// Returns ErrNotFound when the record does not exist.
func (l *Lite) UpdateInvocation(ctx context.Context, agentType string, id uuid.UUID, upd model.InvocationUpdate) error {
	table, err := l.ensureShard(ctx, agentType)
	if err != nil {
		return err
	}
	res, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET
			status = ?,
			output_content = ?,
			model = CASE WHEN ? = '' THEN model ELSE ? END,
			agent_name = CASE WHEN ? = '' THEN agent_name ELSE ? END,
			prompt_tokens = ?,
			completion_tokens = ?,
			total_tokens = ?,
			completed_at = ?,
			error_code = ?,
			error_message = ?
		WHERE id = ?`, table),
		string(upd.Status), upd.OutputContent, upd.Model, upd.Model,
		upd.AgentName, upd.AgentName,
		upd.Tokens.Prompt, upd.Tokens.Completion, upd.Tokens.Total,
		sqliteTime(upd.CompletedAt), upd.ErrorCode, upd.ErrorMessage,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: update invocation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update invocation rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *Lite) listShards(ctx context.Context, agentType *string) (map[string]string, error) {
	query := `SELECT agent_type, table_name FROM invocation_shards`
	var args []any
	if agentType != nil {
		query += ` WHERE agent_type = ?`
		args = append(args, *agentType)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
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

// QueryInvocations returns records matching the filter, newest first.
func (l *Lite) QueryInvocations(ctx context.Context, filter model.RecordFilter) ([]model.AgentInvocationRecord, error) {
	shards, err := l.listShards(ctx, filter.AgentType)
	if err != nil {
		return nil, err
	}

	clauses := []string{"retired_at IS NULL"}
	var args []any
	if filter.SessionID != nil {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID.String())
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.From != nil {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, sqliteTime(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "started_at < ?")
		args = append(args, sqliteTime(*filter.To))
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	var out []model.AgentInvocationRecord
	for _, table := range shards {
		query := fmt.Sprintf(`
			SELECT id, session_id, agent_type, agent_name, model,
			       input_prompt, output_content,
			       prompt_tokens, completion_tokens, total_tokens,
			       started_at, completed_at, status, error_code, error_message, metadata
			FROM %s %s ORDER BY started_at DESC`, table, where)
		if filter.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		}
		rows, err := l.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("storage: query invocations from %s: %w", table, err)
		}
		recs, err := scanLiteRecords(rows)
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

func scanLiteRecords(rows *sql.Rows) ([]model.AgentInvocationRecord, error) {
	defer rows.Close()
	var out []model.AgentInvocationRecord
	for rows.Next() {
		var (
			rec                model.AgentInvocationRecord
			idStr, sessStr     string
			startedStr, status string
			completedStr       sql.NullString
			metaJSON           string
		)
		err := rows.Scan(
			&idStr, &sessStr, &rec.AgentType, &rec.AgentName, &rec.Model,
			&rec.InputPrompt, &rec.OutputContent,
			&rec.Tokens.Prompt, &rec.Tokens.Completion, &rec.Tokens.Total,
			&startedStr, &completedStr, &status, &rec.ErrorCode, &rec.ErrorMessage, &metaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: scan invocation: %w", err)
		}
		if rec.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("storage: parse invocation id: %w", err)
		}
		if rec.SessionID, err = uuid.Parse(sessStr); err != nil {
			return nil, fmt.Errorf("storage: parse session id: %w", err)
		}
		if rec.StartedAt, err = parseSQLiteTime(startedStr); err != nil {
			return nil, fmt.Errorf("storage: parse started_at: %w", err)
		}
		if completedStr.Valid {
			t, err := parseSQLiteTime(completedStr.String)
			if err != nil {
				return nil, fmt.Errorf("storage: parse completed_at: %w", err)
			}
			rec.CompletedAt = &t
		}
		rec.Status = model.InvocationStatus(status)
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("storage: unmarshal invocation metadata: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats aggregates counts, success rate, latency, and token totals per
// agent type and model.
func (l *Lite) Stats(ctx context.Context) ([]model.AgentTypeStats, error) {
	shards, err := l.listShards(ctx, nil)
	if err != nil {
		return nil, err
	}

	var out []model.AgentTypeStats
	for agentType, table := range shards {
		rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT model,
			       COUNT(*),
			       SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END),
			       COALESCE(AVG(CASE WHEN completed_at IS NOT NULL
			                    THEN (julianday(completed_at) - julianday(started_at)) * 86400000.0
			                    END), 0),
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
// of days and returns the number retired.
func (l *Lite) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("storage: cleanup days must be positive, got %d", days)
	}
	shards, err := l.listShards(ctx, nil)
	if err != nil {
		return 0, err
	}

	cutoff := sqliteTime(time.Now().UTC().AddDate(0, 0, -days))
	now := sqliteTime(time.Now().UTC())
	var total int64
	for _, table := range shards {
		res, err := l.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET retired_at = ?
			WHERE retired_at IS NULL
			  AND status <> 'pending'
			  AND started_at < ?`, table),
			now, cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("storage: cleanup %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("storage: cleanup %s rows affected: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// JournalCheckpoint appends one stage checkpoint for a session.
// Used by the durable engine before each stage transition.
func (l *Lite) JournalCheckpoint(ctx context.Context, sessionID uuid.UUID, stage, status string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO workflow_journal (session_id, stage, status, recorded_at) VALUES (?, ?, ?, ?)`,
		sessionID.String(), stage, status, sqliteTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("storage: journal checkpoint: %w", err)
	}
	return nil
}

// JournalEntry is one persisted stage checkpoint.
type JournalEntry struct {
	Stage      string
	Status     string
	RecordedAt time.Time
}

// Journal returns the checkpoints for a session in write order.
func (l *Lite) Journal(ctx context.Context, sessionID uuid.UUID) ([]JournalEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT stage, status, recorded_at FROM workflow_journal WHERE session_id = ? ORDER BY id`,
		sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: read journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var ts string
		if err := rows.Scan(&e.Stage, &e.Status, &ts); err != nil {
			return nil, fmt.Errorf("storage: scan journal row: %w", err)
		}
		if e.RecordedAt, err = parseSQLiteTime(ts); err != nil {
			return nil, fmt.Errorf("storage: parse journal timestamp: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Lite) Close(ctx context.Context) error {
	return l.db.Close()
}
