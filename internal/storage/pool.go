package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the PostgreSQL record store. It manages a pgxpool connection pool
// and lazily creates one invocation table per agent type.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu     sync.Mutex
	shards map[string]string // agent type -> table name, ensured this process
}

// New creates a new DB with a connection pool.
// dsn may point at PgBouncer or directly at Postgres.
// Call RunMigrations before first use to create the base schema.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool:   pool,
		logger: logger,
		shards: make(map[string]string),
	}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close(ctx context.Context) error {
	db.pool.Close()
	return nil
}
