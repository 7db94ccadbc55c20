package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/appointment-sync/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// SchemaSQL creates the update log table if it does not exist.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS appointment_updates (
	id             UUID PRIMARY KEY,
	instance_id    TEXT        NOT NULL,
	appointment_id TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS appointment_updates_appointment_idx
	ON appointment_updates (appointment_id, received_at DESC);
`

// EnsureSchema applies SchemaSQL.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
