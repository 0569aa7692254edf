// Package postgres opens the PostgreSQL pool used when storage.backend is
// "postgres". The schema is small and applied inline at startup.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
)

// Pool wraps a pgx connection pool.
type Pool struct {
	*pgxpool.Pool
}

// Open parses cfg.URL, creates the pool and pings it.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns) //nolint:gosec // G115: configured pool size fits int32
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS locks (
  device_id  TEXT PRIMARY KEY,
  name       TEXT NOT NULL,
  owner_id   TEXT NOT NULL,
  status     TEXT NOT NULL DEFAULT 'Unknown',
  state      TEXT NOT NULL DEFAULT 'Available',
  reported_state TEXT NOT NULL DEFAULT '',
  last_seen  TIMESTAMPTZ,
  issue      TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_locks_owner ON locks(owner_id);

ALTER TABLE locks ADD COLUMN IF NOT EXISTS reported_state TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS lock_logs (
  seq       BIGSERIAL PRIMARY KEY,
  id        TEXT NOT NULL UNIQUE,
  device_id TEXT NOT NULL,
  ts        TIMESTAMPTZ NOT NULL,
  status    TEXT NOT NULL,
  state     TEXT NOT NULL DEFAULT '',
  action    TEXT,
  user_id   TEXT,
  synthetic BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_lock_logs_device_ts ON lock_logs(device_id, ts DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_lock_logs_user_ts ON lock_logs(user_id, ts DESC);
`

// Migrate creates the locks and lock_logs tables if they do not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// HealthCheck pings the pool.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}
