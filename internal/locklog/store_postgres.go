package locklog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore implements Store over the lock_logs table. The seq column
// breaks ties between entries that share a timestamp.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over a migrated pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const pgSelect = `SELECT id, device_id, ts, status, state, COALESCE(action, ''), COALESCE(user_id, ''), synthetic FROM lock_logs`

func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	if err := e.prepare(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO lock_logs (id, device_id, ts, status, state, action, user_id, synthetic)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.DeviceID, e.Timestamp, e.Status, e.State,
		nullString(e.Action), nullString(e.UserID), e.Synthetic,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting lock log: %w", err)
	}
	return nil
}

func (s *PostgresStore) MostRecent(ctx context.Context, deviceID string) (*Entry, error) {
	rows, err := s.pool.Query(ctx, pgSelect+" WHERE device_id = $1 ORDER BY ts DESC, seq DESC LIMIT 1", deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying most recent lock log: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanPgEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying most recent lock log: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	return s.collect(ctx, pgSelect+" WHERE device_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2", deviceID, clampLimit(limit))
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return s.collect(ctx, pgSelect+" WHERE user_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2", userID, clampLimit(limit))
}

func (s *PostgresStore) collect(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lock logs: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanPgEntry)
	if err != nil {
		return nil, fmt.Errorf("collecting lock logs: %w", err)
	}
	return entries, nil
}

func scanPgEntry(row pgx.CollectableRow) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.DeviceID, &e.Timestamp, &e.Status, &e.State, &e.Action, &e.UserID, &e.Synthetic)
	e.Timestamp = e.Timestamp.UTC()
	return e, err
}
