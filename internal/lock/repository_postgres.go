package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

// PostgresRepository stores locks in PostgreSQL through a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over a migrated pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const pgSelectLock = `SELECT device_id, name, owner_id, status, state, reported_state, last_seen, issue, created_at, updated_at FROM locks`

func (r *PostgresRepository) Create(ctx context.Context, l *Lock) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO locks (device_id, name, owner_id, status, state, reported_state, last_seen, issue, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.DeviceID, l.Name, l.OwnerID, l.Status, l.State, l.ReportedState, l.LastSeen, l.Issue, l.CreatedAt, l.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrLockExists
	}
	if err != nil {
		return fmt.Errorf("inserting lock: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, deviceID string) (*Lock, error) {
	rows, err := r.pool.Query(ctx, pgSelectLock+" WHERE device_id = $1", deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying lock: %w", err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanPgLock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lock: %w", err)
	}
	return &l, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Lock, error) {
	return r.collect(ctx, pgSelectLock+" ORDER BY device_id")
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]Lock, error) {
	return r.collect(ctx, pgSelectLock+" WHERE owner_id = $1 ORDER BY device_id", ownerID)
}

func (r *PostgresRepository) UpsertStatus(ctx context.Context, deviceID, status, state string, lastSeen time.Time) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE locks SET status = $1, state = $2, reported_state = $2, last_seen = $3, updated_at = NOW()
WHERE device_id = $4 AND (last_seen IS NULL OR last_seen <= $3)`,
		status, state, lastSeen.UTC(), deviceID,
	)
	if err != nil {
		return fmt.Errorf("updating lock status: %w", err)
	}
	return r.explainNoop(ctx, tag, deviceID, ErrStaleStatus)
}

// SetState compares last_seen through pgx's encoding of lastSeen, so both
// sides carry the same microsecond truncation.
func (r *PostgresRepository) SetState(ctx context.Context, deviceID, state string, lastSeen time.Time) error {
	var seen *time.Time
	if !lastSeen.IsZero() {
		ts := lastSeen.UTC()
		seen = &ts
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE locks SET state = $1, updated_at = NOW()
WHERE device_id = $2 AND last_seen IS NOT DISTINCT FROM $3`,
		state, deviceID, seen,
	)
	if err != nil {
		return fmt.Errorf("updating lock state: %w", err)
	}
	return r.explainNoop(ctx, tag, deviceID, ErrStaleStatus)
}

func (r *PostgresRepository) SetOwner(ctx context.Context, deviceID, ownerID string) error {
	tag, err := r.pool.Exec(ctx, "UPDATE locks SET owner_id = $1, updated_at = NOW() WHERE device_id = $2", ownerID, deviceID)
	if err != nil {
		return fmt.Errorf("updating lock owner: %w", err)
	}
	return r.explainNoop(ctx, tag, deviceID, nil)
}

func (r *PostgresRepository) explainNoop(ctx context.Context, tag pgconn.CommandTag, deviceID string, existsErr error) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM locks WHERE device_id = $1)", deviceID).Scan(&exists); err != nil {
		return fmt.Errorf("checking lock existence: %w", err)
	}
	if !exists {
		return ErrLockNotFound
	}
	return existsErr
}

func (r *PostgresRepository) collect(ctx context.Context, q string, args ...any) ([]Lock, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying locks: %w", err)
	}
	locks, err := pgx.CollectRows(rows, scanPgLock)
	if err != nil {
		return nil, fmt.Errorf("scanning locks: %w", err)
	}
	return locks, nil
}

func scanPgLock(row pgx.CollectableRow) (Lock, error) {
	var l Lock
	err := row.Scan(&l.DeviceID, &l.Name, &l.OwnerID, &l.Status, &l.State, &l.ReportedState,
		&l.LastSeen, &l.Issue, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}
