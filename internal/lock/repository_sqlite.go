package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/database"
)

// SQLiteRepository stores locks in the local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectLockColumns = `SELECT device_id, name, owner_id, status, state, reported_state, last_seen, issue, created_at, updated_at FROM locks`

// Create inserts a new lock; ErrLockExists if the device_id is taken.
func (r *SQLiteRepository) Create(ctx context.Context, l *Lock) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO locks (device_id, name, owner_id, status, state, reported_state, last_seen, issue, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.DeviceID, l.Name, l.OwnerID, l.Status, l.State, l.ReportedState,
		nullableTime(l.LastSeen), l.Issue,
		database.FormatTime(l.CreatedAt), database.FormatTime(l.UpdatedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrLockExists
		}
		return fmt.Errorf("inserting lock: %w", err)
	}
	return nil
}

// GetByID returns the lock or ErrLockNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, deviceID string) (*Lock, error) {
	row := r.db.QueryRowContext(ctx, selectLockColumns+" WHERE device_id = ?", deviceID)
	l, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lock: %w", err)
	}
	return l, nil
}

// List returns every lock ordered by device_id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Lock, error) {
	return r.query(ctx, selectLockColumns+" ORDER BY device_id")
}

// ListByOwner returns the locks owned by ownerID.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]Lock, error) {
	return r.query(ctx, selectLockColumns+" WHERE owner_id = ? ORDER BY device_id", ownerID)
}

// UpsertStatus writes a report's status, state and last_seen, refusing to
// move last_seen backwards.
func (r *SQLiteRepository) UpsertStatus(ctx context.Context, deviceID, status, state string, lastSeen time.Time) error {
	ts := database.FormatTime(lastSeen)
	res, err := r.db.ExecContext(ctx, `
		UPDATE locks SET status = ?, state = ?, reported_state = ?, last_seen = ?, updated_at = ?
		WHERE device_id = ? AND (last_seen IS NULL OR last_seen <= ?)`,
		status, state, state, ts, database.FormatTime(time.Now()), deviceID, ts,
	)
	if err != nil {
		return fmt.Errorf("updating lock status: %w", err)
	}
	return r.explainNoop(ctx, res, deviceID, ErrStaleStatus)
}

// SetState writes the derived condition (Available/Unavailable) if no
// report newer than lastSeen has been stored.
func (r *SQLiteRepository) SetState(ctx context.Context, deviceID, state string, lastSeen time.Time) error {
	var seen any
	if !lastSeen.IsZero() {
		seen = database.FormatTime(lastSeen)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE locks SET state = ?, updated_at = ? WHERE device_id = ? AND last_seen IS ?",
		state, database.FormatTime(time.Now()), deviceID, seen,
	)
	if err != nil {
		return fmt.Errorf("updating lock state: %w", err)
	}
	return r.explainNoop(ctx, res, deviceID, ErrStaleStatus)
}

// SetOwner reassigns the lock to ownerID.
func (r *SQLiteRepository) SetOwner(ctx context.Context, deviceID, ownerID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE locks SET owner_id = ?, updated_at = ? WHERE device_id = ?",
		ownerID, database.FormatTime(time.Now()), deviceID,
	)
	if err != nil {
		return fmt.Errorf("updating lock owner: %w", err)
	}
	return r.explainNoop(ctx, res, deviceID, nil)
}

// explainNoop turns a zero-row update into ErrLockNotFound, or into
// existsErr when the row exists but the WHERE guard rejected the write.
func (r *SQLiteRepository) explainNoop(ctx context.Context, res sql.Result, deviceID string, existsErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM locks WHERE device_id = ?", deviceID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrLockNotFound
	case err != nil:
		return fmt.Errorf("checking lock existence: %w", err)
	case existsErr != nil:
		return existsErr
	default:
		return nil
	}
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]Lock, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying locks: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		locks = append(locks, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating locks: %w", err)
	}
	return locks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLock(row rowScanner) (*Lock, error) {
	var (
		l                    Lock
		lastSeen, issue      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&l.DeviceID, &l.Name, &l.OwnerID, &l.Status, &l.State, &l.ReportedState,
		&lastSeen, &issue, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if lastSeen.Valid {
		ts, err := database.ParseTime(lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		l.LastSeen = &ts
	}
	if issue.Valid {
		l.Issue = &issue.String
	}
	l.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // written by us
	l.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // written by us
	return &l, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return database.FormatTime(*t)
}
