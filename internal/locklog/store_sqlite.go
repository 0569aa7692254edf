package locklog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/database"
)

// SQLiteStore implements Store over the lock_logs table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteSelect = `SELECT id, device_id, timestamp, status, state, action, user_id, synthetic FROM lock_logs`

// Append inserts e.
func (s *SQLiteStore) Append(ctx context.Context, e *Entry) error {
	if err := e.prepare(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lock_logs (id, device_id, timestamp, status, state, action, user_id, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, database.FormatTime(e.Timestamp), e.Status, e.State,
		nullString(e.Action), nullString(e.UserID), e.Synthetic,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting lock log: %w", err)
	}
	return nil
}

// MostRecent returns the newest entry for deviceID.
func (s *SQLiteStore) MostRecent(ctx context.Context, deviceID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteSelect+" WHERE device_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT 1",
		deviceID,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying most recent lock log: %w", err)
	}
	return e, nil
}

// ListByDevice returns the device's history, newest first.
func (s *SQLiteStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	return s.list(ctx,
		sqliteSelect+" WHERE device_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?",
		deviceID, clampLimit(limit),
	)
}

// ListByUser returns entries attributed to userID, newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return s.list(ctx,
		sqliteSelect+" WHERE user_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?",
		userID, clampLimit(limit),
	)
}

func (s *SQLiteStore) list(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lock logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lock log: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lock logs: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e            Entry
		ts           string
		action, user sql.NullString
	)
	if err := row.Scan(&e.ID, &e.DeviceID, &ts, &e.Status, &e.State, &action, &user, &e.Synthetic); err != nil {
		return nil, err
	}

	parsed, err := database.ParseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	e.Timestamp = parsed
	e.Action = action.String
	e.UserID = user.String
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
