package lock

import (
	"context"
	"time"
)

// Repository persists locks. Implementations must make UpsertStatus
// conditional on the stored last_seen (ErrStaleStatus when older).
type Repository interface {
	Create(ctx context.Context, l *Lock) error
	GetByID(ctx context.Context, deviceID string) (*Lock, error)
	List(ctx context.Context) ([]Lock, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Lock, error)

	// UpsertStatus records a device report. Only registered locks are updated.
	UpsertStatus(ctx context.Context, deviceID, status, state string, lastSeen time.Time) error

	// SetState writes the derived liveness condition without touching
	// last_seen or reported_state. The write applies only while the stored
	// last_seen equals lastSeen (a zero lastSeen matches a lock that has
	// never reported); otherwise it returns ErrStaleStatus.
	SetState(ctx context.Context, deviceID, state string, lastSeen time.Time) error

	SetOwner(ctx context.Context, deviceID, ownerID string) error
}
