package locklog

import "context"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store persists lock history.
//
// Implementations must be safe for concurrent use and must order reads by
// timestamp descending, then by insertion order descending.
type Store interface {
	// Append writes e, assigning e.ID when empty.
	Append(ctx context.Context, e *Entry) error

	// MostRecent returns the newest entry for the device, or ErrEntryNotFound.
	MostRecent(ctx context.Context, deviceID string) (*Entry, error)

	// ListByDevice returns up to limit entries for the device, newest first.
	// limit <= 0 means 50; values above 200 are clamped.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error)

	// ListByUser returns up to limit command entries issued by userID.
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
