package locklog

import "errors"

var (
	// ErrEntryNotFound is returned by MostRecent when a device has no entries.
	ErrEntryNotFound = errors.New("locklog: entry not found")

	// ErrInvalidEntry is returned when an entry is missing required fields.
	ErrInvalidEntry = errors.New("locklog: invalid entry")

	// ErrDuplicateEntry is returned by Append when an entry with the same
	// id is already stored. Ids are random UUIDs, so this means an earlier
	// attempt of the same write committed.
	ErrDuplicateEntry = errors.New("locklog: duplicate entry id")
)
