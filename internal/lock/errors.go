package lock

import "errors"

var (
	// ErrLockNotFound is returned when a device_id is not registered.
	ErrLockNotFound = errors.New("lock: not found")

	// ErrLockExists is returned when registering a device_id twice.
	ErrLockExists = errors.New("lock: already registered")

	// ErrInvalidLock is returned when registration input fails validation.
	ErrInvalidLock = errors.New("lock: invalid")

	// ErrStaleStatus is returned when a status write carries a last_seen
	// older than the one already stored.
	ErrStaleStatus = errors.New("lock: status older than stored last_seen")
)
