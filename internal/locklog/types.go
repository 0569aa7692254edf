package locklog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command actions recorded on user-issued entries.
const (
	ActionLock   = "LOCK"
	ActionUnlock = "UNLOCK"
)

const idPrefix = "log-"

// Entry is one row of lock history.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Action    string    `json:"action,omitempty"`
	UserID    string    `json:"user_id,omitempty"`

	// Synthetic marks an Offline entry written to close a reporting gap.
	// Its Timestamp is the moment the device crossed the offline
	// threshold, not when the gap was detected.
	Synthetic bool `json:"synthetic,omitempty"`
}

// NewID returns a unique entry identifier: "log-" followed by a random
// (version 4) UUID.
func NewID() string {
	return idPrefix + uuid.NewString()
}

// prepare fills in the ID and normalises the timestamp before a write.
func (e *Entry) prepare() error {
	if e.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidEntry)
	}
	if e.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidEntry)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	e.Timestamp = e.Timestamp.UTC()
	return nil
}
