package lock

import "time"

// Lock mechanism states.
const (
	StatusUnknown  = "Unknown"
	StatusLocked   = "Locked"
	StatusUnlocked = "Unlocked"
	StatusOffline  = "Offline"
)

// Auxiliary conditions derived from liveness.
const (
	StateAvailable   = "Available"
	StateUnavailable = "Unavailable"
)

// Lock is one registered device.
//
// State is what clients see: the device's own label while it reports, or
// Unavailable once the sweep has marked it silent. ReportedState keeps the
// last label the device itself sent, which SetState never overwrites.
type Lock struct {
	DeviceID      string     `json:"device_id"`
	Name          string     `json:"name"`
	OwnerID       string     `json:"owner_id"`
	Status        string     `json:"status"`
	State         string     `json:"state"`
	ReportedState string     `json:"-"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	Issue         *string    `json:"issue"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with l.
func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	c := *l
	if l.LastSeen != nil {
		ts := *l.LastSeen
		c.LastSeen = &ts
	}
	if l.Issue != nil {
		issue := *l.Issue
		c.Issue = &issue
	}
	return &c
}
