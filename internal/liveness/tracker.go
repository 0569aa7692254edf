package liveness

import (
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/lock"
)

const (
	// DefaultOfflineThreshold is the longest a device may stay silent and
	// still be considered online.
	DefaultOfflineThreshold = config.DefaultOfflineThreshold * time.Second

	// DefaultSweepInterval is how often the sweeper looks for silent devices.
	DefaultSweepInterval = config.DefaultSweepInterval * time.Second
)

// Record is the last accepted report for one device.
type Record struct {
	DeviceID   string
	LastSeen   time.Time
	LastStatus string
	LastState  string
}

type trackedDevice struct {
	mu   sync.Mutex
	rec  Record
	seen bool
}

// Tracker holds the last-seen record of every device that has reported.
//
// The device index is guarded by an RWMutex that is only write-locked when a
// new device appears. Each device has its own mutex, so reports for
// different devices never contend.
type Tracker struct {
	threshold time.Duration

	mu      sync.RWMutex
	devices map[string]*trackedDevice
}

// NewTracker creates a tracker. A non-positive threshold uses
// DefaultOfflineThreshold.
func NewTracker(threshold time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	return &Tracker{
		threshold: threshold,
		devices:   make(map[string]*trackedDevice),
	}
}

// Threshold returns the offline threshold.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

func (t *Tracker) lookup(deviceID string) *trackedDevice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.devices[deviceID]
}

func (t *Tracker) lookupOrCreate(deviceID string) *trackedDevice {
	if d := t.lookup(deviceID); d != nil {
		return d
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[deviceID]
	if !ok {
		d = &trackedDevice{rec: Record{DeviceID: deviceID}}
		t.devices[deviceID] = d
	}
	return d
}

// Record stores a report received at now and returns the record it
// replaced. Only the in-memory update runs under the device's mutex.
//
// Parameters:
//   - deviceID: Registered device id (already validated by the caller)
//   - status: Reported lock mechanism state
//   - state: Reported auxiliary state, already defaulted
//   - now: Arrival time, authoritative for ordering
//
// Returns:
//   - prev: The replaced record, for the synthesizer's gap check
//   - ok: false on the device's first report (prev is then zero)
//   - err: ErrStaleReport when now is before the recorded LastSeen; the
//     record is left unchanged. Equal timestamps are accepted.
func (t *Tracker) Record(deviceID, status, state string, now time.Time) (prev Record, ok bool, err error) {
	d := t.lookupOrCreate(deviceID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen && now.Before(d.rec.LastSeen) {
		return Record{}, false, ErrStaleReport
	}

	prev, ok = d.rec, d.seen
	d.rec = Record{DeviceID: deviceID, LastSeen: now, LastStatus: status, LastState: state}
	d.seen = true
	return prev, ok, nil
}

// IsOnline reports whether the device has reported within the threshold
// before now. Devices that have never reported are offline.
func (t *Tracker) IsOnline(deviceID string, now time.Time) bool {
	rec, ok := t.Snapshot(deviceID)
	if !ok {
		return false
	}
	return now.Sub(rec.LastSeen) < t.threshold
}

// State returns the derived auxiliary condition at now.
func (t *Tracker) State(deviceID string, now time.Time) string {
	if t.IsOnline(deviceID, now) {
		return lock.StateAvailable
	}
	return lock.StateUnavailable
}

// Snapshot returns a copy of the device's record.
func (t *Tracker) Snapshot(deviceID string) (Record, bool) {
	d := t.lookup(deviceID)
	if d == nil {
		return Record{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rec, d.seen
}

// DeviceIDs returns the ids of all tracked devices in sorted order.
func (t *Tracker) DeviceIDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.devices))
	for id := range t.devices {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Seed installs rec unless the tracker already holds a newer report for
// the device. It reports whether rec was installed.
func (t *Tracker) Seed(rec Record) bool {
	if rec.DeviceID == "" || rec.LastSeen.IsZero() {
		return false
	}

	d := t.lookupOrCreate(rec.DeviceID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen && !rec.LastSeen.After(d.rec.LastSeen) {
		return false
	}
	d.rec = rec
	d.seen = true
	return true
}

// Rehydrate seeds the tracker from registry rows that have a last_seen.
// It returns the number of devices seeded.
//
// LastState comes from the state the device last reported, never from the
// derived Unavailable the sweep or status endpoint may have written over it.
func (t *Tracker) Rehydrate(locks []lock.Lock) int {
	n := 0
	for i := range locks {
		l := &locks[i]
		if l.LastSeen == nil {
			continue
		}
		if t.Seed(Record{
			DeviceID:   l.DeviceID,
			LastSeen:   *l.LastSeen,
			LastStatus: l.Status,
			LastState:  reportedState(l),
		}) {
			n++
		}
	}
	return n
}

// reportedState falls back to State for rows written before reported_state
// existed. A bare Unavailable in such a row is taken as derived and maps to
// the ingest default.
func reportedState(l *lock.Lock) string {
	switch {
	case l.ReportedState != "":
		return l.ReportedState
	case l.State == lock.StateUnavailable || l.State == "":
		return lock.StateAvailable
	default:
		return l.State
	}
}
