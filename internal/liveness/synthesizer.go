package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// Synthesizer writes Offline entries for reporting gaps longer than the
// offline threshold.
//
// The record path and the sweep can both try to close the same gap. Each
// device has a gap mutex held from the MostRecent read through the append
// (and, for the sweep, the registry write), so the second path always sees
// the first one's entry.
type Synthesizer struct {
	tracker   *Tracker
	threshold time.Duration
	journal   *Journal
	metrics   *Metrics
	logger    Logger

	gapsMu sync.Mutex
	gaps   map[string]*sync.Mutex
}

// NewSynthesizer creates a synthesizer that uses the tracker's threshold and
// re-reads the tracker before acting on a sweep.
//
// Parameters:
//   - tracker: the Tracker the Ingestor records into
//   - journal: where Offline entries and Unavailable states are written
//   - metrics: optional; nil discards
//
// Returns:
//   - *Synthesizer: ready for OnRecord and OnSweep
func NewSynthesizer(tracker *Tracker, journal *Journal, metrics *Metrics) *Synthesizer {
	return &Synthesizer{
		tracker:   tracker,
		threshold: tracker.Threshold(),
		journal:   journal,
		metrics:   metricsOrDiscard(metrics),
		logger:    noopLogger{},
		gaps:      make(map[string]*sync.Mutex),
	}
}

// SetLogger sets the logger.
func (s *Synthesizer) SetLogger(logger Logger) {
	s.logger = loggerOrNoop(logger)
}

// OfflineAt returns the instant a device last seen at lastSeen crossed the
// offline threshold.
func (s *Synthesizer) OfflineAt(lastSeen time.Time) time.Time {
	return lastSeen.Add(s.threshold)
}

// OnRecord closes the gap between prev and a report arriving at now, if
// the gap exceeds the threshold. It reports whether an entry was written.
// The registry is not touched; the report being applied overwrites it.
func (s *Synthesizer) OnRecord(ctx context.Context, prev Record, now time.Time) (bool, error) {
	if now.Sub(prev.LastSeen) <= s.threshold {
		return false, nil
	}

	unlock := s.lockGap(prev.DeviceID)
	defer unlock()
	return s.closeGap(ctx, prev, triggerRecord)
}

// OnSweep closes the gap for a device that is no longer online at now,
// matching Tracker.IsOnline. Repeated calls for the same silence write one
// entry. When an entry is written the registry state becomes Unavailable.
//
// rec may be out of date by the time OnSweep runs. If the tracker already
// holds a newer report, the device spoke during the sweep and nothing is
// written; the record path owns that gap. The registry write is also
// conditional on rec.LastSeen, so it never overrides a newer report that
// reached the registry first.
func (s *Synthesizer) OnSweep(ctx context.Context, rec Record, now time.Time) (bool, error) {
	if now.Sub(rec.LastSeen) < s.threshold {
		return false, nil
	}

	unlock := s.lockGap(rec.DeviceID)
	defer unlock()

	if cur, ok := s.tracker.Snapshot(rec.DeviceID); ok && cur.LastSeen.After(rec.LastSeen) {
		s.logger.Debug("device reported during sweep",
			"device_id", rec.DeviceID,
			"swept_last_seen", rec.LastSeen,
			"last_seen", cur.LastSeen,
		)
		return false, nil
	}

	wrote, err := s.closeGap(ctx, rec, triggerSweep)
	if err != nil || !wrote {
		return wrote, err
	}

	err = s.journal.SetState(ctx, rec.DeviceID, lock.StateUnavailable, rec.LastSeen)
	if errors.Is(err, lock.ErrStaleStatus) {
		return true, nil
	}
	return true, err
}

// lockGap serializes gap closing for one device and returns the unlock.
func (s *Synthesizer) lockGap(deviceID string) func() {
	s.gapsMu.Lock()
	mu, ok := s.gaps[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		s.gaps[deviceID] = mu
	}
	s.gapsMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// closeGap appends one Offline entry for the silence that began after
// rec.LastSeen, unless the newest entry already records it.
func (s *Synthesizer) closeGap(ctx context.Context, rec Record, trigger string) (bool, error) {
	last, err := s.journal.MostRecent(ctx, rec.DeviceID)
	if err != nil {
		return false, err
	}
	if gapClosed(last, rec) {
		return false, nil
	}

	e := &locklog.Entry{
		Timestamp: s.OfflineAt(rec.LastSeen),
		DeviceID:  rec.DeviceID,
		Status:    lock.StatusOffline,
		State:     rec.LastState,
		Synthetic: true,
	}
	if err := s.journal.Append(ctx, e); err != nil {
		return false, err
	}

	s.metrics.recordOffline(trigger)
	s.logger.Info("device offline",
		"device_id", rec.DeviceID,
		"last_seen", rec.LastSeen,
		"offline_at", e.Timestamp,
		"trigger", trigger,
	)
	return true, nil
}

// gapClosed reports whether last is an Offline entry written after rec,
// i.e. for the current silence rather than an earlier one.
func gapClosed(last *locklog.Entry, rec Record) bool {
	return last != nil &&
		last.Status == lock.StatusOffline &&
		last.Timestamp.After(rec.LastSeen)
}
