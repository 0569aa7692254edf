package liveness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

func TestSweep_DetectsSilentDevice(t *testing.T) {
	h := newHarness(10*time.Second, "device-1")
	ctx := context.Background()

	if err := h.report("device-1", lock.StatusLocked, "A", at(0)); err != nil {
		t.Fatal(err)
	}

	if n := h.sweeper.SweepOnce(ctx, at(5)); n != 0 {
		t.Errorf("SweepOnce(t=5) = %d, want 0 while online", n)
	}
	if n := h.sweeper.SweepOnce(ctx, at(10)); n != 1 {
		t.Fatalf("SweepOnce(t=10) = %d, want 1", n)
	}

	entries := h.logs.forDevice("device-1")
	last := entries[len(entries)-1]
	if last.Status != lock.StatusOffline || !last.Timestamp.Equal(at(10)) || last.State != "A" || !last.Synthetic {
		t.Errorf("sweep entry = %+v, want synthetic Offline at t=10 with state A", last)
	}
	if got := h.registry.get("device-1").State; got != lock.StateUnavailable {
		t.Errorf("registry state = %q, want Unavailable", got)
	}

	for _, sec := range []int{20, 30, 40} {
		if n := h.sweeper.SweepOnce(ctx, at(sec)); n != 0 {
			t.Errorf("SweepOnce(t=%d) = %d, want 0 for an already-closed gap", sec, n)
		}
	}
	if n := h.logs.offlineCount("device-1"); n != 1 {
		t.Errorf("Offline entries = %d, want exactly 1", n)
	}
	if got := testutil.ToFloat64(h.metrics.OfflineSynthesized.WithLabelValues(triggerSweep)); got != 1 {
		t.Errorf("offline_entries_synthesized_total{trigger=sweep} = %v, want 1", got)
	}
}

func TestSweep_ThenResumeClosesGapOnce(t *testing.T) {
	h := newHarness(10*time.Second, "device-1")
	ctx := context.Background()

	if err := h.report("device-1", lock.StatusLocked, "A", at(0)); err != nil {
		t.Fatal(err)
	}
	h.sweeper.SweepOnce(ctx, at(20))
	if err := h.report("device-1", lock.StatusLocked, "A", at(50)); err != nil {
		t.Fatal(err)
	}

	if n := h.logs.offlineCount("device-1"); n != 1 {
		t.Errorf("Offline entries = %d, want 1 for a single silence", n)
	}
	if got := h.registry.get("device-1").State; got != lock.StateAvailable {
		t.Errorf("registry state = %q, want Available after resuming", got)
	}

	// A second silence is a new gap.
	h.sweeper.SweepOnce(ctx, at(70))
	if n := h.logs.offlineCount("device-1"); n != 2 {
		t.Errorf("Offline entries = %d, want 2 after a second silence", n)
	}
}

func TestSweep_OnlyTouchesSilentDevices(t *testing.T) {
	h := newHarness(10*time.Second, "quiet", "chatty")
	ctx := context.Background()

	_ = h.report("quiet", lock.StatusLocked, "", at(0))
	_ = h.report("chatty", lock.StatusLocked, "", at(0))
	_ = h.report("chatty", lock.StatusLocked, "", at(8))

	if n := h.sweeper.SweepOnce(ctx, at(12)); n != 1 {
		t.Fatalf("SweepOnce() = %d, want 1", n)
	}
	if h.logs.offlineCount("chatty") != 0 {
		t.Error("sweep marked an online device offline")
	}
	if got := testutil.ToFloat64(h.metrics.DevicesOnline); got != 1 {
		t.Errorf("devices_online = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.DevicesTracked); got != 2 {
		t.Errorf("devices_tracked = %v, want 2", got)
	}
}

func TestSweep_FailureOnOneDeviceDoesNotStopPass(t *testing.T) {
	h := newHarness(10*time.Second, "a", "b")
	ctx := context.Background()
	_ = h.report("a", lock.StatusLocked, "", at(0))
	_ = h.report("b", lock.StatusLocked, "", at(0))

	h.registry.stateErr = errStoreDown
	if n := h.sweeper.SweepOnce(ctx, at(30)); n != 2 {
		t.Errorf("SweepOnce() = %d, want 2 entries despite registry failures", n)
	}
}

func TestSweep_StopsOnCancelledContext(t *testing.T) {
	h := newHarness(10*time.Second, "a", "b")
	_ = h.report("a", lock.StatusLocked, "", at(0))
	_ = h.report("b", lock.StatusLocked, "", at(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := h.sweeper.SweepOnce(ctx, at(30)); n != 0 {
		t.Errorf("SweepOnce(cancelled) = %d, want 0", n)
	}
}

func TestSweep_OutdatedRecord(t *testing.T) {
	tests := []struct {
		name string
		// between runs after the sweep copied the record and before it acts.
		between   func(h *harness) error
		wantWrote bool
	}{
		{
			name: "report fully applied",
			between: func(h *harness) error {
				return h.report("device-1", lock.StatusLocked, "A", at(40))
			},
			wantWrote: false,
		},
		{
			// The tracker still holds the old record but the registry
			// already has the newer report.
			name: "report reached registry only",
			between: func(h *harness) error {
				return h.registry.UpsertStatus(context.Background(), "device-1", lock.StatusLocked, "A", at(40))
			},
			wantWrote: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(10*time.Second, "device-1")
			if err := h.report("device-1", lock.StatusLocked, "A", at(0)); err != nil {
				t.Fatal(err)
			}
			old, _ := h.tracker.Snapshot("device-1")

			if err := tt.between(h); err != nil {
				t.Fatal(err)
			}

			wrote, err := h.synth.OnSweep(context.Background(), old, at(40))
			if err != nil {
				t.Fatalf("OnSweep() error = %v", err)
			}
			if wrote != tt.wantWrote {
				t.Errorf("OnSweep() wrote = %v, want %v", wrote, tt.wantWrote)
			}
			if n := h.logs.offlineCount("device-1"); n != 1 {
				t.Errorf("Offline entries = %d, want 1", n)
			}
			if got := h.registry.get("device-1").State; got != "A" {
				t.Errorf("registry state = %q, want the newer report's A", got)
			}
		})
	}
}

func TestSweep_ConcurrentWithIngest(t *testing.T) {
	tests := []struct {
		name string
		// sweepFirst makes the sweep hold the device while ingest arrives;
		// otherwise ingest holds it while the sweep arrives.
		sweepFirst bool
	}{
		{"sweep reads history first", true},
		{"ingest reads history first", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(10*time.Second, "device-1")
			if err := h.report("device-1", lock.StatusLocked, "A", at(0)); err != nil {
				t.Fatal(err)
			}
			old, _ := h.tracker.Snapshot("device-1")

			gated := newGatedLogStore(h.logs)
			h.journal.logs = gated

			sweepErr := make(chan error, 1)
			ingestErr := make(chan error, 1)
			sweep := func() {
				_, err := h.synth.OnSweep(context.Background(), old, at(40))
				sweepErr <- err
			}
			ingest := func() {
				ingestErr <- h.report("device-1", lock.StatusLocked, lock.StateAvailable, at(40))
			}

			if tt.sweepFirst {
				go sweep()
				<-gated.entered
				go ingest()
			} else {
				go ingest()
				<-gated.entered
				go sweep()
			}
			// Let the second path reach the device before the first finishes.
			time.Sleep(10 * time.Millisecond)
			close(gated.release)

			if err := <-sweepErr; err != nil {
				t.Errorf("OnSweep() error = %v", err)
			}
			if err := <-ingestErr; err != nil {
				t.Errorf("report() error = %v", err)
			}

			if n := h.logs.offlineCount("device-1"); n != 1 {
				t.Errorf("Offline entries = %d, want 1 for one silence", n)
			}
			if got := h.registry.get("device-1").State; got != lock.StateAvailable {
				t.Errorf("registry state = %q, want Available", got)
			}
			if !h.tracker.IsOnline("device-1", at(40)) {
				t.Error("tracker should hold the t=40 report")
			}
		})
	}
}

// blockingLogStore hangs on MostRecent until the caller gives up.
type blockingLogStore struct {
	calls atomic.Int32
}

func (*blockingLogStore) Append(context.Context, *locklog.Entry) error { return nil }

func (s *blockingLogStore) MostRecent(ctx context.Context, _ string) (*locklog.Entry, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSweeper_StartStop(t *testing.T) {
	tracker := NewTracker(time.Second)
	if _, _, err := tracker.Record("device-1", lock.StatusLocked, "", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	logs := &blockingLogStore{}
	journal := NewJournal(JournalConfig{Registry: newFakeRegistry("device-1"), Logs: logs, Policy: fastPolicy})
	sweeper := NewSweeper(SweeperConfig{
		Tracker:       tracker,
		Synthesizer:   NewSynthesizer(tracker, journal, nil),
		Interval:      5 * time.Millisecond,
		DeviceTimeout: time.Minute,
	})

	sweeper.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for logs.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if logs.calls.Load() == 0 {
		t.Fatal("sweeper never ran")
	}

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		sweeper.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked behind an in-flight write")
	}
}

func TestSweeper_StopsWithContext(t *testing.T) {
	tracker := NewTracker(time.Second)
	sweeper := NewSweeper(SweeperConfig{
		Tracker:     tracker,
		Synthesizer: NewSynthesizer(tracker, NewJournal(JournalConfig{}), nil),
		Interval:    time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
}

func TestSweeper_Defaults(t *testing.T) {
	s := NewSweeper(SweeperConfig{Tracker: NewTracker(0)})
	if s.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
	if s.timeout != defaultWriteTimeout {
		t.Errorf("timeout = %v, want %v", s.timeout, defaultWriteTimeout)
	}
}

func TestSynthesizer_ReadFailureWritesNothing(t *testing.T) {
	h := newHarness(10*time.Second, "device-1")
	_ = h.report("device-1", lock.StatusLocked, "", at(0))

	failing := &blockingLogStore{}
	h.journal.logs = failing

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	wrote, err := h.synth.OnSweep(ctx, Record{DeviceID: "device-1", LastSeen: at(0)}, at(20))
	if wrote || !errors.Is(err, ErrLogWrite) {
		t.Errorf("OnSweep() = %v, %v; want false, ErrLogWrite", wrote, err)
	}
}
