package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
)

const defaultWriteTimeout = config.DefaultWriteTimeout * time.Second

// Sweeper periodically runs the synthesizer over every tracked device. It
// is the only path that notices a device which stops reporting for good.
type Sweeper struct {
	tracker  *Tracker
	synth    *Synthesizer
	interval time.Duration
	timeout  time.Duration
	metrics  *Metrics
	now      func() time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	Tracker     *Tracker
	Synthesizer *Synthesizer

	// Interval between passes. Default: DefaultSweepInterval.
	Interval time.Duration

	// DeviceTimeout bounds the I/O spent on one device. Default: 5s.
	DeviceTimeout time.Duration

	// Metrics is optional.
	Metrics *Metrics
}

// NewSweeper creates a sweeper. Call Start to begin.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	timeout := cfg.DeviceTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	return &Sweeper{
		tracker:  cfg.Tracker,
		synth:    cfg.Synthesizer,
		interval: interval,
		timeout:  timeout,
		metrics:  metricsOrDiscard(cfg.Metrics),
		now:      time.Now,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (s *Sweeper) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = loggerOrNoop(logger)
	s.loggerMu.Unlock()
}

func (s *Sweeper) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Start launches the sweep loop. It stops when ctx is cancelled or Stop
// is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the loop and waits for the current pass to finish.
// Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	// Passes observe the done channel through this context, so Stop also
	// interrupts in-flight writes.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx, s.now())
		}
	}
}

// SweepOnce runs one pass at now and returns the number of Offline entries
// written. Each device is read under its own lock and released before the
// next; no lock is held during I/O. The pass stops early if ctx is done.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) int {
	start := time.Now()
	ids := s.tracker.DeviceIDs()

	written, online := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return written
		}

		rec, ok := s.tracker.Snapshot(id)
		if !ok {
			continue
		}
		if now.Sub(rec.LastSeen) < s.tracker.Threshold() {
			online++
			continue
		}

		if s.sweepDevice(ctx, rec, now) {
			written++
		}
	}

	s.metrics.recordSweep(len(ids), online, time.Since(start))
	return written
}

func (s *Sweeper) sweepDevice(ctx context.Context, rec Record, now time.Time) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	wrote, err := s.synth.OnSweep(ctx, rec, now)
	if err != nil {
		s.getLogger().Error("sweep failed for device",
			"device_id", rec.DeviceID,
			"error", err,
		)
	}
	return wrote
}
