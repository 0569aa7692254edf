package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/retry"
	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// Journal performs the core's external writes. Every call is retried under
// the configured policy, and failures that survive the retries are wrapped
// in ErrRegistryWrite or ErrLogWrite. Entries are passed to observers only
// after they have been persisted.
type Journal struct {
	registry Registry
	logs     LogStore
	policy   retry.Policy
	metrics  *Metrics

	observers   []Observer
	observersMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// JournalConfig holds the dependencies for a Journal.
type JournalConfig struct {
	Registry Registry
	Logs     LogStore
	Policy   retry.Policy

	// Metrics is optional.
	Metrics *Metrics
}

// NewJournal creates a journal.
func NewJournal(cfg JournalConfig) *Journal {
	return &Journal{
		registry: cfg.Registry,
		logs:     cfg.Logs,
		policy:   cfg.Policy,
		metrics:  metricsOrDiscard(cfg.Metrics),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (j *Journal) SetLogger(logger Logger) {
	j.loggerMu.Lock()
	j.logger = loggerOrNoop(logger)
	j.loggerMu.Unlock()
}

func (j *Journal) getLogger() Logger {
	j.loggerMu.RLock()
	defer j.loggerMu.RUnlock()
	return j.logger
}

// AddObserver registers o to receive every appended entry.
func (j *Journal) AddObserver(o Observer) {
	j.observersMu.Lock()
	j.observers = append(j.observers, o)
	j.observersMu.Unlock()
}

// Append persists e and notifies observers.
//
// The store assigns e.ID on the first attempt and every retry reuses it.
// A retry that finds the id already stored means an earlier attempt
// committed before its error was reported, so it counts as success. A
// duplicate on the first attempt is the caller's id clash and is final.
func (j *Journal) Append(ctx context.Context, e *locklog.Entry) error {
	attempts := 0
	err := j.do(ctx, "log append", e.DeviceID, func(ctx context.Context) error {
		attempts++
		err := j.logs.Append(ctx, e)
		switch {
		case errors.Is(err, locklog.ErrDuplicateEntry) && attempts > 1:
			return nil
		case errors.Is(err, locklog.ErrInvalidEntry), errors.Is(err, locklog.ErrDuplicateEntry):
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		j.metrics.recordWriteFailure("log")
		return fmt.Errorf("%w: %s: %w", ErrLogWrite, e.DeviceID, err)
	}

	j.observersMu.RLock()
	observers := j.observers
	j.observersMu.RUnlock()
	for _, o := range observers {
		o.OnEntry(ctx, *e)
	}
	return nil
}

// MostRecent returns the newest log entry for the device, or nil when the
// device has no history.
func (j *Journal) MostRecent(ctx context.Context, deviceID string) (*locklog.Entry, error) {
	var last *locklog.Entry
	err := j.do(ctx, "log read", deviceID, func(ctx context.Context) error {
		e, err := j.logs.MostRecent(ctx, deviceID)
		switch {
		case errors.Is(err, locklog.ErrEntryNotFound):
			return nil
		case err != nil:
			return err
		}
		last = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading history of %s: %w", ErrLogWrite, deviceID, err)
	}
	return last, nil
}

// UpsertStatus writes a report to the registry.
func (j *Journal) UpsertStatus(ctx context.Context, deviceID, status, state string, lastSeen time.Time) error {
	err := j.do(ctx, "registry upsert", deviceID, func(ctx context.Context) error {
		return permanentRegistryErr(j.registry.UpsertStatus(ctx, deviceID, status, state, lastSeen))
	})
	if err != nil {
		j.metrics.recordWriteFailure("registry")
		return fmt.Errorf("%w: %s: %w", ErrRegistryWrite, deviceID, err)
	}
	return nil
}

// SetState writes a derived condition to the registry for the report
// stamped lastSeen. lock.ErrStaleStatus is returned unwrapped when a newer
// report has been stored since; it is not a write failure.
func (j *Journal) SetState(ctx context.Context, deviceID, state string, lastSeen time.Time) error {
	err := j.do(ctx, "registry state", deviceID, func(ctx context.Context) error {
		return permanentRegistryErr(j.registry.SetState(ctx, deviceID, state, lastSeen))
	})
	if errors.Is(err, lock.ErrStaleStatus) {
		return lock.ErrStaleStatus
	}
	if err != nil {
		j.metrics.recordWriteFailure("registry")
		return fmt.Errorf("%w: %s: %w", ErrRegistryWrite, deviceID, err)
	}
	return nil
}

func (j *Journal) do(ctx context.Context, op, deviceID string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, j.policy, fn, func(err error, next time.Duration) {
		j.getLogger().Warn("retrying write",
			"op", op,
			"device_id", deviceID,
			"error", err,
			"retry_in", next,
		)
	})
}

// permanentRegistryErr stops retries for outcomes that will not change.
func permanentRegistryErr(err error) error {
	if errors.Is(err, lock.ErrLockNotFound) || errors.Is(err, lock.ErrStaleStatus) {
		return retry.Permanent(err)
	}
	return err
}
