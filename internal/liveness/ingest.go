package liveness

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

const defaultHandlerTimeout = config.DefaultHandlerTimeout * time.Second

// Report is a status message published by a lock on the status topic.
type Report struct {
	DeviceID string `json:"device"`
	Status   string `json:"status"`
	State    string `json:"state,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// Ingestor applies status reports to the tracker, registry, and log.
type Ingestor struct {
	tracker  *Tracker
	synth    *Synthesizer
	registry Registry
	journal  *Journal
	apiKey   string
	metrics  *Metrics
	now      func() time.Time

	handlerTimeout time.Duration

	logger   Logger
	loggerMu sync.RWMutex
}

// IngestorConfig holds the dependencies for an Ingestor.
type IngestorConfig struct {
	Tracker     *Tracker
	Synthesizer *Synthesizer
	Registry    Registry
	Journal     *Journal

	// APIKey, when set, must match each report's api_key.
	APIKey string

	// HandlerTimeout bounds one message in MessageHandler, retries
	// included. Default: config.DefaultHandlerTimeout seconds.
	HandlerTimeout time.Duration

	// Metrics is optional.
	Metrics *Metrics
}

// NewIngestor creates an ingestor.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &Ingestor{
		tracker:        cfg.Tracker,
		synth:          cfg.Synthesizer,
		registry:       cfg.Registry,
		journal:        cfg.Journal,
		apiKey:         cfg.APIKey,
		metrics:        metricsOrDiscard(cfg.Metrics),
		now:            time.Now,
		handlerTimeout: timeout,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger.
func (i *Ingestor) SetLogger(logger Logger) {
	i.loggerMu.Lock()
	i.logger = loggerOrNoop(logger)
	i.loggerMu.Unlock()
}

func (i *Ingestor) getLogger() Logger {
	i.loggerMu.RLock()
	defer i.loggerMu.RUnlock()
	return i.logger
}

// Handle applies r as received at now.
//
// The order of effects is fixed: tracker, then any gap-closing Offline
// entry, then the registry, then the report's own log entry. Write
// failures are retried and then returned joined; the tracker keeps the
// report either way because the device was demonstrably alive.
func (i *Ingestor) Handle(ctx context.Context, r Report, now time.Time) error {
	logger := i.getLogger()

	r.DeviceID = strings.TrimSpace(r.DeviceID)
	if r.DeviceID == "" || r.Status == "" {
		i.metrics.recordReport(outcomeInvalid)
		return fmt.Errorf("%w: device and status are required", ErrInvalidReport)
	}

	if _, err := i.registry.Find(ctx, r.DeviceID); err != nil {
		if errors.Is(err, lock.ErrLockNotFound) {
			i.metrics.recordReport(outcomeUnknown)
			logger.Warn("status report from unknown device", "device_id", r.DeviceID)
			return fmt.Errorf("%w: %s", ErrUnknownDevice, r.DeviceID)
		}
		return fmt.Errorf("looking up device %s: %w", r.DeviceID, err)
	}

	if !i.authorized(r.APIKey) {
		i.metrics.recordReport(outcomeUnauthorized)
		logger.Warn("status report with bad api key", "device_id", r.DeviceID)
		return fmt.Errorf("%w: %s", ErrUnauthorizedReport, r.DeviceID)
	}

	state := r.State
	if state == "" {
		state = lock.StateAvailable
	}

	prev, seenBefore, err := i.tracker.Record(r.DeviceID, r.Status, state, now)
	if err != nil {
		i.metrics.recordReport(outcomeStale)
		current, _ := i.tracker.Snapshot(r.DeviceID)
		logger.Warn("discarding stale status report",
			"device_id", r.DeviceID,
			"reported_at", now,
			"last_seen", current.LastSeen,
		)
		return fmt.Errorf("%w: %s", err, r.DeviceID)
	}
	i.metrics.recordReport(outcomeAccepted)

	var errs []error
	if seenBefore {
		if _, err := i.synth.OnRecord(ctx, prev, now); err != nil {
			errs = append(errs, err)
		}
	}

	if err := i.journal.UpsertStatus(ctx, r.DeviceID, r.Status, state, now); err != nil {
		errs = append(errs, err)
	}

	entry := &locklog.Entry{
		Timestamp: now,
		DeviceID:  r.DeviceID,
		Status:    r.Status,
		State:     state,
	}
	if err := i.journal.Append(ctx, entry); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("status report partially applied", "device_id", r.DeviceID, "error", err)
		return err
	}

	logger.Debug("status report applied", "device_id", r.DeviceID, "status", r.Status, "state", state)
	return nil
}

func (i *Ingestor) authorized(key string) bool {
	if i.apiKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(i.apiKey)) == 1
}

// MessageHandler returns an MQTT handler that decodes reports and applies
// them with the arrival time as the report time. Rejections that Handle
// has already logged are not returned, so the transport does not log them
// a second time.
//
// The MQTT client delivers a subscription's messages one at a time, so a
// slow store delays every device queued behind the current message. Each
// message therefore gets at most handlerTimeout for its writes; whatever
// is still unwritten when it expires is reported as a write failure and
// the tracker keeps the report.
func (i *Ingestor) MessageHandler(ctx context.Context) func(topic string, payload []byte) error {
	return func(_ string, payload []byte) error {
		now := i.now()

		ctx, cancel := context.WithTimeout(ctx, i.handlerTimeout)
		defer cancel()

		var r Report
		if err := json.Unmarshal(payload, &r); err != nil {
			i.metrics.recordReport(outcomeInvalid)
			return fmt.Errorf("%w: %w", ErrInvalidReport, err)
		}

		err := i.Handle(ctx, r, now)
		switch {
		case errors.Is(err, ErrUnknownDevice),
			errors.Is(err, ErrStaleReport),
			errors.Is(err, ErrUnauthorizedReport):
			return nil
		default:
			return err
		}
	}
}
