package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// Command is a user request to change a lock's mechanism state.
type Command struct {
	DeviceID string
	Action   string
	UserID   string
}

type commandPayload struct {
	Command string `json:"command"`
	Device  string `json:"device"`
	APIKey  string `json:"api_key,omitempty"`
}

// intendedStatus maps an action to the status the lock should end up in.
var intendedStatus = map[string]string{
	locklog.ActionLock:   lock.StatusLocked,
	locklog.ActionUnlock: lock.StatusUnlocked,
}

// Guard publishes lock commands only to devices that are online.
type Guard struct {
	tracker   *Tracker
	publisher Publisher
	journal   *Journal
	topic     string
	qos       byte
	apiKey    string
	metrics   *Metrics

	logger   Logger
	loggerMu sync.RWMutex
}

// GuardConfig holds the dependencies for a Guard.
type GuardConfig struct {
	Tracker   *Tracker
	Publisher Publisher
	Journal   *Journal

	// Topic is the command topic, e.g. "smartlock/commands".
	Topic string
	QoS   byte

	// APIKey is attached to every published command when set.
	APIKey string

	// Metrics is optional.
	Metrics *Metrics
}

// NewGuard creates a guard.
func NewGuard(cfg GuardConfig) *Guard {
	return &Guard{
		tracker:   cfg.Tracker,
		publisher: cfg.Publisher,
		journal:   cfg.Journal,
		topic:     cfg.Topic,
		qos:       cfg.QoS,
		apiKey:    cfg.APIKey,
		metrics:   metricsOrDiscard(cfg.Metrics),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger.
func (g *Guard) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = loggerOrNoop(logger)
	g.loggerMu.Unlock()
}

func (g *Guard) getLogger() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// Dispatch publishes cmd if the device is online at now and records it in
// the log. An offline device yields ErrDeviceOffline and nothing is
// published. The returned entry is the command's log record.
func (g *Guard) Dispatch(ctx context.Context, cmd Command, now time.Time) (*locklog.Entry, error) {
	status, ok := intendedStatus[cmd.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Action)
	}

	rec, seen := g.tracker.Snapshot(cmd.DeviceID)
	if !seen || !g.tracker.IsOnline(cmd.DeviceID, now) {
		g.metrics.recordCommand(cmd.Action, "offline")
		g.getLogger().Info("command refused, device offline",
			"device_id", cmd.DeviceID,
			"action", cmd.Action,
			"user_id", cmd.UserID,
		)
		return nil, fmt.Errorf("%w: %s", ErrDeviceOffline, cmd.DeviceID)
	}

	payload, err := json.Marshal(commandPayload{
		Command: cmd.Action,
		Device:  cmd.DeviceID,
		APIKey:  g.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}

	if err := g.publisher.Publish(g.topic, payload, g.qos, false); err != nil {
		g.metrics.recordCommand(cmd.Action, "publish_failed")
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	g.metrics.recordCommand(cmd.Action, "sent")

	entry := &locklog.Entry{
		Timestamp: now,
		DeviceID:  cmd.DeviceID,
		Status:    status,
		State:     rec.LastState,
		Action:    cmd.Action,
		UserID:    cmd.UserID,
	}
	if err := g.journal.Append(ctx, entry); err != nil {
		// The command is already on the wire.
		g.getLogger().Error("command sent but not logged",
			"device_id", cmd.DeviceID,
			"action", cmd.Action,
			"error", err,
		)
		return nil, err
	}

	g.getLogger().Info("command sent", "device_id", cmd.DeviceID, "action", cmd.Action, "user_id", cmd.UserID)
	return entry, nil
}
