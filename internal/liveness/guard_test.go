package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

func TestGuard_OfflineNeverPublishes(t *testing.T) {
	h := newHarness(10*time.Second, "device-1")
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func()
		now   time.Time
	}{
		{"never reported", func() {}, at(0)},
		{"silent past threshold", func() { _ = h.report("device-1", lock.StatusLocked, "", at(0)) }, at(10)},
		{"long silent", func() {}, at(3600)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			_, err := h.guard.Dispatch(ctx, Command{DeviceID: "device-1", Action: locklog.ActionUnlock, UserID: "usr-1"}, tt.now)
			if !errors.Is(err, ErrDeviceOffline) {
				t.Errorf("Dispatch() error = %v, want ErrDeviceOffline", err)
			}
		})
	}

	if h.pub.count() != 0 {
		t.Errorf("publisher called %d times for an offline device", h.pub.count())
	}
	for _, e := range h.logs.forDevice("device-1") {
		if e.Action != "" {
			t.Errorf("command logged for an offline device: %+v", e)
		}
	}
	if got := testutil.ToFloat64(h.metrics.Commands.WithLabelValues(locklog.ActionUnlock, "offline")); got != 3 {
		t.Errorf("commands_total{result=offline} = %v, want 3", got)
	}
}

func TestGuard_OnlinePublishesAndLogs(t *testing.T) {
	h := newHarness(10*time.Second, "device-1")
	ctx := context.Background()
	if err := h.report("device-1", lock.StatusUnlocked, "Available", at(0)); err != nil {
		t.Fatal(err)
	}

	entry, err := h.guard.Dispatch(ctx, Command{DeviceID: "device-1", Action: locklog.ActionLock, UserID: "usr-1"}, at(3))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if h.pub.count() != 1 || h.pub.topics[0] != "smartlock/commands" {
		t.Fatalf("published %v, want one message on smartlock/commands", h.pub.topics)
	}
	var msg map[string]string
	if err := json.Unmarshal(h.pub.payloads[0], &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	want := map[string]string{"command": "LOCK", "device": "device-1", "api_key": "device-key"}
	for k, v := range want {
		if msg[k] != v {
			t.Errorf("payload[%s] = %q, want %q", k, msg[k], v)
		}
	}

	if entry.Status != lock.StatusLocked || entry.Action != locklog.ActionLock || entry.UserID != "usr-1" {
		t.Errorf("command entry = %+v", entry)
	}
	if !entry.Timestamp.Equal(at(3)) || entry.State != "Available" {
		t.Errorf("command entry time/state = %v/%q", entry.Timestamp, entry.State)
	}
	if n := len(h.logs.forDevice("device-1")); n != 2 {
		t.Errorf("log entries = %d, want report + command", n)
	}
}

func TestGuard_InvalidAction(t *testing.T) {
	h := newHarness(10*time.Second, "device-1")
	_ = h.report("device-1", lock.StatusLocked, "", at(0))

	for _, action := range []string{"", "lock", "OPEN"} {
		if _, err := h.guard.Dispatch(context.Background(), Command{DeviceID: "device-1", Action: action}, at(1)); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Dispatch(%q) error = %v, want ErrInvalidCommand", action, err)
		}
	}
	if h.pub.count() != 0 {
		t.Error("invalid command was published")
	}
}

func TestGuard_PublishFailure(t *testing.T) {
	h := newHarness(10*time.Second, "device-1")
	_ = h.report("device-1", lock.StatusLocked, "", at(0))
	h.pub.err = errors.New("not connected")

	_, err := h.guard.Dispatch(context.Background(), Command{DeviceID: "device-1", Action: locklog.ActionUnlock}, at(1))
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("Dispatch() error = %v, want ErrPublish", err)
	}
	if n := len(h.logs.forDevice("device-1")); n != 1 {
		t.Errorf("log entries = %d, want no command entry for an unsent command", n)
	}
}
