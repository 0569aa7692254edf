package influxdb

import (
	"context"
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// MeasurementLockEvent is the measurement every lock log entry is written to.
const MeasurementLockEvent = "lock_event"

// OnEntry writes entry as a lock_event point stamped with the entry's own
// timestamp, so synthesized offline entries land at the moment the device
// crossed the threshold rather than when the gap was noticed.
//
// Writes are dropped silently once the client is closed.
func (c *Client) OnEntry(_ context.Context, entry locklog.Entry) {
	if !c.open.Load() {
		return
	}
	c.writeAPI.WritePoint(entryPoint(entry))
}

// entryPoint converts a log entry to an InfluxDB point.
//
// Low-cardinality values (device, status, synthetic flag, action) are tags;
// state and user are fields. The online field lets queries chart
// availability without string matching on status.
func entryPoint(entry locklog.Entry) *write.Point {
	tags := map[string]string{
		"device_id": entry.DeviceID,
		"status":    entry.Status,
		"synthetic": strconv.FormatBool(entry.Synthetic),
	}
	if entry.Action != "" {
		tags["action"] = entry.Action
	}

	fields := map[string]any{
		"state":  entry.State,
		"online": entry.Status != lock.StatusOffline,
	}
	if entry.UserID != "" {
		fields["user_id"] = entry.UserID
	}
	if entry.ID != "" {
		fields["entry_id"] = entry.ID
	}

	return write.NewPoint(MeasurementLockEvent, tags, fields, entry.Timestamp)
}
