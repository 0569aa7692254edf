package influxdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/smartlock-core/internal/locklog"
)

type capturingWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *capturingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *capturingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, field := range p.FieldList() {
		out[field.Key] = field.Value
	}
	return out
}

func TestEntryPoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 45, 0, time.UTC)

	tests := []struct {
		name       string
		entry      locklog.Entry
		wantTags   map[string]string
		wantFields map[string]any
	}{
		{
			name: "status report",
			entry: locklog.Entry{
				ID: "log-1", Timestamp: ts, DeviceID: "lock-front",
				Status: "Locked", State: "Available",
			},
			wantTags: map[string]string{
				"device_id": "lock-front", "status": "Locked", "synthetic": "false",
			},
			wantFields: map[string]any{
				"state": "Available", "online": true, "entry_id": "log-1",
			},
		},
		{
			name: "synthesized offline",
			entry: locklog.Entry{
				ID: "log-2", Timestamp: ts, DeviceID: "lock-front",
				Status: "Offline", State: "Available", Synthetic: true,
			},
			wantTags: map[string]string{
				"device_id": "lock-front", "status": "Offline", "synthetic": "true",
			},
			wantFields: map[string]any{
				"state": "Available", "online": false, "entry_id": "log-2",
			},
		},
		{
			name: "command",
			entry: locklog.Entry{
				ID: "log-3", Timestamp: ts, DeviceID: "lock-back",
				Status: "Unlocked", State: "Available", Action: "UNLOCK", UserID: "usr-1",
			},
			wantTags: map[string]string{
				"device_id": "lock-back", "status": "Unlocked", "synthetic": "false", "action": "UNLOCK",
			},
			wantFields: map[string]any{
				"state": "Available", "online": true, "entry_id": "log-3", "user_id": "usr-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := entryPoint(tt.entry)

			if p.Name() != MeasurementLockEvent {
				t.Errorf("Name() = %q, want %q", p.Name(), MeasurementLockEvent)
			}
			if !p.Time().Equal(ts) {
				t.Errorf("Time() = %v, want %v", p.Time(), ts)
			}

			tags := tagMap(p)
			if len(tags) != len(tt.wantTags) {
				t.Errorf("tags = %v, want %v", tags, tt.wantTags)
			}
			for k, want := range tt.wantTags {
				if tags[k] != want {
					t.Errorf("tag %s = %q, want %q", k, tags[k], want)
				}
			}

			fields := fieldMap(p)
			if len(fields) != len(tt.wantFields) {
				t.Errorf("fields = %v, want %v", fields, tt.wantFields)
			}
			for k, want := range tt.wantFields {
				if fields[k] != want {
					t.Errorf("field %s = %v, want %v", k, fields[k], want)
				}
			}
		})
	}
}

func TestOnEntry_WritesPoint(t *testing.T) {
	w := &capturingWriter{}
	c := &Client{writeAPI: w}
	c.open.Store(true)

	c.OnEntry(context.Background(), locklog.Entry{
		Timestamp: time.Now(), DeviceID: "lock-a", Status: "Locked", State: "Available",
	})

	if len(w.points) != 1 {
		t.Fatalf("points written = %d, want 1", len(w.points))
	}
}

func TestOnEntry_DisconnectedDrops(t *testing.T) {
	w := &capturingWriter{}
	c := &Client{writeAPI: w}

	c.OnEntry(context.Background(), locklog.Entry{
		Timestamp: time.Now(), DeviceID: "lock-a", Status: "Locked", State: "Available",
	})
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("points written = %d, want 0 while disconnected", len(w.points))
	}
	if w.flushes != 0 {
		t.Errorf("flushes = %d, want 0 while disconnected", w.flushes)
	}
}

func TestHandleWriteErrors_Callback(t *testing.T) {
	c := &Client{}
	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- ErrUnhealthy
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if err != ErrUnhealthy {
			t.Errorf("callback error = %v, want ErrUnhealthy", err)
		}
	default:
		t.Fatal("callback not invoked")
	}
}
