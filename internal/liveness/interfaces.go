package liveness

import (
	"context"
	"time"

	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// Registry is the device registry as seen by the liveness core.
// *lock.Registry satisfies it.
type Registry interface {
	Find(ctx context.Context, deviceID string) (*lock.Lock, error)
	UpsertStatus(ctx context.Context, deviceID, status, state string, lastSeen time.Time) error
	SetState(ctx context.Context, deviceID, state string, lastSeen time.Time) error
}

// LogStore is the subset of locklog.Store the core writes through.
type LogStore interface {
	Append(ctx context.Context, e *locklog.Entry) error
	MostRecent(ctx context.Context, deviceID string) (*locklog.Entry, error)
}

// Publisher sends commands to devices. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Observer is notified after an entry has been persisted. Implementations
// must not block; they run on the ingest and sweep paths.
type Observer interface {
	OnEntry(ctx context.Context, e locklog.Entry)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e locklog.Entry)

// OnEntry calls f.
func (f ObserverFunc) OnEntry(ctx context.Context, e locklog.Entry) { f(ctx, e) }

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}
