package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// ErrDisabled indicates Kafka export is disabled in config.
var ErrDisabled = errors.New("kafka: disabled in configuration")

const defaultBatchTimeout = 100 * time.Millisecond

// messageWriter is the subset of *kafka.Writer the exporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON payload written for every lock log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device"`
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Action    string    `json:"action,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Synthetic bool      `json:"synthetic"`
}

// EventFromEntry converts a log entry into its exported form.
func EventFromEntry(entry locklog.Entry) Event {
	return Event{
		ID:        entry.ID,
		Timestamp: entry.Timestamp.UTC(),
		DeviceID:  entry.DeviceID,
		Status:    entry.Status,
		State:     entry.State,
		Action:    entry.Action,
		UserID:    entry.UserID,
		Synthetic: entry.Synthetic,
	}
}

// Exporter publishes lock log entries to Kafka.
type Exporter struct {
	writer  messageWriter
	onError func(err error)
}

// New creates an exporter for cfg. Delivery errors from the async writer
// are passed to onError, which may be nil.
func New(cfg config.KafkaConfig, onError func(err error)) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	e := &Exporter{onError: onError}
	e.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: defaultBatchTimeout,
		Async:        true,
		Completion:   e.completion,
	}
	return e, nil
}

func (e *Exporter) completion(msgs []kafka.Message, err error) {
	if err == nil || e.onError == nil {
		return
	}
	e.onError(fmt.Errorf("kafka: %d message(s) not delivered: %w", len(msgs), err))
}

// OnEntry encodes entry and queues it for delivery.
func (e *Exporter) OnEntry(ctx context.Context, entry locklog.Entry) {
	msg, err := encode(entry)
	if err == nil {
		err = e.writer.WriteMessages(ctx, msg)
	}
	if err != nil && e.onError != nil {
		e.onError(fmt.Errorf("kafka: export %s: %w", entry.ID, err))
	}
}

// Close flushes queued messages and closes the writer.
func (e *Exporter) Close() error {
	if e == nil || e.writer == nil {
		return nil
	}
	return e.writer.Close()
}

func encode(entry locklog.Entry) (kafka.Message, error) {
	value, err := json.Marshal(EventFromEntry(entry))
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(entry.DeviceID),
		Value: value,
		Time:  entry.Timestamp,
	}, nil
}
