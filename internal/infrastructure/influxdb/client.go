package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrUnhealthy wraps a failed or negative ping.
	ErrUnhealthy = errors.New("influxdb: server not healthy")
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the part of the non-blocking write API the exporter uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client exports lock log entries to one InfluxDB bucket. Writes are
// batched in the background; failures surface through SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI pointWriter
	open     atomic.Bool

	mu      sync.Mutex
	onError func(err error)
}

// Connect pings the server and returns a client writing to cfg.Bucket.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))
	c := &Client{client: client}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c.writeAPI = writeAPI
	c.open.Store(true)
	go c.handleWriteErrors(writeAPI.Errors())

	return c, nil
}

// writeOptions maps the batch settings onto client options. Non-positive
// values fall back to the defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).                   //nolint:gosec // G115: positive by construction
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // G115: positive by construction
}

func (c *Client) ping(ctx context.Context) error {
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// handleWriteErrors drains the write API error channel until it closes.
func (c *Client) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.Lock()
		report := c.onError
		c.mu.Unlock()

		if report != nil {
			report(err)
		}
	}
}

// SetOnError registers the callback for background write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.open.Load() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.ping(ctx)
}

// IsConnected reports whether the client is still accepting entries.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// Flush sends buffered points. It does nothing once the client is closed.
func (c *Client) Flush() {
	if c.open.Load() {
		c.writeAPI.Flush()
	}
}

// Close flushes buffered points and releases the client. Closing a nil or
// already closed client is a no-op.
func (c *Client) Close() error {
	if c == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
