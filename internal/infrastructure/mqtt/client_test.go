package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "smartlockd-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "smartlock",
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args) }

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(level, " ", msg, " ", args))
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name   string
		topics Topics
		want   [3]string
	}{
		{"zero value", Topics{}, [3]string{"smartlock/status", "smartlock/commands", "smartlock/system/status"}},
		{"custom prefix", Topics{Prefix: "site-a/locks"}, [3]string{"site-a/locks/status", "site-a/locks/commands", "site-a/locks/system/status"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := [3]string{tt.topics.Status(), tt.topics.Commands(), tt.topics.SystemStatus()}
			if got != tt.want {
				t.Errorf("topics = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "lockd"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "smartlockd-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "lockd" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session and auto-reconnect")
	}
	if opts.TLSConfig != nil {
		t.Error("TLS config set without tls: true")
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil {
		t.Error("TLS config missing with tls: true")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{}, "smartlockd-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("LWT should be enabled and retained")
	}
	if opts.WillTopic != "smartlock/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p presence
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.ClientID != "smartlockd-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestDispatch(t *testing.T) {
	t.Run("handler error is logged", func(t *testing.T) {
		logger := &recordingLogger{}
		dispatch(logger, func(string, []byte) error { return errors.New("bad payload") }, "smartlock/status", nil)

		if len(logger.lines) != 1 || !strings.HasPrefix(logger.lines[0], "WARN") {
			t.Errorf("lines = %v, want one WARN", logger.lines)
		}
	})

	t.Run("panic is recovered", func(t *testing.T) {
		logger := &recordingLogger{}
		dispatch(logger, func(string, []byte) error { panic("boom") }, "smartlock/status", nil)

		if len(logger.lines) != 1 || !strings.HasPrefix(logger.lines[0], "ERROR") {
			t.Errorf("lines = %v, want one ERROR", logger.lines)
		}
	})

	t.Run("nil logger", func(t *testing.T) {
		dispatch(nil, func(string, []byte) error { panic("boom") }, "t", nil)
	})
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "smartlock/commands", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "smartlock/commands", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "smartlock/commands", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("t", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: %v", err)
	}
	if c.HasSubscription("t") {
		t.Error("failed subscribe must not be tracked")
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("unsubscribe empty: %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestClose_NilClient(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected = %v", err)
	}
}
