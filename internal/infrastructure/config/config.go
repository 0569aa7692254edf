package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends accepted by storage.backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Liveness defaults, in seconds. The liveness package derives its own
// defaults from these so the two cannot drift.
const (
	DefaultOfflineThreshold = 35
	DefaultSweepInterval    = 10
	DefaultWriteTimeout     = 5
	DefaultHandlerTimeout   = 15
)

// Config is the root configuration structure for smartlockd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Retry     RetryConfig     `yaml:"retry"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this deployment.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
// The SQLite database always holds user accounts; it also holds the lock
// registry and lock log when storage.backend is "sqlite".
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StorageConfig selects where the lock registry and lock log live.
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// PostgresConfig contains PostgreSQL pool settings.
type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// DynamoDBConfig contains DynamoDB table settings.
// Endpoint is optional and only used for local emulators.
type DynamoDBConfig struct {
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	LocksTable string `yaml:"locks_table"`
	LogsTable  string `yaml:"logs_table"`
	UserIndex  string `yaml:"user_index"`
	OwnerIndex string `yaml:"owner_index"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`

	// DeviceAPIKey is the shared key devices include in status reports and
	// that is attached to published commands. Empty disables the check.
	DeviceAPIKey string `yaml:"device_api_key"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. TTL is in minutes.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// LivenessConfig controls online/offline determination.
// All values are in seconds.
type LivenessConfig struct {
	OfflineThreshold int `yaml:"offline_threshold"`
	SweepInterval    int `yaml:"sweep_interval"`
	WriteTimeout     int `yaml:"write_timeout"`

	// HandlerTimeout caps the time one MQTT status message may spend in
	// registry and log writes, retries included.
	HandlerTimeout int `yaml:"handler_timeout"`
}

// RetryConfig controls backoff for registry and log writes.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// KafkaConfig contains lock event export settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SMARTLOCK_SECTION_KEY
// For example: SMARTLOCK_DATABASE_PATH, SMARTLOCK_LIVENESS_OFFLINE_THRESHOLD
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Smart Lock",
		},
		Database: DatabaseConfig{
			Path:        "./data/smartlock.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
			DynamoDB: DynamoDBConfig{
				Region:     "us-east-1",
				LocksTable: "smartlock_locks",
				LogsTable:  "smartlock_logs",
				UserIndex:  "user_id-timestamp-index",
				OwnerIndex: "owner_id-index",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartlockd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "smartlock",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Liveness: LivenessConfig{
			OfflineThreshold: DefaultOfflineThreshold,
			SweepInterval:    DefaultSweepInterval,
			WriteTimeout:     DefaultWriteTimeout,
			HandlerTimeout:   DefaultHandlerTimeout,
		},
		Retry: RetryConfig{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxElapsedTime:  8 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Kafka: KafkaConfig{
			Topic: "smartlock.events",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SMARTLOCK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database / storage
	if v := os.Getenv("SMARTLOCK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SMARTLOCK_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SMARTLOCK_POSTGRES_URL"); v != "" {
		cfg.Storage.Postgres.URL = v
	}
	if v := os.Getenv("SMARTLOCK_DYNAMODB_ENDPOINT"); v != "" {
		cfg.Storage.DynamoDB.Endpoint = v
	}

	// MQTT
	if v := os.Getenv("SMARTLOCK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SMARTLOCK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SMARTLOCK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("SMARTLOCK_DEVICE_API_KEY"); v != "" {
		cfg.MQTT.DeviceAPIKey = v
	}

	// API
	if v := os.Getenv("SMARTLOCK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Liveness
	if n, ok := envInt("SMARTLOCK_LIVENESS_OFFLINE_THRESHOLD"); ok {
		cfg.Liveness.OfflineThreshold = n
	}
	if n, ok := envInt("SMARTLOCK_LIVENESS_SWEEP_INTERVAL"); ok {
		cfg.Liveness.SweepInterval = n
	}

	// InfluxDB
	if v := os.Getenv("SMARTLOCK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Kafka
	if v := os.Getenv("SMARTLOCK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("SMARTLOCK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// envInt reads an integer environment variable. Unparseable values are ignored.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if c.Storage.Postgres.URL == "" {
			errs = append(errs, "storage.postgres.url is required for the postgres backend")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.LocksTable == "" || c.Storage.DynamoDB.LogsTable == "" {
			errs = append(errs, "storage.dynamodb.locks_table and logs_table are required for the dynamodb backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be one of sqlite, postgres, dynamodb", c.Storage.Backend))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Liveness.OfflineThreshold <= 0 {
		errs = append(errs, "liveness.offline_threshold must be positive")
	}
	if c.Liveness.SweepInterval <= 0 {
		errs = append(errs, "liveness.sweep_interval must be positive")
	}
	if c.Liveness.WriteTimeout <= 0 {
		errs = append(errs, "liveness.write_timeout must be positive")
	}
	if c.Liveness.HandlerTimeout <= 0 {
		errs = append(errs, "liveness.handler_timeout must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka.brokers is required when kafka is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Forged tokens would allow unlocking physical doors.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set SMARTLOCK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Threshold returns the liveness threshold as a Duration.
func (l LivenessConfig) Threshold() time.Duration {
	return time.Duration(l.OfflineThreshold) * time.Second
}

// Interval returns the sweep interval as a Duration.
func (l LivenessConfig) Interval() time.Duration {
	return time.Duration(l.SweepInterval) * time.Second
}

// Timeout returns the per-write timeout as a Duration.
func (l LivenessConfig) Timeout() time.Duration {
	return time.Duration(l.WriteTimeout) * time.Second
}

// HandlerBudget returns the per-message time limit as a Duration.
func (l LivenessConfig) HandlerBudget() time.Duration {
	return time.Duration(l.HandlerTimeout) * time.Second
}
