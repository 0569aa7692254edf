// smartlockd is the smart-lock backend.
//
// It tracks the liveness of MQTT-connected locks, writes a lock log that
// includes synthesized "Offline" entries for reporting gaps, projects
// availability into the lock registry, and serves the REST/WebSocket API
// that issues guarded LOCK and UNLOCK commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/smartlock-core/migrations"

	"github.com/nerrad567/smartlock-core/internal/api"
	"github.com/nerrad567/smartlock-core/internal/auth"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/database"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/kafka"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/retry"
	"github.com/nerrad567/smartlock-core/internal/liveness"
	"github.com/nerrad567/smartlock-core/internal/lock"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting smartlockd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// A missing .env is normal in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to load .env", "error", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"storage", cfg.Storage.Backend,
		"offline_threshold", cfg.Liveness.Threshold(),
	)

	// The SQLite database always holds user accounts.
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	health := map[string]api.HealthChecker{"database": db}

	backend, err := openBackend(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer backend.close()
	if backend.health != nil {
		health[cfg.Storage.Backend] = backend.health
	}

	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, users, log); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}
	authSvc, err := auth.NewService(users, cfg.Security.JWT.Secret, time.Duration(cfg.Security.JWT.AccessTokenTTL)*time.Minute)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	// Lock registry and liveness rehydration
	registry := lock.NewRegistry(backend.locks)
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading lock registry: %w", refreshErr)
	}
	all, err := registry.List(ctx)
	if err != nil {
		return fmt.Errorf("listing locks: %w", err)
	}

	tracker := liveness.NewTracker(cfg.Liveness.Threshold())
	seeded := tracker.Rehydrate(all)
	log.Info("lock registry initialised", "locks", len(all), "rehydrated", seeded)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := liveness.NewMetrics(promRegistry)

	journal := liveness.NewJournal(liveness.JournalConfig{
		Registry: registry,
		Logs:     backend.logs,
		Policy:   retry.NewPolicy(cfg.Retry, cfg.Liveness.Timeout()),
		Metrics:  metrics,
	})
	journal.SetLogger(log.Component("journal"))

	// Observers
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"), registry)
	journal.AddObserver(hub)

	if cfg.InfluxDB.Enabled {
		influx, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		journal.AddObserver(influx)
		health["influxdb"] = influx
		log.Info("InfluxDB export enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Kafka.Enabled {
		exporter, kafkaErr := kafka.New(cfg.Kafka, func(err error) {
			log.Error("Kafka export error", "error", err)
		})
		if kafkaErr != nil {
			return fmt.Errorf("creating Kafka exporter: %w", kafkaErr)
		}
		defer func() {
			log.Info("closing Kafka exporter")
			if closeErr := exporter.Close(); closeErr != nil {
				log.Error("error closing Kafka exporter", "error", closeErr)
			}
		}()
		journal.AddObserver(exporter)
		log.Info("Kafka export enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	health["mqtt"] = mqttClient
	topics := mqttClient.Topics()

	synth := liveness.NewSynthesizer(tracker, journal, metrics)
	synth.SetLogger(log.Component("synthesizer"))

	ingestor := liveness.NewIngestor(liveness.IngestorConfig{
		Tracker:     tracker,
		Synthesizer: synth,
		Registry:    registry,
		Journal:     journal,
		APIKey:      cfg.MQTT.DeviceAPIKey,
		Metrics:     metrics,

		HandlerTimeout: cfg.Liveness.HandlerBudget(),
	})
	ingestor.SetLogger(log.Component("ingest"))
	if subErr := mqttClient.Subscribe(topics.Status(), byte(cfg.MQTT.QoS), ingestor.MessageHandler(ctx)); subErr != nil {
		return fmt.Errorf("subscribing to %s: %w", topics.Status(), subErr)
	}
	log.Info("status ingest subscribed", "topic", topics.Status())

	guard := liveness.NewGuard(liveness.GuardConfig{
		Tracker:   tracker,
		Publisher: mqttClient,
		Journal:   journal,
		Topic:     topics.Commands(),
		QoS:       byte(cfg.MQTT.QoS),
		APIKey:    cfg.MQTT.DeviceAPIKey,
		Metrics:   metrics,
	})
	guard.SetLogger(log.Component("guard"))

	sweeper := liveness.NewSweeper(liveness.SweeperConfig{
		Tracker:       tracker,
		Synthesizer:   synth,
		Interval:      cfg.Liveness.Interval(),
		DeviceTimeout: cfg.Liveness.Timeout(),
		Metrics:       metrics,
	})
	sweeper.SetLogger(log.Component("sweeper"))
	sweeper.Start(ctx)
	defer func() {
		log.Info("stopping liveness sweep")
		sweeper.Stop()
	}()
	log.Info("liveness sweep started", "interval", cfg.Liveness.Interval())

	// API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log.Component("api"),
		Locks:    registry,
		Tracker:  tracker,
		Guard:    guard,
		Logs:     backend.logs,
		Auth:     authSvc,
		Users:    users,
		Hub:      hub,
		Gatherer: promRegistry,
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the config file path from SMARTLOCK_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("SMARTLOCK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every dependency responds before serving.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
