package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/smartlock-core/internal/api"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/database"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/dynamo"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/postgres"
	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// storageBackend holds the lock repository and log store for the
// configured storage.backend.
type storageBackend struct {
	locks  lock.Repository
	logs   locklog.Store
	health api.HealthChecker
	close  func()
}

// openBackend builds the repositories for cfg.Storage.Backend. The SQLite
// backend shares the core database; the others open their own connection.
func openBackend(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (*storageBackend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrating postgres: %w", err)
		}
		log.Info("postgres storage ready")
		return &storageBackend{
			locks:  lock.NewPostgresRepository(pool.Pool),
			logs:   locklog.NewPostgresStore(pool.Pool),
			health: pool,
			close: func() {
				log.Info("closing postgres pool")
				pool.Close()
			},
		}, nil

	case config.BackendDynamoDB:
		client, err := dynamo.Connect(ctx, cfg.Storage.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to dynamodb: %w", err)
		}
		if err := client.EnsureTables(ctx); err != nil {
			return nil, fmt.Errorf("provisioning dynamodb tables: %w", err)
		}
		tables := cfg.Storage.DynamoDB
		log.Info("dynamodb storage ready", "locks_table", tables.LocksTable, "logs_table", tables.LogsTable)
		return &storageBackend{
			locks:  lock.NewDynamoRepository(client.Client, tables.LocksTable, tables.OwnerIndex),
			logs:   locklog.NewDynamoStore(client.Client, tables.LogsTable, tables.UserIndex),
			health: client,
			close:  func() {},
		}, nil

	default:
		return &storageBackend{
			locks: lock.NewSQLiteRepository(db.DB),
			logs:  locklog.NewSQLiteStore(db.DB),
			close: func() {},
		}, nil
	}
}
