package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
)

func TestOpen_InvalidURL(t *testing.T) {
	_, err := Open(context.Background(), config.PostgresConfig{URL: "postgres://%zz"})
	if err == nil {
		t.Fatal("Open() with malformed URL should fail")
	}
}

// Set SMARTLOCK_TEST_POSTGRES_URL to run against a real server.
func TestOpen_MigrateAndHealth(t *testing.T) {
	url := os.Getenv("SMARTLOCK_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("SMARTLOCK_TEST_POSTGRES_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Open(ctx, config.PostgresConfig{URL: url, MaxConns: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer pool.Close()

	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if err := pool.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
