package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	seedPasswordBytes = 16
	seedAdminUsername = "admin"
)

// Logger is the logging surface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SeedAdmin creates an admin account with a random password on first
// boot, when no accounts exist. The password is logged once and returned;
// it is empty when seeding was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, logger Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	raw := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(raw)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{Username: seedAdminUsername, PasswordHash: hash, Role: RoleAdmin}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"username", seedAdminUsername,
		"password", password,
		"action_required", "store this password; it is not shown again",
	)
	return password, nil
}
