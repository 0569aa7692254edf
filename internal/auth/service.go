package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service implements signup and login over a UserRepository.
type Service struct {
	users  UserRepository
	secret []byte
	ttl    time.Duration

	// dummyHash is verified against when the username does not exist, so
	// unknown and known usernames take the same time to reject.
	dummyHash string
}

// NewService creates a Service signing tokens with secret.
func NewService(users UserRepository, secret string, ttl time.Duration) (*Service, error) {
	dummy, err := HashPassword("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &Service{users: users, secret: []byte(secret), ttl: ttl, dummyHash: dummy}, nil
}

// Signup creates a regular user account.
func (s *Service) Signup(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if !IsValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{Username: username, PasswordHash: hash, Role: RoleUser}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Token is a signed access token and its expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login checks credentials and issues an access token. Unknown usernames
// and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, *User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		VerifyPassword(password, s.dummyHash) //nolint:errcheck // timing equaliser only
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, nil, ErrInvalidCredentials
	}

	signed, expires, err := GenerateAccessToken(user, s.secret, s.ttl)
	if err != nil {
		return nil, nil, err
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expires}, user, nil
}

// Authenticate validates a bearer token and returns its claims.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return ParseToken(token, s.secret)
}
