package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/smartlock-core/internal/auth"
)

const (
	// ticketTTL is how long a WebSocket ticket stays redeemable.
	ticketTTL = 60 * time.Second

	ticketBytes = 32
)

// ticketHolder is the identity a ticket was issued to.
type ticketHolder struct {
	userID    string
	role      auth.Role
	expiresAt time.Time
}

// ticketStore holds single-use WebSocket tickets in memory. Tickets do not
// survive a restart; clients request a new one on reconnect.
type ticketStore struct {
	mu      sync.Mutex
	pending map[string]ticketHolder
}

func newTicketStore() *ticketStore {
	return &ticketStore{pending: make(map[string]ticketHolder)}
}

// issue records a fresh random ticket for the caller.
func (t *ticketStore) issue(userID string, role auth.Role, now time.Time) (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random ticket: %w", err)
	}
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.pending[ticket] = ticketHolder{userID: userID, role: role, expiresAt: now.Add(ticketTTL)}
	t.mu.Unlock()
	return ticket, nil
}

// consume removes ticket and reports whether it was still valid at now.
func (t *ticketStore) consume(ticket string, now time.Time) (ticketHolder, bool) {
	t.mu.Lock()
	holder, ok := t.pending[ticket]
	delete(t.pending, ticket)
	t.mu.Unlock()

	return holder, ok && now.Before(holder.expiresAt)
}

// prune drops tickets that expired before now and returns how many.
func (t *ticketStore) prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for ticket, holder := range t.pending {
		if !now.Before(holder.expiresAt) {
			delete(t.pending, ticket)
			n++
		}
	}
	return n
}
