package api

import (
	"testing"
	"time"

	"github.com/nerrad567/smartlock-core/internal/auth"
)

func TestTicketStore(t *testing.T) {
	store := newTicketStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ticket, err := store.issue("usr-alice", auth.RoleUser, now)
	if err != nil {
		t.Fatalf("issue() error = %v", err)
	}
	if len(ticket) != 2*ticketBytes {
		t.Errorf("ticket length = %d, want %d", len(ticket), 2*ticketBytes)
	}

	holder, ok := store.consume(ticket, now.Add(time.Second))
	if !ok || holder.userID != "usr-alice" || holder.role != auth.RoleUser {
		t.Fatalf("consume() = %+v, %v", holder, ok)
	}
	if _, ok := store.consume(ticket, now.Add(time.Second)); ok {
		t.Error("ticket redeemed twice")
	}

	late, _ := store.issue("usr-bob", auth.RoleUser, now)
	if _, ok := store.consume(late, now.Add(ticketTTL)); ok {
		t.Error("expired ticket accepted")
	}
}

func TestTicketStore_Prune(t *testing.T) {
	store := newTicketStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old, _ := store.issue("usr-a", auth.RoleUser, now)
	fresh, _ := store.issue("usr-b", auth.RoleUser, now.Add(30*time.Second))

	if n := store.prune(now.Add(ticketTTL)); n != 1 {
		t.Errorf("prune() = %d, want 1", n)
	}
	if _, ok := store.pending[old]; ok {
		t.Error("expired ticket still pending")
	}
	if _, ok := store.consume(fresh, now.Add(ticketTTL)); !ok {
		t.Error("unexpired ticket was pruned")
	}
}
