package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistry_RegisterAndFind(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	ctx := context.Background()

	l, err := reg.Register(ctx, "device-1", "Front door", "usr-1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if l.Status != StatusUnknown || l.State != StateAvailable {
		t.Errorf("new lock status/state = %s/%s, want Unknown/Available", l.Status, l.State)
	}
	if l.LastSeen != nil {
		t.Error("new lock should have no last_seen")
	}

	got, err := reg.Find(ctx, "device-1")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got.OwnerID != "usr-1" {
		t.Errorf("OwnerID = %q, want usr-1", got.OwnerID)
	}
	if repo.Calls("GetByID") != 0 {
		t.Error("Find after Register should be served from cache")
	}

	if _, err := reg.Register(ctx, "device-1", "Again", "usr-2"); !errors.Is(err, ErrLockExists) {
		t.Errorf("duplicate Register() error = %v, want ErrLockExists", err)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	ctx := context.Background()

	tests := []struct {
		name, id, lockName, owner string
	}{
		{"empty id", "", "Door", "usr-1"},
		{"id with spaces", "front door", "Door", "usr-1"},
		{"empty name", "device-1", "  ", "usr-1"},
		{"no owner", "device-1", "Door", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.Register(ctx, tt.id, tt.lockName, tt.owner); !errors.Is(err, ErrInvalidLock) {
				t.Errorf("Register() error = %v, want ErrInvalidLock", err)
			}
		})
	}
}

func TestRegistry_FindFallsBackToRepository(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()
	_ = repo.Create(ctx, &Lock{DeviceID: "device-9", Name: "Shed", OwnerID: "usr-1", Status: StatusUnknown})

	reg := NewRegistry(repo)
	if _, err := reg.Find(ctx, "device-9"); err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if _, err := reg.Find(ctx, "device-9"); err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got := repo.Calls("GetByID"); got != 1 {
		t.Errorf("GetByID calls = %d, want 1 (second Find cached)", got)
	}

	if _, err := reg.Find(ctx, "ghost"); !errors.Is(err, ErrLockNotFound) {
		t.Errorf("Find(ghost) error = %v, want ErrLockNotFound", err)
	}
}

func TestRegistry_UpsertStatusUpdatesCache(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	ctx := context.Background()
	if _, err := reg.Register(ctx, "device-1", "Door", "usr-1"); err != nil {
		t.Fatal(err)
	}

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := reg.UpsertStatus(ctx, "device-1", StatusLocked, StateAvailable, seen); err != nil {
		t.Fatalf("UpsertStatus() error = %v", err)
	}

	got, _ := reg.Find(ctx, "device-1")
	if got.Status != StatusLocked || got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("cached lock = %+v", got)
	}

	err := reg.UpsertStatus(ctx, "device-1", StatusUnlocked, StateAvailable, seen.Add(-time.Second))
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("stale UpsertStatus() error = %v, want ErrStaleStatus", err)
	}
	got, _ = reg.Find(ctx, "device-1")
	if got.Status != StatusLocked {
		t.Error("stale write must not change the cache")
	}
}

func TestRegistry_FailedWriteLeavesCache(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	ctx := context.Background()
	if _, err := reg.Register(ctx, "device-1", "Door", "usr-1"); err != nil {
		t.Fatal(err)
	}

	repo.UpsertErr = errors.New("disk full")
	if err := reg.UpsertStatus(ctx, "device-1", StatusLocked, StateAvailable, time.Now()); err == nil {
		t.Fatal("UpsertStatus() should surface repository errors")
	}
	got, _ := reg.Find(ctx, "device-1")
	if got.Status != StatusUnknown {
		t.Errorf("Status = %q, want Unknown after failed write", got.Status)
	}
}

func TestRegistry_SetStateAndReassign(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	ctx := context.Background()
	if _, err := reg.Register(ctx, "device-1", "Door", "usr-1"); err != nil {
		t.Fatal(err)
	}

	if err := reg.SetState(ctx, "device-1", StateUnavailable, time.Time{}); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if err := reg.Reassign(ctx, "device-1", "usr-2"); err != nil {
		t.Fatalf("Reassign() error = %v", err)
	}

	got, _ := reg.Find(ctx, "device-1")
	if got.State != StateUnavailable || got.OwnerID != "usr-2" {
		t.Errorf("lock = %+v, want Unavailable owned by usr-2", got)
	}

	owned, err := reg.ListByOwner(ctx, "usr-2")
	if err != nil || len(owned) != 1 {
		t.Errorf("ListByOwner(usr-2) = %v, %v", owned, err)
	}

	if err := reg.Reassign(ctx, "device-1", ""); !errors.Is(err, ErrInvalidLock) {
		t.Errorf("Reassign to empty owner error = %v", err)
	}
	if err := reg.SetState(ctx, "ghost", StateAvailable, time.Time{}); !errors.Is(err, ErrLockNotFound) {
		t.Errorf("SetState(ghost) error = %v", err)
	}
}

func TestRegistry_SetStateAfterNewerReport(t *testing.T) {
	reg := NewRegistry(NewMockRepository())
	ctx := context.Background()
	if _, err := reg.Register(ctx, "device-1", "Door", "usr-1"); err != nil {
		t.Fatal(err)
	}
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t40 := t0.Add(40 * time.Second)
	if err := reg.UpsertStatus(ctx, "device-1", StatusLocked, "Jammed", t0); err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertStatus(ctx, "device-1", StatusLocked, StateAvailable, t40); err != nil {
		t.Fatal(err)
	}

	err := reg.SetState(ctx, "device-1", StateUnavailable, t0)
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("SetState(old last_seen) error = %v, want ErrStaleStatus", err)
	}
	got, _ := reg.Find(ctx, "device-1")
	if got.State != StateAvailable {
		t.Errorf("State = %q after rejected write, want Available", got.State)
	}

	if err := reg.SetState(ctx, "device-1", StateUnavailable, t40); err != nil {
		t.Fatalf("SetState(current last_seen) error = %v", err)
	}
	got, _ = reg.Find(ctx, "device-1")
	if got.State != StateUnavailable || got.ReportedState != StateAvailable {
		t.Errorf("state/reported = %q/%q, want Unavailable/Available", got.State, got.ReportedState)
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = repo.Create(ctx, &Lock{DeviceID: id, Name: id, OwnerID: "usr-1"})
	}

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := reg.Find(ctx, id); err != nil {
			t.Errorf("Find(%s) error = %v", id, err)
		}
	}
	if got := repo.Calls("GetByID"); got != 0 {
		t.Errorf("GetByID calls = %d, want 0 after RefreshCache", got)
	}
}

func TestLock_CloneIsDeep(t *testing.T) {
	ts := time.Now()
	issue := "jammed"
	l := &Lock{DeviceID: "d", LastSeen: &ts, Issue: &issue}

	c := l.Clone()
	*c.LastSeen = ts.Add(time.Hour)
	*c.Issue = "fixed"

	if !l.LastSeen.Equal(ts) || *l.Issue != "jammed" {
		t.Error("Clone shares pointers with the original")
	}
	if (*Lock)(nil).Clone() != nil {
		t.Error("Clone(nil) should be nil")
	}
}
