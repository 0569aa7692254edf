package lock

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/database"
	_ "github.com/nerrad567/smartlock-core/migrations"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "locks.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// MockRepository is an in-memory Repository with injectable failures.
type MockRepository struct {
	mu    sync.Mutex
	locks map[string]*Lock
	calls map[string]int

	CreateErr error
	GetErr    error
	UpsertErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{locks: make(map[string]*Lock), calls: make(map[string]int)}
}

func (m *MockRepository) count(op string) {
	m.calls[op]++
}

func (m *MockRepository) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockRepository) Create(_ context.Context, l *Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("Create")
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.locks[l.DeviceID]; ok {
		return ErrLockExists
	}
	m.locks[l.DeviceID] = l.Clone()
	return nil
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetByID")
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	l, ok := m.locks[id]
	if !ok {
		return nil, ErrLockNotFound
	}
	return l.Clone(), nil
}

func (m *MockRepository) List(context.Context) ([]Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("List")
	out := make([]Lock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, *l.Clone())
	}
	return out, nil
}

func (m *MockRepository) ListByOwner(_ context.Context, owner string) ([]Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lock
	for _, l := range m.locks {
		if l.OwnerID == owner {
			out = append(out, *l.Clone())
		}
	}
	return out, nil
}

func (m *MockRepository) UpsertStatus(_ context.Context, id, status, state string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("UpsertStatus")
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	l, ok := m.locks[id]
	if !ok {
		return ErrLockNotFound
	}
	if l.LastSeen != nil && lastSeen.Before(*l.LastSeen) {
		return ErrStaleStatus
	}
	l.Status, l.State, l.ReportedState, l.LastSeen = status, state, state, &lastSeen
	return nil
}

func (m *MockRepository) SetState(_ context.Context, id, state string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return ErrLockNotFound
	}
	switch {
	case l.LastSeen == nil && !lastSeen.IsZero(),
		l.LastSeen != nil && !l.LastSeen.Equal(lastSeen):
		return ErrStaleStatus
	}
	l.State = state
	return nil
}

func (m *MockRepository) SetOwner(_ context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return ErrLockNotFound
	}
	l.OwnerID = owner
	return nil
}
