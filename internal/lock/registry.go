package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger is the logging surface used by Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches locks in memory over a Repository. The ingest path calls
// Find for every status report, so lookups must not hit storage each time.
// Writes go to the repository first and update the cache only on success.
//
// All methods are safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[string]*Lock
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Lock),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every lock from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	locks, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading locks: %w", err)
	}

	cache := make(map[string]*Lock, len(locks))
	for i := range locks {
		cache[locks[i].DeviceID] = locks[i].Clone()
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("lock cache refreshed", "count", len(locks))
	return nil
}

// Find returns a copy of the lock, or ErrLockNotFound.
func (r *Registry) Find(ctx context.Context, deviceID string) (*Lock, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[deviceID]
	r.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	l, err := r.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	r.store(l)
	return l.Clone(), nil
}

// List returns every lock from the repository.
func (r *Registry) List(ctx context.Context) ([]Lock, error) {
	return r.repo.List(ctx)
}

// ListByOwner returns the locks owned by ownerID.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]Lock, error) {
	return r.repo.ListByOwner(ctx, ownerID)
}

// Register creates a new lock owned by ownerID with status Unknown and
// state Available.
func (r *Registry) Register(ctx context.Context, deviceID, name, ownerID string) (*Lock, error) {
	now := r.now().UTC()
	l := &Lock{
		DeviceID:  deviceID,
		Name:      name,
		OwnerID:   ownerID,
		Status:    StatusUnknown,
		State:     StateAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	if err := r.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	r.store(l)

	r.logger.Info("lock registered", "device_id", deviceID, "owner_id", ownerID)
	return l.Clone(), nil
}

// UpsertStatus persists a device report. ErrStaleStatus from the
// repository is returned unchanged and leaves the cache untouched.
func (r *Registry) UpsertStatus(ctx context.Context, deviceID, status, state string, lastSeen time.Time) error {
	if err := r.repo.UpsertStatus(ctx, deviceID, status, state, lastSeen); err != nil {
		return err
	}

	ts := lastSeen.UTC()
	r.mutate(deviceID, func(l *Lock) {
		l.Status = status
		l.State = state
		l.ReportedState = state
		l.LastSeen = &ts
		l.UpdatedAt = r.now().UTC()
	})
	return nil
}

// SetState persists a derived liveness condition for the report stamped
// lastSeen. If a newer report has been stored since, it returns
// ErrStaleStatus and leaves the lock as the newer report wrote it.
func (r *Registry) SetState(ctx context.Context, deviceID, state string, lastSeen time.Time) error {
	if err := r.repo.SetState(ctx, deviceID, state, lastSeen); err != nil {
		return err
	}
	r.mutate(deviceID, func(l *Lock) {
		l.State = state
		l.UpdatedAt = r.now().UTC()
	})
	return nil
}

// Reassign moves a lock to a new owner.
func (r *Registry) Reassign(ctx context.Context, deviceID, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidLock)
	}
	if err := r.repo.SetOwner(ctx, deviceID, ownerID); err != nil {
		return err
	}
	r.mutate(deviceID, func(l *Lock) {
		l.OwnerID = ownerID
		l.UpdatedAt = r.now().UTC()
	})
	r.logger.Info("lock reassigned", "device_id", deviceID, "owner_id", ownerID)
	return nil
}

func (r *Registry) store(l *Lock) {
	r.cacheMu.Lock()
	r.cache[l.DeviceID] = l.Clone()
	r.cacheMu.Unlock()
}

// mutate applies fn to the cached lock if present. A lock missing from the
// cache is loaded lazily by the next Find.
func (r *Registry) mutate(deviceID string, fn func(l *Lock)) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if l, ok := r.cache[deviceID]; ok {
		fn(l)
	}
}
