package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/smartlock-core/internal/infrastructure/retry"
	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

var errStoreDown = errors.New("store unavailable")

// fastPolicy keeps retry tests quick.
var fastPolicy = retry.Policy{
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	MaxElapsedTime:  20 * time.Millisecond,
	AttemptTimeout:  50 * time.Millisecond,
}

// base is t=0 for scenario tests.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return base.Add(time.Duration(seconds) * time.Second)
}

type fakeRegistry struct {
	mu        sync.Mutex
	locks     map[string]*lock.Lock
	upserts   int
	upsertErr error
	stateErr  error
}

func newFakeRegistry(ids ...string) *fakeRegistry {
	r := &fakeRegistry{locks: make(map[string]*lock.Lock)}
	for _, id := range ids {
		r.locks[id] = &lock.Lock{DeviceID: id, Name: id, OwnerID: "usr-1", Status: lock.StatusUnknown, State: lock.StateAvailable}
	}
	return r
}

func (r *fakeRegistry) Find(_ context.Context, id string) (*lock.Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		return nil, lock.ErrLockNotFound
	}
	return l.Clone(), nil
}

func (r *fakeRegistry) UpsertStatus(_ context.Context, id, status, state string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.upsertErr != nil {
		return r.upsertErr
	}
	l, ok := r.locks[id]
	if !ok {
		return lock.ErrLockNotFound
	}
	l.Status, l.State, l.ReportedState, l.LastSeen = status, state, state, &lastSeen
	return nil
}

func (r *fakeRegistry) SetState(_ context.Context, id, state string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stateErr != nil {
		return r.stateErr
	}
	l, ok := r.locks[id]
	if !ok {
		return lock.ErrLockNotFound
	}
	switch {
	case l.LastSeen == nil && !lastSeen.IsZero(),
		l.LastSeen != nil && !l.LastSeen.Equal(lastSeen):
		return lock.ErrStaleStatus
	}
	l.State = state
	return nil
}

func (r *fakeRegistry) get(id string) lock.Lock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.locks[id].Clone()
}

func (r *fakeRegistry) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

type fakeLogStore struct {
	mu         sync.Mutex
	entries    []locklog.Entry
	appendErr  error
	failFirstN int
	attempts   int

	// lostAcksN appends persist the entry but still report errStoreDown,
	// like a write that commits just as its deadline passes.
	lostAcksN int
}

func (s *fakeLogStore) Append(_ context.Context, e *locklog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.appendErr != nil {
		return s.appendErr
	}
	if s.failFirstN > 0 {
		s.failFirstN--
		return errStoreDown
	}
	if e.ID == "" {
		e.ID = locklog.NewID()
	}
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			return locklog.ErrDuplicateEntry
		}
	}
	s.entries = append(s.entries, *e)
	if s.lostAcksN > 0 {
		s.lostAcksN--
		return errStoreDown
	}
	return nil
}

func (s *fakeLogStore) MostRecent(_ context.Context, deviceID string) (*locklog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *locklog.Entry
	for i := range s.entries {
		e := &s.entries[i]
		if e.DeviceID != deviceID {
			continue
		}
		if last == nil || !e.Timestamp.Before(last.Timestamp) {
			last = e
		}
	}
	if last == nil {
		return nil, locklog.ErrEntryNotFound
	}
	c := *last
	return &c, nil
}

// gatedLogStore holds the first MostRecent call until release is closed,
// so a test can interleave the sweep and ingest paths deterministically.
type gatedLogStore struct {
	*fakeLogStore

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedLogStore(inner *fakeLogStore) *gatedLogStore {
	return &gatedLogStore{
		fakeLogStore: inner,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (s *gatedLogStore) MostRecent(ctx context.Context, deviceID string) (*locklog.Entry, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.fakeLogStore.MostRecent(ctx, deviceID)
}

func (s *fakeLogStore) forDevice(deviceID string) []locklog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []locklog.Entry
	for _, e := range s.entries {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeLogStore) offlineCount(deviceID string) int {
	n := 0
	for _, e := range s.forDevice(deviceID) {
		if e.Status == lock.StatusOffline {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type recordingObserver struct {
	mu      sync.Mutex
	entries []locklog.Entry
}

func (o *recordingObserver) OnEntry(_ context.Context, e locklog.Entry) {
	o.mu.Lock()
	o.entries = append(o.entries, e)
	o.mu.Unlock()
}

func (o *recordingObserver) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// harness wires the core components over fakes.
type harness struct {
	tracker  *Tracker
	registry *fakeRegistry
	logs     *fakeLogStore
	journal  *Journal
	synth    *Synthesizer
	ingestor *Ingestor
	sweeper  *Sweeper
	guard    *Guard
	pub      *fakePublisher
	metrics  *Metrics
}

func newHarness(threshold time.Duration, devices ...string) *harness {
	h := &harness{
		tracker:  NewTracker(threshold),
		registry: newFakeRegistry(devices...),
		logs:     &fakeLogStore{},
		pub:      &fakePublisher{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	h.journal = NewJournal(JournalConfig{
		Registry: h.registry,
		Logs:     h.logs,
		Policy:   fastPolicy,
		Metrics:  h.metrics,
	})
	h.synth = NewSynthesizer(h.tracker, h.journal, h.metrics)
	h.ingestor = NewIngestor(IngestorConfig{
		Tracker:     h.tracker,
		Synthesizer: h.synth,
		Registry:    h.registry,
		Journal:     h.journal,
		Metrics:     h.metrics,
	})
	h.sweeper = NewSweeper(SweeperConfig{
		Tracker:       h.tracker,
		Synthesizer:   h.synth,
		Interval:      threshold,
		DeviceTimeout: time.Second,
		Metrics:       h.metrics,
	})
	h.guard = NewGuard(GuardConfig{
		Tracker:   h.tracker,
		Publisher: h.pub,
		Journal:   h.journal,
		Topic:     "smartlock/commands",
		QoS:       1,
		APIKey:    "device-key",
		Metrics:   h.metrics,
	})
	return h
}

func (h *harness) report(deviceID, status, state string, now time.Time) error {
	return h.ingestor.Handle(context.Background(), Report{DeviceID: deviceID, Status: status, State: state}, now)
}
