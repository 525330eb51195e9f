package entitlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

var errStoreDown = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

// memoryRepository is an in-memory Repository enforcing the store's unique
// constraints. Setting down makes every call fail like a lost connection.
type memoryRepository struct {
	mu      sync.Mutex
	records []entitlement.Record
	down    bool
}

var _ entitlement.Repository = (*memoryRepository)(nil)

func (r *memoryRepository) setDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

func (r *memoryRepository) put(rec entitlement.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *memoryRepository) sorted(userID uuid.UUID) []entitlement.Record {
	out := []entitlement.Record{}
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memoryRepository) FindActiveByUser(_ context.Context, userID uuid.UUID) (*entitlement.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	for _, rec := range r.sorted(userID) {
		if rec.IsActive {
			cp := rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryRepository) FindAllByUser(_ context.Context, userID uuid.UUID) ([]entitlement.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	return r.sorted(userID), nil
}

func (r *memoryRepository) ExistsTrialForUser(_ context.Context, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return false, errStoreDown
	}
	for _, rec := range r.records {
		if rec.UserID == userID && rec.IsTrial() {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepository) FindAll(_ context.Context, filter shared.Filter) ([]entitlement.Record, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, 0, errStoreDown
	}
	filter = filter.Normalize()
	all := append([]entitlement.Record(nil), r.records...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := filter.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r *memoryRepository) conflict(rec *entitlement.Record) error {
	for _, existing := range r.records {
		if existing.UserID != rec.UserID {
			continue
		}
		if rec.IsTrial() && existing.IsTrial() {
			return entitlement.ErrTrialAlreadyUsed
		}
		if rec.IsActive && existing.IsActive {
			return entitlement.ErrAlreadyEntitled
		}
	}
	return nil
}

func (r *memoryRepository) Create(_ context.Context, rec *entitlement.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	if err := r.conflict(rec); err != nil {
		return err
	}
	r.records = append(r.records, *rec)
	return nil
}

func (r *memoryRepository) Replace(_ context.Context, rec *entitlement.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	for i := range r.records {
		if r.records[i].UserID == rec.UserID {
			r.records[i].IsActive = false
		}
	}
	if err := r.conflict(rec); err != nil {
		return err
	}
	r.records = append(r.records, *rec)
	return nil
}

func (r *memoryRepository) DeactivateByUser(_ context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return 0, errStoreDown
	}
	var n int64
	for i := range r.records {
		if r.records[i].UserID == userID && r.records[i].IsActive {
			r.records[i].IsActive = false
			r.records[i].UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) DeactivateExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	seen := map[uuid.UUID]bool{}
	var users []uuid.UUID
	for i := range r.records {
		if len(seen) >= limit {
			break
		}
		if r.records[i].IsSoftExpiredAt(now) {
			r.records[i].IsActive = false
			if !seen[r.records[i].UserID] {
				seen[r.records[i].UserID] = true
				users = append(users, r.records[i].UserID)
			}
		}
	}
	return users, nil
}

// forceExpire moves every record of the user into the past
func (r *memoryRepository) forceExpire(userID uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].UserID == userID {
			r.records[i].ExpiresAt = at
		}
	}
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

// recordingFeed captures published change notifications
type recordingFeed struct {
	mu   sync.Mutex
	sent []entitlement.ChangeNotification
}

func (f *recordingFeed) Publish(_ context.Context, n entitlement.ChangeNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *recordingFeed) Subscribe(ctx context.Context, _ func(entitlement.ChangeNotification)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *recordingFeed) Close() error { return nil }

func (f *recordingFeed) published() []entitlement.ChangeNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entitlement.ChangeNotification(nil), f.sent...)
}

// MockRepository is a testify mock of entitlement.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*entitlement.Record, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Record), args.Error(1)
}

func (m *MockRepository) FindAllByUser(ctx context.Context, userID uuid.UUID) ([]entitlement.Record, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]entitlement.Record), args.Error(1)
}

func (m *MockRepository) ExistsTrialForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) FindAll(ctx context.Context, filter shared.Filter) ([]entitlement.Record, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]entitlement.Record), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) Create(ctx context.Context, record *entitlement.Record) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockRepository) Replace(ctx context.Context, record *entitlement.Record) error {
	return m.Called(ctx, record).Error(0)
}

func (m *MockRepository) DeactivateByUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) DeactivateExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// harness wires the services over in-memory collaborators with a fixed clock
type harness struct {
	now      time.Time
	repo     *memoryRepository
	slots    *cache.InMemorySlotStore
	markers  *cache.InMemoryTrialMarkerStore
	events   *recordingPublisher
	store    *StoreClient
	resolver *Resolver
	trials   *TrialService
	admin    *AdminService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		now:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		repo:    &memoryRepository{},
		markers: cache.NewInMemoryTrialMarkerStore(),
		events:  &recordingPublisher{},
	}
	clock := func() time.Time { return h.now }
	h.slots = cache.NewInMemorySlotStore(cache.WithInMemoryClock(clock))
	h.store = NewStoreClient(h.repo, WithStoreClock(clock), WithStoreTimeout(time.Second))
	h.resolver = NewResolver(h.store, h.slots, WithResolverClock(clock), WithMaxCacheTrust(24*time.Hour))
	h.trials = NewTrialService(h.store, h.resolver, h.markers, h.events,
		WithTrialClock(clock), WithCatchUpDelay(0))
	h.admin = NewAdminService(h.store, h.resolver, h.events, nil)
	h.admin.now = clock
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func userIdentity() entitlement.Identity {
	return entitlement.Identity{UserID: uuid.New(), Email: "dealer@example.com", Role: entitlement.RoleUser}
}

func adminIdentity() entitlement.Identity {
	return entitlement.Identity{UserID: uuid.New(), Email: "admin@example.com", Role: entitlement.RoleAdmin}
}

func (h *harness) writeSlot(t *testing.T, slot entitlement.Slot, userID uuid.UUID, hasAccess bool, expiresAt time.Time) {
	t.Helper()
	err := h.slots.Write(context.Background(), slot, userID, entitlement.SlotRecord{
		Source:    slot,
		HasAccess: hasAccess,
		PlanType:  entitlement.PlanMonthly,
		ExpiresAt: expiresAt,
		WrittenAt: h.now,
	})
	if err != nil {
		t.Fatalf("write slot: %v", err)
	}
}
