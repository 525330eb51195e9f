package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InMemorySlotStore implements entitlement.SlotStore in process memory.
// Payloads are kept encoded so reads go through the same decode path as Redis.
type InMemorySlotStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	now     func() time.Time
	logger  *zap.Logger
}

var _ entitlement.SlotStore = (*InMemorySlotStore)(nil)

// InMemoryOption configures the in-memory stores
type InMemoryOption func(*InMemorySlotStore)

// WithInMemoryClock overrides the clock used for expiry checks
func WithInMemoryClock(now func() time.Time) InMemoryOption {
	return func(s *InMemorySlotStore) {
		s.now = now
	}
}

// WithInMemoryLogger sets the logger
func WithInMemoryLogger(logger *zap.Logger) InMemoryOption {
	return func(s *InMemorySlotStore) {
		s.logger = logger
	}
}

// NewInMemorySlotStore creates an empty store
func NewInMemorySlotStore(opts ...InMemoryOption) *InMemorySlotStore {
	s := &InMemorySlotStore{
		entries: make(map[string][]byte),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemorySlotStore) Read(_ context.Context, slot entitlement.Slot, userID uuid.UUID) (*entitlement.SlotRecord, error) {
	key := slotKey(slot, userID)

	s.mu.RLock()
	data, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	record, err := decodeSlot(slot, data)
	if err != nil {
		if s.evictIfUnchanged(key, data) {
			s.logger.Warn("Evicted corrupt cache slot", zap.String("key", key), zap.Error(err))
		}
		return nil, err
	}
	if record.IsExpiredAt(s.now()) {
		s.evictIfUnchanged(key, data)
		return nil, nil
	}
	return record, nil
}

func (s *InMemorySlotStore) Write(_ context.Context, slot entitlement.Slot, userID uuid.UUID, record entitlement.SlotRecord) error {
	data, err := encodeSlot(slot, record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[slotKey(slot, userID)] = data
	s.mu.Unlock()
	return nil
}

func (s *InMemorySlotStore) Evict(_ context.Context, slot entitlement.Slot, userID uuid.UUID) error {
	s.delete(slotKey(slot, userID))
	return nil
}

func (s *InMemorySlotStore) EvictAll(ctx context.Context, userID uuid.UUID) error {
	for _, slot := range entitlement.SlotsByPriority() {
		_ = s.Evict(ctx, slot, userID)
	}
	return nil
}

// PutRaw stores an arbitrary payload, bypassing encoding
func (s *InMemorySlotStore) PutRaw(slot entitlement.Slot, userID uuid.UUID, data []byte) {
	s.mu.Lock()
	s.entries[slotKey(slot, userID)] = append([]byte(nil), data...)
	s.mu.Unlock()
}

// Len returns the number of stored slots, expired ones included
func (s *InMemorySlotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *InMemorySlotStore) Close() error {
	return nil
}

// evictIfUnchanged deletes key only while it still holds data, so a Write
// racing with a Read is never discarded.
func (s *InMemorySlotStore) evictIfUnchanged(key string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[key]
	if !ok || !bytes.Equal(current, data) {
		return false
	}
	delete(s.entries, key)
	return true
}

func (s *InMemorySlotStore) delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// InMemoryTrialMarkerStore implements entitlement.TrialMarkerStore in process memory
type InMemoryTrialMarkerStore struct {
	marks sync.Map
}

var _ entitlement.TrialMarkerStore = (*InMemoryTrialMarkerStore)(nil)

// NewInMemoryTrialMarkerStore creates an empty marker store
func NewInMemoryTrialMarkerStore() *InMemoryTrialMarkerStore {
	return &InMemoryTrialMarkerStore{}
}

func (m *InMemoryTrialMarkerStore) Mark(_ context.Context, userID uuid.UUID) error {
	m.marks.Store(userID, struct{}{})
	return nil
}

func (m *InMemoryTrialMarkerStore) IsMarked(_ context.Context, userID uuid.UUID) (bool, error) {
	_, ok := m.marks.Load(userID)
	return ok, nil
}

func (m *InMemoryTrialMarkerStore) Close() error {
	return nil
}
