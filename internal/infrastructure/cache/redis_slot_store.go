package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisSlotStore implements entitlement.SlotStore using Redis.
//
// Each slot is one key whose TTL matches the embedded expiry, so Redis drops
// expired grants on its own. Read still checks expiry against the local clock.
type RedisSlotStore struct {
	client *redis.Client
	now    func() time.Time
	logger *zap.Logger
}

var _ entitlement.SlotStore = (*RedisSlotStore)(nil)

// RedisSlotStoreOption configures a RedisSlotStore
type RedisSlotStoreOption func(*RedisSlotStore)

// WithRedisLogger sets the logger
func WithRedisLogger(logger *zap.Logger) RedisSlotStoreOption {
	return func(s *RedisSlotStore) {
		s.logger = logger
	}
}

// WithRedisClock overrides the clock used for expiry checks
func WithRedisClock(now func() time.Time) RedisSlotStoreOption {
	return func(s *RedisSlotStore) {
		s.now = now
	}
}

// NewRedisSlotStoreWithClient creates a store over a shared client. The caller keeps ownership.
func NewRedisSlotStoreWithClient(client *redis.Client, opts ...RedisSlotStoreOption) *RedisSlotStore {
	s := &RedisSlotStore{
		client: client,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSlotStore) Read(ctx context.Context, slot entitlement.Slot, userID uuid.UUID) (*entitlement.SlotRecord, error) {
	key := slotKey(slot, userID)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache slot: %w", err)
	}

	record, err := decodeSlot(slot, data)
	if err != nil {
		if delErr := s.evictIfUnchanged(ctx, key, data); delErr != nil {
			s.logger.Error("Failed to evict corrupt cache slot", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}
	if record.IsExpiredAt(s.now()) {
		if err := s.evictIfUnchanged(ctx, key, data); err != nil {
			return nil, fmt.Errorf("failed to evict expired cache slot: %w", err)
		}
		return nil, nil
	}
	return record, nil
}

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1]
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// evictIfUnchanged deletes key only while it still holds data, so a Write
// landing between the GET and the delete survives.
func (s *RedisSlotStore) evictIfUnchanged(ctx context.Context, key string, data []byte) error {
	return compareAndDelete.Run(ctx, s.client, []string{key}, data).Err()
}

func (s *RedisSlotStore) Write(ctx context.Context, slot entitlement.Slot, userID uuid.UUID, record entitlement.SlotRecord) error {
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Evict(ctx, slot, userID)
	}
	data, err := encodeSlot(slot, record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, slotKey(slot, userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache slot: %w", err)
	}
	return nil
}

func (s *RedisSlotStore) Evict(ctx context.Context, slot entitlement.Slot, userID uuid.UUID) error {
	if err := s.client.Del(ctx, slotKey(slot, userID)).Err(); err != nil {
		return fmt.Errorf("failed to evict cache slot: %w", err)
	}
	return nil
}

func (s *RedisSlotStore) EvictAll(ctx context.Context, userID uuid.UUID) error {
	slots := entitlement.SlotsByPriority()
	keys := make([]string, 0, len(slots))
	for _, slot := range slots {
		keys = append(keys, slotKey(slot, userID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to evict cache slots: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner
func (s *RedisSlotStore) Close() error {
	return nil
}

// RedisTrialMarkerStore keeps trial markers as keys without expiry
type RedisTrialMarkerStore struct {
	client *redis.Client
}

var _ entitlement.TrialMarkerStore = (*RedisTrialMarkerStore)(nil)

// NewRedisTrialMarkerStore creates a marker store over a shared client
func NewRedisTrialMarkerStore(client *redis.Client) *RedisTrialMarkerStore {
	return &RedisTrialMarkerStore{client: client}
}

func (m *RedisTrialMarkerStore) Mark(ctx context.Context, userID uuid.UUID) error {
	if err := m.client.Set(ctx, trialMarkerKey(userID), time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("failed to write trial marker: %w", err)
	}
	return nil
}

func (m *RedisTrialMarkerStore) IsMarked(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := m.client.Exists(ctx, trialMarkerKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read trial marker: %w", err)
	}
	return n > 0, nil
}

func (m *RedisTrialMarkerStore) Close() error {
	return nil
}
