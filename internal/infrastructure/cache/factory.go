package cache

import (
	"context"
	"fmt"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores bundles the local cache layer
type Stores struct {
	Slots   entitlement.SlotStore
	Markers entitlement.TrialMarkerStore
	// Client is nil when running in memory
	Client *redis.Client
}

// Close releases the stores and the Redis client if any
func (s *Stores) Close() error {
	_ = s.Slots.Close()
	_ = s.Markers.Close()
	if s.Client != nil {
		return s.Client.Close()
	}
	return nil
}

// StoreFactory creates cache stores based on configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to memory.
// Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateInMemory returns process-local stores. Slots are not shared across
// instances, which only widens the window served from a stale fallback.
func (f *StoreFactory) CreateInMemory() *Stores {
	return &Stores{
		Slots:   NewInMemorySlotStore(WithInMemoryLogger(f.logger)),
		Markers: NewInMemoryTrialMarkerStore(),
	}
}

// Create returns Redis-backed stores when Redis is enabled and reachable
func (f *StoreFactory) Create(ctx context.Context) (*Stores, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory entitlement cache")
		return f.CreateInMemory(), nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("Using Redis entitlement cache", zap.String("addr", f.redisConfig.Addr()))
		return &Stores{
			Slots:   NewRedisSlotStoreWithClient(client, WithRedisLogger(f.logger)),
			Markers: NewRedisTrialMarkerStore(client),
			Client:  client,
		}, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for entitlement cache but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory entitlement cache", zap.Error(err))
	return f.CreateInMemory(), nil
}
