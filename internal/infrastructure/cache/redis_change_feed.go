package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultCloseTimeout = 5 * time.Second

// RedisChangeFeed implements entitlement.ChangeFeed over Redis Pub/Sub.
// Writers publish explicitly after each committed store mutation.
type RedisChangeFeed struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu        sync.Mutex
	cancelFn  context.CancelFunc
	isRunning bool
	doneCh    chan struct{}
	doneOnce  sync.Once
}

var _ entitlement.ChangeFeed = (*RedisChangeFeed)(nil)

// NewRedisChangeFeed creates a feed over a shared client. The caller keeps ownership.
func NewRedisChangeFeed(client *redis.Client, channel string, logger *zap.Logger) *RedisChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisChangeFeed{
		client:  client,
		channel: channel,
		logger:  logger.With(zap.String("component", "redis_change_feed"), zap.String("channel", channel)),
		doneCh:  make(chan struct{}),
	}
}

func (f *RedisChangeFeed) Publish(ctx context.Context, n entitlement.ChangeNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal change notification: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		f.logger.Error("Failed to publish change notification", zap.Error(err))
		return fmt.Errorf("failed to publish change notification: %w", err)
	}
	return nil
}

// Subscribe blocks delivering notifications to fn in arrival order
func (f *RedisChangeFeed) Subscribe(ctx context.Context, fn func(entitlement.ChangeNotification)) error {
	f.mu.Lock()
	if f.isRunning {
		f.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	subCtx, cancel := context.WithCancel(ctx)
	f.isRunning = true
	f.cancelFn = cancel
	f.mu.Unlock()

	defer func() {
		cancel()
		f.mu.Lock()
		f.isRunning = false
		f.mu.Unlock()
		f.doneOnce.Do(func() { close(f.doneCh) })
	}()

	pubsub := f.client.Subscribe(subCtx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	f.logger.Info("Subscribed to entitlement change channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				f.logger.Warn("Change channel closed")
				return nil
			}
			var n entitlement.ChangeNotification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				f.logger.Warn("Dropping malformed change notification", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			fn(n)
		}
	}
}

// Close stops a running subscription
func (f *RedisChangeFeed) Close() error {
	f.mu.Lock()
	cancelFn := f.cancelFn
	f.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-f.doneCh:
		case <-time.After(defaultCloseTimeout):
			f.logger.Warn("Timeout waiting for subscription to stop")
		}
	}
	return nil
}
