package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ExpiredSweeper periodically deactivates soft-expired records so the
// one-active-record index only holds live grants, then announces the change
// for every affected user.
type ExpiredSweeper struct {
	store     *StoreClient
	events    shared.EventPublisher
	batchSize int
	logger    *zap.Logger
	metrics   *telemetry.EntitlementMetrics

	mu   sync.Mutex
	cron *cron.Cron
}

// NewExpiredSweeper creates a sweeper; Start schedules it
func NewExpiredSweeper(store *StoreClient, events shared.EventPublisher, batchSize int, logger *zap.Logger, metrics *telemetry.EntitlementMetrics) *ExpiredSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ExpiredSweeper{
		store:     store,
		events:    events,
		batchSize: batchSize,
		logger:    logger.With(zap.String("component", "expired_sweeper")),
		metrics:   metrics,
	}
}

// Start schedules the sweep on schedule, a standard cron expression or descriptor
// such as "@every 15m". Overlapping runs are skipped.
func (s *ExpiredSweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("expired entitlement sweeper scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop unschedules the sweep and waits for a running one to finish or ctx to end
func (s *ExpiredSweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep deactivates one batch of soft-expired records and returns the
// number of users affected
func (s *ExpiredSweeper) Sweep(ctx context.Context) int {
	users, err := s.store.DeactivateExpired(ctx, s.batchSize)
	if err != nil {
		s.logger.Warn("expired entitlement sweep failed", zap.Error(err))
		return 0
	}
	if len(users) == 0 {
		return 0
	}

	events := make([]shared.DomainEvent, 0, len(users))
	for _, userID := range users {
		events = append(events, entitlement.NewSubscriptionSyncedEvent(userID, false, nil, nil))
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish sweep events", zap.Error(err))
	}
	s.metrics.RecordSwept(ctx, len(users))
	s.logger.Info("deactivated expired entitlements", zap.Int("users", len(users)))
	return len(users)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
