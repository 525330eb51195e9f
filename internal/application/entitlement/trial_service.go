package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrialService runs the trial-once workflow.
//
// The lifetime guarantee rests on the store's unique trial index; the
// precondition checks and the local marker only fail fast.
type TrialService struct {
	store    *StoreClient
	resolver *Resolver
	markers  entitlement.TrialMarkerStore
	events   shared.EventPublisher
	duration time.Duration
	catchUp  time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	logger   *zap.Logger
	metrics  *telemetry.EntitlementMetrics
}

// TrialOption configures a TrialService
type TrialOption func(*TrialService)

// WithTrialDuration sets the trial length
func WithTrialDuration(d time.Duration) TrialOption {
	return func(s *TrialService) {
		if d > 0 {
			s.duration = d
		}
	}
}

// WithCatchUpDelay sets the pause after a successful activation that lets
// read replicas observe the new row
func WithCatchUpDelay(d time.Duration) TrialOption {
	return func(s *TrialService) {
		s.catchUp = d
	}
}

func WithTrialClock(now func() time.Time) TrialOption {
	return func(s *TrialService) {
		s.now = now
	}
}

func WithTrialLogger(logger *zap.Logger) TrialOption {
	return func(s *TrialService) {
		s.logger = logger
	}
}

func WithTrialMetrics(m *telemetry.EntitlementMetrics) TrialOption {
	return func(s *TrialService) {
		s.metrics = m
	}
}

// NewTrialService creates a trial service
func NewTrialService(
	store *StoreClient,
	resolver *Resolver,
	markers entitlement.TrialMarkerStore,
	events shared.EventPublisher,
	opts ...TrialOption,
) *TrialService {
	s := &TrialService{
		store:    store,
		resolver: resolver,
		markers:  markers,
		events:   events,
		duration: entitlement.DefaultTrialDuration,
		now:      time.Now,
		sleep:    sleepContext,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "trial_service"))
	return s
}

// HasUsedTrialEver reports whether the user ever had a trial. The local
// marker answers on its own; otherwise the store is asked, and a store
// failure is returned as ErrRemoteUnavailable.
func (s *TrialService) HasUsedTrialEver(ctx context.Context, userID uuid.UUID) (bool, error) {
	marked, err := s.markers.IsMarked(ctx, userID)
	if err != nil {
		s.logger.Warn("trial marker read failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if marked {
		return true, nil
	}
	return s.store.HasTrialRecord(ctx, userID)
}

// ActivateTrial grants the one-time trial to identity.
func (s *TrialService) ActivateTrial(ctx context.Context, identity entitlement.Identity) (*entitlement.Record, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "entitlement", "activate_trial",
		telemetry.WithAttribute(telemetry.SpanAttrUserID, identity.UserID.String()))
	defer span.End()

	record, err := s.activate(ctx, identity)
	s.metrics.RecordTrialAttempt(ctx, trialOutcome(err))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.sleep(ctx, s.catchUp)
	return record, nil
}

func (s *TrialService) activate(ctx context.Context, identity entitlement.Identity) (*entitlement.Record, error) {
	if identity.IsZero() {
		return nil, entitlement.ErrValidation.WithMessage("identity is required")
	}
	if identity.IsAdmin() {
		return nil, entitlement.ErrPermission.WithMessage("administrators cannot activate a trial")
	}
	userID := identity.UserID

	used, err := s.HasUsedTrialEver(ctx, userID)
	if err != nil && !errors.Is(err, entitlement.ErrRemoteUnavailable) {
		return nil, err
	}
	// A known trial wins before the active record is fetched
	if used {
		s.mark(ctx, userID)
		return nil, entitlement.ErrTrialAlreadyUsed
	}
	active, err := s.store.FetchActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := entitlement.EvaluateTrialEligibility(used, active, s.now()); err != nil {
		if errors.Is(err, entitlement.ErrTrialAlreadyUsed) {
			s.mark(ctx, userID)
		}
		return nil, err
	}

	if _, err := s.store.Deactivate(ctx, identity, userID); err != nil {
		s.logger.Warn("best-effort deactivation before trial failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	now := s.now()
	_, end := entitlement.TrialWindow(now, s.duration)
	record, err := s.store.Create(ctx, identity, CreateInput{
		UserID:    userID,
		PlanType:  entitlement.PlanTrial,
		ExpiresAt: end,
		Method:    entitlement.ActivationTrial,
	})
	if err != nil {
		if errors.Is(err, entitlement.ErrTrialAlreadyUsed) {
			s.mark(ctx, userID)
		}
		return nil, err
	}

	s.mark(ctx, userID)
	s.resolver.WriteThrough(ctx, record)

	events := append(record.GetDomainEvents(),
		entitlement.NewSubscriptionSyncedEvent(userID, true, &record.PlanType, &record.ExpiresAt))
	record.ClearDomainEvents()
	if err := s.events.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish trial events", zap.String("user_id", userID.String()), zap.Error(err))
	}

	s.logger.Info("trial activated",
		zap.String("user_id", userID.String()),
		zap.Time("expires_at", record.ExpiresAt))
	return record, nil
}

func (s *TrialService) mark(ctx context.Context, userID uuid.UUID) {
	if err := s.markers.Mark(ctx, userID); err != nil {
		s.logger.Warn("failed to set trial marker", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func trialOutcome(err error) string {
	if err == nil {
		return "activated"
	}
	if de, ok := shared.AsDomainError(err); ok {
		return de.Code
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
