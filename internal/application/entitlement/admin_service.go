package entitlement

import (
	"context"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GrantInput is an administrator's grant. ExpiresAt wins over DurationDays.
type GrantInput struct {
	UserID       uuid.UUID
	PlanType     entitlement.PlanType
	ExpiresAt    *time.Time
	DurationDays int
}

// AdminService handles administrator grants and revocations
type AdminService struct {
	store    *StoreClient
	resolver *Resolver
	events   shared.EventPublisher
	now      func() time.Time
	logger   *zap.Logger
}

// NewAdminService creates an admin service
func NewAdminService(store *StoreClient, resolver *Resolver, events shared.EventPublisher, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		store:    store,
		resolver: resolver,
		events:   events,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "entitlement_admin")),
	}
}

// Grant replaces the user's active record with a new admin grant and mirrors
// it into the admin-granted slot.
func (s *AdminService) Grant(ctx context.Context, actor entitlement.Identity, in GrantInput) (*entitlement.Record, error) {
	expiresAt, err := s.expiry(in)
	if err != nil {
		return nil, err
	}

	record, err := s.store.Create(ctx, actor, CreateInput{
		UserID:    in.UserID,
		PlanType:  in.PlanType,
		ExpiresAt: expiresAt,
		Method:    entitlement.ActivationAdmin,
	})
	if err != nil {
		return nil, err
	}

	s.resolver.WriteSlot(ctx, entitlement.SlotAdminGranted, record)
	events := record.GetDomainEvents()
	record.ClearDomainEvents()
	if err := s.events.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish grant event", zap.Error(err))
	}

	s.logger.Info("entitlement granted",
		zap.String("user_id", in.UserID.String()),
		zap.String("granted_by", actor.UserID.String()),
		zap.String("plan_type", string(record.PlanType)),
		zap.Time("expires_at", record.ExpiresAt))
	return record, nil
}

func (s *AdminService) expiry(in GrantInput) (time.Time, error) {
	if in.ExpiresAt != nil {
		return *in.ExpiresAt, nil
	}
	if in.DurationDays <= 0 {
		return time.Time{}, entitlement.ErrValidation.WithMessage("expires_at or duration_days is required")
	}
	return s.now().AddDate(0, 0, in.DurationDays), nil
}

// Revoke deactivates every active record of userID and drops its cached
// slots. Returns the number of records changed.
func (s *AdminService) Revoke(ctx context.Context, actor entitlement.Identity, userID uuid.UUID) (int64, error) {
	if !actor.IsAdmin() {
		return 0, entitlement.ErrPermission.WithMessage("only administrators can revoke entitlements")
	}

	n, err := s.store.Deactivate(ctx, actor, userID)
	if err != nil {
		return 0, err
	}
	if err := s.resolver.Forget(ctx, userID); err != nil {
		s.logger.Warn("failed to evict revoked user's cache", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if err := s.events.Publish(ctx, entitlement.NewAdminSubscriptionDeactivatedEvent(userID, n, actor.UserID)); err != nil {
		s.logger.Warn("failed to publish revoke event", zap.Error(err))
	}

	s.logger.Info("entitlement revoked",
		zap.String("user_id", userID.String()),
		zap.String("revoked_by", actor.UserID.String()),
		zap.Int64("deactivated", n))
	return n, nil
}

// List pages through every record in the store
func (s *AdminService) List(ctx context.Context, actor entitlement.Identity, filter shared.Filter) (shared.Paginated[entitlement.Record], error) {
	filter = filter.Normalize()
	records, total, err := s.store.ListAll(ctx, actor, filter)
	if err != nil {
		return shared.Paginated[entitlement.Record]{}, err
	}
	return shared.NewPaginated(records, total, filter.Page, filter.PageSize), nil
}
