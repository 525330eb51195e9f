// Package entitlement orchestrates entitlement resolution, the trial-once
// workflow, admin grants and cache invalidation on top of the domain model.
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

// DefaultStoreTimeout bounds every store call when none is configured
const DefaultStoreTimeout = 3 * time.Second

// CreateInput describes a new grant
type CreateInput struct {
	UserID    uuid.UUID
	PlanType  entitlement.PlanType
	ExpiresAt time.Time
	Method    entitlement.ActivationMethod
}

// StoreClient is the only path to the authoritative record store.
//
// Every call runs under a timeout. Anything the store reports that is not a
// domain conflict comes back as ErrRemoteUnavailable. The client never
// touches the local cache.
type StoreClient struct {
	repo     entitlement.Repository
	notifier entitlement.ChangeFeed
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *telemetry.EntitlementMetrics
}

// StoreClientOption configures a StoreClient
type StoreClientOption func(*StoreClient)

// WithStoreTimeout sets the per-call timeout
func WithStoreTimeout(d time.Duration) StoreClientOption {
	return func(c *StoreClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithChangeNotifier publishes a change notification after every write.
// Feeds driven by the store itself ignore the publish.
func WithChangeNotifier(feed entitlement.ChangeFeed) StoreClientOption {
	return func(c *StoreClient) {
		c.notifier = feed
	}
}

// WithStoreClock overrides the clock used for validation
func WithStoreClock(now func() time.Time) StoreClientOption {
	return func(c *StoreClient) {
		c.now = now
	}
}

func WithStoreLogger(logger *zap.Logger) StoreClientOption {
	return func(c *StoreClient) {
		c.logger = logger
	}
}

func WithStoreMetrics(m *telemetry.EntitlementMetrics) StoreClientOption {
	return func(c *StoreClient) {
		c.metrics = m
	}
}

// NewStoreClient creates a store client over repo
func NewStoreClient(repo entitlement.Repository, opts ...StoreClientOption) *StoreClient {
	c := &StoreClient{
		repo:    repo,
		timeout: DefaultStoreTimeout,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "entitlement_store"))
	return c
}

// FetchActive returns the newest active record, or nil when there is none.
// The caller checks expiry.
func (c *StoreClient) FetchActive(ctx context.Context, userID uuid.UUID) (*entitlement.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	record, err := c.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, c.unavailable(ctx, "fetch_active", err)
	}
	return record, nil
}

// FetchAll returns every record of the user, newest first
func (c *StoreClient) FetchAll(ctx context.Context, userID uuid.UUID) ([]entitlement.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, err := c.repo.FindAllByUser(ctx, userID)
	if err != nil {
		return nil, c.unavailable(ctx, "fetch_all", err)
	}
	return records, nil
}

// HasTrialRecord reports whether any trial row, active or not, exists for the user
func (c *StoreClient) HasTrialRecord(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	used, err := c.repo.ExistsTrialForUser(ctx, userID)
	if err != nil {
		return false, c.unavailable(ctx, "has_trial", err)
	}
	return used, nil
}

// Create validates and writes a grant on behalf of actor.
//
// Non-trial plans require an administrator. A trial may only be created by
// a non-admin for themselves. Trials are inserted as-is so an existing active
// record surfaces as ErrAlreadyEntitled; other grants replace the user's
// active record in one transaction.
func (c *StoreClient) Create(ctx context.Context, actor entitlement.Identity, in CreateInput) (*entitlement.Record, error) {
	if !in.PlanType.IsValid() {
		return nil, entitlement.ErrValidation.WithMessage("unrecognised plan type: " + string(in.PlanType))
	}
	if err := authorizeCreate(actor, in); err != nil {
		return nil, err
	}

	record, err := entitlement.NewRecord(in.UserID, in.PlanType, in.ExpiresAt, in.Method, actor.UserID, c.now())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if record.IsTrial() {
		err = c.repo.Create(ctx, record)
	} else {
		err = c.repo.Replace(ctx, record)
	}
	if err != nil {
		if errors.Is(err, entitlement.ErrTrialAlreadyUsed) || errors.Is(err, entitlement.ErrAlreadyEntitled) {
			return nil, err
		}
		return nil, c.unavailable(ctx, "create", err)
	}

	c.notify(ctx, in.UserID, entitlement.OpInsert)
	return record, nil
}

func authorizeCreate(actor entitlement.Identity, in CreateInput) error {
	if actor.IsZero() {
		return entitlement.ErrPermission.WithMessage("an identity is required")
	}
	if in.PlanType == entitlement.PlanTrial {
		if actor.IsAdmin() || actor.UserID != in.UserID {
			return entitlement.ErrPermission.WithMessage("trials can only be activated by a user for themselves")
		}
		return nil
	}
	if !actor.IsAdmin() {
		return entitlement.ErrPermission.WithMessage("only administrators can grant paid plans")
	}
	return nil
}

// Deactivate flips every active record of userID to inactive and returns the
// number changed. Zero is not an error. Users may only deactivate their own
// records.
func (c *StoreClient) Deactivate(ctx context.Context, actor entitlement.Identity, userID uuid.UUID) (int64, error) {
	if actor.IsZero() || (!actor.IsAdmin() && actor.UserID != userID) {
		return 0, entitlement.ErrPermission.WithMessage("only administrators can deactivate another user's entitlement")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.repo.DeactivateByUser(ctx, userID, c.now())
	if err != nil {
		return 0, c.unavailable(ctx, "deactivate", err)
	}
	if n > 0 {
		c.notify(ctx, userID, entitlement.OpUpdate)
	}
	return n, nil
}

// ListAll is the admin view across every user
func (c *StoreClient) ListAll(ctx context.Context, actor entitlement.Identity, filter shared.Filter) ([]entitlement.Record, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, entitlement.ErrPermission.WithMessage("only administrators can list every entitlement")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	records, total, err := c.repo.FindAll(ctx, filter)
	if err != nil {
		return nil, 0, c.unavailable(ctx, "list_all", err)
	}
	return records, total, nil
}

// DeactivateExpired is used by the sweeper and needs no actor
func (c *StoreClient) DeactivateExpired(ctx context.Context, limit int) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	users, err := c.repo.DeactivateExpired(ctx, c.now(), limit)
	if err != nil {
		return nil, c.unavailable(ctx, "deactivate_expired", err)
	}
	for _, u := range users {
		c.notify(ctx, u, entitlement.OpUpdate)
	}
	return users, nil
}

func (c *StoreClient) notify(ctx context.Context, userID uuid.UUID, op string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(ctx, entitlement.ChangeNotification{UserID: userID, Op: op}); err != nil {
		c.logger.Warn("failed to publish change notification",
			zap.String("user_id", userID.String()),
			zap.String("op", op),
			zap.Error(err))
	}
}

func (c *StoreClient) unavailable(ctx context.Context, op string, err error) error {
	c.logger.Warn("entitlement store call failed",
		zap.String("op", op),
		zap.Bool("timeout", errors.Is(ctx.Err(), context.DeadlineExceeded)),
		zap.Error(err))
	c.metrics.RecordRemoteFailure(ctx)
	return entitlement.ErrRemoteUnavailable.WithCause(err)
}
