package entitlement

import (
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/google/uuid"
)

// AggregateTypeEntitlement is the aggregate type carried by entitlement events
const AggregateTypeEntitlement = "Entitlement"

// DefaultTrialDuration is the length of the one-time free trial
const DefaultTrialDuration = 7 * 24 * time.Hour

// Record is the authoritative unit of access rights.
//
// The store keeps at most one active record per user. A record that is
// active but whose ExpiresAt has passed is soft-expired and grants nothing.
// Records are never hard-deleted; they only move from active to inactive.
type Record struct {
	shared.BaseAggregateRoot
	UserID           uuid.UUID
	IsActive         bool
	PlanType         PlanType
	ExpiresAt        time.Time
	ActivatedAt      time.Time
	ActivationMethod ActivationMethod
	// GrantedBy is the administrator behind an admin grant, nil otherwise
	GrantedBy        *uuid.UUID
}

// NewRecord validates the grant and builds an active record.
// grantedBy is recorded on the raised event when the grant is an admin action.
func NewRecord(
	userID uuid.UUID,
	plan PlanType,
	expiresAt time.Time,
	method ActivationMethod,
	grantedBy uuid.UUID,
	now time.Time,
) (*Record, error) {
	if userID == uuid.Nil {
		return nil, ErrValidation.WithMessage("user id is required")
	}
	if !plan.IsValid() {
		return nil, ErrValidation.WithMessage("unrecognised plan type: " + string(plan))
	}
	if !method.IsValid() {
		return nil, ErrValidation.WithMessage("unrecognised activation method: " + string(method))
	}
	if expiresAt.IsZero() || !expiresAt.After(now) {
		return nil, ErrValidation.WithMessage("expiry must be in the future")
	}
	if plan == PlanTrial && method != ActivationTrial {
		return nil, ErrValidation.WithMessage("trial plans can only be activated through the trial workflow")
	}

	r := &Record{
		BaseAggregateRoot: shared.BaseAggregateRoot{BaseEntity: shared.NewBaseEntityAt(now)},
		UserID:            userID,
		IsActive:          true,
		PlanType:          plan,
		ExpiresAt:         expiresAt,
		ActivatedAt:       now,
		ActivationMethod:  method,
	}

	switch method {
	case ActivationTrial:
		r.AddDomainEvent(NewTrialActivatedEvent(r))
	case ActivationAdmin:
		if grantedBy != uuid.Nil {
			r.GrantedBy = &grantedBy
		}
		r.AddDomainEvent(NewAdminSubscriptionCreatedEvent(r, grantedBy))
	case ActivationPayment:
		r.AddDomainEvent(NewSubscriptionSyncedEvent(userID, true, &r.PlanType, &r.ExpiresAt))
	}
	return r, nil
}

// NewTrialRecord builds the trial grant for userID starting at now
func NewTrialRecord(userID uuid.UUID, duration time.Duration, now time.Time) (*Record, error) {
	if duration <= 0 {
		duration = DefaultTrialDuration
	}
	_, end := TrialWindow(now, duration)
	return NewRecord(userID, PlanTrial, end, ActivationTrial, uuid.Nil, now)
}

// IsValidAt reports whether the record grants access at now
func (r *Record) IsValidAt(now time.Time) bool {
	return r != nil && r.IsActive && r.ExpiresAt.After(now)
}

// IsSoftExpiredAt reports whether the record still claims to be active past its expiry
func (r *Record) IsSoftExpiredAt(now time.Time) bool {
	return r != nil && r.IsActive && !r.ExpiresAt.After(now)
}

// IsTrial reports whether the record is a trial grant
func (r *Record) IsTrial() bool {
	return r != nil && r.PlanType == PlanTrial
}
