package entitlement

import (
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/google/uuid"
)

// Process event names. Every event is scoped to one user; the aggregate id
// of an entitlement event is the owning user's id.
const (
	EventTypeSubscriptionSynced           = "subscriptionSynced"
	EventTypeTrialActivated               = "trialActivated"
	EventTypeAdminSubscriptionCreated     = "adminSubscriptionCreated"
	EventTypeAdminSubscriptionDeactivated = "adminSubscriptionDeactivated"
	EventTypeSessionEnded                 = "sessionEnded"
)

// InvalidatingEventTypes lists the events that require re-resolution
func InvalidatingEventTypes() []string {
	return []string{
		EventTypeSubscriptionSynced,
		EventTypeTrialActivated,
		EventTypeAdminSubscriptionCreated,
		EventTypeAdminSubscriptionDeactivated,
		EventTypeSessionEnded,
	}
}

// UserScoped is implemented by every entitlement event
type UserScoped interface {
	shared.DomainEvent
	OwnerID() uuid.UUID
}

// EventUserID returns the user an event concerns
func EventUserID(event shared.DomainEvent) (uuid.UUID, bool) {
	if scoped, ok := event.(UserScoped); ok {
		return scoped.OwnerID(), true
	}
	return uuid.Nil, false
}

// SubscriptionSyncedEvent is published when a user's subscription state was
// synced from the store outside of a trial or admin workflow.
type SubscriptionSyncedEvent struct {
	shared.BaseDomainEvent
	UserID    uuid.UUID  `json:"user_id"`
	HasAccess bool       `json:"has_access"`
	PlanType  *PlanType  `json:"plan_type,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewSubscriptionSyncedEvent creates a new SubscriptionSyncedEvent
func NewSubscriptionSyncedEvent(userID uuid.UUID, hasAccess bool, plan *PlanType, expiresAt *time.Time) *SubscriptionSyncedEvent {
	return &SubscriptionSyncedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSubscriptionSynced, AggregateTypeEntitlement, userID),
		UserID:          userID,
		HasAccess:       hasAccess,
		PlanType:        plan,
		ExpiresAt:       expiresAt,
	}
}

func (e *SubscriptionSyncedEvent) OwnerID() uuid.UUID { return e.UserID }

// TrialActivatedEvent is published after the trial workflow wrote through
// the store and every cache slot.
type TrialActivatedEvent struct {
	shared.BaseDomainEvent
	UserID    uuid.UUID `json:"user_id"`
	RecordID  uuid.UUID `json:"record_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTrialActivatedEvent creates a new TrialActivatedEvent
func NewTrialActivatedEvent(r *Record) *TrialActivatedEvent {
	return &TrialActivatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTrialActivated, AggregateTypeEntitlement, r.UserID),
		UserID:          r.UserID,
		RecordID:        r.ID,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (e *TrialActivatedEvent) OwnerID() uuid.UUID { return e.UserID }

// AdminSubscriptionCreatedEvent is published when an administrator grants a plan
type AdminSubscriptionCreatedEvent struct {
	shared.BaseDomainEvent
	UserID    uuid.UUID `json:"user_id"`
	RecordID  uuid.UUID `json:"record_id"`
	PlanType  PlanType  `json:"plan_type"`
	ExpiresAt time.Time `json:"expires_at"`
	GrantedBy uuid.UUID `json:"granted_by"`
}

// NewAdminSubscriptionCreatedEvent creates a new AdminSubscriptionCreatedEvent
func NewAdminSubscriptionCreatedEvent(r *Record, grantedBy uuid.UUID) *AdminSubscriptionCreatedEvent {
	return &AdminSubscriptionCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdminSubscriptionCreated, AggregateTypeEntitlement, r.UserID),
		UserID:          r.UserID,
		RecordID:        r.ID,
		PlanType:        r.PlanType,
		ExpiresAt:       r.ExpiresAt,
		GrantedBy:       grantedBy,
	}
}

func (e *AdminSubscriptionCreatedEvent) OwnerID() uuid.UUID { return e.UserID }

// AdminSubscriptionDeactivatedEvent is published when an administrator revokes access
type AdminSubscriptionDeactivatedEvent struct {
	shared.BaseDomainEvent
	UserID      uuid.UUID `json:"user_id"`
	Deactivated int64     `json:"deactivated"`
	RevokedBy   uuid.UUID `json:"revoked_by"`
}

// NewAdminSubscriptionDeactivatedEvent creates a new AdminSubscriptionDeactivatedEvent
func NewAdminSubscriptionDeactivatedEvent(userID uuid.UUID, count int64, revokedBy uuid.UUID) *AdminSubscriptionDeactivatedEvent {
	return &AdminSubscriptionDeactivatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAdminSubscriptionDeactivated, AggregateTypeEntitlement, userID),
		UserID:          userID,
		Deactivated:     count,
		RevokedBy:       revokedBy,
	}
}

func (e *AdminSubscriptionDeactivatedEvent) OwnerID() uuid.UUID { return e.UserID }

// SessionEndedEvent is published by the identity side on sign-out or session
// expiry. Consumers drop everything cached for the departing user.
type SessionEndedEvent struct {
	shared.BaseDomainEvent
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason"`
}

// NewSessionEndedEvent creates a new SessionEndedEvent
func NewSessionEndedEvent(userID uuid.UUID, reason string) *SessionEndedEvent {
	return &SessionEndedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSessionEnded, AggregateTypeEntitlement, userID),
		UserID:          userID,
		Reason:          reason,
	}
}

func (e *SessionEndedEvent) OwnerID() uuid.UUID { return e.UserID }
