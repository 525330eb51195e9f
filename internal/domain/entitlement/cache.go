package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Slot names one of the local cache mirrors kept per user.
//
// Each workflow that mutates entitlement writes its own slot so concurrent
// writers never clobber each other. All slots share the SlotRecord shape and
// are combined by MergeSlots.
type Slot string

const (
	SlotAdminGranted  Slot = "admin_granted"
	SlotUserGranted   Slot = "user_granted"
	SlotStatusSummary Slot = "status_summary"
)

// SlotsByPriority returns the slots from highest to lowest priority
func SlotsByPriority() []Slot {
	return []Slot{SlotAdminGranted, SlotUserGranted, SlotStatusSummary}
}

// Rank returns the slot priority, lower wins. Unknown slots rank last.
func (s Slot) Rank() int {
	switch s {
	case SlotAdminGranted:
		return 0
	case SlotUserGranted:
		return 1
	case SlotStatusSummary:
		return 2
	default:
		return 99
	}
}

// IsValid checks if the slot is one of the known mirrors
func (s Slot) IsValid() bool {
	return s.Rank() < 99
}

func (s Slot) String() string {
	return string(s)
}

// SlotRecord is the tagged envelope stored in every cache slot
type SlotRecord struct {
	Source    Slot      `json:"source"`
	HasAccess bool      `json:"has_access"`
	PlanType  PlanType  `json:"plan_type,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	WrittenAt time.Time `json:"written_at"`
}

// SlotRecordFromRecord projects a store record into the envelope for slot
func SlotRecordFromRecord(slot Slot, r *Record, now time.Time) SlotRecord {
	return SlotRecord{
		Source:    slot,
		HasAccess: r.IsValidAt(now),
		PlanType:  r.PlanType,
		ExpiresAt: r.ExpiresAt,
		WrittenAt: now,
	}
}

// IsExpiredAt reports whether the embedded expiry has passed
func (r *SlotRecord) IsExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Grants reports whether the slot carries an unexpired grant
func (r *SlotRecord) Grants(now time.Time) bool {
	return r.HasAccess && !r.IsExpiredAt(now)
}

// Validate checks a decoded payload; failures are reported as ErrCacheCorrupt
func (r *SlotRecord) Validate() error {
	if !r.Source.IsValid() {
		return ErrCacheCorrupt.WithMessage("unknown slot source: " + string(r.Source))
	}
	if r.ExpiresAt.IsZero() {
		return ErrCacheCorrupt.WithMessage("slot payload has no expiry")
	}
	if r.PlanType != "" && !r.PlanType.IsValid() {
		return ErrCacheCorrupt.WithMessage("slot payload has unknown plan: " + string(r.PlanType))
	}
	return nil
}

// SlotStore is the local key-value mirror of entitlement state.
//
// Read never returns an expired record: the read that discovers the expiry
// evicts the slot and reports a miss (nil, nil). An undecodable payload is
// evicted and reported as ErrCacheCorrupt.
type SlotStore interface {
	Read(ctx context.Context, slot Slot, userID uuid.UUID) (*SlotRecord, error)
	Write(ctx context.Context, slot Slot, userID uuid.UUID, record SlotRecord) error
	Evict(ctx context.Context, slot Slot, userID uuid.UUID) error
	// EvictAll drops every slot of the user, used on sign-out
	EvictAll(ctx context.Context, userID uuid.UUID) error
	Close() error
}

// TrialMarkerStore persists the local lifetime trial marker. Marks never expire
// and there is no way to clear one.
type TrialMarkerStore interface {
	Mark(ctx context.Context, userID uuid.UUID) error
	IsMarked(ctx context.Context, userID uuid.UUID) (bool, error)
	Close() error
}
