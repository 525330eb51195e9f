package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// Source tells where a resolved decision came from
type Source string

const (
	SourceAdminBypass        Source = "admin_bypass"
	SourceRemote             Source = "remote"
	SourceCacheAdminGranted  Source = "cache_admin_granted"
	SourceCacheUserGranted   Source = "cache_user_granted"
	SourceCacheStatusSummary Source = "cache_status_summary"
	SourceNone               Source = "none"
)

// SourceForSlot maps a cache slot to the resolution source it yields
func SourceForSlot(slot Slot) Source {
	switch slot {
	case SlotAdminGranted:
		return SourceCacheAdminGranted
	case SlotUserGranted:
		return SourceCacheUserGranted
	case SlotStatusSummary:
		return SourceCacheStatusSummary
	default:
		return SourceNone
	}
}

// IsCache reports whether the decision was served from a cache slot
func (s Source) IsCache() bool {
	switch s {
	case SourceCacheAdminGranted, SourceCacheUserGranted, SourceCacheStatusSummary:
		return true
	default:
		return false
	}
}

// ResolvedState is the outcome of one resolution cycle. It is never persisted.
type ResolvedState struct {
	UserID     uuid.UUID  `json:"user_id"`
	HasAccess  bool       `json:"has_access"`
	Source     Source     `json:"source"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	PlanType   *PlanType  `json:"plan_type,omitempty"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

// AdminBypassState is the unconditional grant for administrators
func AdminBypassState(userID uuid.UUID, now time.Time) ResolvedState {
	return ResolvedState{UserID: userID, HasAccess: true, Source: SourceAdminBypass, ResolvedAt: now}
}

// DeniedState is the resolution when no source yields a valid grant
func DeniedState(userID uuid.UUID, now time.Time) ResolvedState {
	return ResolvedState{UserID: userID, HasAccess: false, Source: SourceNone, ResolvedAt: now}
}

func grantedFromRecord(r *Record, now time.Time) ResolvedState {
	expiresAt := r.ExpiresAt
	plan := r.PlanType
	return ResolvedState{
		UserID:     r.UserID,
		HasAccess:  true,
		Source:     SourceRemote,
		ExpiresAt:  &expiresAt,
		PlanType:   &plan,
		ResolvedAt: now,
	}
}

func grantedFromSlot(userID uuid.UUID, slot Slot, r *SlotRecord, now time.Time) ResolvedState {
	expiresAt := r.ExpiresAt
	state := ResolvedState{
		UserID:     userID,
		HasAccess:  true,
		Source:     SourceForSlot(slot),
		ExpiresAt:  &expiresAt,
		ResolvedAt: now,
	}
	if r.PlanType != "" {
		plan := r.PlanType
		state.PlanType = &plan
	}
	return state
}

// RemoteSnapshot is what the store returned for one resolution cycle.
// A non-nil Err means the store was unavailable; Record is then ignored.
type RemoteSnapshot struct {
	Record *Record
	Err    error
}

// Available reports whether the store answered
func (s RemoteSnapshot) Available() bool {
	return s.Err == nil
}

// Policy tunes how far cache slots are trusted
type Policy struct {
	// MaxCacheTrust bounds how long after being written a slot may still
	// grant access on the fallback path. Zero trusts a slot until it expires.
	MaxCacheTrust time.Duration
}

// Trusts reports whether a slot written at r.WrittenAt is still within the trust window
func (p Policy) Trusts(r *SlotRecord, now time.Time) bool {
	if p.MaxCacheTrust <= 0 {
		return true
	}
	if r.WrittenAt.IsZero() {
		return false
	}
	return now.Sub(r.WrittenAt) <= p.MaxCacheTrust
}

// RepairKind is the side effect a resolution asks the cache layer to apply
type RepairKind string

const (
	RepairWrite RepairKind = "write"
	RepairEvict RepairKind = "evict"
)

// CacheRepair is one cache side effect produced by Reconcile
type CacheRepair struct {
	Kind   RepairKind
	Slot   Slot
	Record *SlotRecord
}

// MergeSlots picks the winning slot from the present ones.
//
// Slots are considered from highest to lowest priority. The first slot that
// is present, unexpired and within the trust window wins, whether or not it
// grants. Every expired or untrusted slot is returned for eviction.
func MergeSlots(slots map[Slot]*SlotRecord, now time.Time, policy Policy) (winner Slot, record *SlotRecord, stale []Slot) {
	for _, slot := range SlotsByPriority() {
		r := slots[slot]
		if r == nil {
			continue
		}
		if r.IsExpiredAt(now) || !policy.Trusts(r, now) {
			stale = append(stale, slot)
			continue
		}
		if record == nil {
			winner, record = slot, r
		}
	}
	return winner, record, stale
}

// Reconcile combines a remote snapshot with the cache slots into one decision.
//
// A valid remote record always wins and is written through to every slot.
// Otherwise, whether the store failed or simply had nothing valid, the slots
// are merged by priority. Stale slots are evicted in every non-remote outcome.
func Reconcile(userID uuid.UUID, remote RemoteSnapshot, slots map[Slot]*SlotRecord, now time.Time, policy Policy) (ResolvedState, []CacheRepair) {
	if remote.Available() && remote.Record.IsValidAt(now) {
		repairs := make([]CacheRepair, 0, len(SlotsByPriority()))
		for _, slot := range SlotsByPriority() {
			rec := SlotRecordFromRecord(slot, remote.Record, now)
			repairs = append(repairs, CacheRepair{Kind: RepairWrite, Slot: slot, Record: &rec})
		}
		return grantedFromRecord(remote.Record, now), repairs
	}

	winner, record, stale := MergeSlots(slots, now, policy)
	repairs := make([]CacheRepair, 0, len(stale))
	for _, slot := range stale {
		repairs = append(repairs, CacheRepair{Kind: RepairEvict, Slot: slot})
	}

	if record != nil && record.Grants(now) {
		return grantedFromSlot(userID, winner, record, now), repairs
	}
	return DeniedState(userID, now), repairs
}
