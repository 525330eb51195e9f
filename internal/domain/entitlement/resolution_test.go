package entitlement

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func slotRecord(slot Slot, hasAccess bool, expiresIn time.Duration) *SlotRecord {
	return &SlotRecord{
		Source:    slot,
		HasAccess: hasAccess,
		PlanType:  PlanMonthly,
		ExpiresAt: testNow.Add(expiresIn),
		WrittenAt: testNow.Add(-time.Minute),
	}
}

func activeRecord(t *testing.T, userID uuid.UUID, plan PlanType, expiresAt time.Time) *Record {
	t.Helper()
	r, err := NewRecord(userID, plan, testNow.Add(time.Hour), ActivationAdmin, uuid.New(), testNow.Add(-48*time.Hour))
	require.NoError(t, err)
	r.ExpiresAt = expiresAt
	return r
}

func TestReconcile_ValidRemoteWinsAndWritesThrough(t *testing.T) {
	userID := uuid.New()
	rec := activeRecord(t, userID, PlanAnnual, testNow.Add(30*24*time.Hour))

	state, repairs := Reconcile(userID, RemoteSnapshot{Record: rec}, nil, testNow, Policy{})

	assert.True(t, state.HasAccess)
	assert.Equal(t, SourceRemote, state.Source)
	require.NotNil(t, state.PlanType)
	assert.Equal(t, PlanAnnual, *state.PlanType)
	require.Len(t, repairs, 3)
	for i, slot := range SlotsByPriority() {
		assert.Equal(t, RepairWrite, repairs[i].Kind)
		assert.Equal(t, slot, repairs[i].Slot)
		assert.Equal(t, slot, repairs[i].Record.Source)
		assert.True(t, repairs[i].Record.HasAccess)
		assert.Equal(t, testNow, repairs[i].Record.WrittenAt)
	}
}

func TestReconcile_SoftExpiredRemoteWithoutCacheDenies(t *testing.T) {
	userID := uuid.New()
	rec := activeRecord(t, userID, PlanMonthly, testNow.Add(-24*time.Hour))
	require.True(t, rec.IsActive)

	state, repairs := Reconcile(userID, RemoteSnapshot{Record: rec}, map[Slot]*SlotRecord{}, testNow, Policy{})

	assert.False(t, state.HasAccess)
	assert.Equal(t, SourceNone, state.Source)
	assert.Empty(t, repairs)
}

func TestReconcile_OutageFallsBackToCache(t *testing.T) {
	userID := uuid.New()
	slots := map[Slot]*SlotRecord{
		SlotStatusSummary: slotRecord(SlotStatusSummary, true, time.Hour),
	}

	state, _ := Reconcile(userID, RemoteSnapshot{Err: ErrRemoteUnavailable}, slots, testNow, Policy{})

	assert.True(t, state.HasAccess)
	assert.Equal(t, SourceCacheStatusSummary, state.Source)
	assert.Equal(t, userID, state.UserID)
}

func TestReconcile_AdminSlotOutranksUserSlot(t *testing.T) {
	userID := uuid.New()
	slots := map[Slot]*SlotRecord{
		SlotAdminGranted: slotRecord(SlotAdminGranted, true, time.Hour),
		SlotUserGranted:  slotRecord(SlotUserGranted, false, time.Hour),
	}

	state, repairs := Reconcile(userID, RemoteSnapshot{Err: errors.New("timeout")}, slots, testNow, Policy{})

	assert.True(t, state.HasAccess)
	assert.Equal(t, SourceCacheAdminGranted, state.Source)
	assert.Empty(t, repairs)
}

func TestReconcile_RemoteEmptyStillConsultsCache(t *testing.T) {
	userID := uuid.New()
	slots := map[Slot]*SlotRecord{
		SlotUserGranted: slotRecord(SlotUserGranted, true, time.Hour),
	}

	state, _ := Reconcile(userID, RemoteSnapshot{}, slots, testNow, Policy{})

	assert.True(t, state.HasAccess)
	assert.Equal(t, SourceCacheUserGranted, state.Source)
}

func TestReconcile_ExpiredSlotsEvictedOnDenial(t *testing.T) {
	userID := uuid.New()
	slots := map[Slot]*SlotRecord{
		SlotAdminGranted:  slotRecord(SlotAdminGranted, true, -time.Minute),
		SlotStatusSummary: slotRecord(SlotStatusSummary, true, -time.Hour),
	}

	state, repairs := Reconcile(userID, RemoteSnapshot{Err: ErrRemoteUnavailable}, slots, testNow, Policy{})

	assert.False(t, state.HasAccess)
	require.Len(t, repairs, 2)
	assert.Equal(t, CacheRepair{Kind: RepairEvict, Slot: SlotAdminGranted}, repairs[0])
	assert.Equal(t, CacheRepair{Kind: RepairEvict, Slot: SlotStatusSummary}, repairs[1])
}

func TestReconcile_TrustWindowRejectsOldSlots(t *testing.T) {
	userID := uuid.New()
	old := slotRecord(SlotAdminGranted, true, 30*24*time.Hour)
	old.WrittenAt = testNow.Add(-48 * time.Hour)
	fresh := slotRecord(SlotUserGranted, true, time.Hour)

	state, repairs := Reconcile(userID, RemoteSnapshot{Err: ErrRemoteUnavailable},
		map[Slot]*SlotRecord{SlotAdminGranted: old, SlotUserGranted: fresh},
		testNow, Policy{MaxCacheTrust: 24 * time.Hour})

	assert.True(t, state.HasAccess)
	assert.Equal(t, SourceCacheUserGranted, state.Source)
	require.Len(t, repairs, 1)
	assert.Equal(t, SlotAdminGranted, repairs[0].Slot)
}

func TestReconcile_ZeroTrustWindowFailsOpen(t *testing.T) {
	userID := uuid.New()
	old := slotRecord(SlotAdminGranted, true, 30*24*time.Hour)
	old.WrittenAt = testNow.Add(-300 * 24 * time.Hour)

	state, _ := Reconcile(userID, RemoteSnapshot{Err: ErrRemoteUnavailable},
		map[Slot]*SlotRecord{SlotAdminGranted: old}, testNow, Policy{})

	assert.True(t, state.HasAccess)
}

func TestMergeSlots_FirstTrustedSlotWinsEvenWhenDenying(t *testing.T) {
	slots := map[Slot]*SlotRecord{
		SlotAdminGranted:  slotRecord(SlotAdminGranted, false, time.Hour),
		SlotStatusSummary: slotRecord(SlotStatusSummary, true, time.Hour),
	}

	winner, rec, stale := MergeSlots(slots, testNow, Policy{})

	assert.Equal(t, SlotAdminGranted, winner)
	require.NotNil(t, rec)
	assert.False(t, rec.Grants(testNow))
	assert.Empty(t, stale)
}

func TestSourceForSlot(t *testing.T) {
	assert.Equal(t, SourceCacheAdminGranted, SourceForSlot(SlotAdminGranted))
	assert.Equal(t, SourceCacheUserGranted, SourceForSlot(SlotUserGranted))
	assert.Equal(t, SourceCacheStatusSummary, SourceForSlot(SlotStatusSummary))
	assert.Equal(t, SourceNone, SourceForSlot(Slot("bogus")))
	assert.True(t, SourceCacheUserGranted.IsCache())
	assert.False(t, SourceRemote.IsCache())
}
