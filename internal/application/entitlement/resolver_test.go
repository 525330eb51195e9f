package entitlement

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_AdminBypass(t *testing.T) {
	h := newHarness(t)
	h.repo.setDown(true)
	admin := adminIdentity()

	state, err := h.resolver.Resolve(context.Background(), admin)
	require.NoError(t, err)
	assert.True(t, state.HasAccess)
	assert.Equal(t, entitlement.SourceAdminBypass, state.Source)
	assert.Equal(t, 0, h.slots.Len())

	guard := entitlement.NewGuard()
	guard.ObserveIdentity(&admin)
	for _, route := range []entitlement.RouteClass{
		entitlement.RoutePublic, entitlement.RouteIdentity, entitlement.RouteEntitled, entitlement.RouteAdmin,
	} {
		assert.Equal(t, entitlement.DecisionAllow, guard.Decide(route), route.String())
	}
}

func TestResolver_RemoteGrantWritesThrough(t *testing.T) {
	h := newHarness(t)
	user := userIdentity()
	rec, err := entitlement.NewRecord(user.UserID, entitlement.PlanAnnual, h.now.AddDate(1, 0, 0),
		entitlement.ActivationAdmin, uuid.New(), h.now)
	require.NoError(t, err)
	h.repo.put(*rec)

	state, err := h.resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, state.HasAccess)
	assert.Equal(t, entitlement.SourceRemote, state.Source)
	require.NotNil(t, state.PlanType)
	assert.Equal(t, entitlement.PlanAnnual, *state.PlanType)

	for _, slot := range entitlement.SlotsByPriority() {
		got, err := h.slots.Read(context.Background(), slot, user.UserID)
		require.NoError(t, err)
		require.NotNil(t, got, slot.String())
		assert.True(t, got.HasAccess)
		assert.Equal(t, rec.ExpiresAt, got.ExpiresAt)
	}
}

func TestResolver_StoreUnavailableFallsBackToSlot(t *testing.T) {
	h := newHarness(t)
	user := userIdentity()
	h.writeSlot(t, entitlement.SlotUserGranted, user.UserID, true, h.now.Add(48*time.Hour))
	h.repo.setDown(true)

	state, err := h.resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, state.HasAccess)
	assert.Equal(t, entitlement.SourceCacheUserGranted, state.Source)
}

func TestResolver_AdminSlotBeatsDeniedUserSlot(t *testing.T) {
	h := newHarness(t)
	user := userIdentity()
	h.writeSlot(t, entitlement.SlotAdminGranted, user.UserID, true, h.now.Add(48*time.Hour))
	h.writeSlot(t, entitlement.SlotUserGranted, user.UserID, false, h.now.Add(48*time.Hour))
	h.repo.setDown(true)

	state, err := h.resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, state.HasAccess)
	assert.Equal(t, entitlement.SourceCacheAdminGranted, state.Source)
}

func TestResolver_SoftExpiredRecordIsDenied(t *testing.T) {
	h := newHarness(t)
	user := userIdentity()
	rec, err := entitlement.NewRecord(user.UserID, entitlement.PlanMonthly, h.now.Add(time.Hour),
		entitlement.ActivationAdmin, uuid.New(), h.now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	rec.ExpiresAt = h.now.Add(-24 * time.Hour)
	h.repo.put(*rec)

	state, err := h.resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, state.HasAccess)
	assert.Equal(t, entitlement.SourceNone, state.Source)
	assert.Equal(t, 0, h.slots.Len())
}

func TestResolver_EvictsStaleSlots(t *testing.T) {
	h := newHarness(t)
	user := userIdentity()
	h.writeSlot(t, entitlement.SlotAdminGranted, user.UserID, true, h.now.Add(time.Hour))
	h.writeSlot(t, entitlement.SlotStatusSummary, user.UserID, true, h.now.Add(72*time.Hour))
	h.advance(2 * time.Hour)
	h.repo.setDown(true)

	state, err := h.resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, state.HasAccess)
	assert.Equal(t, entitlement.SourceCacheStatusSummary, state.Source)
	assert.Equal(t, 1, h.slots.Len())
}

func TestResolver_TrustWindowBoundsFallback(t *testing.T) {
	h := newHarness(t)
	user := userIdentity()
	h.writeSlot(t, entitlement.SlotUserGranted, user.UserID, true, h.now.Add(30*24*time.Hour))
	h.advance(25 * time.Hour)
	h.repo.setDown(true)

	state, err := h.resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, state.HasAccess)
	assert.Equal(t, 0, h.slots.Len())
}

func TestResolver_CorruptSlotIsIgnored(t *testing.T) {
	h := newHarness(t)
	user := userIdentity()
	h.slots.PutRaw(entitlement.SlotAdminGranted, user.UserID, []byte("{not json"))
	h.writeSlot(t, entitlement.SlotStatusSummary, user.UserID, true, h.now.Add(time.Hour))
	h.repo.setDown(true)

	state, err := h.resolver.Resolve(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, entitlement.SourceCacheStatusSummary, state.Source)
	assert.Equal(t, 1, h.slots.Len())
}

func TestResolver_RejectsEmptyIdentity(t *testing.T) {
	h := newHarness(t)
	_, err := h.resolver.Resolve(context.Background(), entitlement.Identity{})
	assert.ErrorIs(t, err, entitlement.ErrValidation)
}

// blockingFetcher parks FetchActive until release is closed
type blockingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
}

func (f *blockingFetcher) FetchActive(ctx context.Context, _ uuid.UUID) (*entitlement.Record, error) {
	f.calls.Add(1)
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestResolver_SharesInFlightResolution(t *testing.T) {
	fetcher := &blockingFetcher{release: make(chan struct{})}
	resolver := NewResolver(fetcher, cache.NewInMemorySlotStore())
	user := userIdentity()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := resolver.Resolve(context.Background(), user)
			assert.NoError(t, err)
			assert.False(t, state.HasAccess)
		}()
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestResolver_CallerCancellation(t *testing.T) {
	fetcher := &blockingFetcher{release: make(chan struct{})}
	defer close(fetcher.release)
	resolver := NewResolver(fetcher, cache.NewInMemorySlotStore())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := resolver.Resolve(ctx, userIdentity())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
