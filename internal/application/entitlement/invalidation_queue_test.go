package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingResolver records how often each user was resolved or forgotten
type countingResolver struct {
	mu        sync.Mutex
	resolved  map[uuid.UUID]int
	forgotten map[uuid.UUID]int
	identity  map[uuid.UUID]entitlement.Identity
	hasAccess bool
}

func newCountingResolver() *countingResolver {
	return &countingResolver{
		resolved:  map[uuid.UUID]int{},
		forgotten: map[uuid.UUID]int{},
		identity:  map[uuid.UUID]entitlement.Identity{},
	}
}

func (r *countingResolver) Resolve(_ context.Context, id entitlement.Identity) (entitlement.ResolvedState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved[id.UserID]++
	r.identity[id.UserID] = id
	return entitlement.ResolvedState{UserID: id.UserID, HasAccess: r.hasAccess, Source: entitlement.SourceRemote}, nil
}

func (r *countingResolver) Forget(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten[userID]++
	return nil
}

func (r *countingResolver) resolvedCount(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved[userID]
}

func TestInvalidationQueue_CoalescesPerUser(t *testing.T) {
	resolver := newCountingResolver()
	q := NewInvalidationQueue(resolver)
	a, b := uuid.New(), uuid.New()

	q.Enqueue(a, ReasonTrialActivated)
	q.Enqueue(b, ReasonVisibility)
	q.Enqueue(a, ReasonSubscriptionSynced)
	q.Enqueue(a, ReasonRemoteChange)
	q.Drain(context.Background())

	assert.Equal(t, 1, resolver.resolvedCount(a))
	assert.Equal(t, 1, resolver.resolvedCount(b))
}

func TestInvalidationQueue_SessionEndedSupersedes(t *testing.T) {
	resolver := newCountingResolver()
	q := NewInvalidationQueue(resolver)
	user := userIdentity()
	sub := q.Subscribe(user)

	q.Enqueue(user.UserID, ReasonTrialActivated)
	q.Enqueue(user.UserID, ReasonSessionEnded)
	q.Enqueue(user.UserID, ReasonRemoteChange)
	q.Drain(context.Background())

	assert.Equal(t, 0, resolver.resolvedCount(user.UserID))
	assert.Equal(t, 1, resolver.forgotten[user.UserID])

	_, open := <-sub.C
	assert.False(t, open)
	assert.Empty(t, q.TrackedUsers())
	sub.Close()
}

func TestInvalidationQueue_BroadcastsToListeners(t *testing.T) {
	resolver := newCountingResolver()
	resolver.hasAccess = true
	q := NewInvalidationQueue(resolver)
	admin := adminIdentity()
	sub := q.Subscribe(admin)
	defer sub.Close()

	q.Enqueue(admin.UserID, ReasonAdminSubscriptionCreated)
	q.Drain(context.Background())

	select {
	case u := <-sub.C:
		assert.Equal(t, ReasonAdminSubscriptionCreated, u.Reason)
		assert.True(t, u.State.HasAccess)
	default:
		t.Fatal("listener received nothing")
	}
	assert.Equal(t, entitlement.RoleAdmin, resolver.identity[admin.UserID].Role)
}

func TestInvalidationQueue_SlowListenerKeepsLatest(t *testing.T) {
	resolver := newCountingResolver()
	q := NewInvalidationQueue(resolver, WithListenerBuffer(1))
	user := userIdentity()
	sub := q.Subscribe(user)
	defer sub.Close()

	q.Enqueue(user.UserID, ReasonVisibility)
	q.Drain(context.Background())
	q.Enqueue(user.UserID, ReasonRemoteChange)
	q.Drain(context.Background())

	u := <-sub.C
	assert.Equal(t, ReasonRemoteChange, u.Reason)
}

func TestInvalidationQueue_NotifyFiltersUntrackedUsers(t *testing.T) {
	resolver := newCountingResolver()
	q := NewInvalidationQueue(resolver)
	tracked := userIdentity()
	sub := q.Subscribe(tracked)
	defer sub.Close()
	stranger := uuid.New()

	q.Notify(entitlement.ChangeNotification{UserID: stranger, Op: entitlement.OpInsert})
	q.Notify(entitlement.ChangeNotification{UserID: tracked.UserID, Op: entitlement.OpUpdate})
	q.Drain(context.Background())

	assert.Equal(t, 0, resolver.resolvedCount(stranger))
	assert.Equal(t, 1, resolver.resolvedCount(tracked.UserID))

	q.Notify(entitlement.ChangeNotification{Op: entitlement.OpResync})
	q.Drain(context.Background())
	assert.Equal(t, 2, resolver.resolvedCount(tracked.UserID))
}

func TestInvalidationQueue_Refresh(t *testing.T) {
	resolver := newCountingResolver()
	q := NewInvalidationQueue(resolver)
	user := userIdentity()
	sub := q.Subscribe(user)
	defer sub.Close()

	q.Enqueue(user.UserID, ReasonRemoteChange)
	state, err := q.Refresh(context.Background(), user, ReasonVisibility)
	require.NoError(t, err)
	assert.Equal(t, user.UserID, state.UserID)

	q.Drain(context.Background())
	assert.Equal(t, 1, resolver.resolvedCount(user.UserID))

	u := <-sub.C
	assert.Equal(t, ReasonVisibility, u.Reason)
}

func TestInvalidationQueue_RunWithEventBus(t *testing.T) {
	h := newHarness(t)
	q := NewInvalidationQueue(h.resolver)
	bus := event.NewInMemoryEventBus(nil)
	bus.Subscribe(NewInvalidationHandler(q))
	h.trials.events = bus

	user := userIdentity()
	sub := q.Subscribe(user)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx)
	}()

	_, err := h.trials.ActivateTrial(context.Background(), user)
	require.NoError(t, err)

	select {
	case u := <-sub.C:
		assert.True(t, u.State.HasAccess)
		assert.Contains(t, []Reason{ReasonTrialActivated, ReasonSubscriptionSynced}, u.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no update after trial activation")
	}

	cancel()
	<-done
}

func TestInvalidationHandler_MapsEvents(t *testing.T) {
	resolver := newCountingResolver()
	q := NewInvalidationQueue(resolver)
	h := NewInvalidationHandler(q)
	userID := uuid.New()

	assert.ElementsMatch(t, entitlement.InvalidatingEventTypes(), h.EventTypes())
	require.NoError(t, h.Handle(context.Background(), entitlement.NewSessionEndedEvent(userID, "logout")))
	q.Drain(context.Background())

	assert.Equal(t, 1, resolver.forgotten[userID])
}
