package entitlement

import (
	"context"
	"sync"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reason names why a user's state must be re-resolved
type Reason string

const (
	ReasonRemoteChange                 Reason = "remote_change"
	ReasonSubscriptionSynced           Reason = "subscription_synced"
	ReasonTrialActivated               Reason = "trial_activated"
	ReasonAdminSubscriptionCreated     Reason = "admin_subscription_created"
	ReasonAdminSubscriptionDeactivated Reason = "admin_subscription_deactivated"
	ReasonVisibility                   Reason = "visibility"
	ReasonSessionEnded                 Reason = "session_ended"
)

// ReasonForEvent maps a process event type to its trigger reason
func ReasonForEvent(eventType string) (Reason, bool) {
	switch eventType {
	case entitlement.EventTypeSubscriptionSynced:
		return ReasonSubscriptionSynced, true
	case entitlement.EventTypeTrialActivated:
		return ReasonTrialActivated, true
	case entitlement.EventTypeAdminSubscriptionCreated:
		return ReasonAdminSubscriptionCreated, true
	case entitlement.EventTypeAdminSubscriptionDeactivated:
		return ReasonAdminSubscriptionDeactivated, true
	case entitlement.EventTypeSessionEnded:
		return ReasonSessionEnded, true
	default:
		return "", false
	}
}

// StateResolver is the part of the resolver the queue drives
type StateResolver interface {
	Resolve(ctx context.Context, identity entitlement.Identity) (entitlement.ResolvedState, error)
	Forget(ctx context.Context, userID uuid.UUID) error
}

// Update is what listeners receive after a re-resolution
type Update struct {
	State  entitlement.ResolvedState
	Reason Reason
}

// Subscription is one listener's view of a user's updates. C is closed when
// the subscription ends, including on sign-out.
type Subscription struct {
	C <-chan Update

	ch     chan Update
	userID uuid.UUID
	queue  *InvalidationQueue
	once   sync.Once
}

// Close detaches the listener
func (s *Subscription) Close() {
	s.queue.unsubscribe(s)
}

type session struct {
	identity  entitlement.Identity
	listeners map[*Subscription]struct{}
}

// InvalidationQueue is the single sequential re-resolution queue.
//
// Triggers from the change feed, the process event bus and the visibility
// hook all land here. Pending triggers for the same user coalesce into one
// re-resolution, and a sign-out supersedes anything pending for that user.
type InvalidationQueue struct {
	resolver StateResolver
	buffer   int
	logger   *zap.Logger
	metrics  *telemetry.EntitlementMetrics

	mu       sync.Mutex
	pending  map[uuid.UUID]Reason
	order    []uuid.UUID
	sessions map[uuid.UUID]*session
	wake     chan struct{}
}

// QueueOption configures an InvalidationQueue
type QueueOption func(*InvalidationQueue)

// WithListenerBuffer sets the per-listener channel capacity
func WithListenerBuffer(n int) QueueOption {
	return func(q *InvalidationQueue) {
		if n > 0 {
			q.buffer = n
		}
	}
}

func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *InvalidationQueue) {
		q.logger = logger
	}
}

func WithQueueMetrics(m *telemetry.EntitlementMetrics) QueueOption {
	return func(q *InvalidationQueue) {
		q.metrics = m
	}
}

// NewInvalidationQueue creates a queue. Call Run to start draining it.
func NewInvalidationQueue(resolver StateResolver, opts ...QueueOption) *InvalidationQueue {
	q := &InvalidationQueue{
		resolver: resolver,
		buffer:   16,
		logger:   zap.NewNop(),
		pending:  make(map[uuid.UUID]Reason),
		sessions: make(map[uuid.UUID]*session),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(zap.String("component", "invalidation_queue"))
	return q
}

// Enqueue schedules a re-resolution of userID. It never blocks.
func (q *InvalidationQueue) Enqueue(userID uuid.UUID, reason Reason) {
	if userID == uuid.Nil {
		return
	}
	q.metrics.RecordInvalidation(context.Background(), string(reason))

	q.mu.Lock()
	prev, queued := q.pending[userID]
	switch {
	case !queued:
		q.pending[userID] = reason
		q.order = append(q.order, userID)
	case prev != ReasonSessionEnded:
		q.pending[userID] = reason
	}
	q.mu.Unlock()

	if queued {
		q.metrics.RecordCoalesced(context.Background(), string(reason))
	}
	q.signal()
}

// Notify handles one change feed notification. Only users with a live
// listener are re-resolved; a resync re-resolves all of them.
func (q *InvalidationQueue) Notify(n entitlement.ChangeNotification) {
	if n.IsResync() {
		for _, userID := range q.TrackedUsers() {
			q.Enqueue(userID, ReasonRemoteChange)
		}
		return
	}
	if q.isTracked(n.UserID) {
		q.Enqueue(n.UserID, ReasonRemoteChange)
	}
}

// ConsumeFeed pumps feed into the queue until ctx ends
func (q *InvalidationQueue) ConsumeFeed(ctx context.Context, feed entitlement.ChangeFeed) error {
	return feed.Subscribe(ctx, q.Notify)
}

// Subscribe registers a listener for identity's updates
func (q *InvalidationQueue) Subscribe(identity entitlement.Identity) *Subscription {
	ch := make(chan Update, q.buffer)
	sub := &Subscription{C: ch, ch: ch, userID: identity.UserID, queue: q}

	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.sessions[identity.UserID]
	if !ok {
		s = &session{listeners: make(map[*Subscription]struct{})}
		q.sessions[identity.UserID] = s
	}
	s.identity = identity
	s.listeners[sub] = struct{}{}
	return sub
}

func (q *InvalidationQueue) unsubscribe(sub *Subscription) {
	q.mu.Lock()
	if s, ok := q.sessions[sub.userID]; ok {
		delete(s.listeners, sub)
		if len(s.listeners) == 0 {
			delete(q.sessions, sub.userID)
		}
	}
	q.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// TrackedUsers returns the users with at least one listener
func (q *InvalidationQueue) TrackedUsers() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uuid.UUID, 0, len(q.sessions))
	for id := range q.sessions {
		out = append(out, id)
	}
	return out
}

func (q *InvalidationQueue) isTracked(userID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.sessions[userID]
	return ok
}

// Refresh resolves identity immediately, fans the result out to its
// listeners and drops any trigger still pending for the user.
func (q *InvalidationQueue) Refresh(ctx context.Context, identity entitlement.Identity, reason Reason) (entitlement.ResolvedState, error) {
	q.mu.Lock()
	delete(q.pending, identity.UserID)
	q.mu.Unlock()

	state, err := q.resolver.Resolve(ctx, identity)
	if err != nil {
		return state, err
	}
	q.broadcast(identity.UserID, Update{State: state, Reason: reason})
	return state, nil
}

// Run drains the queue until ctx ends
func (q *InvalidationQueue) Run(ctx context.Context) {
	q.logger.Info("invalidation queue started")
	defer q.logger.Info("invalidation queue stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			userID, reason, ok := q.next()
			if !ok {
				break
			}
			q.process(ctx, userID, reason)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Drain processes everything pending on the calling goroutine
func (q *InvalidationQueue) Drain(ctx context.Context) {
	for {
		userID, reason, ok := q.next()
		if !ok {
			return
		}
		q.process(ctx, userID, reason)
	}
}

func (q *InvalidationQueue) next() (uuid.UUID, Reason, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) > 0 {
		userID := q.order[0]
		q.order = q.order[1:]
		if reason, ok := q.pending[userID]; ok {
			delete(q.pending, userID)
			return userID, reason, true
		}
	}
	return uuid.Nil, "", false
}

func (q *InvalidationQueue) process(ctx context.Context, userID uuid.UUID, reason Reason) {
	if reason == ReasonSessionEnded {
		if err := q.resolver.Forget(ctx, userID); err != nil {
			q.logger.Warn("failed to evict cache on sign-out", zap.String("user_id", userID.String()), zap.Error(err))
		}
		q.endSession(userID)
		return
	}

	state, err := q.resolver.Resolve(ctx, q.identityFor(userID))
	if err != nil {
		q.logger.Debug("re-resolution abandoned", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	q.broadcast(userID, Update{State: state, Reason: reason})
}

// identityFor returns the listener's identity, or a plain user identity for
// users nobody is listening to.
func (q *InvalidationQueue) identityFor(userID uuid.UUID) entitlement.Identity {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.sessions[userID]; ok {
		return s.identity
	}
	return entitlement.Identity{UserID: userID, Role: entitlement.RoleUser}
}

// broadcast delivers u without blocking; a full listener loses its oldest update
func (q *InvalidationQueue) broadcast(userID uuid.UUID, u Update) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.sessions[userID]
	if !ok {
		return
	}
	for sub := range s.listeners {
		select {
		case sub.ch <- u:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- u:
		default:
		}
	}
}

func (q *InvalidationQueue) endSession(userID uuid.UUID) {
	q.mu.Lock()
	s, ok := q.sessions[userID]
	delete(q.sessions, userID)
	q.mu.Unlock()
	if !ok {
		return
	}
	for sub := range s.listeners {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (q *InvalidationQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// InvalidationHandler feeds process events into the queue
type InvalidationHandler struct {
	queue *InvalidationQueue
}

var _ shared.EventHandler = (*InvalidationHandler)(nil)

// NewInvalidationHandler creates the bus handler for queue
func NewInvalidationHandler(queue *InvalidationQueue) *InvalidationHandler {
	return &InvalidationHandler{queue: queue}
}

func (h *InvalidationHandler) EventTypes() []string {
	return entitlement.InvalidatingEventTypes()
}

func (h *InvalidationHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	reason, ok := ReasonForEvent(event.EventType())
	if !ok {
		return nil
	}
	userID, ok := entitlement.EventUserID(event)
	if !ok {
		userID = event.AggregateID()
	}
	h.queue.Enqueue(userID, reason)
	return nil
}
