package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ActiveFetcher is the part of the store client the resolver needs
type ActiveFetcher interface {
	FetchActive(ctx context.Context, userID uuid.UUID) (*entitlement.Record, error)
}

// Resolver combines the store and the local cache slots into one decision.
//
// Resolve always completes: store failures fall back to the cache and are
// never returned. Concurrent resolutions for the same user share one call.
type Resolver struct {
	store   ActiveFetcher
	slots   entitlement.SlotStore
	policy  entitlement.Policy
	group   singleflight.Group
	now     func() time.Time
	logger  *zap.Logger
	metrics *telemetry.EntitlementMetrics
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithMaxCacheTrust bounds how long a slot may stand in for the store
func WithMaxCacheTrust(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.policy.MaxCacheTrust = d
	}
}

func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithResolverMetrics(m *telemetry.EntitlementMetrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver
func NewResolver(store ActiveFetcher, slots entitlement.SlotStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		slots:  slots,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "entitlement_resolver"))
	return r
}

// Resolve returns the current decision for identity. The only error is the
// caller's context ending first; the shared resolution keeps running.
func (r *Resolver) Resolve(ctx context.Context, identity entitlement.Identity) (entitlement.ResolvedState, error) {
	if identity.IsZero() {
		return entitlement.ResolvedState{}, entitlement.ErrValidation.WithMessage("identity is required")
	}
	if identity.IsAdmin() {
		state := entitlement.AdminBypassState(identity.UserID, r.now())
		r.metrics.RecordResolution(ctx, string(state.Source), true, 0)
		return state, nil
	}

	ch := r.group.DoChan(identity.UserID.String(), func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), identity.UserID), nil
	})
	select {
	case res := <-ch:
		return res.Val.(entitlement.ResolvedState), nil
	case <-ctx.Done():
		return entitlement.ResolvedState{}, ctx.Err()
	}
}

func (r *Resolver) resolve(ctx context.Context, userID uuid.UUID) entitlement.ResolvedState {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "entitlement", "resolve",
		telemetry.WithAttribute(telemetry.SpanAttrUserID, userID.String()))
	defer span.End()

	record, err := r.store.FetchActive(ctx, userID)
	remote := entitlement.RemoteSnapshot{Record: record, Err: err}
	now := r.now()

	var slots map[entitlement.Slot]*entitlement.SlotRecord
	if !remote.Available() || !record.IsValidAt(now) {
		if err != nil {
			telemetry.SetAttributes(span, telemetry.SpanAttrRemoteFail, true)
			r.logger.Warn("store unavailable, falling back to cache",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
		slots = r.readSlots(ctx, userID)
	}

	state, repairs := entitlement.Reconcile(userID, remote, slots, now, r.policy)
	r.apply(ctx, userID, repairs)
	if len(repairs) > 0 {
		telemetry.AddEvent(span, "cache_repaired", "repairs", len(repairs))
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrSource, string(state.Source),
		telemetry.SpanAttrHasAccess, state.HasAccess)
	r.metrics.RecordResolution(ctx, string(state.Source), state.HasAccess, time.Since(start))
	r.logger.Debug("entitlement resolved",
		zap.String("user_id", userID.String()),
		zap.String("source", string(state.Source)),
		zap.Bool("has_access", state.HasAccess))
	return state
}

func (r *Resolver) readSlots(ctx context.Context, userID uuid.UUID) map[entitlement.Slot]*entitlement.SlotRecord {
	out := make(map[entitlement.Slot]*entitlement.SlotRecord, len(entitlement.SlotsByPriority()))
	for _, slot := range entitlement.SlotsByPriority() {
		rec, err := r.slots.Read(ctx, slot, userID)
		switch {
		case errors.Is(err, entitlement.ErrCacheCorrupt):
			r.metrics.RecordCacheCorrupt(ctx, slot.String())
			r.logger.Warn("discarded corrupt cache slot",
				zap.String("user_id", userID.String()),
				zap.String("slot", slot.String()),
				zap.Error(err))
		case err != nil:
			r.logger.Warn("cache slot read failed",
				zap.String("user_id", userID.String()),
				zap.String("slot", slot.String()),
				zap.Error(err))
		case rec != nil:
			out[slot] = rec
		}
	}
	return out
}

func (r *Resolver) apply(ctx context.Context, userID uuid.UUID, repairs []entitlement.CacheRepair) {
	for _, repair := range repairs {
		var err error
		switch repair.Kind {
		case entitlement.RepairWrite:
			err = r.slots.Write(ctx, repair.Slot, userID, *repair.Record)
		case entitlement.RepairEvict:
			err = r.slots.Evict(ctx, repair.Slot, userID)
		}
		if err != nil {
			r.logger.Warn("cache repair failed",
				zap.String("user_id", userID.String()),
				zap.String("kind", string(repair.Kind)),
				zap.String("slot", repair.Slot.String()),
				zap.Error(err))
			continue
		}
		r.metrics.RecordCacheRepair(ctx, string(repair.Kind), repair.Slot.String())
	}
}

// WriteThrough mirrors record into every slot
func (r *Resolver) WriteThrough(ctx context.Context, record *entitlement.Record) {
	now := r.now()
	for _, slot := range entitlement.SlotsByPriority() {
		rec := entitlement.SlotRecordFromRecord(slot, record, now)
		r.apply(ctx, record.UserID, []entitlement.CacheRepair{{Kind: entitlement.RepairWrite, Slot: slot, Record: &rec}})
	}
}

// WriteSlot mirrors record into a single slot
func (r *Resolver) WriteSlot(ctx context.Context, slot entitlement.Slot, record *entitlement.Record) {
	rec := entitlement.SlotRecordFromRecord(slot, record, r.now())
	r.apply(ctx, record.UserID, []entitlement.CacheRepair{{Kind: entitlement.RepairWrite, Slot: slot, Record: &rec}})
}

// Forget drops every cached slot of the user
func (r *Resolver) Forget(ctx context.Context, userID uuid.UUID) error {
	r.group.Forget(userID.String())
	if err := r.slots.EvictAll(ctx, userID); err != nil {
		return err
	}
	r.metrics.RecordCacheRepair(ctx, string(entitlement.RepairEvict), "all")
	return nil
}
