package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when no meter is supplied
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// EntitlementMetrics records resolver, trial and invalidation activity.
// A nil *EntitlementMetrics is valid and records nothing.
type EntitlementMetrics struct {
	resolutions     *Counter
	resolveDuration *Histogram
	remoteFailures  *Counter
	cacheRepairs    *Counter
	cacheCorrupt    *Counter
	trialAttempts   *Counter
	invalidations   *Counter
	coalesced       *Counter
	swept           *Counter
	guardDecisions  *Counter
}

// NewEntitlementMetrics registers the instruments on meter
func NewEntitlementMetrics(meter metric.Meter) (*EntitlementMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &EntitlementMetrics{}
	counters := []struct {
		dst              **Counter
		name, desc, unit string
	}{
		{&m.resolutions, "entitlement_resolutions_total", "Resolution cycles by decision source", "{resolution}"},
		{&m.remoteFailures, "entitlement_remote_failures_total", "Store reads that failed during resolution", "{failure}"},
		{&m.cacheRepairs, "entitlement_cache_repairs_total", "Cache slot writes and evictions applied by resolution", "{repair}"},
		{&m.cacheCorrupt, "entitlement_cache_corrupt_total", "Cache slots discarded as undecodable", "{slot}"},
		{&m.trialAttempts, "entitlement_trial_attempts_total", "Trial activation attempts by outcome", "{attempt}"},
		{&m.invalidations, "entitlement_invalidations_total", "Invalidation events processed", "{event}"},
		{&m.coalesced, "entitlement_invalidations_coalesced_total", "Invalidation events merged into a pending one", "{event}"},
		{&m.swept, "entitlement_swept_total", "Soft-expired records deactivated by the sweeper", "{record}"},
		{&m.guardDecisions, "entitlement_guard_decisions_total", "Access guard decisions by route class", "{decision}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	h, err := NewHistogram(meter, HistogramOpts{
		Name:        "entitlement_resolve_duration_seconds",
		Description: "Resolution latency in seconds",
		Unit:        "s",
		Boundaries:  ResolveDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	m.resolveDuration = h
	return m, nil
}

// RecordResolution counts one completed resolution
func (m *EntitlementMetrics) RecordResolution(ctx context.Context, source string, hasAccess bool, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.Inc(ctx, AttrSource.String(source), AttrHasAccess.Bool(hasAccess))
	m.resolveDuration.RecordDuration(ctx, d, AttrSource.String(source))
}

func (m *EntitlementMetrics) RecordRemoteFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.remoteFailures.Inc(ctx)
}

func (m *EntitlementMetrics) RecordCacheRepair(ctx context.Context, kind, slot string) {
	if m == nil {
		return
	}
	m.cacheRepairs.Inc(ctx, AttrRepairKind.String(kind), AttrSlot.String(slot))
}

func (m *EntitlementMetrics) RecordCacheCorrupt(ctx context.Context, slot string) {
	if m == nil {
		return
	}
	m.cacheCorrupt.Inc(ctx, AttrSlot.String(slot))
}

// RecordTrialAttempt counts a trial activation; outcome is "activated" or an error code
func (m *EntitlementMetrics) RecordTrialAttempt(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.trialAttempts.Inc(ctx, AttrOutcome.String(outcome))
}

func (m *EntitlementMetrics) RecordInvalidation(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.invalidations.Inc(ctx, AttrEventType.String(eventType))
}

func (m *EntitlementMetrics) RecordCoalesced(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.coalesced.Inc(ctx, AttrEventType.String(eventType))
}

func (m *EntitlementMetrics) RecordSwept(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(ctx, int64(n))
}

// RecordGuardDecision counts one access guard verdict
func (m *EntitlementMetrics) RecordGuardDecision(ctx context.Context, routeClass, decision string) {
	if m == nil {
		return
	}
	m.guardDecisions.Inc(ctx, AttrRouteClass.String(routeClass), AttrDecision.String(decision))
}
