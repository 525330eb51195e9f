package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/logger"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Access guard context keys
const (
	RouteClassKey    = "route_class"
	ResolvedStateKey = "resolved_state"
	DecisionKey      = "guard_decision"
)

// DefaultRetryAfter is advertised when resolution is still pending
const DefaultRetryAfter = time.Second

// StateResolver resolves the caller's entitlement
type StateResolver interface {
	Resolve(ctx context.Context, identity entitlement.Identity) (entitlement.ResolvedState, error)
}

// TrialHistory answers whether the offer screen may advertise a trial
type TrialHistory interface {
	HasUsedTrialEver(ctx context.Context, userID uuid.UUID) (bool, error)
}

// RouteTable classifies gin route patterns. Unmatched requests (empty full
// path) are public so that 404s stay 404s; registered patterns without a
// class fall back to the table default.
type RouteTable struct {
	mu       sync.RWMutex
	classes  map[string]entitlement.RouteClass
	fallback entitlement.RouteClass
}

// NewRouteTable creates a table whose unknown routes get fallback
func NewRouteTable(fallback entitlement.RouteClass) *RouteTable {
	return &RouteTable{classes: make(map[string]entitlement.RouteClass), fallback: fallback}
}

// Set classifies the absolute route pattern, e.g. "/api/v1/admin/entitlements/:user_id"
func (t *RouteTable) Set(pattern string, class entitlement.RouteClass) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.classes[pattern] = class
}

// Classify returns the class for a gin full path
func (t *RouteTable) Classify(fullPath string) entitlement.RouteClass {
	if fullPath == "" {
		return entitlement.RoutePublic
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if class, ok := t.classes[fullPath]; ok {
		return class
	}
	return t.fallback
}

// Len returns the number of classified patterns
func (t *RouteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.classes)
}

// AccessGuardConfig holds configuration for the access guard
type AccessGuardConfig struct {
	Routes   *RouteTable
	Resolver StateResolver
	// Trials is optional; without it the offer never advertises a trial
	Trials      TrialHistory
	LandingPath string
	HomePath    string
	// Plans are the plans listed on the offer screen
	Plans      []entitlement.PlanType
	RetryAfter time.Duration
	Metrics    *telemetry.EntitlementMetrics
	Logger     *zap.Logger
}

// AccessGuard enforces the guard decision table on every request.
// It must run after JWTAuthMiddleware.
func AccessGuard(cfg AccessGuardConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = entitlement.PaidPlanTypes()
	}
	plans := make([]string, 0, len(cfg.Plans))
	for _, p := range cfg.Plans {
		plans = append(plans, p.String())
	}
	retryAfter := strconv.Itoa(int((cfg.RetryAfter + time.Second - 1) / time.Second))

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		class := cfg.Routes.Classify(c.FullPath())
		c.Set(RouteClassKey, class)

		guard := entitlement.NewGuard()
		identity, ok := GetIdentity(c)
		if ok {
			guard.ObserveIdentity(&identity)
		} else {
			guard.ObserveIdentity(nil)
		}

		if ok && class.NeedsEntitlement() && !identity.IsAdmin() {
			state, err := cfg.Resolver.Resolve(ctx, identity)
			if err != nil {
				logger.L(ctx).Warn("Entitlement resolution failed in access guard",
					zap.String("route", c.FullPath()),
					zap.Error(err))
			} else {
				guard.ObserveResolution(state)
				c.Set(ResolvedStateKey, state)
			}
		}

		decision := guard.Decide(class)
		c.Set(DecisionKey, decision)
		cfg.Metrics.RecordGuardDecision(ctx, class.String(), decision.String())

		requestID := GetRequestID(c)
		switch decision {
		case entitlement.DecisionAllow:
			c.Next()

		case entitlement.DecisionRedirectLanding:
			resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, "Authentication required", requestID)
			resp.Error.Redirect = cfg.LandingPath
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp)

		case entitlement.DecisionRedirectHome:
			resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeAdminOnly, "Administrator access required", requestID)
			resp.Error.Redirect = cfg.HomePath
			c.AbortWithStatusJSON(http.StatusForbidden, resp)

		case entitlement.DecisionShowOffer:
			resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeEntitlementRequired, "An active plan is required", requestID)
			resp.Error.Offer = &dto.Offer{
				TrialAvailable: trialAvailable(ctx, cfg.Trials, identity.UserID),
				Plans:          plans,
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, resp)

		default:
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeResolutionPending, "Entitlement is still being resolved", requestID))
		}
	}
}

// trialAvailable reports false when trial history cannot be confirmed
func trialAvailable(ctx context.Context, trials TrialHistory, userID uuid.UUID) bool {
	if trials == nil {
		return false
	}
	used, err := trials.HasUsedTrialEver(ctx, userID)
	if err != nil {
		logger.L(ctx).Warn("Trial history unavailable for offer screen", zap.Error(err))
		return false
	}
	return !used
}

// GetResolvedState returns the state resolved by AccessGuard for this request
func GetResolvedState(c *gin.Context) (entitlement.ResolvedState, bool) {
	if v, exists := c.Get(ResolvedStateKey); exists {
		if state, ok := v.(entitlement.ResolvedState); ok {
			return state, true
		}
	}
	return entitlement.ResolvedState{}, false
}

// GetRouteClass returns the class AccessGuard assigned to this request
func GetRouteClass(c *gin.Context) (entitlement.RouteClass, bool) {
	if v, exists := c.Get(RouteClassKey); exists {
		if class, ok := v.(entitlement.RouteClass); ok {
			return class, true
		}
	}
	return entitlement.RoutePublic, false
}

// JoinRoute joins a group base path and a relative route the way gin does
func JoinRoute(base, relative string) string {
	if relative == "" {
		return base
	}
	joined := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(relative, "/")
	if strings.HasSuffix(relative, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}
