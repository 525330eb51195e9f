package router

import (
	"net/http"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/auth"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/logger"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/telemetry"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/handler"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers mounted by NewEngine
type Handlers struct {
	System      *handler.SystemHandler
	Auth        *handler.AuthHandler
	Entitlement *handler.EntitlementHandler
	Stream      *handler.EntitlementStreamHandler
	Admin       *handler.AdminEntitlementHandler
	Workspace   *handler.WorkspaceHandler
}

// EngineConfig carries the middleware dependencies of the engine
type EngineConfig struct {
	Tokens      middleware.TokenValidator
	Revocations auth.RevocationList
	Resolver    middleware.StateResolver
	Trials      middleware.TrialHistory

	LandingPath    string
	HomePath       string
	RetryAfter     time.Duration
	AllowOrigins   []string
	TrustedProxies []string
	MaxBodyBytes   int64
	// RateLimit caps trial and visibility calls per caller per minute; 0 disables
	RateLimit int

	Tracing middleware.TracingConfig
	Meter   metric.Meter
	Metrics *telemetry.EntitlementMetrics
	Logger  *zap.Logger
}

// Engine is the configured gin engine plus the resources it owns
type Engine struct {
	*gin.Engine
	Routes  *middleware.RouteTable
	limiter *middleware.RateLimiter
}

// Close releases resources held by the middleware chain
func (e *Engine) Close() {
	if e.limiter != nil {
		e.limiter.Stop()
	}
}

// NewEngine builds the gin engine with the full middleware chain and every
// entitlement route classified for the access guard.
func NewEngine(cfg EngineConfig, h Handlers) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if len(cfg.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Registered but unclassified routes require a session
	routes := middleware.NewRouteTable(entitlement.RouteIdentity)

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.AllowOrigins

	// Order matters: the request id and span must exist before anything logs,
	// and the guard needs the identity attached by the JWT middleware.
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Tracing(cfg.Tracing), middleware.SpanEnricher())
	engine.Use(middleware.HTTPMetrics(cfg.Meter, log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(corsConfig))
	if cfg.MaxBodyBytes > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}
	engine.Use(middleware.JWTAuthMiddleware(middleware.JWTMiddlewareConfig{
		Tokens:      cfg.Tokens,
		Revocations: cfg.Revocations,
		LandingPath: cfg.LandingPath,
		Logger:      log,
	}))
	engine.Use(middleware.AccessGuard(middleware.AccessGuardConfig{
		Routes:      routes,
		Resolver:    cfg.Resolver,
		Trials:      cfg.Trials,
		LandingPath: cfg.LandingPath,
		HomePath:    cfg.HomePath,
		RetryAfter:  cfg.RetryAfter,
		Metrics:     cfg.Metrics,
		Logger:      log,
	}))

	throttle := func(c *gin.Context) { c.Next() }
	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
		throttle = middleware.RateLimitByKey(limiter, middleware.CallerKey)
	}

	if h.System != nil {
		engine.GET("/health", h.System.Health)
		routes.Set("/health", entitlement.RoutePublic)
	}

	r := NewRouter(engine, routes, WithAPIVersion("v1"))

	if h.System != nil {
		system := NewDomainGroup("system", "/system").Class(entitlement.RoutePublic)
		system.GET("/info", h.System.GetSystemInfo)
		system.GET("/ping", h.System.Ping)
		r.Register(system)
	}

	if h.Auth != nil {
		authRoutes := NewDomainGroup("auth", "/auth").Class(entitlement.RouteIdentity)
		authRoutes.GET("/me", h.Auth.Me)
		authRoutes.POST("/logout", h.Auth.Logout)
		r.Register(authRoutes)
	}

	if h.Entitlement != nil {
		ent := NewDomainGroup("entitlement", "/entitlement").Class(entitlement.RouteIdentity)
		ent.GET("", h.Entitlement.Get)
		ent.POST("/visibility", throttle, h.Entitlement.Refresh)
		ent.GET("/trial", h.Entitlement.TrialStatus)
		ent.POST("/trial", throttle, h.Entitlement.ActivateTrial)
		if h.Stream != nil {
			ent.GET("/stream", h.Stream.Stream)
		}
		r.Register(ent)
	}

	if h.Admin != nil {
		admin := NewDomainGroup("admin", "/admin").Class(entitlement.RouteAdmin)
		grants := admin.Group("entitlements", "/entitlements")
		grants.GET("", h.Admin.List)
		grants.POST("", h.Admin.Grant)
		grants.DELETE("/:user_id", h.Admin.Revoke)
		r.Register(admin)
	}

	if h.Workspace != nil {
		workspace := NewDomainGroup("workspace", "/workspace").Class(entitlement.RouteEntitled)
		workspace.GET("/ping", h.Workspace.Ping)
		r.Register(workspace)
	}

	r.Setup()

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeNotFound, "Route not found", middleware.GetRequestID(c)))
	})

	log.Info("Routes registered", zap.Int("classified", routes.Len()))

	return &Engine{Engine: engine, Routes: routes, limiter: limiter}
}
