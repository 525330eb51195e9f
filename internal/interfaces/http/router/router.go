package router

import (
	"net/http"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// RouteRegistrar registers routes and classifies each one for the access guard
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup, routes *middleware.RouteTable)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	routes     *middleware.RouteTable
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance. Registered routes are classified
// into routes.
func NewRouter(engine *gin.Engine, routes *middleware.RouteTable, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		routes:     routes,
		apiVersion: "v1",
		registrars: make([]RouteRegistrar, 0),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// BasePath returns the versioned API prefix
func (r *Router) BasePath() string {
	return "/api/" + r.apiVersion
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group(r.BasePath())
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api, r.routes)
	}
}

// DomainGroup is a route group whose routes share a route class unless a
// route overrides it. Subgroups inherit the class of their parent.
type DomainGroup struct {
	name       string
	prefix     string
	class      *entitlement.RouteClass
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	class    *entitlement.RouteClass
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{
		name:       name,
		prefix:     prefix,
		routes:     make([]routeDefinition, 0),
		subgroups:  make([]*DomainGroup, 0),
		middleware: make([]gin.HandlerFunc, 0),
	}
}

// Class sets the route class for this group's routes
func (dg *DomainGroup) Class(class entitlement.RouteClass) *DomainGroup {
	dg.class = &class
	return dg
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodGet, path, nil, handlers...)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPost, path, nil, handlers...)
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodDelete, path, nil, handlers...)
}

// Handle registers a route; a non-nil class overrides the group's
func (dg *DomainGroup) Handle(method, path string, class *entitlement.RouteClass, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{
		method:   method,
		path:     path,
		class:    class,
		handlers: handlers,
	})
	return dg
}

// Group creates a sub-group within this domain
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup, routes *middleware.RouteTable) {
	dg.register(rg, routes, nil)
}

func (dg *DomainGroup) register(rg *gin.RouterGroup, routes *middleware.RouteTable, inherited *entitlement.RouteClass) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}

	class := inherited
	if dg.class != nil {
		class = dg.class
	}

	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)

		routeClass := class
		if route.class != nil {
			routeClass = route.class
		}
		// Unclassified routes fall through to the table's fallback
		if routeClass != nil && routes != nil {
			routes.Set(middleware.JoinRoute(group.BasePath(), route.path), *routeClass)
		}
	}

	for _, subgroup := range dg.subgroups {
		subgroup.register(group, routes, class)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}
