package entitlement

// GuardState is the access guard's view of the current session
type GuardState int

const (
	GuardLoading GuardState = iota
	GuardUnauthenticated
	GuardNoEntitlement
	GuardEntitled
	GuardAdminBypass
)

func (s GuardState) String() string {
	switch s {
	case GuardLoading:
		return "loading"
	case GuardUnauthenticated:
		return "unauthenticated"
	case GuardNoEntitlement:
		return "authenticated_no_entitlement"
	case GuardEntitled:
		return "authenticated_entitled"
	case GuardAdminBypass:
		return "admin_bypass"
	default:
		return "unknown"
	}
}

// RouteClass is what a route requires from the session
type RouteClass int

const (
	RoutePublic RouteClass = iota
	RouteIdentity
	RouteEntitled
	// RouteAdmin is gated by role regardless of entitlement
	RouteAdmin
)

func (c RouteClass) String() string {
	switch c {
	case RoutePublic:
		return "public"
	case RouteIdentity:
		return "identity"
	case RouteEntitled:
		return "entitled"
	case RouteAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// NeedsEntitlement reports whether the decision for c depends on the
// caller's resolved entitlement
func (c RouteClass) NeedsEntitlement() bool {
	return c == RouteEntitled
}

// ParseRouteClass parses a configured route class name
func ParseRouteClass(s string) (RouteClass, bool) {
	for _, c := range []RouteClass{RoutePublic, RouteIdentity, RouteEntitled, RouteAdmin} {
		if c.String() == s {
			return c, true
		}
	}
	return RoutePublic, false
}

// Decision is the guard's verdict for one navigation
type Decision int

const (
	DecisionAllow Decision = iota
	// DecisionWait holds navigation while identity or resolution is pending
	DecisionWait
	DecisionRedirectLanding
	DecisionRedirectHome
	// DecisionShowOffer renders the blocking offer screen in place of the route
	DecisionShowOffer
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionWait:
		return "wait"
	case DecisionRedirectLanding:
		return "redirect_landing"
	case DecisionRedirectHome:
		return "redirect_home"
	case DecisionShowOffer:
		return "show_offer"
	default:
		return "unknown"
	}
}

// Decide maps a guard state and route class to a decision
func Decide(state GuardState, route RouteClass) Decision {
	if route == RoutePublic {
		return DecisionAllow
	}
	switch state {
	case GuardLoading:
		return DecisionWait
	case GuardUnauthenticated:
		return DecisionRedirectLanding
	case GuardAdminBypass:
		return DecisionAllow
	}

	if route == RouteAdmin {
		return DecisionRedirectHome
	}
	if route == RouteEntitled && state == GuardNoEntitlement {
		return DecisionShowOffer
	}
	return DecisionAllow
}

// Guard tracks identity and resolution for one session and re-evaluates on
// every observation. It starts in GuardLoading.
type Guard struct {
	identityKnown bool
	identity      *Identity
	resolved      *ResolvedState
}

// NewGuard returns a guard in the loading state
func NewGuard() *Guard {
	return &Guard{}
}

// ObserveIdentity records the identity provider's answer; nil means signed out.
// A change of user discards the previous resolution.
func (g *Guard) ObserveIdentity(id *Identity) {
	if g.identity != nil && (id == nil || id.UserID != g.identity.UserID) {
		g.resolved = nil
	}
	g.identityKnown = true
	if id == nil {
		g.identity = nil
		return
	}
	cp := *id
	g.identity = &cp
}

// ObserveResolution records a resolved state. States for another user are
// ignored and reported as false.
func (g *Guard) ObserveResolution(state ResolvedState) bool {
	if g.identity == nil || state.UserID != g.identity.UserID {
		return false
	}
	cp := state
	g.resolved = &cp
	return true
}

// State returns the current guard state
func (g *Guard) State() GuardState {
	if !g.identityKnown {
		return GuardLoading
	}
	if g.identity == nil {
		return GuardUnauthenticated
	}
	if g.identity.IsAdmin() {
		return GuardAdminBypass
	}
	if g.resolved == nil {
		return GuardLoading
	}
	if g.resolved.HasAccess {
		return GuardEntitled
	}
	return GuardNoEntitlement
}

// Decide evaluates route against the current state. A signed-in caller
// still awaiting resolution is decided by role alone on routes that do not
// need an entitlement.
func (g *Guard) Decide(route RouteClass) Decision {
	state := g.State()
	if state == GuardLoading && g.identity != nil && !route.NeedsEntitlement() {
		state = GuardNoEntitlement
	}
	return Decide(state, route)
}

// Resolved returns the last observed resolution, if any
func (g *Guard) Resolved() (ResolvedState, bool) {
	if g.resolved == nil {
		return ResolvedState{}, false
	}
	return *g.resolved, true
}
