package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appentitlement "github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/application/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, identity entitlement.Identity) (entitlement.ResolvedState, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(entitlement.ResolvedState), args.Error(1)
}

type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context, identity entitlement.Identity, reason appentitlement.Reason) (entitlement.ResolvedState, error) {
	args := m.Called(ctx, identity, reason)
	return args.Get(0).(entitlement.ResolvedState), args.Error(1)
}

type MockTrials struct {
	mock.Mock
}

func (m *MockTrials) HasUsedTrialEver(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTrials) ActivateTrial(ctx context.Context, identity entitlement.Identity) (*entitlement.Record, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Record), args.Error(1)
}

type MockAdministration struct {
	mock.Mock
}

func (m *MockAdministration) Grant(ctx context.Context, actor entitlement.Identity, in appentitlement.GrantInput) (*entitlement.Record, error) {
	args := m.Called(ctx, actor, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Record), args.Error(1)
}

func (m *MockAdministration) Revoke(ctx context.Context, actor entitlement.Identity, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, actor, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAdministration) List(ctx context.Context, actor entitlement.Identity, filter shared.Filter) (shared.Paginated[entitlement.Record], error) {
	args := m.Called(ctx, actor, filter)
	return args.Get(0).(shared.Paginated[entitlement.Record]), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func newUser() entitlement.Identity {
	return entitlement.Identity{UserID: uuid.New(), Email: "user@example.com", Role: entitlement.RoleUser}
}

func newAdmin() entitlement.Identity {
	return entitlement.Identity{UserID: uuid.New(), Email: "admin@example.com", Role: entitlement.RoleAdmin}
}

func newRecord(userID uuid.UUID, plan entitlement.PlanType, method entitlement.ActivationMethod) *entitlement.Record {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := &entitlement.Record{
		UserID:           userID,
		IsActive:         true,
		PlanType:         plan,
		ExpiresAt:        now.Add(7 * 24 * time.Hour),
		ActivatedAt:      now,
		ActivationMethod: method,
	}
	r.ID = uuid.New()
	return r
}

// withIdentity stands in for JWTAuthMiddleware
func withIdentity(identity *entitlement.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity != nil {
			c.Set(middleware.IdentityKey, *identity)
			c.Set(middleware.JWTUserIDKey, identity.UserID.String())
		}
		c.Next()
	}
}

func newRouter(identity *entitlement.Identity) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), withIdentity(identity))
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// decode unmarshals the envelope and, when data is non-nil, its data field
func decode(t *testing.T, w *httptest.ResponseRecorder, data any) dto.Response {
	t.Helper()
	var raw struct {
		dto.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}
