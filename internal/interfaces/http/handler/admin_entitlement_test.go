package handler

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	appentitlement "github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/application/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAdminFixture(actor entitlement.Identity) (*gin.Engine, *MockAdministration) {
	admin := new(MockAdministration)
	h := NewAdminEntitlementHandler(admin)

	router := newRouter(&actor)
	router.GET("/admin/entitlements", h.List)
	router.POST("/admin/entitlements", h.Grant)
	router.DELETE("/admin/entitlements/:user_id", h.Revoke)
	return router, admin
}

func TestAdminEntitlementHandler_List(t *testing.T) {
	actor := newAdmin()
	router, admin := newAdminFixture(actor)

	records := []entitlement.Record{
		*newRecord(uuid.New(), entitlement.PlanAnnual, entitlement.ActivationAdmin),
		*newRecord(uuid.New(), entitlement.PlanTrial, entitlement.ActivationTrial),
	}
	admin.On("List", mock.Anything, actor, shared.Filter{Page: 2, PageSize: 2}).
		Return(shared.NewPaginated(records, 5, 2, 2), nil)

	w := doRequest(router, http.MethodGet, "/admin/entitlements?page=2&page_size=2", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body []RecordResponse
	resp := decode(t, w, &body)
	require.Len(t, body, 2)
	assert.Equal(t, "annual", body[0].PlanType)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(5), resp.Meta.Total)
	assert.Equal(t, 3, resp.Meta.TotalPages)
}

func TestAdminEntitlementHandler_ListRejectsBadPaging(t *testing.T) {
	router, admin := newAdminFixture(newAdmin())

	w := doRequest(router, http.MethodGet, "/admin/entitlements?page_size=100000", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	admin.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminEntitlementHandler_Grant(t *testing.T) {
	actor := newAdmin()
	target := uuid.New()
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("with expiry", func(t *testing.T) {
		router, admin := newAdminFixture(actor)
		record := newRecord(target, entitlement.PlanAnnual, entitlement.ActivationAdmin)
		record.GrantedBy = &actor.UserID
		admin.On("Grant", mock.Anything, actor, mock.MatchedBy(func(in appentitlement.GrantInput) bool {
			return in.UserID == target && in.PlanType == entitlement.PlanAnnual &&
				in.ExpiresAt != nil && in.ExpiresAt.Equal(expires)
		})).Return(record, nil)

		body := fmt.Sprintf(`{"user_id":%q,"plan_type":"ANNUAL","expires_at":%q}`, target, expires.Format(time.RFC3339))
		w := doRequest(router, http.MethodPost, "/admin/entitlements", body)

		require.Equal(t, http.StatusCreated, w.Code)
		var got RecordResponse
		decode(t, w, &got)
		require.NotNil(t, got.GrantedBy)
		assert.Equal(t, actor.UserID.String(), *got.GrantedBy)
		admin.AssertExpectations(t)
	})

	t.Run("with duration", func(t *testing.T) {
		router, admin := newAdminFixture(actor)
		admin.On("Grant", mock.Anything, actor, appentitlement.GrantInput{
			UserID:       target,
			PlanType:     entitlement.PlanQuarterly,
			DurationDays: 90,
		}).Return(newRecord(target, entitlement.PlanQuarterly, entitlement.ActivationAdmin), nil)

		body := fmt.Sprintf(`{"user_id":%q,"plan_type":"quarterly","duration_days":90}`, target)
		w := doRequest(router, http.MethodPost, "/admin/entitlements", body)

		assert.Equal(t, http.StatusCreated, w.Code)
		admin.AssertExpectations(t)
	})

	invalid := []struct {
		name string
		body string
	}{
		{"trial plan", fmt.Sprintf(`{"user_id":%q,"plan_type":"trial","duration_days":7}`, target)},
		{"unknown plan", fmt.Sprintf(`{"user_id":%q,"plan_type":"lifetime","duration_days":7}`, target)},
		{"no expiry", fmt.Sprintf(`{"user_id":%q,"plan_type":"monthly"}`, target)},
		{"bad user", `{"user_id":"x","plan_type":"monthly","duration_days":7}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			router, admin := newAdminFixture(actor)

			w := doRequest(router, http.MethodPost, "/admin/entitlements", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VALIDATION_ERROR", decode(t, w, nil).Error.Code)
			admin.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("store unavailable", func(t *testing.T) {
		router, admin := newAdminFixture(actor)
		admin.On("Grant", mock.Anything, actor, mock.Anything).Return(nil, entitlement.ErrRemoteUnavailable)

		body := fmt.Sprintf(`{"user_id":%q,"plan_type":"monthly","duration_days":30}`, target)
		w := doRequest(router, http.MethodPost, "/admin/entitlements", body)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAdminEntitlementHandler_Revoke(t *testing.T) {
	actor := newAdmin()
	target := uuid.New()

	t.Run("deactivates", func(t *testing.T) {
		router, admin := newAdminFixture(actor)
		admin.On("Revoke", mock.Anything, actor, target).Return(int64(1), nil)

		w := doRequest(router, http.MethodDelete, "/admin/entitlements/"+target.String(), "")

		require.Equal(t, http.StatusOK, w.Code)
		var body RevokeResponse
		decode(t, w, &body)
		assert.Equal(t, int64(1), body.Deactivated)
		assert.Equal(t, target.String(), body.UserID)
	})

	t.Run("nothing active is still ok", func(t *testing.T) {
		router, admin := newAdminFixture(actor)
		admin.On("Revoke", mock.Anything, actor, target).Return(int64(0), nil)

		w := doRequest(router, http.MethodDelete, "/admin/entitlements/"+target.String(), "")

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		router, admin := newAdminFixture(actor)

		w := doRequest(router, http.MethodDelete, "/admin/entitlements/not-a-uuid", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		admin.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("non-admin actor", func(t *testing.T) {
		user := newUser()
		router, admin := newAdminFixture(user)
		admin.On("Revoke", mock.Anything, user, target).Return(int64(0), entitlement.ErrPermission)

		w := doRequest(router, http.MethodDelete, "/admin/entitlements/"+target.String(), "")

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, entitlement.CodePermission, decode(t, w, nil).Error.Code)
	})
}
