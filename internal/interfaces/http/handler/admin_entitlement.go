package handler

import (
	"context"

	appentitlement "github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/application/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EntitlementAdministration is the administrator's view of the store
type EntitlementAdministration interface {
	Grant(ctx context.Context, actor entitlement.Identity, in appentitlement.GrantInput) (*entitlement.Record, error)
	Revoke(ctx context.Context, actor entitlement.Identity, userID uuid.UUID) (int64, error)
	List(ctx context.Context, actor entitlement.Identity, filter shared.Filter) (shared.Paginated[entitlement.Record], error)
}

// AdminEntitlementHandler serves administrator grants and revocations
type AdminEntitlementHandler struct {
	BaseHandler
	admin EntitlementAdministration
}

// NewAdminEntitlementHandler creates a new AdminEntitlementHandler
func NewAdminEntitlementHandler(admin EntitlementAdministration) *AdminEntitlementHandler {
	return &AdminEntitlementHandler{admin: admin}
}

// List godoc
// @Summary      List entitlement records
// @Tags         admin
// @Produce      json
// @Param        page      query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20)
// @Success      200 {object} dto.Response{data=[]RecordResponse,meta=dto.Meta}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /admin/entitlements [get]
func (h *AdminEntitlementHandler) List(c *gin.Context) {
	actor, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	page, err := h.admin.List(c.Request.Context(), actor, req.ToFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, toRecordResponses(page.Items), page.Total, page.Page, page.PageSize)
}

// Grant godoc
// @Summary      Grant an entitlement
// @Description  Replaces the user's active record with an administrator grant
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request body GrantRequest true "Grant"
// @Success      201 {object} dto.Response{data=RecordResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /admin/entitlements [post]
func (h *AdminEntitlementHandler) Grant(c *gin.Context) {
	actor, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}
	plan, err := entitlement.ParsePlanType(req.PlanType)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	record, err := h.admin.Grant(c.Request.Context(), actor, appentitlement.GrantInput{
		UserID:       userID,
		PlanType:     plan,
		ExpiresAt:    req.ExpiresAt,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toRecordResponse(record))
}

// Revoke godoc
// @Summary      Revoke a user's entitlements
// @Tags         admin
// @Produce      json
// @Param        user_id path string true "User ID" format(uuid)
// @Success      200 {object} dto.Response{data=RevokeResponse}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /admin/entitlements/{user_id} [delete]
func (h *AdminEntitlementHandler) Revoke(c *gin.Context) {
	actor, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	var req dto.UserIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	userID := uuid.MustParse(req.UserID)

	n, err := h.admin.Revoke(c.Request.Context(), actor, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, RevokeResponse{UserID: userID.String(), Deactivated: n})
}
