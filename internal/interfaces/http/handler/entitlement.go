package handler

import (
	"context"

	appentitlement "github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/application/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EntitlementResolver resolves a caller's entitlement
type EntitlementResolver interface {
	Resolve(ctx context.Context, identity entitlement.Identity) (entitlement.ResolvedState, error)
}

// EntitlementRefresher re-resolves a caller and fans the result out to
// their open streams
type EntitlementRefresher interface {
	Refresh(ctx context.Context, identity entitlement.Identity, reason appentitlement.Reason) (entitlement.ResolvedState, error)
}

// TrialWorkflow is the trial-once workflow
type TrialWorkflow interface {
	HasUsedTrialEver(ctx context.Context, userID uuid.UUID) (bool, error)
	ActivateTrial(ctx context.Context, identity entitlement.Identity) (*entitlement.Record, error)
}

// EntitlementHandler serves the signed-in user's own entitlement
type EntitlementHandler struct {
	BaseHandler
	resolver  EntitlementResolver
	refresher EntitlementRefresher
	trials    TrialWorkflow
}

// NewEntitlementHandler creates a new EntitlementHandler
func NewEntitlementHandler(resolver EntitlementResolver, refresher EntitlementRefresher, trials TrialWorkflow) *EntitlementHandler {
	return &EntitlementHandler{
		resolver:  resolver,
		refresher: refresher,
		trials:    trials,
	}
}

// Get godoc
// @Summary      Get current entitlement
// @Description  Resolves the caller's entitlement from the store, falling back to cached slots
// @Tags         entitlement
// @Produce      json
// @Success      200 {object} dto.Response{data=EntitlementStateResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /entitlement [get]
func (h *EntitlementHandler) Get(c *gin.Context) {
	identity, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	state, resolved := middleware.GetResolvedState(c)
	if !resolved {
		var err error
		state, err = h.resolver.Resolve(c.Request.Context(), identity)
		if err != nil {
			h.HandleError(c, err)
			return
		}
	}

	h.Success(c, toStateResponse(identity, state))
}

// Refresh godoc
// @Summary      Re-resolve on visibility
// @Description  Called when the application becomes visible again; re-resolves and notifies open streams
// @Tags         entitlement
// @Produce      json
// @Success      200 {object} dto.Response{data=EntitlementStateResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      429 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /entitlement/visibility [post]
func (h *EntitlementHandler) Refresh(c *gin.Context) {
	identity, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	state, err := h.refresher.Refresh(c.Request.Context(), identity, appentitlement.ReasonVisibility)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toStateResponse(identity, state))
}

// TrialStatus godoc
// @Summary      Has the trial been used
// @Tags         entitlement
// @Produce      json
// @Success      200 {object} dto.Response{data=TrialStatusResponse}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /entitlement/trial [get]
func (h *EntitlementHandler) TrialStatus(c *gin.Context) {
	identity, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	used, err := h.trials.HasUsedTrialEver(c.Request.Context(), identity.UserID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, TrialStatusResponse{Used: used})
}

// ActivateTrial godoc
// @Summary      Activate the free trial
// @Description  Grants the one-time trial. Each account gets at most one trial for its lifetime.
// @Tags         entitlement
// @Produce      json
// @Success      201 {object} dto.Response{data=RecordResponse}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /entitlement/trial [post]
func (h *EntitlementHandler) ActivateTrial(c *gin.Context) {
	identity, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	record, err := h.trials.ActivateTrial(c.Request.Context(), identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, toRecordResponse(record))
}
