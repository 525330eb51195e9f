package handler

import (
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// WorkspaceHandler serves the entitled workspace. Every route it owns sits
// behind the access guard; reaching a handler means access was granted.
type WorkspaceHandler struct {
	BaseHandler
}

// NewWorkspaceHandler creates a new WorkspaceHandler
func NewWorkspaceHandler() *WorkspaceHandler {
	return &WorkspaceHandler{}
}

// WorkspacePingResponse echoes how access was granted
type WorkspacePingResponse struct {
	UserID    string `json:"user_id"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// Ping godoc
// @Summary      Entitled workspace ping
// @Tags         workspace
// @Produce      json
// @Success      200 {object} dto.Response{data=WorkspacePingResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      402 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /workspace/ping [get]
func (h *WorkspaceHandler) Ping(c *gin.Context) {
	identity, ok := h.currentIdentity(c)
	if !ok {
		return
	}

	source := string(entitlement.SourceAdminBypass)
	if state, ok := middleware.GetResolvedState(c); ok {
		source = string(state.Source)
	}

	h.Success(c, WorkspacePingResponse{
		UserID:    identity.UserID.String(),
		Source:    source,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
