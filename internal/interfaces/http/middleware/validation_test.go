package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grantBody struct {
	UserID       string `json:"user_id" binding:"required,uuid"`
	PlanType     string `json:"plan_type" binding:"required,paid_plan"`
	DurationDays int    `json:"duration_days" binding:"omitempty,gt=0,max=3650"`
}

type planQuery struct {
	Plan string `form:"plan" binding:"omitempty,plan_type"`
}

func newValidationRouter() *gin.Engine {
	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	router.POST("/grant", func(c *gin.Context) {
		var body grantBody
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	router.GET("/plans", func(c *gin.Context) {
		var q planQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return router
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestValidation_GrantBody(t *testing.T) {
	router := newValidationRouter()

	tests := []struct {
		name    string
		body    string
		status  int
		field   string
		message string
	}{
		{
			name:   "valid",
			body:   `{"user_id":"6f1c2a5e-8d7b-4c3e-9f0a-1b2c3d4e5f60","plan_type":"annual","duration_days":30}`,
			status: http.StatusOK,
		},
		{
			name:    "trial is not grantable",
			body:    `{"user_id":"6f1c2a5e-8d7b-4c3e-9f0a-1b2c3d4e5f60","plan_type":"trial"}`,
			status:  http.StatusBadRequest,
			field:   "plan_type",
			message: "Must be one of: monthly, quarterly, annual",
		},
		{
			name:    "missing user",
			body:    `{"plan_type":"monthly"}`,
			status:  http.StatusBadRequest,
			field:   "user_id",
			message: "This field is required",
		},
		{
			name:    "bad uuid",
			body:    `{"user_id":"nope","plan_type":"monthly"}`,
			status:  http.StatusBadRequest,
			field:   "user_id",
			message: "Invalid UUID format",
		},
		{
			name:    "negative duration",
			body:    `{"user_id":"6f1c2a5e-8d7b-4c3e-9f0a-1b2c3d4e5f60","plan_type":"monthly","duration_days":-3}`,
			status:  http.StatusBadRequest,
			field:   "duration_days",
			message: "Must be greater than 0",
		},
		{
			name:    "malformed json",
			body:    `{"user_id":`,
			status:  http.StatusBadRequest,
			field:   "body",
			message: "Malformed request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/grant", tt.body)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				return
			}
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
			require.Len(t, resp.Error.Details, 1)
			assert.Equal(t, tt.field, resp.Error.Details[0].Field)
			assert.Equal(t, tt.message, resp.Error.Details[0].Message)
		})
	}
}

func TestValidation_PlanTypeQuery(t *testing.T) {
	router := newValidationRouter()

	for _, plan := range []string{"", "trial", "monthly"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plans?plan="+plan, nil))
		assert.Equal(t, http.StatusOK, w.Code, plan)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plans?plan=lifetime", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "plan", resp.Error.Details[0].Field)
	assert.Equal(t, "Unrecognised plan type", resp.Error.Details[0].Message)
}
