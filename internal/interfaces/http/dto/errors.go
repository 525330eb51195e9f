package dto

import (
	"net/http"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
)

// General error codes
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeForbidden    = "FORBIDDEN"
)

// Entitlement error codes. They are the domain taxonomy codes as-is.
const (
	ErrCodeRemoteUnavailable = entitlement.CodeRemoteUnavailable
	ErrCodeValidation        = entitlement.CodeValidation
	ErrCodePermission        = entitlement.CodePermission
	ErrCodeTrialAlreadyUsed  = entitlement.CodeTrialAlreadyUsed
	ErrCodeAlreadyEntitled   = entitlement.CodeAlreadyEntitled
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "INVALID_TOKEN"
	ErrCodeTokenRevoked = "TOKEN_REVOKED"
	ErrCodeNotYetValid  = "TOKEN_NOT_VALID"
)

// Access guard error codes
const (
	// ErrCodeEntitlementRequired carries the offer screen (402)
	ErrCodeEntitlementRequired = "ENTITLEMENT_REQUIRED"
	// ErrCodeAdminOnly sends a non-admin back home (403)
	ErrCodeAdminOnly = "ADMIN_ONLY"
	// ErrCodeResolutionPending asks the client to retry shortly (503)
	ErrCodeResolutionPending = "RESOLUTION_PENDING"
	ErrCodeTooManyStreams    = "MAX_CONNECTIONS_REACHED"
)

// Request shaping error codes
const (
	ErrCodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeForbidden:    http.StatusForbidden,

	ErrCodeRemoteUnavailable: http.StatusServiceUnavailable,
	ErrCodeValidation:        http.StatusBadRequest,
	ErrCodePermission:        http.StatusForbidden,
	ErrCodeTrialAlreadyUsed:  http.StatusConflict,
	ErrCodeAlreadyEntitled:   http.StatusConflict,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeTokenRevoked: http.StatusUnauthorized,
	ErrCodeNotYetValid:  http.StatusUnauthorized,

	ErrCodeEntitlementRequired: http.StatusPaymentRequired,
	ErrCodeAdminOnly:           http.StatusForbidden,
	ErrCodeResolutionPending:   http.StatusServiceUnavailable,
	ErrCodeTooManyStreams:      http.StatusServiceUnavailable,

	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsSurfaced reports whether a domain code may be shown to clients.
// CACHE_CORRUPT is recovered locally and must never reach a response.
func IsSurfaced(code string) bool {
	if code == entitlement.CodeCacheCorrupt {
		return false
	}
	_, ok := ErrorCodeHTTPStatus[code]
	return ok
}
