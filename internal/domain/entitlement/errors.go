package entitlement

import "github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"

// Error codes of the entitlement taxonomy
const (
	CodeRemoteUnavailable = "REMOTE_UNAVAILABLE"
	CodeValidation        = "VALIDATION_ERROR"
	CodePermission        = "PERMISSION_DENIED"
	CodeTrialAlreadyUsed  = "TRIAL_ALREADY_USED"
	CodeAlreadyEntitled   = "ALREADY_ENTITLED"
	CodeCacheCorrupt      = "CACHE_CORRUPT"
)

var (
	// ErrRemoteUnavailable means the store could not be reached in time.
	// It is an unknown answer and must never be read as a denial.
	ErrRemoteUnavailable = shared.NewDomainError(CodeRemoteUnavailable, "Entitlement store is unavailable")

	// ErrValidation rejects a malformed plan or payload before any write
	ErrValidation = shared.NewDomainError(CodeValidation, "Invalid entitlement payload")

	// ErrPermission rejects a mutation the caller's role does not allow
	ErrPermission = shared.NewDomainError(CodePermission, "Not permitted to perform this entitlement operation")

	ErrTrialAlreadyUsed = shared.NewDomainError(CodeTrialAlreadyUsed, "The free trial has already been used for this account")
	ErrAlreadyEntitled  = shared.NewDomainError(CodeAlreadyEntitled, "This account already has an active entitlement")

	// ErrCacheCorrupt is recovered locally by evicting the slot
	ErrCacheCorrupt = shared.NewDomainError(CodeCacheCorrupt, "Cached entitlement payload is corrupt")
)
