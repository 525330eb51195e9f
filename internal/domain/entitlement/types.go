package entitlement

import (
	"strings"

	"github.com/google/uuid"
)

// PlanType is the commercial plan an entitlement grants
type PlanType string

const (
	// PlanTrial is the free trial, grantable once per user lifetime
	PlanTrial     PlanType = "trial"
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
	PlanAnnual    PlanType = "annual"
)

// AllPlanTypes returns every recognised plan type
func AllPlanTypes() []PlanType {
	return []PlanType{PlanTrial, PlanMonthly, PlanQuarterly, PlanAnnual}
}

// PaidPlanTypes returns the plans offered once the trial is spent
func PaidPlanTypes() []PlanType {
	return []PlanType{PlanMonthly, PlanQuarterly, PlanAnnual}
}

// IsValid checks if the plan type is recognised
func (p PlanType) IsValid() bool {
	switch p {
	case PlanTrial, PlanMonthly, PlanQuarterly, PlanAnnual:
		return true
	default:
		return false
	}
}

func (p PlanType) String() string {
	return string(p)
}

// ParsePlanType normalises s and rejects unknown plans with ErrValidation
func ParsePlanType(s string) (PlanType, error) {
	p := PlanType(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", ErrValidation.WithMessage("unrecognised plan type: " + s)
	}
	return p, nil
}

// ActivationMethod tags the provenance of a grant. It never affects access decisions.
type ActivationMethod string

const (
	ActivationAdmin   ActivationMethod = "admin"
	ActivationTrial   ActivationMethod = "trial"
	ActivationPayment ActivationMethod = "payment"
)

// IsValid checks if the activation method is recognised
func (m ActivationMethod) IsValid() bool {
	switch m {
	case ActivationAdmin, ActivationTrial, ActivationPayment:
		return true
	default:
		return false
	}
}

func (m ActivationMethod) String() string {
	return string(m)
}

// Role is the identity provider's role claim
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Identity is the caller as reported by the identity provider.
// It is threaded explicitly through every operation instead of being read
// from ambient session state.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Role   Role      `json:"role"`
}

// IsAdmin reports whether the identity carries the administrator role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IsZero reports whether the identity is unset
func (i Identity) IsZero() bool {
	return i.UserID == uuid.Nil
}
