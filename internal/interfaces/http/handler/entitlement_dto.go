package handler

import (
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
)

// EntitlementStateResponse is the caller's resolved entitlement
type EntitlementStateResponse struct {
	UserID     string     `json:"user_id"`
	HasAccess  bool       `json:"has_access"`
	Source     string     `json:"source"`
	PlanType   *string    `json:"plan_type,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ResolvedAt time.Time  `json:"resolved_at"`
	// GuardState is what the access guard derives from this resolution
	GuardState string `json:"guard_state"`
}

// TrialStatusResponse tells whether the one-time trial is spent
type TrialStatusResponse struct {
	Used bool `json:"used"`
}

// RecordResponse is one stored entitlement record
type RecordResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	IsActive         bool      `json:"is_active"`
	PlanType         string    `json:"plan_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	ActivatedAt      time.Time `json:"activated_at"`
	ActivationMethod string    `json:"activation_method"`
	GrantedBy        *string   `json:"granted_by,omitempty"`
}

// GrantRequest is an administrator's grant. expires_at wins over duration_days.
type GrantRequest struct {
	UserID       string     `json:"user_id" binding:"required,uuid"`
	PlanType     string     `json:"plan_type" binding:"required,paid_plan"`
	ExpiresAt    *time.Time `json:"expires_at" binding:"required_without=DurationDays"`
	DurationDays int        `json:"duration_days" binding:"omitempty,gt=0,max=3650"`
}

// RevokeResponse reports how many records a revocation deactivated
type RevokeResponse struct {
	UserID      string `json:"user_id"`
	Deactivated int64  `json:"deactivated"`
}

func toStateResponse(identity entitlement.Identity, state entitlement.ResolvedState) EntitlementStateResponse {
	guard := entitlement.NewGuard()
	guard.ObserveIdentity(&identity)
	guard.ObserveResolution(state)

	resp := EntitlementStateResponse{
		UserID:     state.UserID.String(),
		HasAccess:  state.HasAccess,
		Source:     string(state.Source),
		ExpiresAt:  state.ExpiresAt,
		ResolvedAt: state.ResolvedAt,
		GuardState: guard.State().String(),
	}
	if state.PlanType != nil {
		plan := state.PlanType.String()
		resp.PlanType = &plan
	}
	return resp
}

func toRecordResponse(r *entitlement.Record) RecordResponse {
	resp := RecordResponse{
		ID:               r.ID.String(),
		UserID:           r.UserID.String(),
		IsActive:         r.IsActive,
		PlanType:         r.PlanType.String(),
		ExpiresAt:        r.ExpiresAt,
		ActivatedAt:      r.ActivatedAt,
		ActivationMethod: r.ActivationMethod.String(),
	}
	if r.GrantedBy != nil {
		by := r.GrantedBy.String()
		resp.GrantedBy = &by
	}
	return resp
}

func toRecordResponses(records []entitlement.Record) []RecordResponse {
	out := make([]RecordResponse, len(records))
	for i := range records {
		out[i] = toRecordResponse(&records[i])
	}
	return out
}
