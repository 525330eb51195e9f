package models

import (
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/google/uuid"
)

// Index names shared with the SQL migrations
const (
	IndexActivePerUser = "uq_entitlements_active_user"
	IndexTrialPerUser  = "uq_entitlements_trial_user"
)

// EntitlementModel is the persistence model for entitlement records.
//
// Two partial unique indexes back the store invariants: at most one active
// record per user, and at most one trial record per user ever.
type EntitlementModel struct {
	BaseModel
	UserID           uuid.UUID  `gorm:"type:uuid;not null;index:idx_entitlements_user_created,priority:1;uniqueIndex:uq_entitlements_active_user,where:is_active = true;uniqueIndex:uq_entitlements_trial_user,where:plan_type = 'trial'"`
	IsActive         bool       `gorm:"not null"`
	PlanType         string     `gorm:"type:varchar(20);not null"`
	ExpiresAt        time.Time  `gorm:"not null;index:idx_entitlements_active_expiry"`
	ActivatedAt      time.Time  `gorm:"not null"`
	ActivationMethod string     `gorm:"type:varchar(20);not null"`
	GrantedBy        *uuid.UUID `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (EntitlementModel) TableName() string {
	return "entitlements"
}

// ToDomain converts the persistence model to a domain Record
func (m *EntitlementModel) ToDomain() *entitlement.Record {
	return &entitlement.Record{
		BaseAggregateRoot: shared.BaseAggregateRoot{BaseEntity: m.BaseModel.ToDomain()},
		UserID:            m.UserID,
		IsActive:          m.IsActive,
		PlanType:          entitlement.PlanType(m.PlanType),
		ExpiresAt:         m.ExpiresAt,
		ActivatedAt:       m.ActivatedAt,
		ActivationMethod:  entitlement.ActivationMethod(m.ActivationMethod),
		GrantedBy:         m.GrantedBy,
	}
}

// FromDomain populates the persistence model from a domain Record
func (m *EntitlementModel) FromDomain(r *entitlement.Record) {
	m.FromDomainBaseEntity(r.BaseEntity)
	m.UserID = r.UserID
	m.IsActive = r.IsActive
	m.PlanType = string(r.PlanType)
	m.ExpiresAt = r.ExpiresAt
	m.ActivatedAt = r.ActivatedAt
	m.ActivationMethod = string(r.ActivationMethod)
	m.GrantedBy = r.GrantedBy
}

// EntitlementModelFromDomain creates a new persistence model from a domain Record
func EntitlementModelFromDomain(r *entitlement.Record) *EntitlementModel {
	m := &EntitlementModel{}
	m.FromDomain(r)
	return m
}
