package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormEntitlementRepository implements entitlement.Repository using GORM
type GormEntitlementRepository struct {
	db *gorm.DB
}

var _ entitlement.Repository = (*GormEntitlementRepository)(nil)

// NewGormEntitlementRepository creates a new GormEntitlementRepository
func NewGormEntitlementRepository(db *gorm.DB) *GormEntitlementRepository {
	return &GormEntitlementRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormEntitlementRepository) WithTx(tx *gorm.DB) *GormEntitlementRepository {
	return &GormEntitlementRepository{db: tx}
}

func (r *GormEntitlementRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*entitlement.Record, error) {
	var model models.EntitlementModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active entitlement: %w", err)
	}
	return model.ToDomain(), nil
}

func (r *GormEntitlementRepository) FindAllByUser(ctx context.Context, userID uuid.UUID) ([]entitlement.Record, error) {
	var rows []models.EntitlementModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find entitlements by user: %w", err)
	}
	return toDomainRecords(rows), nil
}

func (r *GormEntitlementRepository) ExistsTrialForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.EntitlementModel{}).
		Where("user_id = ? AND plan_type = ?", userID, string(entitlement.PlanTrial)).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check trial history: %w", err)
	}
	return count > 0, nil
}

func (r *GormEntitlementRepository) FindAll(ctx context.Context, filter shared.Filter) ([]entitlement.Record, int64, error) {
	filter = filter.Normalize()

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.EntitlementModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count entitlements: %w", err)
	}

	var rows []models.EntitlementModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list entitlements: %w", err)
	}
	return toDomainRecords(rows), total, nil
}

// Create inserts record. A unique index conflict is reported as
// ErrTrialAlreadyUsed when the user already had a trial and record is a
// trial, and as ErrAlreadyEntitled otherwise.
func (r *GormEntitlementRepository) Create(ctx context.Context, record *entitlement.Record) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.EntitlementModelFromDomain(record))
	if result.Error != nil {
		return fmt.Errorf("create entitlement: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return r.conflictFor(ctx, record)
}

// Replace deactivates the user's active records and inserts record atomically
func (r *GormEntitlementRepository) Replace(ctx context.Context, record *entitlement.Record) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EntitlementModel{}).
			Where("user_id = ? AND is_active = ?", record.UserID, true).
			Updates(map[string]any{"is_active": false, "updated_at": record.CreatedAt}).Error; err != nil {
			return err
		}
		return tx.Create(models.EntitlementModelFromDomain(record)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.conflictFor(ctx, record)
	}
	if err != nil {
		return fmt.Errorf("replace entitlement: %w", err)
	}
	return nil
}

func (r *GormEntitlementRepository) conflictFor(ctx context.Context, record *entitlement.Record) error {
	if record.IsTrial() {
		used, err := r.ExistsTrialForUser(ctx, record.UserID)
		if err != nil {
			return err
		}
		if used {
			return entitlement.ErrTrialAlreadyUsed
		}
	}
	return entitlement.ErrAlreadyEntitled
}

func (r *GormEntitlementRepository) DeactivateByUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.EntitlementModel{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]any{"is_active": false, "updated_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("deactivate entitlements: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeactivateExpired flips up to limit soft-expired records and returns their owners
func (r *GormEntitlementRepository) DeactivateExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}

	var users []uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []struct {
			ID     uuid.UUID
			UserID uuid.UUID
		}
		if err := tx.Model(&models.EntitlementModel{}).
			Select("id", "user_id").
			Where("is_active = ? AND expires_at <= ?", true, now).
			Order("expires_at ASC").
			Limit(limit).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(expired))
		seen := make(map[uuid.UUID]struct{}, len(expired))
		for _, e := range expired {
			ids = append(ids, e.ID)
			if _, ok := seen[e.UserID]; !ok {
				seen[e.UserID] = struct{}{}
				users = append(users, e.UserID)
			}
		}
		return tx.Model(&models.EntitlementModel{}).
			Where("id IN ? AND is_active = ?", ids, true).
			Updates(map[string]any{"is_active": false, "updated_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("deactivate expired entitlements: %w", err)
	}
	return users, nil
}

func toDomainRecords(rows []models.EntitlementModel) []entitlement.Record {
	out := make([]entitlement.Record, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out
}
