package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/onboarding"
	"github.com/supplychain/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormOnboardingRepository implements onboarding.ProgressRepository using GORM
type GormOnboardingRepository struct {
	db *gorm.DB
}

// NewGormOnboardingRepository creates a new GormOnboardingRepository
func NewGormOnboardingRepository(db *gorm.DB) *GormOnboardingRepository {
	return &GormOnboardingRepository{db: db}
}

// FindByUser returns a user's progress
func (r *GormOnboardingRepository) FindByUser(ctx context.Context, tenantID, userID uuid.UUID) (*onboarding.Progress, error) {
	var model models.OnboardingProgressModel
	if err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND user_id = ?", tenantID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, onboarding.ErrProgressNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates the progress
func (r *GormOnboardingRepository) Save(ctx context.Context, p *onboarding.Progress) error {
	return r.db.WithContext(ctx).Save(models.OnboardingProgressModelFromDomain(p)).Error
}

var _ onboarding.ProgressRepository = (*GormOnboardingRepository)(nil)
