package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/kyc"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormKYCRepository implements kyc.ApplicationRepository using GORM
type GormKYCRepository struct {
	db *gorm.DB
}

// NewGormKYCRepository creates a new GormKYCRepository
func NewGormKYCRepository(db *gorm.DB) *GormKYCRepository {
	return &GormKYCRepository{db: db}
}

// FindByTenant returns the tenant's application
func (r *GormKYCRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*kyc.Application, error) {
	var model models.KYCApplicationModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kyc.ErrApplicationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByStatus lists applications in a status across tenants
func (r *GormKYCRepository) FindByStatus(ctx context.Context, status kyc.Status, filter shared.Filter) ([]kyc.Application, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.KYCApplicationModel{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.KYCApplicationModel
	if err := paginate(query, filter, KYCSortFields, "submitted_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]kyc.Application, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// Save creates or updates the application
func (r *GormKYCRepository) Save(ctx context.Context, app *kyc.Application) error {
	return r.db.WithContext(ctx).Save(models.KYCApplicationModelFromDomain(app)).Error
}

var _ kyc.ApplicationRepository = (*GormKYCRepository)(nil)
