package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/notification"
	"github.com/supplychain/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormNotificationRepository implements NotificationRepository using GORM
type GormNotificationRepository struct {
	db *gorm.DB
}

// NewGormNotificationRepository creates a new GormNotificationRepository
func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

// Save creates or updates a notification
func (r *GormNotificationRepository) Save(ctx context.Context, n *notification.Notification) error {
	return r.db.WithContext(ctx).Save(models.NotificationModelFromDomain(n)).Error
}

// FindByID finds a notification within a tenant
func (r *GormNotificationRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*notification.Notification, error) {
	var model models.NotificationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notification.ErrNotificationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// visibleTo scopes to tenant-wide notifications plus the user's own
func (r *GormNotificationRepository) visibleTo(ctx context.Context, tenantID, userID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.NotificationModel{}).
		Where("tenant_id = ?", tenantID).
		Where("user_id IS NULL OR user_id = ?", userID)
}

// FindVisible lists notifications the user can see
func (r *GormNotificationRepository) FindVisible(ctx context.Context, tenantID uuid.UUID, filter notification.ListFilter) ([]notification.Notification, int64, error) {
	query := r.visibleTo(ctx, tenantID, filter.UserID)
	if filter.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.NotificationModel
	if err := paginate(query, filter.Filter, NotificationSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]notification.Notification, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// CountUnread counts unread notifications visible to the user
func (r *GormNotificationRepository) CountUnread(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	var count int64
	if err := r.visibleTo(ctx, tenantID, userID).Where("read_at IS NULL").Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// MarkAllRead marks every unread notification visible to the user as read
func (r *GormNotificationRepository) MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	now := time.Now()
	result := r.visibleTo(ctx, tenantID, userID).
		Where("read_at IS NULL").
		Updates(map[string]any{"read_at": now, "updated_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

var _ notification.NotificationRepository = (*GormNotificationRepository)(nil)
