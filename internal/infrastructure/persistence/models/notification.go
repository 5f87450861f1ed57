package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/notification"
)

// NotificationModel is the persistence model for notifications
type NotificationModel struct {
	BaseModel
	TenantID   uuid.UUID             `gorm:"type:uuid;not null;index:idx_notifications_tenant_created,priority:1"`
	UserID     *uuid.UUID            `gorm:"type:uuid;index"`
	Level      notification.Level    `gorm:"type:varchar(20);not null"`
	Category   notification.Category `gorm:"type:varchar(20);not null;index"`
	Title      string                `gorm:"type:varchar(200);not null"`
	Message    string                `gorm:"type:text"`
	SourceType string                `gorm:"type:varchar(50)"`
	SourceID   *uuid.UUID            `gorm:"type:uuid"`
	ReadAt     *time.Time            `gorm:"index"`
}

// TableName returns the table name for GORM
func (NotificationModel) TableName() string {
	return "notifications"
}

// ToDomain converts the persistence model to the domain entity
func (m *NotificationModel) ToDomain() *notification.Notification {
	return &notification.Notification{
		BaseEntity: m.BaseModel.ToDomain(),
		TenantID:   m.TenantID,
		UserID:     m.UserID,
		Level:      m.Level,
		Category:   m.Category,
		Title:      m.Title,
		Message:    m.Message,
		SourceType: m.SourceType,
		SourceID:   m.SourceID,
		ReadAt:     m.ReadAt,
	}
}

// NotificationModelFromDomain creates a new persistence model from the entity
func NotificationModelFromDomain(n *notification.Notification) *NotificationModel {
	m := &NotificationModel{
		TenantID:   n.TenantID,
		UserID:     n.UserID,
		Level:      n.Level,
		Category:   n.Category,
		Title:      n.Title,
		Message:    n.Message,
		SourceType: n.SourceType,
		SourceID:   n.SourceID,
		ReadAt:     n.ReadAt,
	}
	m.FromDomainBaseEntity(n.BaseEntity)
	return m
}
