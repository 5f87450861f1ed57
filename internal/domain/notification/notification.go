// Package notification holds in-app notifications raised by integration,
// KYC and onboarding activity.
package notification

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

var (
	ErrNotificationNotFound = errors.New("notification: not found")
	ErrInvalidLevel         = errors.New("notification: invalid level")
	ErrInvalidCategory      = errors.New("notification: invalid category")
	ErrTitleRequired        = errors.New("notification: title is required")
	ErrInvalidTenantID      = errors.New("notification: invalid tenant ID")
)

// Level is the severity shown to the user
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// IsValid returns true if the level is known
func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	default:
		return false
	}
}

// Category groups notifications by origin
type Category string

const (
	CategoryIntegration Category = "INTEGRATION"
	CategoryKYC         Category = "KYC"
	CategoryOnboarding  Category = "ONBOARDING"
	CategorySystem      Category = "SYSTEM"
)

// IsValid returns true if the category is known
func (c Category) IsValid() bool {
	switch c {
	case CategoryIntegration, CategoryKYC, CategoryOnboarding, CategorySystem:
		return true
	default:
		return false
	}
}

// Notification is a message for a tenant, or for one user when UserID is set
type Notification struct {
	shared.BaseEntity
	TenantID   uuid.UUID
	UserID     *uuid.UUID
	Level      Level
	Category   Category
	Title      string
	Message    string
	SourceType string
	SourceID   *uuid.UUID
	ReadAt     *time.Time
}

// NewNotification validates and creates an unread notification
func NewNotification(tenantID uuid.UUID, level Level, category Category, title, message string) (*Notification, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !level.IsValid() {
		return nil, ErrInvalidLevel
	}
	if !category.IsValid() {
		return nil, ErrInvalidCategory
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	return &Notification{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Level:      level,
		Category:   category,
		Title:      title,
		Message:    strings.TrimSpace(message),
	}, nil
}

// WithSource links the notification to the aggregate that caused it
func (n *Notification) WithSource(sourceType string, sourceID uuid.UUID) *Notification {
	n.SourceType = sourceType
	n.SourceID = &sourceID
	return n
}

// ForUser targets a single user
func (n *Notification) ForUser(userID uuid.UUID) *Notification {
	n.UserID = &userID
	return n
}

// MarkRead sets ReadAt once; later calls keep the first time
func (n *Notification) MarkRead() {
	if n.ReadAt != nil {
		return
	}
	now := time.Now()
	n.ReadAt = &now
	n.Touch()
}

// IsRead reports whether the notification was read
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// VisibleTo reports whether a user in the tenant may see the notification
func (n *Notification) VisibleTo(tenantID, userID uuid.UUID) bool {
	if n.TenantID != tenantID {
		return false
	}
	return n.UserID == nil || *n.UserID == userID
}
