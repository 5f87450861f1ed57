package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// ListFilter narrows a notification listing
type ListFilter struct {
	shared.Filter
	UserID     uuid.UUID
	UnreadOnly bool
	Category   Category
}

// NotificationRepository defines persistence for notifications
type NotificationRepository interface {
	Save(ctx context.Context, n *Notification) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Notification, error)
	// FindVisible lists tenant-wide notifications plus those addressed to filter.UserID
	FindVisible(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Notification, int64, error)
	CountUnread(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
}
