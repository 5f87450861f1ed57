package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/notification"
	"github.com/supplychain/backend/internal/domain/shared"
)

// NotifyInput describes a notification to create
type NotifyInput struct {
	UserID     *uuid.UUID
	Level      notification.Level
	Category   notification.Category
	Title      string
	Message    string
	SourceType string
	SourceID   *uuid.UUID
}

// ListFilter narrows the notification feed
type ListFilter struct {
	shared.Filter
	UnreadOnly bool
	Category   notification.Category
}

// NotificationResponse is one feed entry
type NotificationResponse struct {
	ID         uuid.UUID             `json:"id"`
	Level      notification.Level    `json:"level"`
	Category   notification.Category `json:"category"`
	Title      string                `json:"title"`
	Message    string                `json:"message"`
	SourceType string                `json:"source_type,omitempty"`
	SourceID   *uuid.UUID            `json:"source_id,omitempty"`
	Read       bool                  `json:"read"`
	ReadAt     *time.Time            `json:"read_at,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

// ToNotificationResponse converts a notification to a response
func ToNotificationResponse(n *notification.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         n.ID,
		Level:      n.Level,
		Category:   n.Category,
		Title:      n.Title,
		Message:    n.Message,
		SourceType: n.SourceType,
		SourceID:   n.SourceID,
		Read:       n.IsRead(),
		ReadAt:     n.ReadAt,
		CreatedAt:  n.CreatedAt,
	}
}
