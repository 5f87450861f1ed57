// Package notification serves the in-app notification feed and turns
// integration and KYC events into notifications.
package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/notification"
	"github.com/supplychain/backend/internal/domain/shared"
)

// Service manages notifications
type Service struct {
	repo   notification.NotificationRepository
	logger *zap.Logger
}

// NewService creates a notification service
func NewService(repo notification.NotificationRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Notify stores a new notification
func (s *Service) Notify(ctx context.Context, tenantID uuid.UUID, input NotifyInput) (*NotificationResponse, error) {
	n, err := notification.NewNotification(tenantID, input.Level, input.Category, input.Title, input.Message)
	if err != nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, err.Error())
	}
	if input.UserID != nil {
		n.ForUser(*input.UserID)
	}
	if input.SourceID != nil {
		n.WithSource(input.SourceType, *input.SourceID)
	}
	if err := s.repo.Save(ctx, n); err != nil {
		return nil, err
	}
	s.logger.Debug("Notification created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("category", string(n.Category)),
		zap.String("level", string(n.Level)),
	)
	resp := ToNotificationResponse(n)
	return &resp, nil
}

// List returns the notifications visible to the user
func (s *Service) List(ctx context.Context, tenantID, userID uuid.UUID, filter ListFilter) ([]NotificationResponse, int64, error) {
	if filter.Category != "" && !filter.Category.IsValid() {
		return nil, 0, shared.NewDomainError(shared.CodeInvalidInput, notification.ErrInvalidCategory.Error())
	}
	items, total, err := s.repo.FindVisible(ctx, tenantID, notification.ListFilter{
		Filter:     filter.Filter.Normalize(),
		UserID:     userID,
		UnreadOnly: filter.UnreadOnly,
		Category:   filter.Category,
	})
	if err != nil {
		return nil, 0, err
	}
	out := make([]NotificationResponse, 0, len(items))
	for i := range items {
		out = append(out, ToNotificationResponse(&items[i]))
	}
	return out, total, nil
}

// MarkRead marks one notification read. Marking it again keeps the first read time.
func (s *Service) MarkRead(ctx context.Context, tenantID, userID, id uuid.UUID) (*NotificationResponse, error) {
	n, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, notification.ErrNotificationNotFound) {
			return nil, shared.NewDomainError(shared.CodeNotFound, "Notification not found")
		}
		return nil, err
	}
	if !n.VisibleTo(tenantID, userID) {
		return nil, shared.NewDomainError(shared.CodeNotFound, "Notification not found")
	}
	if !n.IsRead() {
		n.MarkRead()
		if err := s.repo.Save(ctx, n); err != nil {
			return nil, err
		}
	}
	resp := ToNotificationResponse(n)
	return &resp, nil
}

// MarkAllRead marks every visible notification read and returns how many changed
func (s *Service) MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, tenantID, userID)
}

// UnreadCount counts the user's unread notifications
func (s *Service) UnreadCount(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	return s.repo.CountUnread(ctx, tenantID, userID)
}
