package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appnotification "github.com/supplychain/backend/internal/application/notification"
	"github.com/supplychain/backend/internal/domain/notification"
	"github.com/supplychain/backend/internal/interfaces/http/dto"
)

// NotificationService is the part of the notification service the handler needs
type NotificationService interface {
	List(ctx context.Context, tenantID, userID uuid.UUID, filter appnotification.ListFilter) ([]appnotification.NotificationResponse, int64, error)
	MarkRead(ctx context.Context, tenantID, userID, id uuid.UUID) (*appnotification.NotificationResponse, error)
	MarkAllRead(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, tenantID, userID uuid.UUID) (int64, error)
}

// NotificationHandler serves the caller's notification feed
type NotificationHandler struct {
	BaseHandler
	svc NotificationService
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(svc NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// NotificationQuery filters the feed
type NotificationQuery struct {
	dto.ListRequest
	UnreadOnly bool   `form:"unread_only"`
	Category   string `form:"category" binding:"omitempty,oneof=INTEGRATION KYC ONBOARDING SYSTEM"`
}

// List returns the feed, newest first
//
//	GET /notifications?unread_only=true&category=INTEGRATION
func (h *NotificationHandler) List(c *gin.Context) {
	tenantID, userID, ok := h.Caller(c)
	if !ok {
		return
	}
	var q NotificationQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter := h.Filter(q.ListRequest)
	items, total, err := h.svc.List(c.Request.Context(), tenantID, userID, appnotification.ListFilter{
		Filter:     filter,
		UnreadOnly: q.UnreadOnly,
		Category:   notification.Category(q.Category),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, items, total, filter.Page, filter.PageSize)
}

// CountResponse carries a single count
type CountResponse struct {
	Count int64 `json:"count"`
}

// UnreadCount returns how many notifications are unread
//
//	GET /notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	tenantID, userID, ok := h.Caller(c)
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(c.Request.Context(), tenantID, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, CountResponse{Count: n})
}

// MarkRead marks one notification read
//
//	POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	tenantID, userID, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.MarkRead(c.Request.Context(), tenantID, userID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// MarkAllRead marks the whole feed read and returns how many changed
//
//	POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	tenantID, userID, ok := h.Caller(c)
	if !ok {
		return
	}
	n, err := h.svc.MarkAllRead(c.Request.Context(), tenantID, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, CountResponse{Count: n})
}
