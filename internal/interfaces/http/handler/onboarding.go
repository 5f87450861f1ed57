package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apponboarding "github.com/supplychain/backend/internal/application/onboarding"
	"github.com/supplychain/backend/internal/domain/onboarding"
)

// OnboardingService is the part of the onboarding service the handler needs
type OnboardingService interface {
	Get(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error)
	Start(ctx context.Context, tenantID, userID uuid.UUID, role string) (*apponboarding.ProgressResponse, error)
	CompleteStep(ctx context.Context, tenantID, userID uuid.UUID, key string) (*apponboarding.ProgressResponse, error)
	Skip(ctx context.Context, tenantID, userID uuid.UUID, key string) (*apponboarding.ProgressResponse, error)
	GoTo(ctx context.Context, tenantID, userID uuid.UUID, index int) (*apponboarding.ProgressResponse, error)
	Next(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error)
	Previous(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error)
	Reset(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error)
	Flows() map[onboarding.Role][]onboarding.Step
}

// OnboardingHandler serves the caller's onboarding walkthrough
type OnboardingHandler struct {
	BaseHandler
	svc OnboardingService
}

// NewOnboardingHandler creates a new OnboardingHandler
func NewOnboardingHandler(svc OnboardingService) *OnboardingHandler {
	return &OnboardingHandler{svc: svc}
}

// Get returns the caller's progress
//
//	GET /onboarding
func (h *OnboardingHandler) Get(c *gin.Context) {
	h.userAction(c, h.svc.Get)
}

// Flows lists the steps of every role
//
//	GET /onboarding/flows
func (h *OnboardingHandler) Flows(c *gin.Context) {
	h.Success(c, h.svc.Flows())
}

// Start begins the walkthrough for a role
//
//	POST /onboarding/start
func (h *OnboardingHandler) Start(c *gin.Context) {
	var req apponboarding.StartRequest
	if !h.BindJSON(c, &req) {
		return
	}
	h.userAction(c, func(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error) {
		return h.svc.Start(ctx, tenantID, userID, req.Role)
	})
}

// CompleteStep marks a step done
//
//	POST /onboarding/steps/:key/complete
func (h *OnboardingHandler) CompleteStep(c *gin.Context) {
	key := c.Param("key")
	h.userAction(c, func(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error) {
		return h.svc.CompleteStep(ctx, tenantID, userID, key)
	})
}

// SkipStep skips an optional step
//
//	POST /onboarding/steps/:key/skip
func (h *OnboardingHandler) SkipStep(c *gin.Context) {
	key := c.Param("key")
	h.userAction(c, func(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error) {
		return h.svc.Skip(ctx, tenantID, userID, key)
	})
}

// GoTo jumps to a step by index
//
//	POST /onboarding/goto
func (h *OnboardingHandler) GoTo(c *gin.Context) {
	var req apponboarding.GoToRequest
	if !h.BindJSON(c, &req) {
		return
	}
	h.userAction(c, func(ctx context.Context, tenantID, userID uuid.UUID) (*apponboarding.ProgressResponse, error) {
		return h.svc.GoTo(ctx, tenantID, userID, *req.Index)
	})
}

// Next moves one step forward
//
//	POST /onboarding/next
func (h *OnboardingHandler) Next(c *gin.Context) {
	h.userAction(c, h.svc.Next)
}

// Previous moves one step back
//
//	POST /onboarding/previous
func (h *OnboardingHandler) Previous(c *gin.Context) {
	h.userAction(c, h.svc.Previous)
}

// Reset starts the walkthrough over
//
//	POST /onboarding/reset
func (h *OnboardingHandler) Reset(c *gin.Context) {
	h.userAction(c, h.svc.Reset)
}

func (h *OnboardingHandler) userAction(c *gin.Context, fn func(context.Context, uuid.UUID, uuid.UUID) (*apponboarding.ProgressResponse, error)) {
	tenantID, userID, ok := h.Caller(c)
	if !ok {
		return
	}
	resp, err := fn(c.Request.Context(), tenantID, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
