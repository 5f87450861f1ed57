package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/application/identity"
)

// AuthService is the part of identity.AuthService the handler needs
type AuthService interface {
	Login(ctx context.Context, input identity.LoginInput) (*identity.TokenResult, error)
	Refresh(ctx context.Context, input identity.RefreshInput) (*identity.TokenResult, error)
	Me(ctx context.Context, userID uuid.UUID) (*identity.UserInfo, error)
}

// AuthHandler serves login, token refresh and the current user
type AuthHandler struct {
	BaseHandler
	auth AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login exchanges credentials for a token pair
//
//	POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req identity.LoginInput
	if !h.BindJSON(c, &req) {
		return
	}
	result, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Refresh rotates the refresh token
//
//	POST /auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req identity.RefreshInput
	if !h.BindJSON(c, &req) {
		return
	}
	result, err := h.auth.Refresh(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Me returns the authenticated user
//
//	GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	_, userID, ok := h.Caller(c)
	if !ok {
		return
	}
	user, err := h.auth.Me(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, user)
}
