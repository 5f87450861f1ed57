// Package handler holds the gin handlers of the /api/v1 surface.
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/logger"
	"github.com/supplychain/backend/internal/interfaces/http/dto"
	"github.com/supplychain/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response, deriving the status from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeUnauthorized, message)
}

// BindJSON binds the body into obj and writes the error response on failure
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

// BindQuery binds query parameters into obj and writes the error response on failure
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

func (h *BaseHandler) bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &verrs):
		middleware.HandleValidationError(c, verrs)
	case errors.As(err, &tooLarge):
		h.Error(c, dto.ErrCodeBodyTooLarge, "Request body exceeds maximum allowed size")
	default:
		h.Error(c, dto.ErrCodeInvalidJSON, "Malformed request body")
	}
}

// ParamUUID parses a path parameter as a UUID and writes a 400 when it is not one
func (h *BaseHandler) ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+strings.ReplaceAll(name, "_", " "))
		return uuid.Nil, false
	}
	return id, true
}

// Caller returns the tenant and user from the access token. Routes behind
// JWTAuth always have them; the 401 is for misconfigured routes.
func (h *BaseHandler) Caller(c *gin.Context) (tenantID, userID uuid.UUID, ok bool) {
	tenantID, tok := middleware.GetTenantID(c)
	userID, uok := middleware.GetUserID(c)
	if !tok || !uok {
		h.Unauthorized(c, "Authentication required")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, userID, true
}

// Filter converts list query parameters to a repository filter
func (h *BaseHandler) Filter(req dto.ListRequest) shared.Filter {
	f := shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		Search:   req.Search,
	}
	if req.OrderBy != "" {
		f.OrderBy = req.OrderBy
		f.OrderDir = req.OrderDir
	}
	return f.Normalize()
}

// HandleError maps service errors to the response envelope. Unknown errors
// are logged and answered with a generic 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.Error(c, dto.NormalizeErrorCode(domainErr.Code), domainErr.Message)
		return
	}
	if code, ok := integrationErrorCode(err); ok {
		h.Error(c, code, err.Error())
		return
	}

	logger.L(c.Request.Context()).Error("Unhandled request error", zap.Error(err))
	h.Error(c, dto.ErrCodeInternal, "An unexpected error occurred")
}

func integrationErrorCode(err error) (string, bool) {
	is := func(targets ...error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
	switch {
	case is(integration.ErrIntegrationNotFound, integration.ErrSyncRunNotFound,
		integration.ErrSyncedRecordNotFound, integration.ErrMappingNotFound):
		return dto.ErrCodeNotFound, true
	case is(integration.ErrDuplicateName):
		return dto.ErrCodeAlreadyExists, true
	case is(integration.ErrUnsupportedType, integration.ErrInvalidName, integration.ErrInvalidEndpoint,
		integration.ErrInvalidTenantID, integration.ErrInvalidRecordKind, integration.ErrInvalidSyncDirection,
		integration.ErrMissingCredentials, integration.ErrMappingInvalid, integration.ErrInvalidSyncedRecordKey,
		integration.ErrMappingFailed):
		return dto.ErrCodeInvalidInput, true
	case is(integration.ErrIntegrationDisabled, integration.ErrNotConnected, integration.ErrSyncInProgress):
		return dto.ErrCodeInvalidState, true
	case is(integration.ErrOperationNotSupported, integration.ErrAdapterNotRegistered):
		return dto.ErrCodeNotSupported, true
	case is(integration.ErrVendorAuthFailed):
		return dto.ErrCodeVendorAuth, true
	case is(integration.ErrVendorUnavailable):
		return dto.ErrCodeVendorUnavailable, true
	case is(integration.ErrVendorRateLimited):
		return dto.ErrCodeVendorRateLimited, true
	case is(integration.ErrVendorRequestFailed, integration.ErrVendorInvalidResponse):
		return dto.ErrCodeExternalService, true
	default:
		return "", false
	}
}
