package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appkyc "github.com/supplychain/backend/internal/application/kyc"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/interfaces/http/dto"
)

// KYCService is the part of the KYC service the handler needs
type KYCService interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*appkyc.ApplicationResponse, error)
	Start(ctx context.Context, tenantID uuid.UUID) (*appkyc.ApplicationResponse, error)
	UpdateDetails(ctx context.Context, tenantID uuid.UUID, req appkyc.UpdateDetailsRequest) (*appkyc.ApplicationResponse, error)
	RequestDocumentUpload(ctx context.Context, tenantID uuid.UUID, req appkyc.UploadURLRequest) (*appkyc.UploadURLResponse, error)
	AddDocument(ctx context.Context, tenantID uuid.UUID, req appkyc.AddDocumentRequest) (*appkyc.ApplicationResponse, error)
	Submit(ctx context.Context, tenantID uuid.UUID) (*appkyc.ApplicationResponse, error)
	Reopen(ctx context.Context, tenantID uuid.UUID) (*appkyc.ApplicationResponse, error)
	Approve(ctx context.Context, tenantID, reviewerID uuid.UUID) (*appkyc.ApplicationResponse, error)
	Reject(ctx context.Context, tenantID, reviewerID uuid.UUID, reason string) (*appkyc.ApplicationResponse, error)
	ListPending(ctx context.Context, filter shared.Filter) ([]appkyc.ApplicationResponse, int64, error)
}

// KYCHandler serves the caller's KYC application and the admin review
type KYCHandler struct {
	BaseHandler
	svc KYCService
}

// NewKYCHandler creates a new KYCHandler
func NewKYCHandler(svc KYCService) *KYCHandler {
	return &KYCHandler{svc: svc}
}

// Get returns the caller's application, creating it on first access
//
//	GET /kyc
func (h *KYCHandler) Get(c *gin.Context) {
	h.tenantAction(c, h.svc.Get)
}

// Start begins the application
//
//	POST /kyc/start
func (h *KYCHandler) Start(c *gin.Context) {
	h.tenantAction(c, h.svc.Start)
}

// Submit sends the application for review
//
//	POST /kyc/submit
func (h *KYCHandler) Submit(c *gin.Context) {
	h.tenantAction(c, h.svc.Submit)
}

// Reopen returns a rejected application to editing
//
//	POST /kyc/reopen
func (h *KYCHandler) Reopen(c *gin.Context) {
	h.tenantAction(c, h.svc.Reopen)
}

// UpdateDetails replaces the business details
//
//	PUT /kyc/details
func (h *KYCHandler) UpdateDetails(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	var req appkyc.UpdateDetailsRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.svc.UpdateDetails(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// UploadURL presigns a document upload
//
//	POST /kyc/documents/upload-url
func (h *KYCHandler) UploadURL(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	var req appkyc.UploadURLRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.svc.RequestDocumentUpload(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// AddDocument attaches an uploaded document
//
//	POST /kyc/documents
func (h *KYCHandler) AddDocument(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	var req appkyc.AddDocumentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.svc.AddDocument(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// ListPending lists applications waiting for review
//
//	GET /kyc/pending (ADMIN)
func (h *KYCHandler) ListPending(c *gin.Context) {
	var q dto.ListRequest
	if !h.BindQuery(c, &q) {
		return
	}
	filter := h.Filter(q)
	apps, total, err := h.svc.ListPending(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, apps, total, filter.Page, filter.PageSize)
}

// Approve accepts a tenant's application
//
//	POST /kyc/:tenant_id/approve (ADMIN)
func (h *KYCHandler) Approve(c *gin.Context) {
	_, reviewerID, ok := h.Caller(c)
	if !ok {
		return
	}
	tenantID, ok := h.ParamUUID(c, "tenant_id")
	if !ok {
		return
	}
	resp, err := h.svc.Approve(c.Request.Context(), tenantID, reviewerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Reject declines a tenant's application with a reason
//
//	POST /kyc/:tenant_id/reject (ADMIN)
func (h *KYCHandler) Reject(c *gin.Context) {
	_, reviewerID, ok := h.Caller(c)
	if !ok {
		return
	}
	tenantID, ok := h.ParamUUID(c, "tenant_id")
	if !ok {
		return
	}
	var req appkyc.RejectRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.svc.Reject(c.Request.Context(), tenantID, reviewerID, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

func (h *KYCHandler) tenantAction(c *gin.Context, fn func(context.Context, uuid.UUID) (*appkyc.ApplicationResponse, error)) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	resp, err := fn(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
