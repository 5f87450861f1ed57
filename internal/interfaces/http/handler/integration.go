package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appintegration "github.com/supplychain/backend/internal/application/integration"
	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/interfaces/http/dto"
)

// IntegrationService is the part of the integration Manager the handler needs
type IntegrationService interface {
	CreateIntegration(ctx context.Context, tenantID uuid.UUID, req appintegration.CreateIntegrationRequest) (*appintegration.IntegrationResponse, error)
	GetIntegration(ctx context.Context, tenantID, id uuid.UUID) (*appintegration.IntegrationResponse, error)
	ListIntegrations(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]appintegration.IntegrationResponse, int64, error)
	UpdateIntegration(ctx context.Context, tenantID, id uuid.UUID, req appintegration.UpdateIntegrationRequest) (*appintegration.IntegrationResponse, error)
	DeleteIntegration(ctx context.Context, tenantID, id uuid.UUID) error
	Connect(ctx context.Context, tenantID, id uuid.UUID) (*appintegration.IntegrationResponse, error)
	Disconnect(ctx context.Context, tenantID, id uuid.UUID) (*appintegration.IntegrationResponse, error)
	TestConnection(ctx context.Context, tenantID, id uuid.UUID) error
	Sync(ctx context.Context, tenantID, id uuid.UUID, opts appintegration.SyncOptions) (*integration.SyncRun, error)
	ConnectAll(ctx context.Context, tenantID uuid.UUID) (*appintegration.BatchResult, error)
	SyncAll(ctx context.Context, tenantID uuid.UUID) (*appintegration.BatchResult, error)
	DisconnectAll(ctx context.Context, tenantID uuid.UUID) (*appintegration.BatchResult, error)
	ListSyncRuns(ctx context.Context, tenantID, id uuid.UUID, filter shared.Filter) ([]appintegration.SyncRunResponse, int64, error)
	GetSyncRun(ctx context.Context, tenantID, runID uuid.UUID) (*appintegration.SyncRunResponse, error)
	ListRecords(ctx context.Context, tenantID, id uuid.UUID, kind integration.RecordKind, filter shared.Filter) ([]appintegration.RecordResponse, int64, error)
}

// IntegrationHandler serves /integrations
type IntegrationHandler struct {
	BaseHandler
	svc IntegrationService
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(svc IntegrationService) *IntegrationHandler {
	return &IntegrationHandler{svc: svc}
}

// ListTypes lists the supported integration types with their capabilities
//
//	GET /integrations/types
func (h *IntegrationHandler) ListTypes(c *gin.Context) {
	h.Success(c, appintegration.ListTypes())
}

// List lists the tenant's integrations
//
//	GET /integrations
func (h *IntegrationHandler) List(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	var q dto.ListRequest
	if !h.BindQuery(c, &q) {
		return
	}
	filter := h.Filter(q)
	items, total, err := h.svc.ListIntegrations(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, items, total, filter.Page, filter.PageSize)
}

// Create registers a new integration
//
//	POST /integrations
func (h *IntegrationHandler) Create(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	var req appintegration.CreateIntegrationRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.svc.CreateIntegration(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// Get returns one integration
//
//	GET /integrations/:id
func (h *IntegrationHandler) Get(c *gin.Context) {
	h.withIntegration(c, func(ctx context.Context, tenantID, id uuid.UUID) (any, error) {
		return h.svc.GetIntegration(ctx, tenantID, id)
	})
}

// Update changes name, endpoint, settings, credentials or schedule
//
//	PUT /integrations/:id
func (h *IntegrationHandler) Update(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appintegration.UpdateIntegrationRequest
	if !h.BindJSON(c, &req) {
		return
	}
	resp, err := h.svc.UpdateIntegration(c.Request.Context(), tenantID, id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Delete removes an integration
//
//	DELETE /integrations/:id
func (h *IntegrationHandler) Delete(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteIntegration(c.Request.Context(), tenantID, id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// Connect opens the vendor connection
//
//	POST /integrations/:id/connect
func (h *IntegrationHandler) Connect(c *gin.Context) {
	h.withIntegration(c, func(ctx context.Context, tenantID, id uuid.UUID) (any, error) {
		return h.svc.Connect(ctx, tenantID, id)
	})
}

// Disconnect closes the vendor connection
//
//	POST /integrations/:id/disconnect
func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	h.withIntegration(c, func(ctx context.Context, tenantID, id uuid.UUID) (any, error) {
		return h.svc.Disconnect(ctx, tenantID, id)
	})
}

// TestResult is the body of a successful connection test
type TestResult struct {
	IntegrationID uuid.UUID `json:"integration_id"`
	Reachable     bool      `json:"reachable"`
}

// Test checks the vendor endpoint and credentials without changing state
//
//	POST /integrations/:id/test
func (h *IntegrationHandler) Test(c *gin.Context) {
	h.withIntegration(c, func(ctx context.Context, tenantID, id uuid.UUID) (any, error) {
		if err := h.svc.TestConnection(ctx, tenantID, id); err != nil {
			return nil, err
		}
		return TestResult{IntegrationID: id, Reachable: true}, nil
	})
}

// Sync runs a manual sync. The body is optional; without one every
// supported kind is pulled.
//
//	POST /integrations/:id/sync
func (h *IntegrationHandler) Sync(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req appintegration.SyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.bindError(c, err)
			return
		}
	}
	run, err := h.svc.Sync(c.Request.Context(), tenantID, id, req.ToOptions(integration.SyncTriggerManual))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appintegration.ToSyncRunResponse(run))
}

// ListRuns lists the sync history of an integration
//
//	GET /integrations/:id/runs
func (h *IntegrationHandler) ListRuns(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var q dto.ListRequest
	if !h.BindQuery(c, &q) {
		return
	}
	filter := h.Filter(q)
	runs, total, err := h.svc.ListSyncRuns(c.Request.Context(), tenantID, id, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, runs, total, filter.Page, filter.PageSize)
}

// GetRun returns one sync run of the integration
//
//	GET /integrations/:id/runs/:run_id
func (h *IntegrationHandler) GetRun(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	runID, ok := h.ParamUUID(c, "run_id")
	if !ok {
		return
	}
	run, err := h.svc.GetSyncRun(c.Request.Context(), tenantID, runID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if run.IntegrationID != id {
		h.HandleError(c, integration.ErrSyncRunNotFound)
		return
	}
	h.Success(c, run)
}

// RecordQuery filters the reconciled records
type RecordQuery struct {
	dto.ListRequest
	Kind string `form:"kind" binding:"omitempty,record_kind"`
}

// ListRecords lists the reconciled records of an integration
//
//	GET /integrations/:id/records?kind=ORDER
func (h *IntegrationHandler) ListRecords(c *gin.Context) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var q RecordQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter := h.Filter(q.ListRequest)
	records, total, err := h.svc.ListRecords(c.Request.Context(), tenantID, id, integration.RecordKind(q.Kind), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, records, total, filter.Page, filter.PageSize)
}

// ConnectAll connects every enabled integration of the tenant
//
//	POST /integrations/connect-all
func (h *IntegrationHandler) ConnectAll(c *gin.Context) {
	h.batch(c, h.svc.ConnectAll)
}

// SyncAll syncs every connected integration of the tenant
//
//	POST /integrations/sync-all
func (h *IntegrationHandler) SyncAll(c *gin.Context) {
	h.batch(c, h.svc.SyncAll)
}

// DisconnectAll disconnects every connected integration of the tenant
//
//	POST /integrations/disconnect-all
func (h *IntegrationHandler) DisconnectAll(c *gin.Context) {
	h.batch(c, h.svc.DisconnectAll)
}

// batch answers 200 even when some integrations failed; the per-integration
// outcome is in the body.
func (h *IntegrationHandler) batch(c *gin.Context, op func(context.Context, uuid.UUID) (*appintegration.BatchResult, error)) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	result, err := op(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

func (h *IntegrationHandler) withIntegration(c *gin.Context, fn func(ctx context.Context, tenantID, id uuid.UUID) (any, error)) {
	tenantID, _, ok := h.Caller(c)
	if !ok {
		return
	}
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	resp, err := fn(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
