package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
)

var iotResources = map[integration.RecordKind]string{
	integration.RecordKindTelemetry: "/api/v1/telemetry",
	integration.RecordKindShipment:  "/api/v1/trackers",
}

type iotSession struct {
	base   string
	apiKey string
}

// IoTAdapter reads device telemetry and shipment trackers
type IoTAdapter struct {
	core     *httpCore
	sessions *sessions[iotSession]
}

// NewIoTAdapter creates the IoT platform adapter
func NewIoTAdapter(cfg Config, logger *zap.Logger) *IoTAdapter {
	return &IoTAdapter{
		core:     newHTTPCore("iot", cfg, logger),
		sessions: newSessions[iotSession](),
	}
}

// Type implements integration.Adapter
func (a *IoTAdapter) Type() integration.IntegrationType { return integration.IntegrationTypeIoT }

// Connect checks the health endpoint with the API key
func (a *IoTAdapter) Connect(ctx context.Context, cfg integration.ConnectionConfig) error {
	s, err := a.open(ctx, cfg)
	if err != nil {
		return err
	}
	a.sessions.put(cfg.IntegrationID, s)
	return nil
}

// TestConnection checks the health endpoint without keeping a session
func (a *IoTAdapter) TestConnection(ctx context.Context, cfg integration.ConnectionConfig) error {
	_, err := a.open(ctx, cfg)
	a.core.forget(cfg.IntegrationID)
	return err
}

// Disconnect drops the session
func (a *IoTAdapter) Disconnect(_ context.Context, integrationID uuid.UUID) error {
	a.sessions.drop(integrationID)
	a.core.forget(integrationID)
	return nil
}

func (a *IoTAdapter) open(ctx context.Context, cfg integration.ConnectionConfig) (*iotSession, error) {
	if err := requireCreds(cfg, "api_key"); err != nil {
		return nil, err
	}
	s := &iotSession{base: strings.TrimRight(cfg.Endpoint, "/"), apiKey: cfg.Credentials.Get("api_key")}
	if _, err := a.core.do(ctx, cfg.IntegrationID, vendorRequest{
		Method: http.MethodGet,
		URL:    s.base + "/api/v1/health",
		Header: s.header(),
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *iotSession) header() http.Header {
	return http.Header{"X-Api-Key": {s.apiKey}}
}

type iotListResponse struct {
	Data       []map[string]any `json:"data"`
	NextCursor string           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// Fetch reads one page of telemetry readings or trackers
func (a *IoTAdapter) Fetch(ctx context.Context, integrationID uuid.UUID, req integration.FetchRequest) (*integration.FetchPage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	path, ok := iotResources[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: iot fetch %s", integration.ErrOperationNotSupported, req.Kind)
	}
	s, err := a.sessions.get(integrationID)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(req.PageSize))
	if req.Since != nil && !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.RFC3339))
	}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}

	resp, err := a.core.do(ctx, integrationID, vendorRequest{
		Method: http.MethodGet,
		URL:    s.base + path + "?" + q.Encode(),
		Header: s.header(),
	})
	if err != nil {
		return nil, err
	}
	var body iotListResponse
	if err := decodeJSON("iot", resp.Body, &body); err != nil {
		return nil, err
	}
	return &integration.FetchPage{
		Records:    toRecords(req.Kind, body.Data, field("id")),
		NextCursor: body.NextCursor,
		HasMore:    body.HasMore && body.NextCursor != "",
		Raw:        resp.Body,
	}, nil
}

// Push is not offered by the platform
func (a *IoTAdapter) Push(_ context.Context, _ uuid.UUID, req integration.PushRequest) (*integration.PushResult, error) {
	return nil, fmt.Errorf("%w: iot push %s", integration.ErrOperationNotSupported, req.Kind)
}

var _ integration.Adapter = (*IoTAdapter)(nil)
