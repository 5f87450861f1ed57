package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
)

// maxPowerBIRows is the Power BI limit on rows per push request
const maxPowerBIRows = 10000

const defaultPowerBIScope = "https://analysis.windows.net/powerbi/api/.default"

var defaultPowerBITables = map[integration.RecordKind]string{
	integration.RecordKindOrder:     "Orders",
	integration.RecordKindInventory: "Inventory",
	integration.RecordKindShipment:  "Shipments",
}

type powerBISession struct {
	base      string
	datasetID string
	tables    map[integration.RecordKind]string

	mu     sync.Mutex
	token  *oauthToken
	config integration.ConnectionConfig
}

// PowerBIAdapter writes rows into Power BI push datasets
type PowerBIAdapter struct {
	core      *httpCore
	sessions  *sessions[powerBISession]
	batchSize int
	now       func() time.Time
}

// NewPowerBIAdapter creates the Power BI adapter
func NewPowerBIAdapter(cfg Config, logger *zap.Logger) *PowerBIAdapter {
	batch := cfg.PushBatchSize
	if batch <= 0 || batch > maxPowerBIRows {
		batch = maxPowerBIRows
	}
	return &PowerBIAdapter{
		core:      newHTTPCore("powerbi", cfg, logger),
		sessions:  newSessions[powerBISession](),
		batchSize: batch,
		now:       time.Now,
	}
}

// Type implements integration.Adapter
func (a *PowerBIAdapter) Type() integration.IntegrationType {
	return integration.IntegrationTypePowerBI
}

// Connect obtains an AAD token and verifies the dataset exists
func (a *PowerBIAdapter) Connect(ctx context.Context, cfg integration.ConnectionConfig) error {
	s, err := a.open(ctx, cfg)
	if err != nil {
		return err
	}
	a.sessions.put(cfg.IntegrationID, s)
	return nil
}

// TestConnection checks credentials and dataset without keeping a session
func (a *PowerBIAdapter) TestConnection(ctx context.Context, cfg integration.ConnectionConfig) error {
	_, err := a.open(ctx, cfg)
	a.core.forget(cfg.IntegrationID)
	return err
}

// Disconnect drops the session
func (a *PowerBIAdapter) Disconnect(_ context.Context, integrationID uuid.UUID) error {
	a.sessions.drop(integrationID)
	a.core.forget(integrationID)
	return nil
}

func (a *PowerBIAdapter) open(ctx context.Context, cfg integration.ConnectionConfig) (*powerBISession, error) {
	if err := requireCreds(cfg, "client_id", "client_secret"); err != nil {
		return nil, err
	}
	datasetID := cfg.Setting("dataset_id", cfg.Credentials.Get("dataset_id"))
	if datasetID == "" {
		return nil, fmt.Errorf("%w: dataset_id", integration.ErrMissingCredentials)
	}
	if cfg.Setting("token_url", cfg.Credentials.Get("token_url")) == "" {
		return nil, fmt.Errorf("%w: token_url", integration.ErrMissingCredentials)
	}

	s := &powerBISession{
		base:      strings.TrimRight(cfg.Endpoint, "/"),
		datasetID: datasetID,
		tables:    make(map[integration.RecordKind]string, len(defaultPowerBITables)),
		config:    cfg,
	}
	for kind, table := range defaultPowerBITables {
		s.tables[kind] = cfg.Setting("table_"+strings.ToLower(string(kind)), table)
	}

	header, err := a.bearer(ctx, s)
	if err != nil {
		return nil, err
	}
	if _, err := a.core.do(ctx, cfg.IntegrationID, vendorRequest{
		Method: http.MethodGet,
		URL:    s.base + "/datasets/" + url.PathEscape(datasetID),
		Header: header,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// bearer returns an Authorization header, refreshing the token when it is about to expire
func (a *PowerBIAdapter) bearer(ctx context.Context, s *powerBISession) (http.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.token.valid(a.now()) {
		cfg := s.config
		tok, err := clientCredentialsToken(ctx, a.core, cfg.IntegrationID,
			cfg.Setting("token_url", cfg.Credentials.Get("token_url")),
			cfg.Credentials.Get("client_id"), cfg.Credentials.Get("client_secret"),
			cfg.Setting("scope", defaultPowerBIScope))
		if err != nil {
			return nil, err
		}
		s.token = tok
	}
	return http.Header{"Authorization": {"Bearer " + s.token.AccessToken}}, nil
}

// Fetch is not offered by push datasets
func (a *PowerBIAdapter) Fetch(_ context.Context, _ uuid.UUID, req integration.FetchRequest) (*integration.FetchPage, error) {
	return nil, fmt.Errorf("%w: powerbi fetch %s", integration.ErrOperationNotSupported, req.Kind)
}

// Push appends rows in chunks. A rejected chunk fails every row in it and
// the remaining chunks are still attempted.
func (a *PowerBIAdapter) Push(ctx context.Context, integrationID uuid.UUID, req integration.PushRequest) (*integration.PushResult, error) {
	if !integration.Supports(integration.IntegrationTypePowerBI, req.Kind, integration.SyncDirectionOutbound) {
		return nil, fmt.Errorf("%w: powerbi push %s", integration.ErrOperationNotSupported, req.Kind)
	}
	s, err := a.sessions.get(integrationID)
	if err != nil {
		return nil, err
	}

	target := fmt.Sprintf("%s/datasets/%s/tables/%s/rows",
		s.base, url.PathEscape(s.datasetID), url.PathEscape(s.tables[req.Kind]))

	result := &integration.PushResult{}
	for start := 0; start < len(req.Records); start += a.batchSize {
		end := min(start+a.batchSize, len(req.Records))
		chunk := req.Records[start:end]

		rows := make([]map[string]any, len(chunk))
		for i, rec := range chunk {
			rows[i] = rec.Payload
		}

		header, err := a.bearer(ctx, s)
		if err == nil {
			_, err = a.core.do(ctx, integrationID, vendorRequest{
				Method: http.MethodPost,
				URL:    target,
				Header: header,
				JSON:   map[string]any{"rows": rows},
			})
		}
		if err == nil {
			result.Accepted += len(chunk)
			continue
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		for _, rec := range chunk {
			result.Failures = append(result.Failures, integration.SyncFailure{
				ExternalID: rec.ExternalID,
				Code:       integration.FailureCodePushFailed,
				Message:    err.Error(),
			})
		}
	}
	return result, nil
}

var _ integration.Adapter = (*PowerBIAdapter)(nil)
