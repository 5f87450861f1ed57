package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConnectionConfig is everything an adapter needs to open a session
type ConnectionConfig struct {
	IntegrationID uuid.UUID
	TenantID      uuid.UUID
	Endpoint      string
	Settings      map[string]string
	Credentials   Credentials
}

// ConnectionConfigFor builds a ConnectionConfig for an integration
func ConnectionConfigFor(i *Integration, creds Credentials) ConnectionConfig {
	return ConnectionConfig{
		IntegrationID: i.ID,
		TenantID:      i.TenantID,
		Endpoint:      i.Endpoint,
		Settings:      i.Settings,
		Credentials:   creds,
	}
}

// Setting returns a setting value or the fallback
func (c ConnectionConfig) Setting(key, fallback string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// FetchRequest asks an adapter for one page of records of a kind
type FetchRequest struct {
	Kind     RecordKind
	Since    *time.Time
	Cursor   string
	PageSize int
}

// Validate fills in defaults and checks the request
func (r *FetchRequest) Validate() error {
	if !r.Kind.IsValid() {
		return ErrInvalidRecordKind
	}
	if r.PageSize <= 0 {
		r.PageSize = 100
	}
	if r.PageSize > 1000 {
		r.PageSize = 1000
	}
	return nil
}

// FetchPage is one page of vendor records
type FetchPage struct {
	Records    []ExternalRecord
	NextCursor string
	HasMore    bool
	// Raw is the undecoded response body, kept for archiving
	Raw []byte
}

// PushRecord is one vendor payload addressed by its external id
type PushRecord struct {
	ExternalID string
	Payload    map[string]any
}

// PushRequest sends records of one kind to the vendor
type PushRequest struct {
	Kind    RecordKind
	Records []PushRecord
}

// PushResult reports how many records the vendor accepted
type PushResult struct {
	Accepted int
	Failures []SyncFailure
}

// Adapter is the port every integration type implements.
// Calls other than Connect and TestConnection return ErrNotConnected
// until Connect succeeds for the integration.
type Adapter interface {
	// Type returns the integration type this adapter serves
	Type() IntegrationType

	// Connect validates credentials against the vendor and opens a session
	Connect(ctx context.Context, cfg ConnectionConfig) error

	// Disconnect drops the session; disconnecting twice is not an error
	Disconnect(ctx context.Context, integrationID uuid.UUID) error

	// TestConnection checks reachability and credentials without keeping a session
	TestConnection(ctx context.Context, cfg ConnectionConfig) error

	// Fetch reads one page of records; unsupported kinds return ErrOperationNotSupported
	Fetch(ctx context.Context, integrationID uuid.UUID, req FetchRequest) (*FetchPage, error)

	// Push writes records; per-record rejections are reported in PushResult.Failures
	Push(ctx context.Context, integrationID uuid.UUID, req PushRequest) (*PushResult, error)
}

// AdapterFactory returns the adapter for an integration type
type AdapterFactory interface {
	Adapter(t IntegrationType) (Adapter, error)
	Types() []IntegrationType
}
