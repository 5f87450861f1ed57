package integration

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// CreateIntegrationRequest creates a connector
type CreateIntegrationRequest struct {
	Name                string            `json:"name" binding:"required,min=1,max=100"`
	Type                string            `json:"type" binding:"required,integration_type"`
	Endpoint            string            `json:"endpoint" binding:"required,url"`
	Settings            map[string]string `json:"settings"`
	Credentials         map[string]string `json:"credentials"`
	SyncIntervalMinutes *int              `json:"sync_interval_minutes" binding:"omitempty,min=0,max=10080"`
	Enabled             *bool             `json:"enabled"`
}

// UpdateIntegrationRequest changes a connector; nil fields are left as is.
// Credentials are re-sealed when provided.
type UpdateIntegrationRequest struct {
	Name                string            `json:"name" binding:"omitempty,min=1,max=100"`
	Endpoint            string            `json:"endpoint" binding:"omitempty,url"`
	Settings            map[string]string `json:"settings"`
	Credentials         map[string]string `json:"credentials"`
	SyncIntervalMinutes *int              `json:"sync_interval_minutes" binding:"omitempty,min=0,max=10080"`
	Enabled             *bool             `json:"enabled"`
}

// SyncRequest is the body of a manual sync
type SyncRequest struct {
	Direction string     `json:"direction" binding:"omitempty,sync_direction"`
	Kinds     []string   `json:"kinds" binding:"omitempty,dive,record_kind"`
	Since     *time.Time `json:"since"`
}

// SyncOptions controls one sync run
type SyncOptions struct {
	Direction integration.SyncDirection
	Kinds     []integration.RecordKind
	Since     *time.Time
	Trigger   integration.SyncTrigger
}

// ToOptions converts the request into sync options
func (r SyncRequest) ToOptions(trigger integration.SyncTrigger) SyncOptions {
	opts := SyncOptions{
		Direction: integration.SyncDirection(r.Direction),
		Since:     r.Since,
		Trigger:   trigger,
	}
	for _, k := range r.Kinds {
		opts.Kinds = append(opts.Kinds, integration.RecordKind(k))
	}
	return opts
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// IntegrationResponse never carries credentials, only their key names
type IntegrationResponse struct {
	ID                  uuid.UUID                     `json:"id"`
	TenantID            uuid.UUID                     `json:"tenant_id"`
	Name                string                        `json:"name"`
	Type                integration.IntegrationType   `json:"type"`
	TypeDisplayName     string                        `json:"type_display_name"`
	Endpoint            string                        `json:"endpoint"`
	Settings            map[string]string             `json:"settings"`
	CredentialKeys      []string                      `json:"credential_keys"`
	Enabled             bool                          `json:"enabled"`
	Status              integration.IntegrationStatus `json:"status"`
	SyncIntervalMinutes int                           `json:"sync_interval_minutes"`
	LastConnectedAt     *time.Time                    `json:"last_connected_at,omitempty"`
	LastSyncAt          *time.Time                    `json:"last_sync_at,omitempty"`
	LastSyncStatus      integration.SyncStatus        `json:"last_sync_status"`
	LastError           string                        `json:"last_error,omitempty"`
	Capabilities        []integration.Capability      `json:"capabilities"`
	CreatedAt           time.Time                     `json:"created_at"`
	UpdatedAt           time.Time                     `json:"updated_at"`
}

// ToIntegrationResponse converts the aggregate to a response
func ToIntegrationResponse(i *integration.Integration) IntegrationResponse {
	keys := append([]string(nil), i.CredentialKeys...)
	sort.Strings(keys)
	settings := i.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	return IntegrationResponse{
		ID:                  i.ID,
		TenantID:            i.TenantID,
		Name:                i.Name,
		Type:                i.Type,
		TypeDisplayName:     i.Type.DisplayName(),
		Endpoint:            i.Endpoint,
		Settings:            settings,
		CredentialKeys:      keys,
		Enabled:             i.Enabled,
		Status:              i.Status,
		SyncIntervalMinutes: int(i.SyncInterval / time.Minute),
		LastConnectedAt:     i.LastConnectedAt,
		LastSyncAt:          i.LastSyncAt,
		LastSyncStatus:      i.LastSyncStatus,
		LastError:           i.LastError,
		Capabilities:        integration.CapabilitiesFor(i.Type),
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}
}

// SyncRunResponse is one sync run with its per-kind results
type SyncRunResponse struct {
	ID              uuid.UUID                   `json:"id"`
	IntegrationID   uuid.UUID                   `json:"integration_id"`
	IntegrationType integration.IntegrationType `json:"integration_type"`
	Trigger         integration.SyncTrigger     `json:"trigger"`
	Direction       integration.SyncDirection   `json:"direction"`
	Kinds           []integration.RecordKind    `json:"kinds"`
	Status          integration.SyncStatus      `json:"status"`
	Total           int                         `json:"total"`
	Created         int                         `json:"created"`
	Updated         int                         `json:"updated"`
	Unchanged       int                         `json:"unchanged"`
	Skipped         int                         `json:"skipped"`
	Pushed          int                         `json:"pushed"`
	Failed          int                         `json:"failed"`
	Results         []*integration.SyncResult   `json:"results,omitempty"`
	Failures        []integration.SyncFailure   `json:"failures,omitempty"`
	Error           string                      `json:"error,omitempty"`
	StartedAt       time.Time                   `json:"started_at"`
	FinishedAt      time.Time                   `json:"finished_at"`
	DurationMs      int64                       `json:"duration_ms"`
}

// ToSyncRunResponse converts a run to a response
func ToSyncRunResponse(r *integration.SyncRun) *SyncRunResponse {
	if r == nil {
		return nil
	}
	return &SyncRunResponse{
		ID:              r.ID,
		IntegrationID:   r.IntegrationID,
		IntegrationType: r.IntegrationType,
		Trigger:         r.Trigger,
		Direction:       r.Direction,
		Kinds:           r.Kinds,
		Status:          r.Status,
		Total:           r.Total,
		Created:         r.Created,
		Updated:         r.Updated,
		Unchanged:       r.Unchanged,
		Skipped:         r.Skipped,
		Pushed:          r.Pushed,
		Failed:          r.Failed,
		Results:         r.Results,
		Failures:        r.Failures,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		DurationMs:      r.Duration().Milliseconds(),
	}
}

// RecordResponse is one reconciled record
type RecordResponse struct {
	ID              uuid.UUID              `json:"id"`
	Kind            integration.RecordKind `json:"kind"`
	ExternalID      string                 `json:"external_id"`
	Data            map[string]any         `json:"data"`
	Version         int                    `json:"version"`
	SourceUpdatedAt time.Time              `json:"source_updated_at"`
	FirstSyncedAt   time.Time              `json:"first_synced_at"`
	LastSyncedAt    time.Time              `json:"last_synced_at"`
}

// ToRecordResponse converts a synced record to a response
func ToRecordResponse(r *integration.SyncedRecord) RecordResponse {
	return RecordResponse{
		ID:              r.ID,
		Kind:            r.Kind,
		ExternalID:      r.ExternalID,
		Data:            r.Data,
		Version:         r.Version,
		SourceUpdatedAt: r.SourceUpdatedAt,
		FirstSyncedAt:   r.FirstSyncedAt,
		LastSyncedAt:    r.LastSyncedAt,
	}
}

// OperationResult is the outcome of one integration inside a batch operation
type OperationResult struct {
	IntegrationID uuid.UUID                   `json:"integration_id"`
	Name          string                      `json:"name"`
	Type          integration.IntegrationType `json:"type"`
	Success       bool                        `json:"success"`
	Error         string                      `json:"error,omitempty"`
	Run           *SyncRunResponse            `json:"run,omitempty"`
}

// BatchResult summarizes a fan-out over a tenant's integrations
type BatchResult struct {
	Results   []OperationResult `json:"results"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

func newBatchResult(results []OperationResult) *BatchResult {
	b := &BatchResult{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Success {
			b.Succeeded++
		} else {
			b.Failed++
		}
	}
	return b
}

// TypeInfo describes a supported integration type
type TypeInfo struct {
	Type         integration.IntegrationType `json:"type"`
	DisplayName  string                      `json:"display_name"`
	Capabilities []integration.Capability    `json:"capabilities"`
}

// ListTypes returns every supported integration type with its capabilities
func ListTypes() []TypeInfo {
	types := integration.AllIntegrationTypes()
	out := make([]TypeInfo, 0, len(types))
	for _, t := range types {
		out = append(out, TypeInfo{Type: t, DisplayName: t.DisplayName(), Capabilities: integration.CapabilitiesFor(t)})
	}
	return out
}
