package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/integration"
)

// IntegrationModel is the persistence model for the Integration aggregate
type IntegrationModel struct {
	TenantAggregateModel
	Name                string                        `gorm:"type:varchar(100);not null;index"`
	Type                integration.IntegrationType   `gorm:"type:varchar(20);not null;index"`
	Endpoint            string                        `gorm:"type:varchar(500);not null"`
	SettingsJSON        string                        `gorm:"type:jsonb;column:settings"`
	SealedCredentials   string                        `gorm:"type:text"`
	CredentialKeysJSON  string                        `gorm:"type:jsonb;column:credential_keys"`
	Enabled             bool                          `gorm:"not null;default:true"`
	Status              integration.IntegrationStatus `gorm:"type:varchar(20);not null;index"`
	SyncIntervalSeconds int64                         `gorm:"not null;default:3600"`
	LastConnectedAt     *time.Time
	LastSyncAt          *time.Time
	LastSyncStatus      integration.SyncStatus `gorm:"type:varchar(20);not null;default:'PENDING'"`
	LastError           string                 `gorm:"type:text"`
	SyncWatermarksJSON  string                 `gorm:"type:jsonb;column:sync_watermarks"`
}

// TableName returns the table name for GORM
func (IntegrationModel) TableName() string {
	return "integrations"
}

// ToDomain converts the persistence model to the domain aggregate
func (m *IntegrationModel) ToDomain() *integration.Integration {
	i := &integration.Integration{
		Name:              m.Name,
		Type:              m.Type,
		Endpoint:          m.Endpoint,
		Settings:          make(map[string]string),
		SyncWatermarks:    make(map[string]time.Time),
		SealedCredentials: m.SealedCredentials,
		Enabled:           m.Enabled,
		Status:            m.Status,
		SyncInterval:      time.Duration(m.SyncIntervalSeconds) * time.Second,
		LastConnectedAt:   m.LastConnectedAt,
		LastSyncAt:        m.LastSyncAt,
		LastSyncStatus:    m.LastSyncStatus,
		LastError:         m.LastError,
	}
	m.PopulateTenantAggregateRoot(&i.TenantAggregateRoot)
	if m.SettingsJSON != "" {
		_ = json.Unmarshal([]byte(m.SettingsJSON), &i.Settings)
	}
	if m.CredentialKeysJSON != "" {
		_ = json.Unmarshal([]byte(m.CredentialKeysJSON), &i.CredentialKeys)
	}
	if m.SyncWatermarksJSON != "" {
		_ = json.Unmarshal([]byte(m.SyncWatermarksJSON), &i.SyncWatermarks)
	}
	return i
}

// FromDomain populates the model from the domain aggregate
func (m *IntegrationModel) FromDomain(i *integration.Integration) {
	m.FromDomainTenantAggregateRoot(i.TenantAggregateRoot)
	m.Name = i.Name
	m.Type = i.Type
	m.Endpoint = i.Endpoint
	m.SealedCredentials = i.SealedCredentials
	m.Enabled = i.Enabled
	m.Status = i.Status
	m.SyncIntervalSeconds = int64(i.SyncInterval / time.Second)
	m.LastConnectedAt = i.LastConnectedAt
	m.LastSyncAt = i.LastSyncAt
	m.LastSyncStatus = i.LastSyncStatus
	m.LastError = i.LastError
	m.SettingsJSON = marshalOr(i.Settings, "{}")
	m.CredentialKeysJSON = marshalOr(i.CredentialKeys, "[]")
	m.SyncWatermarksJSON = marshalOr(i.SyncWatermarks, "{}")
}

// IntegrationModelFromDomain creates a new persistence model from the aggregate
func IntegrationModelFromDomain(i *integration.Integration) *IntegrationModel {
	m := &IntegrationModel{}
	m.FromDomain(i)
	return m
}

// SyncedRecordModel stores a reconciled vendor record
type SyncedRecordModel struct {
	ID              uuid.UUID              `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_synced_records_key,priority:1;index:idx_synced_records_changed,priority:1"`
	IntegrationID   uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_synced_records_key,priority:2"`
	Kind            integration.RecordKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_synced_records_key,priority:3;index:idx_synced_records_changed,priority:2"`
	ExternalID      string                 `gorm:"type:varchar(255);not null;uniqueIndex:idx_synced_records_key,priority:4"`
	DataJSON        string                 `gorm:"type:jsonb;column:data;not null"`
	Checksum        string                 `gorm:"type:varchar(64);not null"`
	Version         int                    `gorm:"not null;default:1"`
	SourceUpdatedAt *time.Time
	FirstSyncedAt   time.Time `gorm:"not null"`
	LastSyncedAt    time.Time `gorm:"not null"`
	ChangedAt       time.Time `gorm:"not null;index:idx_synced_records_changed,priority:3"`
}

// TableName returns the table name for GORM
func (SyncedRecordModel) TableName() string {
	return "synced_records"
}

// ToDomain converts the persistence model to the domain record
func (m *SyncedRecordModel) ToDomain() *integration.SyncedRecord {
	r := &integration.SyncedRecord{
		ID:            m.ID,
		TenantID:      m.TenantID,
		IntegrationID: m.IntegrationID,
		Kind:          m.Kind,
		ExternalID:    m.ExternalID,
		Data:          make(map[string]any),
		Checksum:      m.Checksum,
		Version:       m.Version,
		FirstSyncedAt: m.FirstSyncedAt,
		LastSyncedAt:  m.LastSyncedAt,
		ChangedAt:     m.ChangedAt,
	}
	if m.SourceUpdatedAt != nil {
		r.SourceUpdatedAt = *m.SourceUpdatedAt
	}
	if m.DataJSON != "" {
		_ = json.Unmarshal([]byte(m.DataJSON), &r.Data)
	}
	return r
}

// FromDomain populates the model from the domain record
func (m *SyncedRecordModel) FromDomain(r *integration.SyncedRecord) {
	m.ID = r.ID
	m.TenantID = r.TenantID
	m.IntegrationID = r.IntegrationID
	m.Kind = r.Kind
	m.ExternalID = r.ExternalID
	m.DataJSON = marshalOr(r.Data, "{}")
	m.Checksum = r.Checksum
	m.Version = r.Version
	m.SourceUpdatedAt = nil
	if !r.SourceUpdatedAt.IsZero() {
		t := r.SourceUpdatedAt
		m.SourceUpdatedAt = &t
	}
	m.FirstSyncedAt = r.FirstSyncedAt
	m.LastSyncedAt = r.LastSyncedAt
	m.ChangedAt = r.ChangedAt
}

// SyncedRecordModelFromDomain creates a new persistence model from the record
func SyncedRecordModelFromDomain(r *integration.SyncedRecord) *SyncedRecordModel {
	m := &SyncedRecordModel{}
	m.FromDomain(r)
	return m
}

// SyncRunModel stores one sync run
type SyncRunModel struct {
	ID              uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID                   `gorm:"type:uuid;not null;index:idx_sync_runs_integration,priority:1"`
	IntegrationID   uuid.UUID                   `gorm:"type:uuid;not null;index:idx_sync_runs_integration,priority:2"`
	IntegrationType integration.IntegrationType `gorm:"type:varchar(20);not null"`
	Trigger         integration.SyncTrigger     `gorm:"type:varchar(20);not null"`
	Direction       integration.SyncDirection   `gorm:"type:varchar(20);not null"`
	KindsJSON       string                      `gorm:"type:jsonb;column:kinds"`
	Status          integration.SyncStatus      `gorm:"type:varchar(20);not null;index"`
	Total           int                         `gorm:"not null;default:0"`
	Created         int                         `gorm:"not null;default:0"`
	Updated         int                         `gorm:"not null;default:0"`
	Unchanged       int                         `gorm:"not null;default:0"`
	Skipped         int                         `gorm:"not null;default:0"`
	Pushed          int                         `gorm:"not null;default:0"`
	Failed          int                         `gorm:"not null;default:0"`
	ResultsJSON     string                      `gorm:"type:jsonb;column:results"`
	FailuresJSON    string                      `gorm:"type:jsonb;column:failures"`
	Error           string                      `gorm:"type:text"`
	StartedAt       time.Time                   `gorm:"not null;index:idx_sync_runs_integration,priority:3"`
	FinishedAt      *time.Time
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to the domain run
func (m *SyncRunModel) ToDomain() *integration.SyncRun {
	r := &integration.SyncRun{
		ID:              m.ID,
		TenantID:        m.TenantID,
		IntegrationID:   m.IntegrationID,
		IntegrationType: m.IntegrationType,
		Trigger:         m.Trigger,
		Direction:       m.Direction,
		Status:          m.Status,
		Total:           m.Total,
		Created:         m.Created,
		Updated:         m.Updated,
		Unchanged:       m.Unchanged,
		Skipped:         m.Skipped,
		Pushed:          m.Pushed,
		Failed:          m.Failed,
		Error:           m.Error,
		StartedAt:       m.StartedAt,
	}
	if m.FinishedAt != nil {
		r.FinishedAt = *m.FinishedAt
	}
	if m.KindsJSON != "" {
		_ = json.Unmarshal([]byte(m.KindsJSON), &r.Kinds)
	}
	if m.ResultsJSON != "" {
		_ = json.Unmarshal([]byte(m.ResultsJSON), &r.Results)
	}
	if m.FailuresJSON != "" {
		_ = json.Unmarshal([]byte(m.FailuresJSON), &r.Failures)
	}
	return r
}

// SyncRunModelFromDomain creates a new persistence model from the run
func SyncRunModelFromDomain(r *integration.SyncRun) *SyncRunModel {
	m := &SyncRunModel{
		ID:              r.ID,
		TenantID:        r.TenantID,
		IntegrationID:   r.IntegrationID,
		IntegrationType: r.IntegrationType,
		Trigger:         r.Trigger,
		Direction:       r.Direction,
		Status:          r.Status,
		Total:           r.Total,
		Created:         r.Created,
		Updated:         r.Updated,
		Unchanged:       r.Unchanged,
		Skipped:         r.Skipped,
		Pushed:          r.Pushed,
		Failed:          r.Failed,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		KindsJSON:       marshalOr(r.Kinds, "[]"),
		ResultsJSON:     marshalOr(r.Results, "[]"),
		FailuresJSON:    marshalOr(r.Failures, "[]"),
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		m.FinishedAt = &t
	}
	return m
}

func marshalOr(v any, fallback string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return fallback
	}
	return string(b)
}
