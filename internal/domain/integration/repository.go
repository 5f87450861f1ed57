package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// IntegrationRepository defines persistence for integrations
type IntegrationRepository interface {
	// FindByIDForTenant finds an integration by ID within a tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Integration, error)

	// FindAllForTenant lists integrations; filter keys: type, status, enabled
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]Integration, int64, error)

	// FindEnabled lists a tenant's enabled integrations
	FindEnabled(ctx context.Context, tenantID uuid.UUID) ([]Integration, error)

	// FindDue lists enabled, connected integrations across tenants whose sync interval elapsed
	FindDue(ctx context.Context, now time.Time) ([]Integration, error)

	// ExistsByName checks name uniqueness within a tenant, ignoring excludeID
	ExistsByName(ctx context.Context, tenantID uuid.UUID, name string, excludeID uuid.UUID) (bool, error)

	Save(ctx context.Context, integration *Integration) error

	DeleteForTenant(ctx context.Context, tenantID, id uuid.UUID) error
}

// SyncedRecordRepository stores reconciled records
type SyncedRecordRepository interface {
	// Upsert writes the record idempotently keyed by
	// (tenant, integration, kind, external id) and reports what it did
	Upsert(ctx context.Context, record *SyncedRecord) (UpsertOutcome, error)

	// FindByKey returns one record by its natural key
	FindByKey(ctx context.Context, tenantID, integrationID uuid.UUID, kind RecordKind, externalID string) (*SyncedRecord, error)

	// FindByIntegration lists records, optionally limited to one kind
	FindByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID, kind RecordKind, filter shared.Filter) ([]SyncedRecord, int64, error)

	// FindModifiedSince lists a tenant's records of a kind synced after since,
	// across all of the tenant's integrations
	FindModifiedSince(ctx context.Context, tenantID uuid.UUID, kind RecordKind, since time.Time, limit int) ([]SyncedRecord, error)

	// DeleteByIntegration removes every record of an integration
	DeleteByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) error
}

// SyncRunRepository stores sync history
type SyncRunRepository interface {
	Save(ctx context.Context, run *SyncRun) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*SyncRun, error)
	FindByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID, filter shared.Filter) ([]SyncRun, int64, error)
}
