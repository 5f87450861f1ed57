package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ---------------------------------------------------------------------------
// GormIntegrationRepository
// ---------------------------------------------------------------------------

// GormIntegrationRepository implements IntegrationRepository using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

// NewGormIntegrationRepository creates a new GormIntegrationRepository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// FindByIDForTenant finds an integration by ID within a tenant
func (r *GormIntegrationRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*integration.Integration, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAllForTenant lists a tenant's integrations with filtering and pagination
func (r *GormIntegrationRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]integration.Integration, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.IntegrationModel{}).Where("tenant_id = ?", tenantID)
	query = r.applyFilter(query, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.IntegrationModel
	if err := paginate(query, filter, IntegrationSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]integration.Integration, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

func (r *GormIntegrationRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if s := strings.TrimSpace(filter.Search); s != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	if v, ok := filter.Filters["type"]; ok && v != "" {
		query = query.Where("type = ?", fmt.Sprint(v))
	}
	if v, ok := filter.Filters["status"]; ok && v != "" {
		query = query.Where("status = ?", fmt.Sprint(v))
	}
	if v, ok := filter.Filters["enabled"].(bool); ok {
		query = query.Where("enabled = ?", v)
	}
	return query
}

// FindEnabled lists a tenant's enabled integrations, oldest first
func (r *GormIntegrationRepository) FindEnabled(ctx context.Context, tenantID uuid.UUID) ([]integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]integration.Integration, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// FindDue lists integrations across tenants that should sync at now.
// The interval arithmetic runs in Go so the query stays portable across drivers.
func (r *GormIntegrationRepository) FindDue(ctx context.Context, now time.Time) ([]integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ? AND status = ? AND sync_interval_seconds > 0", true, integration.IntegrationStatusConnected).
		Order("last_sync_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	due := make([]integration.Integration, 0, len(rows))
	for i := range rows {
		in := rows[i].ToDomain()
		if in.IsDue(now) {
			due = append(due, *in)
		}
	}
	return due, nil
}

// ExistsByName checks name uniqueness within a tenant, case-insensitively
func (r *GormIntegrationRepository) ExistsByName(ctx context.Context, tenantID uuid.UUID, name string, excludeID uuid.UUID) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.IntegrationModel{}).
		Where("tenant_id = ? AND LOWER(name) = ?", tenantID, strings.ToLower(strings.TrimSpace(name)))
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Save creates or updates an integration. Updates are guarded by the version
// the aggregate was loaded with; a row changed since returns shared.ErrConflict.
// On success in.Version is the stored version.
func (r *GormIntegrationRepository) Save(ctx context.Context, in *integration.Integration) error {
	model := models.IntegrationModelFromDomain(in)
	expected := in.Version
	model.Version = expected + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.IntegrationModel{}).
			Where("id = ? AND version = ?", in.ID, expected).
			Select("*").
			Omit("id", "tenant_id", "type", "created_at").
			Updates(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&models.IntegrationModel{}).Where("id = ?", in.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return shared.ErrConflict
		}
		model.Version = expected
		return tx.Create(model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return integration.ErrDuplicateName
		}
		return err
	}
	in.Version = model.Version
	return nil
}

// DeleteForTenant removes an integration together with its records and run history
func (r *GormIntegrationRepository) DeleteForTenant(ctx context.Context, tenantID, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.IntegrationModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return integration.ErrIntegrationNotFound
		}
		if err := tx.Where("tenant_id = ? AND integration_id = ?", tenantID, id).Delete(&models.SyncedRecordModel{}).Error; err != nil {
			return err
		}
		return tx.Where("tenant_id = ? AND integration_id = ?", tenantID, id).Delete(&models.SyncRunModel{}).Error
	})
}

// ---------------------------------------------------------------------------
// GormSyncedRecordRepository
// ---------------------------------------------------------------------------

// maxUpsertAttempts bounds retries when a concurrent writer bumps the version
const maxUpsertAttempts = 3

// GormSyncedRecordRepository implements SyncedRecordRepository using GORM
type GormSyncedRecordRepository struct {
	db *gorm.DB
}

// NewGormSyncedRecordRepository creates a new GormSyncedRecordRepository
func NewGormSyncedRecordRepository(db *gorm.DB) *GormSyncedRecordRepository {
	return &GormSyncedRecordRepository{db: db}
}

// Upsert writes record keyed by (tenant, integration, kind, external id).
// A missing row is inserted with ON CONFLICT DO NOTHING so two concurrent
// first inserts leave one row; the loser falls through to the compare path.
// Updates are guarded by the stored version. On return record carries the
// stored ID, Version and FirstSyncedAt.
func (r *GormSyncedRecordRepository) Upsert(ctx context.Context, record *integration.SyncedRecord) (integration.UpsertOutcome, error) {
	if err := record.ValidateKey(); err != nil {
		return "", err
	}

	var outcome integration.UpsertOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
			var applied bool
			var err error
			outcome, applied, err = upsertOnce(tx, record)
			if err != nil {
				return err
			}
			if applied {
				return nil
			}
		}
		return shared.ErrConflict
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// upsertOnce returns applied=false when the optimistic version check lost
func upsertOnce(tx *gorm.DB, record *integration.SyncedRecord) (integration.UpsertOutcome, bool, error) {
	stored, err := findRecordByKey(tx, record.TenantID, record.IntegrationID, record.Kind, record.ExternalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		model := models.SyncedRecordModelFromDomain(record)
		model.Version = 1
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(model)
		if result.Error != nil {
			return "", false, result.Error
		}
		if result.RowsAffected == 1 {
			record.Version = 1
			return integration.UpsertCreated, true, nil
		}
		stored, err = findRecordByKey(tx, record.TenantID, record.IntegrationID, record.Kind, record.ExternalID)
	}
	if err != nil {
		return "", false, err
	}

	current := stored.ToDomain()
	now := time.Now()
	outcome := current.Decide(record)

	record.ID = current.ID
	record.FirstSyncedAt = current.FirstSyncedAt

	switch outcome {
	case integration.UpsertUnchanged:
		if err := tx.Model(&models.SyncedRecordModel{}).
			Where("id = ?", current.ID).
			Update("last_synced_at", now).Error; err != nil {
			return "", false, err
		}
		record.Version = current.Version
		record.LastSyncedAt = now
		record.ChangedAt = current.ChangedAt
		return outcome, true, nil

	case integration.UpsertStale:
		record.Version = current.Version
		return outcome, true, nil
	}

	incoming := models.SyncedRecordModelFromDomain(record)
	updates := map[string]any{
		"data":           incoming.DataJSON,
		"checksum":       record.Checksum,
		"version":        current.Version + 1,
		"last_synced_at": now,
		"changed_at":     now,
	}
	if incoming.SourceUpdatedAt != nil {
		updates["source_updated_at"] = *incoming.SourceUpdatedAt
	}
	result := tx.Model(&models.SyncedRecordModel{}).
		Where("id = ? AND version = ?", current.ID, current.Version).
		Updates(updates)
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected == 0 {
		return "", false, nil
	}
	record.Version = current.Version + 1
	record.LastSyncedAt = now
	record.ChangedAt = now
	return integration.UpsertUpdated, true, nil
}

func findRecordByKey(tx *gorm.DB, tenantID, integrationID uuid.UUID, kind integration.RecordKind, externalID string) (*models.SyncedRecordModel, error) {
	var model models.SyncedRecordModel
	err := tx.Where("tenant_id = ? AND integration_id = ? AND kind = ? AND external_id = ?",
		tenantID, integrationID, kind, externalID).
		Take(&model).Error
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// FindByKey returns one record by its natural key
func (r *GormSyncedRecordRepository) FindByKey(ctx context.Context, tenantID, integrationID uuid.UUID, kind integration.RecordKind, externalID string) (*integration.SyncedRecord, error) {
	model, err := findRecordByKey(r.db.WithContext(ctx), tenantID, integrationID, kind, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrSyncedRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIntegration lists an integration's records; an empty kind lists all kinds
func (r *GormSyncedRecordRepository) FindByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID, kind integration.RecordKind, filter shared.Filter) ([]integration.SyncedRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncedRecordModel{}).
		Where("tenant_id = ? AND integration_id = ?", tenantID, integrationID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		query = query.Where("external_id LIKE ?", "%"+s+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.SyncedRecordModel
	if err := paginate(query, filter, SyncedRecordSortFields, "last_synced_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]integration.SyncedRecord, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// FindModifiedSince lists a tenant's records of kind whose data changed after since
func (r *GormSyncedRecordRepository) FindModifiedSince(ctx context.Context, tenantID uuid.UUID, kind integration.RecordKind, since time.Time, limit int) ([]integration.SyncedRecord, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND kind = ?", tenantID, kind)
	if !since.IsZero() {
		query = query.Where("changed_at > ?", since)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.SyncedRecordModel
	if err := query.Order("changed_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]integration.SyncedRecord, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// DeleteByIntegration removes every record of an integration
func (r *GormSyncedRecordRepository) DeleteByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND integration_id = ?", tenantID, integrationID).
		Delete(&models.SyncedRecordModel{}).Error
}

// ---------------------------------------------------------------------------
// GormSyncRunRepository
// ---------------------------------------------------------------------------

// GormSyncRunRepository implements SyncRunRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Save creates or replaces a run
func (r *GormSyncRunRepository) Save(ctx context.Context, run *integration.SyncRun) error {
	return r.db.WithContext(ctx).Save(models.SyncRunModelFromDomain(run)).Error
}

// FindByID finds a run within a tenant
func (r *GormSyncRunRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*integration.SyncRun, error) {
	var model models.SyncRunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrSyncRunNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIntegration lists an integration's runs, newest first by default
func (r *GormSyncRunRepository) FindByIntegration(ctx context.Context, tenantID, integrationID uuid.UUID, filter shared.Filter) ([]integration.SyncRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{}).
		Where("tenant_id = ? AND integration_id = ?", tenantID, integrationID)
	if v, ok := filter.Filters["status"]; ok && v != "" {
		query = query.Where("status = ?", fmt.Sprint(v))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.SyncRunModel
	if err := paginate(query, filter, SyncRunSortFields, "started_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]integration.SyncRun, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

var (
	_ integration.IntegrationRepository  = (*GormIntegrationRepository)(nil)
	_ integration.SyncedRecordRepository = (*GormSyncedRecordRepository)(nil)
	_ integration.SyncRunRepository      = (*GormSyncRunRepository)(nil)
)
