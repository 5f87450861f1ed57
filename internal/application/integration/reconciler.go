package integration

import (
	"context"

	"github.com/supplychain/backend/internal/domain/integration"
)

// Reconciler maps vendor records and upserts them idempotently.
// A failing record is counted and the rest of the page continues.
type Reconciler struct {
	records integration.SyncedRecordRepository
}

// NewReconciler creates a reconciler over the synced record store
func NewReconciler(records integration.SyncedRecordRepository) *Reconciler {
	return &Reconciler{records: records}
}

// Reconcile reconciles one batch into a new, finalized result
func (r *Reconciler) Reconcile(
	ctx context.Context,
	integ *integration.Integration,
	mapping *integration.MappingSet,
	records []integration.ExternalRecord,
) *integration.SyncResult {
	result := integration.NewSyncResult(mapping.Kind, integration.SyncDirectionInbound)
	r.ReconcileInto(ctx, integ, mapping, records, result)
	return result.Finalize()
}

// ReconcileInto folds one page into an existing result so a multi-page fetch
// accumulates into a single per-kind result. Per-record problems land in
// result.Failures; a cancelled context aborts the rest of the page.
func (r *Reconciler) ReconcileInto(
	ctx context.Context,
	integ *integration.Integration,
	mapping *integration.MappingSet,
	records []integration.ExternalRecord,
	result *integration.SyncResult,
) {
	for _, ext := range records {
		if err := ctx.Err(); err != nil {
			result.Abort(integration.FailureCodeFetchFailed, err)
			return
		}

		rec, err := mapping.Map(ext)
		if err != nil {
			result.RecordFailure(ext.ExternalID, integration.FailureCodeMappingFailed, err.Error())
			continue
		}

		outcome, err := r.records.Upsert(ctx, integration.NewSyncedRecord(integ.TenantID, integ.ID, rec))
		if err != nil {
			result.RecordFailure(rec.ExternalID, integration.FailureCodeUpsertFailed, err.Error())
			continue
		}
		result.RecordOutcome(outcome)
	}
}
