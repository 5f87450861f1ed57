package scheduler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/infrastructure/telemetry"
)

// SyncExecutor executes sync jobs
type SyncExecutor interface {
	Execute(ctx context.Context, job *SyncJob) (*integration.SyncRun, error)
}

// IntegrationSyncer runs one scheduled sync of an integration.
// The integration manager implements it.
type IntegrationSyncer interface {
	RunScheduledSync(ctx context.Context, tenantID, integrationID uuid.UUID) (*integration.SyncRun, error)
}

// ManagerExecutor executes jobs through the integration manager with
// profiler labels attached to the sync goroutine
type ManagerExecutor struct {
	syncer IntegrationSyncer
	logger *zap.Logger
}

var _ SyncExecutor = (*ManagerExecutor)(nil)

// NewManagerExecutor creates an executor backed by syncer
func NewManagerExecutor(syncer IntegrationSyncer, logger *zap.Logger) *ManagerExecutor {
	return &ManagerExecutor{syncer: syncer, logger: logger}
}

// Execute runs the sync; a returned run with FAILED status is reported as an error
// so the scheduler retries it
func (e *ManagerExecutor) Execute(ctx context.Context, job *SyncJob) (*integration.SyncRun, error) {
	var (
		run *integration.SyncRun
		err error
	)
	telemetry.WithSyncLabels(ctx, string(job.IntegrationType), string(integration.SyncTriggerScheduled), func(ctx context.Context) {
		run, err = e.syncer.RunScheduledSync(ctx, job.TenantID, job.IntegrationID)
	})
	if err != nil {
		return run, err
	}
	if run != nil && run.Status == integration.SyncStatusFailed {
		e.logger.Debug("scheduled sync run failed",
			zap.String("integration_id", job.IntegrationID.String()),
			zap.String("error", run.Error),
		)
		return run, &RunFailedError{Run: run}
	}
	return run, nil
}

// RunFailedError wraps a sync run that completed with FAILED status
type RunFailedError struct {
	Run *integration.SyncRun
}

func (e *RunFailedError) Error() string {
	if e.Run.Error == "" {
		return "sync run failed"
	}
	return "sync run failed: " + e.Run.Error
}
