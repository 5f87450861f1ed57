// Package scheduler runs periodic integration syncs on a bounded worker pool.
package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/integration"
)

// MaxRetryDelay caps the exponential retry backoff
const MaxRetryDelay = 30 * time.Minute

// SyncJobStatus represents the status of a sync job
type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "PENDING"
	SyncJobStatusRunning   SyncJobStatus = "RUNNING"
	SyncJobStatusSuccess   SyncJobStatus = "SUCCESS"
	SyncJobStatusPartial   SyncJobStatus = "PARTIAL"
	SyncJobStatusFailed    SyncJobStatus = "FAILED"
	SyncJobStatusCancelled SyncJobStatus = "CANCELLED"
)

// SyncJob is one scheduled sync of a single integration
type SyncJob struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	IntegrationID   uuid.UUID
	IntegrationType integration.IntegrationType
	Status          SyncJobStatus
	Error           string
	RunID           uuid.UUID
	StartedAt       *time.Time
	CompletedAt     *time.Time
	RetryCount      int
	MaxRetries      int
	NextRetryAt     *time.Time

	// Counts copied from the sync run
	Created int
	Updated int
	Pushed  int
	Failed  int
}

// NewSyncJob creates a pending job
func NewSyncJob(tenantID, integrationID uuid.UUID, integrationType integration.IntegrationType, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:              uuid.New(),
		TenantID:        tenantID,
		IntegrationID:   integrationID,
		IntegrationType: integrationType,
		Status:          SyncJobStatusPending,
		MaxRetries:      maxRetries,
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	now := time.Now()
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	j.Error = ""
}

// Complete copies the outcome of a finished run onto the job
func (j *SyncJob) Complete(run *integration.SyncRun) {
	now := time.Now()
	j.CompletedAt = &now
	if run == nil {
		j.Status = SyncJobStatusSuccess
		return
	}
	j.RunID = run.ID
	j.Created = run.Created
	j.Updated = run.Updated
	j.Pushed = run.Pushed
	j.Failed = run.Failed
	j.Error = run.Error

	switch run.Status {
	case integration.SyncStatusSuccess:
		j.Status = SyncJobStatusSuccess
	case integration.SyncStatusPartial:
		j.Status = SyncJobStatusPartial
	default:
		j.Status = SyncJobStatusFailed
	}
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string) {
	now := time.Now()
	j.Status = SyncJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Cancel marks a job dropped at shutdown
func (j *SyncJob) Cancel() {
	now := time.Now()
	j.Status = SyncJobStatusCancelled
	j.CompletedAt = &now
}

// ShouldRetry returns true if the job failed and retries remain
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == SyncJobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry moves the job back to pending and returns the backoff delay
func (j *SyncJob) ScheduleRetry(baseDelay time.Duration) time.Duration {
	j.RetryCount++
	j.Status = SyncJobStatusPending
	delay := RetryDelay(baseDelay, j.RetryCount)
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	return delay
}

// RetryDelay is baseDelay * 2^(attempt-1), capped at MaxRetryDelay
func RetryDelay(baseDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	if delay > MaxRetryDelay {
		return MaxRetryDelay
	}
	return delay
}

// Snapshot returns a copy safe to hand out of the scheduler
func (j *SyncJob) Snapshot() SyncJob {
	return *j
}
