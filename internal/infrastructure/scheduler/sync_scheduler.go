package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// SyncSchedulerConfig
// ---------------------------------------------------------------------------

// SyncSchedulerConfig holds configuration for the sync scheduler
type SyncSchedulerConfig struct {
	// Workers is the number of concurrent sync jobs
	Workers int
	// QueueSize bounds the number of waiting jobs
	QueueSize int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// MaxRetries is the number of retry attempts for failed jobs
	MaxRetries int
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
	// HistorySize caps the in-memory job history
	HistorySize int
}

// DefaultSyncSchedulerConfig returns default configuration
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Workers:     4,
		QueueSize:   100,
		JobTimeout:  10 * time.Minute,
		MaxRetries:  3,
		RetryDelay:  time.Minute,
		HistorySize: 100,
	}
}

// SchedulerConfigFromSync maps the sync section of the app config, keeping
// defaults for unset values
func SchedulerConfigFromSync(cfg config.SyncConfig) SyncSchedulerConfig {
	out := DefaultSyncSchedulerConfig()
	if cfg.Workers > 0 {
		out.Workers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		out.QueueSize = cfg.QueueSize
	}
	if cfg.JobTimeout > 0 {
		out.JobTimeout = cfg.JobTimeout
	}
	if cfg.MaxRetries >= 0 {
		out.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBackoff > 0 {
		out.RetryDelay = cfg.RetryBackoff
	}
	return out
}

// Validate validates the configuration
func (c *SyncSchedulerConfig) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries > 0 && c.RetryDelay <= 0 {
		return ErrInvalidConfig
	}
	if c.HistorySize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// SyncScheduler
// ---------------------------------------------------------------------------

// SyncScheduler runs sync jobs on a fixed worker pool fed by a buffered queue.
// An integration has at most one job queued, running or waiting for retry.
type SyncScheduler struct {
	config   SyncSchedulerConfig
	executor SyncExecutor
	logger   *zap.Logger

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[uuid.UUID]uuid.UUID // integration id -> job id

	historyMu sync.RWMutex
	history   []SyncJob
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(cfg SyncSchedulerConfig, executor SyncExecutor, logger *zap.Logger) (*SyncScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		config:   cfg,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *SyncJob, cfg.QueueSize),
		active:   make(map[uuid.UUID]uuid.UUID),
		history:  make([]SyncJob, 0, cfg.HistorySize),
	}, nil
}

// Start starts the worker pool
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return ErrSchedulerAlreadyRunning
	}
	s.isRunning = true
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers. Queued jobs are
// cancelled and recorded in history.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		err = ctx.Err()
	}

	dropped := s.drain()
	if dropped > 0 {
		s.logger.Info("Cancelled queued sync jobs", zap.Int("count", dropped))
	}
	return err
}

func (s *SyncScheduler) drain() int {
	n := 0
	for {
		select {
		case job := <-s.jobs:
			job.Cancel()
			s.finish(job)
			n++
		default:
			return n
		}
	}
}

// IsRunning reports whether the worker pool is up
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitJob queues a job; it fails fast when the queue is full or the
// integration already has a job in flight
func (s *SyncScheduler) SubmitJob(job *SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if _, ok := s.active[job.IntegrationID]; ok {
		return ErrJobAlreadyQueued
	}

	select {
	case s.jobs <- job:
		s.active[job.IntegrationID] = job.ID
		s.logger.Debug("Sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("tenant_id", job.TenantID.String()),
			zap.String("integration_id", job.IntegrationID.String()),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// ScheduleSync queues a sync of one integration
func (s *SyncScheduler) ScheduleSync(tenantID, integrationID uuid.UUID, integrationType integration.IntegrationType) (*SyncJob, error) {
	job := NewSyncJob(tenantID, integrationID, integrationType, s.config.MaxRetries)
	if err := s.SubmitJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// IsActive reports whether the integration has a job queued, running or awaiting retry
func (s *SyncScheduler) IsActive(integrationID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[integrationID]
	return ok
}

// QueueLength returns the number of waiting jobs
func (s *SyncScheduler) QueueLength() int {
	return len(s.jobs)
}

func (s *SyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			if ctx.Err() != nil {
				job.Cancel()
				s.finish(job)
				return
			}
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *SyncScheduler) processJob(ctx context.Context, job *SyncJob, workerID int) {
	job.Start()
	logger := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("integration_id", job.IntegrationID.String()),
		zap.String("integration_type", string(job.IntegrationType)),
	)
	logger.Info("Processing sync job", zap.Int("attempt", job.RetryCount+1))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	run, err := s.executor.Execute(jobCtx, job)
	cancel()

	if run != nil {
		job.Complete(run)
	}
	if err != nil {
		job.Fail(err.Error())
		logger.Error("Sync job failed", zap.Error(err))
	} else if run == nil {
		job.Complete(nil)
	}

	s.addToHistory(job)

	if job.ShouldRetry() && ctx.Err() == nil {
		delay := job.ScheduleRetry(s.config.RetryDelay)
		logger.Info("Sync job scheduled for retry",
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Duration("delay", delay),
		)
		s.wg.Add(1)
		go s.retryAfter(ctx, job, delay)
		return
	}

	if err == nil {
		logger.Info("Sync job completed",
			zap.String("status", string(job.Status)),
			zap.Int("created", job.Created),
			zap.Int("updated", job.Updated),
			zap.Int("pushed", job.Pushed),
			zap.Int("failed", job.Failed),
		)
	}
	s.release(job)
}

func (s *SyncScheduler) retryAfter(ctx context.Context, job *SyncJob, delay time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		job.Cancel()
		s.finish(job)
	case <-timer.C:
		select {
		case s.jobs <- job:
		default:
			s.logger.Warn("Failed to re-queue sync job for retry",
				zap.String("job_id", job.ID.String()),
			)
			job.Fail(ErrJobQueueFull.Error())
			s.finish(job)
		}
	}
}

// finish records a terminal job that never reached a worker and releases it
func (s *SyncScheduler) finish(job *SyncJob) {
	s.addToHistory(job)
	s.release(job)
}

func (s *SyncScheduler) release(job *SyncJob) {
	s.mu.Lock()
	if s.active[job.IntegrationID] == job.ID {
		delete(s.active, job.IntegrationID)
	}
	s.mu.Unlock()
}

func (s *SyncScheduler) addToHistory(job *SyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]SyncJob{job.Snapshot()}, s.history...)
	if len(s.history) > s.config.HistorySize {
		s.history = s.history[:s.config.HistorySize]
	}
}

// JobHistory returns up to limit recent job attempts, newest first
func (s *SyncScheduler) JobHistory(limit int) []SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]SyncJob, limit)
	copy(result, s.history[:limit])
	return result
}

// JobHistoryByIntegration returns recent attempts of one integration
func (s *SyncScheduler) JobHistoryByIntegration(integrationID uuid.UUID, limit int) []SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	result := make([]SyncJob, 0)
	for _, job := range s.history {
		if job.IntegrationID != integrationID {
			continue
		}
		result = append(result, job)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}
