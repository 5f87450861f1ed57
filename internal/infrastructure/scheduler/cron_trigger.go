package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
)

// DueIntegrationProvider lists integrations whose sync interval has elapsed.
// integration.IntegrationRepository satisfies it.
type DueIntegrationProvider interface {
	FindDue(ctx context.Context, now time.Time) ([]integration.Integration, error)
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// CheckInterval is how often to look for due integrations
	CheckInterval time.Duration
}

// DefaultCronTriggerConfig returns default configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{CheckInterval: time.Minute}
}

// CronTrigger submits one sync job per due integration on every tick
type CronTrigger struct {
	config    CronTriggerConfig
	scheduler *SyncScheduler
	provider  DueIntegrationProvider
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(
	config CronTriggerConfig,
	scheduler *SyncScheduler,
	provider DueIntegrationProvider,
	logger *zap.Logger,
) *CronTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCronTriggerConfig().CheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronTrigger{
		config:    config,
		scheduler: scheduler,
		provider:  provider,
		logger:    logger,
		now:       time.Now,
	}
}

// Start starts the check loop
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return ErrSchedulerAlreadyRunning
	}
	c.isRunning = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Sync cron trigger started", zap.Duration("check_interval", c.config.CheckInterval))
	return nil
}

// Stop stops the check loop
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Sync cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	c.CheckAndSchedule(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAndSchedule(ctx)
		}
	}
}

// CheckAndSchedule queues every due integration that has no job in flight and
// returns how many jobs were submitted
func (c *CronTrigger) CheckAndSchedule(ctx context.Context) int {
	due, err := c.provider.FindDue(ctx, c.now())
	if err != nil {
		c.logger.Error("Failed to list due integrations", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	scheduled := 0
	for i := range due {
		integ := &due[i]
		if c.scheduler.IsActive(integ.ID) {
			continue
		}
		_, err := c.scheduler.ScheduleSync(integ.TenantID, integ.ID, integ.Type)
		switch {
		case err == nil:
			scheduled++
		case errors.Is(err, ErrJobAlreadyQueued):
		case errors.Is(err, ErrJobQueueFull):
			c.logger.Warn("Sync queue full, deferring remaining integrations to next tick",
				zap.Int("deferred", len(due)-i),
			)
			return scheduled
		default:
			c.logger.Error("Failed to schedule sync job",
				zap.String("tenant_id", integ.TenantID.String()),
				zap.String("integration_id", integ.ID.String()),
				zap.Error(err),
			)
		}
	}

	if scheduled > 0 {
		c.logger.Info("Scheduled sync jobs", zap.Int("count", scheduled), zap.Int("due", len(due)))
	}
	return scheduled
}
