package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/config"
)

// NewIdempotencyStore returns a Redis store when Redis is enabled and
// reachable. Otherwise it returns a MemoryStore, unless requireRedis is set,
// in which case the connection error is returned.
func NewIdempotencyStore(ctx context.Context, cfg config.RedisConfig, requireRedis bool, logger *zap.Logger) (shared.IdempotencyStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("redis disabled, using in-memory idempotency store")
		return NewMemoryStore(DefaultSweepInterval), nil
	}

	store, err := NewRedisStore(ctx, cfg)
	if err == nil {
		logger.Info("using redis idempotency store", zap.String("addr", cfg.Addr()))
		return store, nil
	}
	if requireRedis {
		return nil, err
	}
	logger.Warn("redis unavailable, falling back to in-memory idempotency store; "+
		"redelivered events may be processed twice across instances",
		zap.Error(err),
	)
	return NewMemoryStore(DefaultSweepInterval), nil
}
