// Package event provides the in-process event bus used to fan domain events
// (integration lifecycle, sync results, KYC decisions) out to subscribers.
package event

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/shared"
)

// Bus dispatches events synchronously to every matching handler. A failing
// or panicking handler is logged and never stops delivery to the others.
type Bus struct {
	registry *Registry
	logger   *zap.Logger
	running  atomic.Bool

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewBus creates a bus. Publishing works before Start; Start and Stop only
// gate delivery during shutdown.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{registry: NewRegistry(), logger: logger.With(zap.String("component", "event_bus"))}
	b.running.Store(true)
	return b
}

// Publish delivers events in order
func (b *Bus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	if !b.running.Load() {
		b.logger.Warn("event bus stopped, dropping events", zap.Int("count", len(events)))
		return nil
	}
	for _, ev := range events {
		for _, h := range b.registry.Handlers(ev.EventType()) {
			if err := b.dispatch(ctx, h, ev); err != nil {
				b.failed.Add(1)
				b.logger.Error("event handler failed",
					zap.String("event_type", ev.EventType()),
					zap.String("event_id", ev.EventID().String()),
					zap.String("tenant_id", ev.TenantID().String()),
					zap.Error(err),
				)
				continue
			}
			b.delivered.Add(1)
		}
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, h shared.EventHandler, ev shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

// Subscribe registers handler for eventTypes, or for handler.EventTypes()
// when none are given. No types at all subscribes to every event.
func (b *Bus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes handler from every type
func (b *Bus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start resumes delivery
func (b *Bus) Start(context.Context) error {
	b.running.Store(true)
	return nil
}

// Stop drops events published from now on
func (b *Bus) Stop(context.Context) error {
	b.running.Store(false)
	b.logger.Info("event bus stopped",
		zap.Int64("delivered", b.delivered.Load()),
		zap.Int64("failed", b.failed.Load()),
	)
	return nil
}

// Stats returns delivered and failed handler invocations
func (b *Bus) Stats() (delivered, failed int64) {
	return b.delivered.Load(), b.failed.Load()
}

var _ shared.EventBus = (*Bus)(nil)
