package event

import (
	"context"

	"github.com/supplychain/backend/internal/domain/shared"
)

// HandlerFunc adapts a function to shared.EventHandler
type HandlerFunc struct {
	Types []string
	Fn    func(ctx context.Context, ev shared.DomainEvent) error
}

// Handle calls Fn
func (f *HandlerFunc) Handle(ctx context.Context, ev shared.DomainEvent) error {
	return f.Fn(ctx, ev)
}

// EventTypes returns Types
func (f *HandlerFunc) EventTypes() []string { return f.Types }

var _ shared.EventHandler = (*HandlerFunc)(nil)
