package connector

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
)

// Constructor builds an adapter
type Constructor func() integration.Adapter

// Factory builds one adapter per integration type on first use
type Factory struct {
	mu       sync.Mutex
	ctors    map[integration.IntegrationType]Constructor
	adapters map[integration.IntegrationType]integration.Adapter
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{
		ctors:    make(map[integration.IntegrationType]Constructor),
		adapters: make(map[integration.IntegrationType]integration.Adapter),
	}
}

// NewDefaultFactory registers every built-in vendor adapter
func NewDefaultFactory(cfg Config, logger *zap.Logger) *Factory {
	f := NewFactory()
	f.Register(integration.IntegrationTypeSAP, func() integration.Adapter { return NewSAPAdapter(cfg, logger) })
	f.Register(integration.IntegrationTypePowerBI, func() integration.Adapter { return NewPowerBIAdapter(cfg, logger) })
	f.Register(integration.IntegrationTypeIoT, func() integration.Adapter { return NewIoTAdapter(cfg, logger) })
	f.Register(integration.IntegrationTypeShopify, func() integration.Adapter { return NewShopifyAdapter(cfg, logger) })
	return f
}

// Register sets the constructor for a type, discarding any adapter already built
func (f *Factory) Register(t integration.IntegrationType, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[t] = ctor
	delete(f.adapters, t)
}

// Adapter returns the adapter for t
func (f *Factory) Adapter(t integration.IntegrationType) (integration.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.adapters[t]; ok {
		return a, nil
	}
	ctor, ok := f.ctors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrAdapterNotRegistered, t)
	}
	a := ctor()
	f.adapters[t] = a
	return a, nil
}

// Types lists registered types in display order
func (f *Factory) Types() []integration.IntegrationType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []integration.IntegrationType
	for _, t := range integration.AllIntegrationTypes() {
		if _, ok := f.ctors[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

var _ integration.AdapterFactory = (*Factory)(nil)
