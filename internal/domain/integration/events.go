package integration

import (
	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// Event type constants for Integration
const (
	EventTypeIntegrationConnected        = "IntegrationConnected"
	EventTypeIntegrationDisconnected     = "IntegrationDisconnected"
	EventTypeIntegrationConnectionFailed = "IntegrationConnectionFailed"
	EventTypeIntegrationSyncCompleted    = "IntegrationSyncCompleted"
	EventTypeIntegrationSyncFailed       = "IntegrationSyncFailed"
)

// IntegrationConnectedEvent is published when a connector session opens
type IntegrationConnectedEvent struct {
	shared.BaseDomainEvent
	IntegrationID   uuid.UUID       `json:"integration_id"`
	Name            string          `json:"name"`
	IntegrationType IntegrationType `json:"integration_type"`
}

// NewIntegrationConnectedEvent creates a new IntegrationConnectedEvent
func NewIntegrationConnectedEvent(i *Integration) *IntegrationConnectedEvent {
	return &IntegrationConnectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeIntegrationConnected, AggregateTypeIntegration, i.ID, i.TenantID),
		IntegrationID:   i.ID,
		Name:            i.Name,
		IntegrationType: i.Type,
	}
}

// IntegrationDisconnectedEvent is published when a connector session closes
type IntegrationDisconnectedEvent struct {
	shared.BaseDomainEvent
	IntegrationID   uuid.UUID       `json:"integration_id"`
	Name            string          `json:"name"`
	IntegrationType IntegrationType `json:"integration_type"`
}

// NewIntegrationDisconnectedEvent creates a new IntegrationDisconnectedEvent
func NewIntegrationDisconnectedEvent(i *Integration) *IntegrationDisconnectedEvent {
	return &IntegrationDisconnectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeIntegrationDisconnected, AggregateTypeIntegration, i.ID, i.TenantID),
		IntegrationID:   i.ID,
		Name:            i.Name,
		IntegrationType: i.Type,
	}
}

// IntegrationConnectionFailedEvent is published when connect is rejected
type IntegrationConnectionFailedEvent struct {
	shared.BaseDomainEvent
	IntegrationID   uuid.UUID       `json:"integration_id"`
	Name            string          `json:"name"`
	IntegrationType IntegrationType `json:"integration_type"`
	Error           string          `json:"error"`
}

// NewIntegrationConnectionFailedEvent creates a new IntegrationConnectionFailedEvent
func NewIntegrationConnectionFailedEvent(i *Integration) *IntegrationConnectionFailedEvent {
	return &IntegrationConnectionFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeIntegrationConnectionFailed, AggregateTypeIntegration, i.ID, i.TenantID),
		IntegrationID:   i.ID,
		Name:            i.Name,
		IntegrationType: i.Type,
		Error:           i.LastError,
	}
}

// IntegrationSyncEvent carries the summary of a finished sync run
type IntegrationSyncEvent struct {
	shared.BaseDomainEvent
	IntegrationID   uuid.UUID       `json:"integration_id"`
	Name            string          `json:"name"`
	IntegrationType IntegrationType `json:"integration_type"`
	RunID           uuid.UUID       `json:"run_id"`
	Trigger         SyncTrigger     `json:"trigger"`
	Direction       SyncDirection   `json:"direction"`
	Status          SyncStatus      `json:"status"`
	Total           int             `json:"total"`
	Created         int             `json:"created"`
	Updated         int             `json:"updated"`
	Unchanged       int             `json:"unchanged"`
	Pushed          int             `json:"pushed"`
	Failed          int             `json:"failed"`
	Error           string          `json:"error,omitempty"`
}

func newIntegrationSyncEvent(eventType string, i *Integration, run *SyncRun) *IntegrationSyncEvent {
	return &IntegrationSyncEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, AggregateTypeIntegration, i.ID, i.TenantID),
		IntegrationID:   i.ID,
		Name:            i.Name,
		IntegrationType: i.Type,
		RunID:           run.ID,
		Trigger:         run.Trigger,
		Direction:       run.Direction,
		Status:          run.Status,
		Total:           run.Total,
		Created:         run.Created,
		Updated:         run.Updated,
		Unchanged:       run.Unchanged,
		Pushed:          run.Pushed,
		Failed:          run.Failed,
		Error:           run.Error,
	}
}

// NewIntegrationSyncCompletedEvent is raised for SUCCESS and PARTIAL runs
func NewIntegrationSyncCompletedEvent(i *Integration, run *SyncRun) *IntegrationSyncEvent {
	return newIntegrationSyncEvent(EventTypeIntegrationSyncCompleted, i, run)
}

// NewIntegrationSyncFailedEvent is raised for FAILED runs
func NewIntegrationSyncFailedEvent(i *Integration, run *SyncRun) *IntegrationSyncEvent {
	return newIntegrationSyncEvent(EventTypeIntegrationSyncFailed, i, run)
}
