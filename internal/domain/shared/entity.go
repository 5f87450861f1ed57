package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries identity and timestamps
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity assigns a fresh ID and stamps both times with now
func NewBaseEntity() BaseEntity {
	now := time.Now()
	return BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

// Touch bumps UpdatedAt to now.
func (e *BaseEntity) Touch() {
	e.UpdatedAt = time.Now()
}

// TenantAggregateRoot is the root of every tenant-owned aggregate. Version
// backs optimistic locking; pending events are drained by the service that
// saved the aggregate.
type TenantAggregateRoot struct {
	BaseEntity
	TenantID uuid.UUID
	Version  int

	pending []DomainEvent
}

// NewTenantAggregateRoot starts a version-1 aggregate owned by tenantID
func NewTenantAggregateRoot(tenantID uuid.UUID) TenantAggregateRoot {
	return TenantAggregateRoot{BaseEntity: NewBaseEntity(), TenantID: tenantID, Version: 1}
}

func (a *TenantAggregateRoot) GetVersion() int { return a.Version }

// IncrementVersion records a state change and touches UpdatedAt
func (a *TenantAggregateRoot) IncrementVersion() {
	a.Version++
	a.Touch()
}

func (a *TenantAggregateRoot) AddDomainEvent(ev DomainEvent) {
	a.pending = append(a.pending, ev)
}

// GetDomainEvents returns the pending events without clearing them
func (a *TenantAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.pending
}

func (a *TenantAggregateRoot) ClearDomainEvents() {
	a.pending = nil
}

// PopDomainEvents returns the pending events and clears them.
func (a *TenantAggregateRoot) PopDomainEvents() []DomainEvent {
	events := a.pending
	a.pending = nil
	return events
}
