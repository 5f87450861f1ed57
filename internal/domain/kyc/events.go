package kyc

import (
	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// Event type constants for KYC
const (
	EventTypeKYCSubmitted = "KYCSubmitted"
	EventTypeKYCApproved  = "KYCApproved"
	EventTypeKYCRejected  = "KYCRejected"
)

// KYCSubmittedEvent is published when an application enters review
type KYCSubmittedEvent struct {
	shared.BaseDomainEvent
	ApplicationID uuid.UUID `json:"application_id"`
	BusinessName  string    `json:"business_name"`
}

// NewKYCSubmittedEvent creates a new KYCSubmittedEvent
func NewKYCSubmittedEvent(a *Application) *KYCSubmittedEvent {
	return &KYCSubmittedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeKYCSubmitted, AggregateTypeKYC, a.ID, a.TenantID),
		ApplicationID:   a.ID,
		BusinessName:    a.Details.BusinessName,
	}
}

// KYCApprovedEvent is published when an application is approved
type KYCApprovedEvent struct {
	shared.BaseDomainEvent
	ApplicationID uuid.UUID `json:"application_id"`
	BusinessName  string    `json:"business_name"`
	ReviewerID    uuid.UUID `json:"reviewer_id"`
}

// NewKYCApprovedEvent creates a new KYCApprovedEvent
func NewKYCApprovedEvent(a *Application) *KYCApprovedEvent {
	return &KYCApprovedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeKYCApproved, AggregateTypeKYC, a.ID, a.TenantID),
		ApplicationID:   a.ID,
		BusinessName:    a.Details.BusinessName,
		ReviewerID:      *a.ReviewerID,
	}
}

// KYCRejectedEvent is published when an application is rejected
type KYCRejectedEvent struct {
	shared.BaseDomainEvent
	ApplicationID uuid.UUID `json:"application_id"`
	BusinessName  string    `json:"business_name"`
	ReviewerID    uuid.UUID `json:"reviewer_id"`
	Reason        string    `json:"reason"`
}

// NewKYCRejectedEvent creates a new KYCRejectedEvent
func NewKYCRejectedEvent(a *Application) *KYCRejectedEvent {
	return &KYCRejectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeKYCRejected, AggregateTypeKYC, a.ID, a.TenantID),
		ApplicationID:   a.ID,
		BusinessName:    a.Details.BusinessName,
		ReviewerID:      *a.ReviewerID,
		Reason:          a.RejectionReason,
	}
}
