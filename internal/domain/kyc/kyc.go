// Package kyc contains the Know-Your-Customer verification context.
// A tenant company moves through NOT_STARTED, IN_PROGRESS, PENDING_REVIEW
// and finally APPROVED or REJECTED; a rejected application can be reopened.
package kyc

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// AggregateTypeKYC is the aggregate type name used in events
const AggregateTypeKYC = "KYCApplication"

var (
	ErrInvalidTransition     = errors.New("kyc: invalid status transition")
	ErrApplicationNotFound   = errors.New("kyc: application not found")
	ErrInvalidDocumentType   = errors.New("kyc: invalid document type")
	ErrMissingDocuments      = errors.New("kyc: required documents missing")
	ErrIncompleteDetails     = errors.New("kyc: business details incomplete")
	ErrRejectionReasonNeeded = errors.New("kyc: rejection reason is required")
	ErrReviewerRequired      = errors.New("kyc: reviewer is required")
	ErrInvalidTenantID       = errors.New("kyc: invalid tenant ID")
	ErrInvalidFileName       = errors.New("kyc: invalid file name")
)

// Status is the KYC state machine state
type Status string

const (
	StatusNotStarted    Status = "NOT_STARTED"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusApproved      Status = "APPROVED"
	StatusRejected      Status = "REJECTED"
)

var transitions = map[Status][]Status{
	StatusNotStarted:    {StatusInProgress},
	StatusInProgress:    {StatusPendingReview},
	StatusPendingReview: {StatusApproved, StatusRejected},
	StatusRejected:      {StatusInProgress},
	StatusApproved:      nil,
}

// CanTransition reports whether from -> to is an allowed move
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// DocumentType is the kind of supporting document
type DocumentType string

const (
	DocumentBusinessLicense DocumentType = "BUSINESS_LICENSE"
	DocumentTaxCertificate  DocumentType = "TAX_CERTIFICATE"
	DocumentIDProof         DocumentType = "ID_PROOF"
	DocumentAddressProof    DocumentType = "ADDRESS_PROOF"
)

// IsValid returns true if the document type is known
func (d DocumentType) IsValid() bool {
	switch d {
	case DocumentBusinessLicense, DocumentTaxCertificate, DocumentIDProof, DocumentAddressProof:
		return true
	default:
		return false
	}
}

// RequiredDocuments must be present before submission
var RequiredDocuments = []DocumentType{DocumentBusinessLicense, DocumentIDProof}

// Document is an uploaded supporting file
type Document struct {
	Type       DocumentType `json:"type"`
	FileName   string       `json:"file_name"`
	StorageKey string       `json:"storage_key"`
	UploadedAt time.Time    `json:"uploaded_at"`
}

// Details are the business facts under verification
type Details struct {
	BusinessName       string `json:"business_name"`
	RegistrationNumber string `json:"registration_number"`
	Country            string `json:"country"`
	Address            string `json:"address"`
}

// Application is the KYC aggregate; one per tenant
type Application struct {
	shared.TenantAggregateRoot
	Status          Status
	Details         Details
	Documents       []Document
	SubmittedAt     *time.Time
	ReviewedAt      *time.Time
	ReviewerID      *uuid.UUID
	RejectionReason string
}

// NewApplication creates an application in NOT_STARTED
func NewApplication(tenantID uuid.UUID) (*Application, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	return &Application{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Status:              StatusNotStarted,
		Documents:           make([]Document, 0),
	}, nil
}

func (a *Application) moveTo(to Status) error {
	if !CanTransition(a.Status, to) {
		return ErrInvalidTransition
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	a.IncrementVersion()
	return nil
}

// Start begins filling in the application
func (a *Application) Start() error {
	return a.moveTo(StatusInProgress)
}

// UpdateDetails replaces the business details while IN_PROGRESS
func (a *Application) UpdateDetails(d Details) error {
	if a.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	a.Details = Details{
		BusinessName:       strings.TrimSpace(d.BusinessName),
		RegistrationNumber: strings.TrimSpace(d.RegistrationNumber),
		Country:            strings.ToUpper(strings.TrimSpace(d.Country)),
		Address:            strings.TrimSpace(d.Address),
	}
	a.UpdatedAt = time.Now()
	a.IncrementVersion()
	return nil
}

// AddDocument attaches a document while IN_PROGRESS, replacing one of the same type
func (a *Application) AddDocument(docType DocumentType, fileName, storageKey string) error {
	if a.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	if !docType.IsValid() {
		return ErrInvalidDocumentType
	}
	if strings.TrimSpace(fileName) == "" || storageKey == "" {
		return ErrInvalidFileName
	}
	doc := Document{Type: docType, FileName: fileName, StorageKey: storageKey, UploadedAt: time.Now()}
	for i := range a.Documents {
		if a.Documents[i].Type == docType {
			a.Documents[i] = doc
			a.UpdatedAt = time.Now()
			a.IncrementVersion()
			return nil
		}
	}
	a.Documents = append(a.Documents, doc)
	a.UpdatedAt = time.Now()
	a.IncrementVersion()
	return nil
}

// HasDocument reports whether a document of the type is attached
func (a *Application) HasDocument(docType DocumentType) bool {
	for _, d := range a.Documents {
		if d.Type == docType {
			return true
		}
	}
	return false
}

// MissingDocuments lists required documents not yet attached
func (a *Application) MissingDocuments() []DocumentType {
	var missing []DocumentType
	for _, req := range RequiredDocuments {
		if !a.HasDocument(req) {
			missing = append(missing, req)
		}
	}
	return missing
}

// Submit sends the application for review
func (a *Application) Submit() error {
	if a.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	if a.Details.BusinessName == "" || a.Details.RegistrationNumber == "" {
		return ErrIncompleteDetails
	}
	if len(a.MissingDocuments()) > 0 {
		return ErrMissingDocuments
	}
	if err := a.moveTo(StatusPendingReview); err != nil {
		return err
	}
	now := time.Now()
	a.SubmittedAt = &now
	a.RejectionReason = ""
	a.AddDomainEvent(NewKYCSubmittedEvent(a))
	return nil
}

// Approve accepts the application
func (a *Application) Approve(reviewerID uuid.UUID) error {
	if reviewerID == uuid.Nil {
		return ErrReviewerRequired
	}
	if err := a.moveTo(StatusApproved); err != nil {
		return err
	}
	a.markReviewed(reviewerID)
	a.AddDomainEvent(NewKYCApprovedEvent(a))
	return nil
}

// Reject declines the application with a reason
func (a *Application) Reject(reviewerID uuid.UUID, reason string) error {
	if reviewerID == uuid.Nil {
		return ErrReviewerRequired
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrRejectionReasonNeeded
	}
	if err := a.moveTo(StatusRejected); err != nil {
		return err
	}
	a.markReviewed(reviewerID)
	a.RejectionReason = reason
	a.AddDomainEvent(NewKYCRejectedEvent(a))
	return nil
}

// Reopen returns a rejected application to IN_PROGRESS for resubmission
func (a *Application) Reopen() error {
	return a.moveTo(StatusInProgress)
}

func (a *Application) markReviewed(reviewerID uuid.UUID) {
	now := time.Now()
	a.ReviewedAt = &now
	a.ReviewerID = &reviewerID
}
