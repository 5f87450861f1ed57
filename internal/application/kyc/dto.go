package kyc

import (
	"time"

	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/kyc"
)

// UpdateDetailsRequest carries the business details
type UpdateDetailsRequest struct {
	BusinessName       string `json:"business_name" binding:"omitempty,max=200"`
	RegistrationNumber string `json:"registration_number" binding:"omitempty,max=100"`
	Country            string `json:"country" binding:"omitempty,len=2"`
	Address            string `json:"address" binding:"omitempty,max=500"`
}

// UploadURLRequest asks for a presigned document upload
type UploadURLRequest struct {
	DocumentType string `json:"document_type" binding:"required,kyc_document_type"`
	FileName     string `json:"file_name" binding:"required,max=255"`
	ContentType  string `json:"content_type" binding:"omitempty,max=100"`
}

// UploadURLResponse is where to PUT the file and the key to attach afterwards
type UploadURLResponse struct {
	UploadURL  string    `json:"upload_url"`
	StorageKey string    `json:"storage_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AddDocumentRequest attaches an uploaded document
type AddDocumentRequest struct {
	DocumentType string `json:"document_type" binding:"required,kyc_document_type"`
	FileName     string `json:"file_name" binding:"required,max=255"`
	StorageKey   string `json:"storage_key" binding:"required,max=500"`
}

// RejectRequest carries the rejection reason
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=1000"`
}

// ApplicationResponse is a KYC application
type ApplicationResponse struct {
	ID               uuid.UUID          `json:"id"`
	TenantID         uuid.UUID          `json:"tenant_id"`
	Status           kyc.Status         `json:"status"`
	Details          kyc.Details        `json:"details"`
	Documents        []kyc.Document     `json:"documents"`
	MissingDocuments []kyc.DocumentType `json:"missing_documents"`
	SubmittedAt      *time.Time         `json:"submitted_at,omitempty"`
	ReviewedAt       *time.Time         `json:"reviewed_at,omitempty"`
	ReviewerID       *uuid.UUID         `json:"reviewer_id,omitempty"`
	RejectionReason  string             `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ToApplicationResponse converts the aggregate to a response
func ToApplicationResponse(a *kyc.Application) *ApplicationResponse {
	docs := a.Documents
	if docs == nil {
		docs = []kyc.Document{}
	}
	missing := a.MissingDocuments()
	if missing == nil {
		missing = []kyc.DocumentType{}
	}
	return &ApplicationResponse{
		ID:               a.ID,
		TenantID:         a.TenantID,
		Status:           a.Status,
		Details:          a.Details,
		Documents:        docs,
		MissingDocuments: missing,
		SubmittedAt:      a.SubmittedAt,
		ReviewedAt:       a.ReviewedAt,
		ReviewerID:       a.ReviewerID,
		RejectionReason:  a.RejectionReason,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}
