// Package kyc drives a tenant's Know-Your-Customer application through
// its review workflow.
package kyc

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/kyc"
	"github.com/supplychain/backend/internal/domain/shared"
)

// DocumentStorage presigns uploads of KYC documents
type DocumentStorage interface {
	GenerateUploadURL(ctx context.Context, storageKey, contentType string, expiresIn time.Duration) (string, time.Time, error)
	ObjectExists(ctx context.Context, storageKey string) (bool, error)
}

// UploadURLExpiry is how long a document upload URL stays valid
const UploadURLExpiry = 15 * time.Minute

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Service manages KYC applications
type Service struct {
	repo    kyc.ApplicationRepository
	storage DocumentStorage
	events  shared.EventPublisher
	logger  *zap.Logger
}

// NewService creates a KYC service
func NewService(repo kyc.ApplicationRepository, storage DocumentStorage, events shared.EventPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, storage: storage, events: events, logger: logger}
}

// Get returns the tenant's application, creating it on first access
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID) (*ApplicationResponse, error) {
	app, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return ToApplicationResponse(app), nil
}

func (s *Service) load(ctx context.Context, tenantID uuid.UUID) (*kyc.Application, error) {
	app, err := s.repo.FindByTenant(ctx, tenantID)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, kyc.ErrApplicationNotFound) {
		return nil, err
	}
	app, err = kyc.NewApplication(tenantID)
	if err != nil {
		return nil, toDomainError(err)
	}
	if err := s.repo.Save(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// mutate loads the application, applies fn and persists the result
func (s *Service) mutate(ctx context.Context, tenantID uuid.UUID, action string, fn func(*kyc.Application) error) (*ApplicationResponse, error) {
	app, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	from := app.Status
	if err := fn(app); err != nil {
		s.logger.Debug("KYC action rejected",
			zap.String("tenant_id", tenantID.String()),
			zap.String("action", action),
			zap.String("status", string(from)),
			zap.Error(err),
		)
		return nil, toDomainError(err)
	}
	if err := s.repo.Save(ctx, app); err != nil {
		return nil, err
	}
	if events := app.PopDomainEvents(); len(events) > 0 && s.events != nil {
		if err := s.events.Publish(ctx, events...); err != nil {
			s.logger.Warn("Failed to publish KYC events", zap.Error(err))
		}
	}
	if from != app.Status {
		s.logger.Info("KYC status changed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(app.Status)),
		)
	}
	return ToApplicationResponse(app), nil
}

// Start begins the application
func (s *Service) Start(ctx context.Context, tenantID uuid.UUID) (*ApplicationResponse, error) {
	return s.mutate(ctx, tenantID, "start", func(a *kyc.Application) error { return a.Start() })
}

// UpdateDetails replaces the business details
func (s *Service) UpdateDetails(ctx context.Context, tenantID uuid.UUID, req UpdateDetailsRequest) (*ApplicationResponse, error) {
	return s.mutate(ctx, tenantID, "update_details", func(a *kyc.Application) error {
		return a.UpdateDetails(kyc.Details{
			BusinessName:       req.BusinessName,
			RegistrationNumber: req.RegistrationNumber,
			Country:            req.Country,
			Address:            req.Address,
		})
	})
}

// documentPrefix is where a tenant's KYC documents live in the bucket
func documentPrefix(tenantID uuid.UUID) string {
	return "kyc/" + tenantID.String() + "/"
}

// RequestDocumentUpload returns a presigned PUT URL and the key to attach afterwards
func (s *Service) RequestDocumentUpload(ctx context.Context, tenantID uuid.UUID, req UploadURLRequest) (*UploadURLResponse, error) {
	docType := kyc.DocumentType(req.DocumentType)
	if !docType.IsValid() {
		return nil, toDomainError(kyc.ErrInvalidDocumentType)
	}
	name := sanitizeFileName(req.FileName)
	if name == "" {
		return nil, toDomainError(kyc.ErrInvalidFileName)
	}
	app, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if app.Status != kyc.StatusInProgress {
		return nil, toDomainError(kyc.ErrInvalidTransition)
	}

	key := fmt.Sprintf("%s%s/%s-%s", documentPrefix(tenantID), strings.ToLower(string(docType)), uuid.NewString(), name)
	url, expiresAt, err := s.storage.GenerateUploadURL(ctx, key, req.ContentType, UploadURLExpiry)
	if err != nil {
		return nil, shared.WrapDomainError(shared.CodeExternalService, "Failed to generate upload URL", err)
	}
	return &UploadURLResponse{UploadURL: url, StorageKey: key, ExpiresAt: expiresAt}, nil
}

// AddDocument attaches an uploaded document. The key must come from
// RequestDocumentUpload for this tenant and the object must exist.
func (s *Service) AddDocument(ctx context.Context, tenantID uuid.UUID, req AddDocumentRequest) (*ApplicationResponse, error) {
	if !strings.HasPrefix(req.StorageKey, documentPrefix(tenantID)) {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Storage key does not belong to this tenant")
	}
	exists, err := s.storage.ObjectExists(ctx, req.StorageKey)
	if err != nil {
		return nil, shared.WrapDomainError(shared.CodeExternalService, "Failed to check uploaded document", err)
	}
	if !exists {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Document has not been uploaded")
	}
	return s.mutate(ctx, tenantID, "add_document", func(a *kyc.Application) error {
		return a.AddDocument(kyc.DocumentType(req.DocumentType), req.FileName, req.StorageKey)
	})
}

// Submit sends the application for review
func (s *Service) Submit(ctx context.Context, tenantID uuid.UUID) (*ApplicationResponse, error) {
	return s.mutate(ctx, tenantID, "submit", func(a *kyc.Application) error { return a.Submit() })
}

// Reopen returns a rejected application to IN_PROGRESS
func (s *Service) Reopen(ctx context.Context, tenantID uuid.UUID) (*ApplicationResponse, error) {
	return s.mutate(ctx, tenantID, "reopen", func(a *kyc.Application) error { return a.Reopen() })
}

// Approve accepts the tenant's application
func (s *Service) Approve(ctx context.Context, tenantID, reviewerID uuid.UUID) (*ApplicationResponse, error) {
	return s.mutate(ctx, tenantID, "approve", func(a *kyc.Application) error { return a.Approve(reviewerID) })
}

// Reject declines the tenant's application
func (s *Service) Reject(ctx context.Context, tenantID, reviewerID uuid.UUID, reason string) (*ApplicationResponse, error) {
	return s.mutate(ctx, tenantID, "reject", func(a *kyc.Application) error { return a.Reject(reviewerID, reason) })
}

// ListPending lists applications waiting for review across tenants
func (s *Service) ListPending(ctx context.Context, filter shared.Filter) ([]ApplicationResponse, int64, error) {
	apps, total, err := s.repo.FindByStatus(ctx, kyc.StatusPendingReview, filter.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]ApplicationResponse, 0, len(apps))
	for i := range apps {
		out = append(out, *ToApplicationResponse(&apps[i]))
	}
	return out, total, nil
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "_.")
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}

func toDomainError(err error) error {
	switch {
	case errors.Is(err, kyc.ErrInvalidTransition):
		return shared.WrapDomainError(shared.CodeInvalidState, "Action not allowed in the current KYC status", err)
	case errors.Is(err, kyc.ErrMissingDocuments):
		return shared.WrapDomainError(shared.CodeInvalidState, "Business license and ID proof are required before submission", err)
	case errors.Is(err, kyc.ErrIncompleteDetails):
		return shared.WrapDomainError(shared.CodeInvalidState, "Business name and registration number are required before submission", err)
	case errors.Is(err, kyc.ErrInvalidDocumentType),
		errors.Is(err, kyc.ErrInvalidFileName),
		errors.Is(err, kyc.ErrRejectionReasonNeeded),
		errors.Is(err, kyc.ErrReviewerRequired),
		errors.Is(err, kyc.ErrInvalidTenantID):
		return shared.WrapDomainError(shared.CodeInvalidInput, err.Error(), err)
	default:
		return err
	}
}
