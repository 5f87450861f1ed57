package kyc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/supplychain/backend/internal/domain/kyc"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/storage"
)

// MockApplicationRepository is a mock implementation of kyc.ApplicationRepository
type MockApplicationRepository struct {
	mock.Mock
}

func (m *MockApplicationRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*kyc.Application, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kyc.Application), args.Error(1)
}

func (m *MockApplicationRepository) FindByStatus(ctx context.Context, status kyc.Status, filter shared.Filter) ([]kyc.Application, int64, error) {
	args := m.Called(ctx, status, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]kyc.Application), args.Get(1).(int64), args.Error(2)
}

func (m *MockApplicationRepository) Save(ctx context.Context, app *kyc.Application) error {
	args := m.Called(ctx, app)
	return args.Error(0)
}

// MockDocumentStorage is a mock implementation of DocumentStorage
type MockDocumentStorage struct {
	mock.Mock
}

func (m *MockDocumentStorage) GenerateUploadURL(ctx context.Context, key, contentType string, expiresIn time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, key, contentType, expiresIn)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockDocumentStorage) ObjectExists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// MockEventPublisher is a mock implementation of shared.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// memApplications keeps applications by tenant for end-to-end flows
type memApplications struct {
	mu   sync.Mutex
	apps map[uuid.UUID]*kyc.Application
}

func newMemApplications() *memApplications {
	return &memApplications{apps: make(map[uuid.UUID]*kyc.Application)}
}

func (r *memApplications) FindByTenant(_ context.Context, tenantID uuid.UUID) (*kyc.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[tenantID]
	if !ok {
		return nil, kyc.ErrApplicationNotFound
	}
	return app, nil
}

func (r *memApplications) FindByStatus(_ context.Context, status kyc.Status, _ shared.Filter) ([]kyc.Application, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []kyc.Application
	for _, app := range r.apps {
		if app.Status == status {
			out = append(out, *app)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memApplications) Save(_ context.Context, app *kyc.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[app.TenantID] = app
	return nil
}

type collectedEvents struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (c *collectedEvents) Publish(_ context.Context, events ...shared.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *collectedEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType())
	}
	return out
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var de *shared.DomainError
	require.True(t, errors.As(err, &de), "expected DomainError, got %v", err)
	assert.Equal(t, code, de.Code)
}

// uploadDocument requests a URL, simulates the client PUT and attaches the key
func uploadDocument(t *testing.T, svc *Service, store *storage.MemoryObjectStorage, tenantID uuid.UUID, docType kyc.DocumentType, name string) *ApplicationResponse {
	t.Helper()
	ctx := context.Background()
	up, err := svc.RequestDocumentUpload(ctx, tenantID, UploadURLRequest{
		DocumentType: string(docType),
		FileName:     name,
		ContentType:  "application/pdf",
	})
	require.NoError(t, err)
	require.NoError(t, store.Upload(ctx, up.StorageKey, []byte("%PDF-1.7"), "application/pdf"))

	resp, err := svc.AddDocument(ctx, tenantID, AddDocumentRequest{
		DocumentType: string(docType),
		FileName:     name,
		StorageKey:   up.StorageKey,
	})
	require.NoError(t, err)
	return resp
}

func TestService_Flow(t *testing.T) {
	ctx := context.Background()
	repo := newMemApplications()
	store := storage.NewMemoryObjectStorage()
	events := &collectedEvents{}
	svc := NewService(repo, store, events, nil)
	tenantID := uuid.New()
	reviewer := uuid.New()

	t.Run("get creates a not started application", func(t *testing.T) {
		resp, err := svc.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusNotStarted, resp.Status)
		assert.Equal(t, tenantID, resp.TenantID)
		assert.Empty(t, resp.Documents)
		assert.ElementsMatch(t, kyc.RequiredDocuments, resp.MissingDocuments)
	})

	t.Run("submit before start is an invalid state", func(t *testing.T) {
		_, err := svc.Submit(ctx, tenantID)
		assertCode(t, err, shared.CodeInvalidState)
	})

	t.Run("start and fill in details", func(t *testing.T) {
		resp, err := svc.Start(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusInProgress, resp.Status)

		resp, err = svc.UpdateDetails(ctx, tenantID, UpdateDetailsRequest{
			BusinessName:       " Northwind Traders ",
			RegistrationNumber: "HRB 98765",
			Country:            "de",
		})
		require.NoError(t, err)
		assert.Equal(t, "Northwind Traders", resp.Details.BusinessName)
		assert.Equal(t, "DE", resp.Details.Country)
	})

	t.Run("submit without documents", func(t *testing.T) {
		_, err := svc.Submit(ctx, tenantID)
		assertCode(t, err, shared.CodeInvalidState)
		assert.ErrorIs(t, err, kyc.ErrMissingDocuments)
	})

	t.Run("upload documents", func(t *testing.T) {
		resp := uploadDocument(t, svc, store, tenantID, kyc.DocumentBusinessLicense, "license.pdf")
		assert.Equal(t, []kyc.DocumentType{kyc.DocumentIDProof}, resp.MissingDocuments)

		resp = uploadDocument(t, svc, store, tenantID, kyc.DocumentIDProof, "../../passport scan.pdf")
		assert.Empty(t, resp.MissingDocuments)
		require.Len(t, resp.Documents, 2)
		key := resp.Documents[1].StorageKey
		assert.True(t, strings.HasPrefix(key, "kyc/"+tenantID.String()+"/id_proof/"), key)
		assert.True(t, strings.HasSuffix(key, "-passport_scan.pdf"), key)
	})

	t.Run("submit and reject", func(t *testing.T) {
		resp, err := svc.Submit(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusPendingReview, resp.Status)
		assert.NotNil(t, resp.SubmittedAt)

		pending, total, err := svc.ListPending(ctx, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, tenantID, pending[0].TenantID)

		_, err = svc.Reject(ctx, tenantID, reviewer, "  ")
		assertCode(t, err, shared.CodeInvalidInput)

		resp, err = svc.Reject(ctx, tenantID, reviewer, "License is expired")
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusRejected, resp.Status)
		assert.Equal(t, "License is expired", resp.RejectionReason)
		require.NotNil(t, resp.ReviewerID)
		assert.Equal(t, reviewer, *resp.ReviewerID)
	})

	t.Run("reopen, resubmit and approve", func(t *testing.T) {
		resp, err := svc.Reopen(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusInProgress, resp.Status)

		uploadDocument(t, svc, store, tenantID, kyc.DocumentBusinessLicense, "license-2027.pdf")
		_, err = svc.Submit(ctx, tenantID)
		require.NoError(t, err)

		resp, err = svc.Approve(ctx, tenantID, reviewer)
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusApproved, resp.Status)
		assert.Empty(t, resp.RejectionReason)
	})

	t.Run("approved is terminal", func(t *testing.T) {
		_, err := svc.Reopen(ctx, tenantID)
		assertCode(t, err, shared.CodeInvalidState)
		_, err = svc.Start(ctx, tenantID)
		assertCode(t, err, shared.CodeInvalidState)
	})

	t.Run("events were published in order", func(t *testing.T) {
		assert.Equal(t, []string{
			kyc.EventTypeKYCSubmitted,
			kyc.EventTypeKYCRejected,
			kyc.EventTypeKYCSubmitted,
			kyc.EventTypeKYCApproved,
		}, events.types())
	})
}

func TestService_RequestDocumentUpload(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	inProgress := func(t *testing.T) *kyc.Application {
		app, err := kyc.NewApplication(tenantID)
		require.NoError(t, err)
		require.NoError(t, app.Start())
		return app
	}

	t.Run("presigns a tenant scoped key", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		store := new(MockDocumentStorage)
		expires := time.Now().Add(UploadURLExpiry)
		repo.On("FindByTenant", ctx, tenantID).Return(inProgress(t), nil)
		store.On("GenerateUploadURL", ctx, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "kyc/"+tenantID.String()+"/business_license/")
		}), "application/pdf", UploadURLExpiry).Return("https://bucket/presigned", expires, nil)

		svc := NewService(repo, store, nil, nil)
		resp, err := svc.RequestDocumentUpload(ctx, tenantID, UploadURLRequest{
			DocumentType: string(kyc.DocumentBusinessLicense),
			FileName:     "license.pdf",
			ContentType:  "application/pdf",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://bucket/presigned", resp.UploadURL)
		assert.Equal(t, expires, resp.ExpiresAt)
		assert.True(t, strings.HasSuffix(resp.StorageKey, "-license.pdf"))
		repo.AssertExpectations(t)
		store.AssertExpectations(t)
	})

	t.Run("rejects unknown document types before loading", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		svc := NewService(repo, new(MockDocumentStorage), nil, nil)
		_, err := svc.RequestDocumentUpload(ctx, tenantID, UploadURLRequest{DocumentType: "PASSPORT_PHOTO", FileName: "a.pdf"})
		assertCode(t, err, shared.CodeInvalidInput)
		repo.AssertNotCalled(t, "FindByTenant", mock.Anything, mock.Anything)
	})

	t.Run("rejects empty file names", func(t *testing.T) {
		svc := NewService(new(MockApplicationRepository), new(MockDocumentStorage), nil, nil)
		_, err := svc.RequestDocumentUpload(ctx, tenantID, UploadURLRequest{DocumentType: string(kyc.DocumentIDProof), FileName: "../"})
		assertCode(t, err, shared.CodeInvalidInput)
	})

	t.Run("requires IN_PROGRESS", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		app, err := kyc.NewApplication(tenantID)
		require.NoError(t, err)
		repo.On("FindByTenant", ctx, tenantID).Return(app, nil)
		svc := NewService(repo, new(MockDocumentStorage), nil, nil)

		_, err = svc.RequestDocumentUpload(ctx, tenantID, UploadURLRequest{DocumentType: string(kyc.DocumentIDProof), FileName: "id.png"})
		assertCode(t, err, shared.CodeInvalidState)
	})

	t.Run("storage failure is an external service error", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		store := new(MockDocumentStorage)
		repo.On("FindByTenant", ctx, tenantID).Return(inProgress(t), nil)
		store.On("GenerateUploadURL", ctx, mock.Anything, "", UploadURLExpiry).
			Return("", time.Time{}, errors.New("credentials expired"))
		svc := NewService(repo, store, nil, nil)

		_, err := svc.RequestDocumentUpload(ctx, tenantID, UploadURLRequest{DocumentType: string(kyc.DocumentIDProof), FileName: "id.png"})
		assertCode(t, err, shared.CodeExternalService)
	})
}

func TestService_AddDocument(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	key := "kyc/" + tenantID.String() + "/id_proof/abc-id.png"

	t.Run("foreign key", func(t *testing.T) {
		store := new(MockDocumentStorage)
		svc := NewService(new(MockApplicationRepository), store, nil, nil)
		_, err := svc.AddDocument(ctx, tenantID, AddDocumentRequest{
			DocumentType: string(kyc.DocumentIDProof),
			FileName:     "id.png",
			StorageKey:   "kyc/" + uuid.NewString() + "/id_proof/abc-id.png",
		})
		assertCode(t, err, shared.CodeInvalidInput)
		store.AssertNotCalled(t, "ObjectExists", mock.Anything, mock.Anything)
	})

	t.Run("object never uploaded", func(t *testing.T) {
		store := new(MockDocumentStorage)
		store.On("ObjectExists", ctx, key).Return(false, nil)
		repo := new(MockApplicationRepository)
		svc := NewService(repo, store, nil, nil)

		_, err := svc.AddDocument(ctx, tenantID, AddDocumentRequest{DocumentType: string(kyc.DocumentIDProof), FileName: "id.png", StorageKey: key})
		assertCode(t, err, shared.CodeInvalidInput)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("storage check fails", func(t *testing.T) {
		store := new(MockDocumentStorage)
		store.On("ObjectExists", ctx, key).Return(false, errors.New("timeout"))
		svc := NewService(new(MockApplicationRepository), store, nil, nil)

		_, err := svc.AddDocument(ctx, tenantID, AddDocumentRequest{DocumentType: string(kyc.DocumentIDProof), FileName: "id.png", StorageKey: key})
		assertCode(t, err, shared.CodeExternalService)
	})
}

func TestService_Persistence(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("repository error on load is returned as is", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		dbErr := errors.New("connection refused")
		repo.On("FindByTenant", ctx, tenantID).Return(nil, dbErr)
		svc := NewService(repo, nil, nil, nil)

		_, err := svc.Get(ctx, tenantID)
		assert.ErrorIs(t, err, dbErr)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("rejected transition is not saved", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		app, err := kyc.NewApplication(tenantID)
		require.NoError(t, err)
		repo.On("FindByTenant", ctx, tenantID).Return(app, nil)
		svc := NewService(repo, nil, nil, nil)

		_, err = svc.Approve(ctx, tenantID, uuid.New())
		assertCode(t, err, shared.CodeInvalidState)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("publish failure does not fail the action", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		events := new(MockEventPublisher)
		app, err := kyc.NewApplication(tenantID)
		require.NoError(t, err)
		require.NoError(t, app.Start())
		require.NoError(t, app.UpdateDetails(kyc.Details{BusinessName: "Contoso", RegistrationNumber: "123"}))
		require.NoError(t, app.AddDocument(kyc.DocumentBusinessLicense, "l.pdf", "k1"))
		require.NoError(t, app.AddDocument(kyc.DocumentIDProof, "i.pdf", "k2"))

		repo.On("FindByTenant", ctx, tenantID).Return(app, nil)
		repo.On("Save", ctx, app).Return(nil)
		events.On("Publish", ctx, mock.MatchedBy(func(evs []shared.DomainEvent) bool {
			return len(evs) == 1 && evs[0].EventType() == kyc.EventTypeKYCSubmitted
		})).Return(errors.New("bus down"))
		svc := NewService(repo, nil, events, nil)

		resp, err := svc.Submit(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusPendingReview, resp.Status)
		repo.AssertExpectations(t)
		events.AssertExpectations(t)
	})

	t.Run("save failure is returned", func(t *testing.T) {
		repo := new(MockApplicationRepository)
		app, err := kyc.NewApplication(tenantID)
		require.NoError(t, err)
		repo.On("FindByTenant", ctx, tenantID).Return(app, nil)
		repo.On("Save", ctx, app).Return(shared.ErrConflict)
		svc := NewService(repo, nil, nil, nil)

		_, err = svc.Start(ctx, tenantID)
		assert.ErrorIs(t, err, shared.ErrConflict)
	})
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"license.pdf", "license.pdf"},
		{"  my license (final).pdf ", "my_license_final_.pdf"},
		{`C:\Users\docs\id.png`, "id.png"},
		{"../../etc/passwd", "passwd"},
		{"..", ""},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFileName(tt.in))
		})
	}
}
