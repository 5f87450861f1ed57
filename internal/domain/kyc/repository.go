package kyc

import (
	"context"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// ApplicationRepository defines persistence for KYC applications
type ApplicationRepository interface {
	// FindByTenant returns the tenant's application or ErrApplicationNotFound
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*Application, error)

	// FindByStatus lists applications across tenants, used by reviewers
	FindByStatus(ctx context.Context, status Status, filter shared.Filter) ([]Application, int64, error)

	Save(ctx context.Context, app *Application) error
}
