package onboarding

import (
	"context"

	"github.com/google/uuid"
)

// ProgressRepository defines persistence for onboarding progress
type ProgressRepository interface {
	// FindByUser returns ErrProgressNotFound when the user never started
	FindByUser(ctx context.Context, tenantID, userID uuid.UUID) (*Progress, error)
	Save(ctx context.Context, p *Progress) error
}
