// Package onboarding serves the per-user setup walkthrough.
package onboarding

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/onboarding"
	"github.com/supplychain/backend/internal/domain/shared"
)

// Service manages onboarding progress
type Service struct {
	repo   onboarding.ProgressRepository
	logger *zap.Logger
}

// NewService creates an onboarding service
func NewService(repo onboarding.ProgressRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Get returns the user's progress. A user who never started gets an
// unstarted, unsaved progress.
func (s *Service) Get(ctx context.Context, tenantID, userID uuid.UUID) (*ProgressResponse, error) {
	p, err := s.load(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return ToProgressResponse(p), nil
}

func (s *Service) load(ctx context.Context, tenantID, userID uuid.UUID) (*onboarding.Progress, error) {
	p, err := s.repo.FindByUser(ctx, tenantID, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, onboarding.ErrProgressNotFound) {
		return nil, err
	}
	p, err = onboarding.NewProgress(tenantID, userID)
	if err != nil {
		return nil, toDomainError(err)
	}
	return p, nil
}

func (s *Service) mutate(ctx context.Context, tenantID, userID uuid.UUID, fn func(*onboarding.Progress) error) (*ProgressResponse, error) {
	p, err := s.load(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	wasComplete := p.IsComplete()
	if err := fn(p); err != nil {
		return nil, toDomainError(err)
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	if !wasComplete && p.IsComplete() {
		s.logger.Info("Onboarding completed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("user_id", userID.String()),
			zap.String("role", string(p.Role)),
		)
	}
	return ToProgressResponse(p), nil
}

// Start selects the role's flow. Starting with another role clears progress.
func (s *Service) Start(ctx context.Context, tenantID, userID uuid.UUID, role string) (*ProgressResponse, error) {
	return s.mutate(ctx, tenantID, userID, func(p *onboarding.Progress) error {
		return p.Start(onboarding.Role(role))
	})
}

// CompleteStep marks a step done
func (s *Service) CompleteStep(ctx context.Context, tenantID, userID uuid.UUID, key string) (*ProgressResponse, error) {
	return s.mutate(ctx, tenantID, userID, func(p *onboarding.Progress) error {
		return p.CompleteStep(key)
	})
}

// Skip passes over an optional step
func (s *Service) Skip(ctx context.Context, tenantID, userID uuid.UUID, key string) (*ProgressResponse, error) {
	return s.mutate(ctx, tenantID, userID, func(p *onboarding.Progress) error {
		return p.Skip(key)
	})
}

// GoTo moves the cursor to a step index
func (s *Service) GoTo(ctx context.Context, tenantID, userID uuid.UUID, index int) (*ProgressResponse, error) {
	return s.mutate(ctx, tenantID, userID, func(p *onboarding.Progress) error {
		return p.GoTo(index)
	})
}

// Next moves the cursor forward
func (s *Service) Next(ctx context.Context, tenantID, userID uuid.UUID) (*ProgressResponse, error) {
	return s.mutate(ctx, tenantID, userID, (*onboarding.Progress).Next)
}

// Previous moves the cursor back
func (s *Service) Previous(ctx context.Context, tenantID, userID uuid.UUID) (*ProgressResponse, error) {
	return s.mutate(ctx, tenantID, userID, (*onboarding.Progress).Previous)
}

// Reset clears progress and keeps the role
func (s *Service) Reset(ctx context.Context, tenantID, userID uuid.UUID) (*ProgressResponse, error) {
	return s.mutate(ctx, tenantID, userID, func(p *onboarding.Progress) error {
		if p.Role == "" {
			return onboarding.ErrNotStarted
		}
		p.Reset()
		return nil
	})
}

// Flows lists every role's steps
func (s *Service) Flows() map[onboarding.Role][]onboarding.Step {
	out := make(map[onboarding.Role][]onboarding.Step)
	for _, r := range onboarding.Roles() {
		steps, _ := onboarding.FlowFor(r)
		out[r] = steps
	}
	return out
}

func toDomainError(err error) error {
	switch {
	case errors.Is(err, onboarding.ErrNotStarted):
		return shared.WrapDomainError(shared.CodeInvalidState, "Onboarding has not been started", err)
	case errors.Is(err, onboarding.ErrStepNotOptional):
		return shared.WrapDomainError(shared.CodeInvalidState, "This step cannot be skipped", err)
	case errors.Is(err, onboarding.ErrUnknownStep):
		return shared.WrapDomainError(shared.CodeNotFound, "Unknown onboarding step", err)
	case errors.Is(err, onboarding.ErrUnknownRole),
		errors.Is(err, onboarding.ErrStepOutOfRange),
		errors.Is(err, onboarding.ErrInvalidUserID):
		return shared.WrapDomainError(shared.CodeInvalidInput, err.Error(), err)
	default:
		return err
	}
}
