package onboarding

import (
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// Progress is a user's position in their onboarding flow
type Progress struct {
	shared.TenantAggregateRoot
	UserID         uuid.UUID
	Role           Role
	CurrentStep    int
	CompletedSteps map[string]bool
	SkippedSteps   map[string]bool
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// NewProgress creates an unstarted progress for a user
func NewProgress(tenantID, userID uuid.UUID) (*Progress, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidUserID
	}
	return &Progress{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		UserID:              userID,
		CompletedSteps:      make(map[string]bool),
		SkippedSteps:        make(map[string]bool),
	}, nil
}

// Steps returns the flow of the current role, nil before Start
func (p *Progress) Steps() []Step {
	return flows[p.Role]
}

// Start selects the role's flow and rewinds to the first step.
// Restarting with a different role clears progress.
func (p *Progress) Start(role Role) error {
	if !role.IsValid() {
		return ErrUnknownRole
	}
	if p.Role != role {
		p.clear()
	}
	p.Role = role
	if p.StartedAt == nil {
		now := time.Now()
		p.StartedAt = &now
	}
	p.CurrentStep = p.firstIncomplete()
	p.touch()
	return nil
}

// CompleteStep marks key done and advances to the first incomplete step.
// Completing an already completed step changes nothing.
func (p *Progress) CompleteStep(key string) error {
	if _, err := p.indexOf(key); err != nil {
		return err
	}
	if p.CompletedSteps[key] {
		return nil
	}
	p.CompletedSteps[key] = true
	delete(p.SkippedSteps, key)
	p.advance()
	return nil
}

// Skip passes over an optional step
func (p *Progress) Skip(key string) error {
	idx, err := p.indexOf(key)
	if err != nil {
		return err
	}
	if !p.Steps()[idx].Optional {
		return ErrStepNotOptional
	}
	if p.CompletedSteps[key] || p.SkippedSteps[key] {
		return nil
	}
	p.SkippedSteps[key] = true
	p.advance()
	return nil
}

func (p *Progress) advance() {
	p.CurrentStep = p.firstIncomplete()
	p.refreshCompletion()
	p.touch()
}

// GoTo jumps to a step index
func (p *Progress) GoTo(index int) error {
	if p.Role == "" {
		return ErrNotStarted
	}
	if index < 0 || index >= len(p.Steps()) {
		return ErrStepOutOfRange
	}
	p.CurrentStep = index
	p.touch()
	return nil
}

// Next moves one step forward, stopping at the last step
func (p *Progress) Next() error {
	if p.Role == "" {
		return ErrNotStarted
	}
	if p.CurrentStep < len(p.Steps())-1 {
		p.CurrentStep++
		p.touch()
	}
	return nil
}

// Previous moves one step back, stopping at the first step
func (p *Progress) Previous() error {
	if p.Role == "" {
		return ErrNotStarted
	}
	if p.CurrentStep > 0 {
		p.CurrentStep--
		p.touch()
	}
	return nil
}

// Reset clears all progress but keeps the role
func (p *Progress) Reset() {
	p.clear()
	p.touch()
}

// Current returns the step at the cursor
func (p *Progress) Current() (Step, bool) {
	steps := p.Steps()
	if p.CurrentStep < 0 || p.CurrentStep >= len(steps) {
		return Step{}, false
	}
	return steps[p.CurrentStep], true
}

// IsComplete reports whether every required step is done
func (p *Progress) IsComplete() bool {
	return p.CompletedAt != nil
}

// Percent is the share of steps completed or skipped, 0..100
func (p *Progress) Percent() int {
	steps := p.Steps()
	if len(steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range steps {
		if p.CompletedSteps[s.Key] || p.SkippedSteps[s.Key] {
			done++
		}
	}
	return done * 100 / len(steps)
}

func (p *Progress) indexOf(key string) (int, error) {
	if p.Role == "" {
		return 0, ErrNotStarted
	}
	for i, s := range p.Steps() {
		if s.Key == key {
			return i, nil
		}
	}
	return 0, ErrUnknownStep
}

func (p *Progress) firstIncomplete() int {
	steps := p.Steps()
	for i, s := range steps {
		if !p.CompletedSteps[s.Key] && !p.SkippedSteps[s.Key] {
			return i
		}
	}
	if len(steps) == 0 {
		return 0
	}
	return len(steps) - 1
}

func (p *Progress) refreshCompletion() {
	for _, s := range p.Steps() {
		if !s.Optional && !p.CompletedSteps[s.Key] {
			p.CompletedAt = nil
			return
		}
	}
	if p.CompletedAt == nil {
		now := time.Now()
		p.CompletedAt = &now
	}
}

func (p *Progress) clear() {
	p.CurrentStep = 0
	p.CompletedSteps = make(map[string]bool)
	p.SkippedSteps = make(map[string]bool)
	p.CompletedAt = nil
}

func (p *Progress) touch() {
	p.UpdatedAt = time.Now()
	p.IncrementVersion()
}
