package onboarding

import (
	"time"

	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/onboarding"
)

// StartRequest selects the onboarding flow
type StartRequest struct {
	Role string `json:"role" binding:"required,oneof=ADMIN BUYER SUPPLIER LOGISTICS"`
}

// GoToRequest jumps to a step index
type GoToRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// StepResponse is one step with its state for the user
type StepResponse struct {
	onboarding.Step
	Completed bool `json:"completed"`
	Skipped   bool `json:"skipped"`
}

// ProgressResponse is a user's onboarding state
type ProgressResponse struct {
	UserID      uuid.UUID       `json:"user_id"`
	Started     bool            `json:"started"`
	Role        onboarding.Role `json:"role,omitempty"`
	CurrentStep int             `json:"current_step"`
	Current     *StepResponse   `json:"current,omitempty"`
	Steps       []StepResponse  `json:"steps"`
	Percent     int             `json:"percent"`
	Complete    bool            `json:"complete"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ToProgressResponse converts the aggregate to a response
func ToProgressResponse(p *onboarding.Progress) *ProgressResponse {
	resp := &ProgressResponse{
		UserID:      p.UserID,
		Started:     p.Role != "",
		Role:        p.Role,
		CurrentStep: p.CurrentStep,
		Steps:       make([]StepResponse, 0, len(p.Steps())),
		Percent:     p.Percent(),
		Complete:    p.IsComplete(),
		StartedAt:   p.StartedAt,
		CompletedAt: p.CompletedAt,
	}
	for i, s := range p.Steps() {
		step := StepResponse{
			Step:      s,
			Completed: p.CompletedSteps[s.Key],
			Skipped:   p.SkippedSteps[s.Key],
		}
		resp.Steps = append(resp.Steps, step)
		if i == p.CurrentStep {
			cur := step
			resp.Current = &cur
		}
	}
	return resp
}
