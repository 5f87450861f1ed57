package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/onboarding"
)

// OnboardingProgressModel is the persistence model for onboarding progress
type OnboardingProgressModel struct {
	TenantAggregateModel
	UserID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	Role               onboarding.Role `gorm:"type:varchar(20)"`
	CurrentStep        int             `gorm:"not null;default:0"`
	CompletedStepsJSON string          `gorm:"type:jsonb;column:completed_steps"`
	SkippedStepsJSON   string          `gorm:"type:jsonb;column:skipped_steps"`
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// TableName returns the table name for GORM
func (OnboardingProgressModel) TableName() string {
	return "onboarding_progress"
}

// ToDomain converts the persistence model to the domain aggregate
func (m *OnboardingProgressModel) ToDomain() *onboarding.Progress {
	p := &onboarding.Progress{
		UserID:         m.UserID,
		Role:           m.Role,
		CurrentStep:    m.CurrentStep,
		CompletedSteps: setFromJSON(m.CompletedStepsJSON),
		SkippedSteps:   setFromJSON(m.SkippedStepsJSON),
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}
	m.PopulateTenantAggregateRoot(&p.TenantAggregateRoot)
	return p
}

// OnboardingProgressModelFromDomain creates a new persistence model from the aggregate
func OnboardingProgressModelFromDomain(p *onboarding.Progress) *OnboardingProgressModel {
	m := &OnboardingProgressModel{
		UserID:             p.UserID,
		Role:               p.Role,
		CurrentStep:        p.CurrentStep,
		CompletedStepsJSON: setToJSON(p.CompletedSteps),
		SkippedStepsJSON:   setToJSON(p.SkippedSteps),
		StartedAt:          p.StartedAt,
		CompletedAt:        p.CompletedAt,
	}
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	return m
}

// sets are stored as sorted JSON arrays so equal sets serialize equally
func setToJSON(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k, ok := range set {
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return marshalOr(keys, "[]")
}

func setFromJSON(raw string) map[string]bool {
	set := make(map[string]bool)
	var keys []string
	if raw != "" && json.Unmarshal([]byte(raw), &keys) == nil {
		for _, k := range keys {
			set[k] = true
		}
	}
	return set
}
