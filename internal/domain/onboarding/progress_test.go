package onboarding

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedProgress(t *testing.T, role Role) *Progress {
	t.Helper()
	p, err := NewProgress(uuid.New(), uuid.New())
	require.NoError(t, err)
	require.NoError(t, p.Start(role))
	return p
}

func TestFlows_EndWithDone(t *testing.T) {
	for _, role := range Roles() {
		t.Run(string(role), func(t *testing.T) {
			steps, err := FlowFor(role)
			require.NoError(t, err)
			require.NotEmpty(t, steps)
			assert.Equal(t, StepDone, steps[len(steps)-1].Key)
			assert.False(t, steps[len(steps)-1].Optional)
		})
	}
	_, err := FlowFor("AUDITOR")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestProgress_CompleteFlow(t *testing.T) {
	p := startedProgress(t, RoleSupplier)
	assert.Equal(t, 0, p.CurrentStep)
	assert.NotNil(t, p.StartedAt)

	require.NoError(t, p.CompleteStep("company_profile"))
	assert.Equal(t, 1, p.CurrentStep)

	// idempotent
	require.NoError(t, p.CompleteStep("company_profile"))
	assert.Equal(t, 1, p.CurrentStep)
	assert.Len(t, p.CompletedSteps, 1)

	require.NoError(t, p.CompleteStep("kyc"))
	require.NoError(t, p.CompleteStep("product_catalog"))
	assert.Equal(t, 3, p.CurrentStep)
	require.NoError(t, p.Skip("connect_integrations"))
	assert.Equal(t, 4, p.CurrentStep)
	assert.False(t, p.IsComplete())
	assert.Equal(t, 80, p.Percent())

	require.NoError(t, p.CompleteStep(StepDone))
	assert.True(t, p.IsComplete())
	assert.Equal(t, 100, p.Percent())
	assert.Equal(t, 4, p.CurrentStep, "cursor stays on the last step")
}

func TestProgress_CompleteOutOfOrder(t *testing.T) {
	p := startedProgress(t, RoleBuyer)
	require.NoError(t, p.CompleteStep("procurement_preferences"))
	assert.Equal(t, 0, p.CurrentStep, "first incomplete step is still the first one")
	require.NoError(t, p.CompleteStep("company_profile"))
	assert.Equal(t, 1, p.CurrentStep)
}

func TestProgress_Errors(t *testing.T) {
	t.Run("unknown step", func(t *testing.T) {
		p := startedProgress(t, RoleAdmin)
		assert.ErrorIs(t, p.CompleteStep("fleet_setup"), ErrUnknownStep)
		assert.ErrorIs(t, p.Skip("nope"), ErrUnknownStep)
	})

	t.Run("required step cannot be skipped", func(t *testing.T) {
		p := startedProgress(t, RoleAdmin)
		assert.ErrorIs(t, p.Skip("kyc"), ErrStepNotOptional)
	})

	t.Run("not started", func(t *testing.T) {
		p, err := NewProgress(uuid.New(), uuid.New())
		require.NoError(t, err)
		assert.ErrorIs(t, p.CompleteStep("kyc"), ErrNotStarted)
		assert.ErrorIs(t, p.GoTo(0), ErrNotStarted)
		assert.ErrorIs(t, p.Next(), ErrNotStarted)
		assert.Equal(t, 0, p.Percent())
	})

	t.Run("unknown role", func(t *testing.T) {
		p, _ := NewProgress(uuid.New(), uuid.New())
		assert.ErrorIs(t, p.Start("GUEST"), ErrUnknownRole)
	})

	t.Run("nil user", func(t *testing.T) {
		_, err := NewProgress(uuid.New(), uuid.Nil)
		assert.ErrorIs(t, err, ErrInvalidUserID)
	})
}

func TestProgress_Navigation(t *testing.T) {
	p := startedProgress(t, RoleLogistics)
	last := len(p.Steps()) - 1

	require.NoError(t, p.Previous())
	assert.Equal(t, 0, p.CurrentStep, "clamped at the first step")

	require.NoError(t, p.GoTo(last))
	require.NoError(t, p.Next())
	assert.Equal(t, last, p.CurrentStep, "clamped at the last step")

	assert.ErrorIs(t, p.GoTo(-1), ErrStepOutOfRange)
	assert.ErrorIs(t, p.GoTo(last+1), ErrStepOutOfRange)

	require.NoError(t, p.Previous())
	assert.Equal(t, last-1, p.CurrentStep)
	step, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "connect_trackers", step.Key)
}

func TestProgress_ResetAndRoleChange(t *testing.T) {
	p := startedProgress(t, RoleBuyer)
	require.NoError(t, p.CompleteStep("company_profile"))

	require.NoError(t, p.Start(RoleBuyer))
	assert.True(t, p.CompletedSteps["company_profile"], "restarting the same role keeps progress")
	assert.Equal(t, 1, p.CurrentStep)

	require.NoError(t, p.Start(RoleSupplier))
	assert.Empty(t, p.CompletedSteps)

	require.NoError(t, p.CompleteStep("company_profile"))
	p.Reset()
	assert.Empty(t, p.CompletedSteps)
	assert.Equal(t, 0, p.CurrentStep)
	assert.Equal(t, RoleSupplier, p.Role)
}
