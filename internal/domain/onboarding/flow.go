// Package onboarding tracks a user's progress through the role-specific
// setup walkthrough.
package onboarding

import "errors"

var (
	ErrUnknownRole      = errors.New("onboarding: unknown role")
	ErrUnknownStep      = errors.New("onboarding: unknown step")
	ErrStepNotOptional  = errors.New("onboarding: step cannot be skipped")
	ErrStepOutOfRange   = errors.New("onboarding: step index out of range")
	ErrNotStarted       = errors.New("onboarding: not started")
	ErrProgressNotFound = errors.New("onboarding: progress not found")
	ErrInvalidUserID    = errors.New("onboarding: invalid user ID")
)

// Role selects the onboarding flow
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleBuyer     Role = "BUYER"
	RoleSupplier  Role = "SUPPLIER"
	RoleLogistics Role = "LOGISTICS"
)

// IsValid returns true if the role has a flow
func (r Role) IsValid() bool {
	_, ok := flows[r]
	return ok
}

// StepDone is the closing step of every flow
const StepDone = "done"

// Step is one screen of the walkthrough
type Step struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Optional bool   `json:"optional"`
}

var flows = map[Role][]Step{
	RoleAdmin: {
		{Key: "company_profile", Title: "Company profile"},
		{Key: "kyc", Title: "Verify your business"},
		{Key: "invite_team", Title: "Invite your team", Optional: true},
		{Key: "connect_integrations", Title: "Connect your systems", Optional: true},
		{Key: "notification_preferences", Title: "Notification preferences", Optional: true},
		{Key: StepDone, Title: "All set"},
	},
	RoleBuyer: {
		{Key: "company_profile", Title: "Company profile"},
		{Key: "kyc", Title: "Verify your business"},
		{Key: "procurement_preferences", Title: "Procurement preferences"},
		{Key: "add_suppliers", Title: "Add suppliers", Optional: true},
		{Key: StepDone, Title: "All set"},
	},
	RoleSupplier: {
		{Key: "company_profile", Title: "Company profile"},
		{Key: "kyc", Title: "Verify your business"},
		{Key: "product_catalog", Title: "Upload your catalog"},
		{Key: "connect_integrations", Title: "Connect your systems", Optional: true},
		{Key: StepDone, Title: "All set"},
	},
	RoleLogistics: {
		{Key: "company_profile", Title: "Company profile"},
		{Key: "kyc", Title: "Verify your business"},
		{Key: "fleet_setup", Title: "Register your fleet"},
		{Key: "connect_trackers", Title: "Connect IoT trackers", Optional: true},
		{Key: StepDone, Title: "All set"},
	},
}

// FlowFor returns a copy of the role's ordered steps
func FlowFor(role Role) ([]Step, error) {
	steps, ok := flows[role]
	if !ok {
		return nil, ErrUnknownRole
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out, nil
}

// Roles lists the roles that have a flow
func Roles() []Role {
	return []Role{RoleAdmin, RoleBuyer, RoleSupplier, RoleLogistics}
}
