package integration

import "errors"

var (
	// Integration lifecycle errors
	ErrIntegrationNotFound = errors.New("integration: integration not found")
	ErrDuplicateName       = errors.New("integration: integration name already exists")
	ErrUnsupportedType     = errors.New("integration: unsupported integration type")
	ErrInvalidName         = errors.New("integration: name must be 1-100 characters")
	ErrInvalidEndpoint     = errors.New("integration: endpoint must be an absolute http(s) URL")
	ErrInvalidTenantID     = errors.New("integration: invalid tenant ID")
	ErrIntegrationDisabled = errors.New("integration: integration is disabled")
	ErrNotConnected        = errors.New("integration: integration is not connected")
	ErrSyncInProgress      = errors.New("integration: sync already in progress")

	// Adapter errors
	ErrAdapterNotRegistered   = errors.New("integration: no adapter registered for type")
	ErrOperationNotSupported  = errors.New("integration: operation not supported by adapter")
	ErrMissingCredentials     = errors.New("integration: required credentials missing")
	ErrVendorUnavailable      = errors.New("integration: vendor temporarily unavailable")
	ErrVendorRequestFailed    = errors.New("integration: vendor request failed")
	ErrVendorAuthFailed       = errors.New("integration: vendor authentication failed")
	ErrVendorRateLimited      = errors.New("integration: vendor rate limited")
	ErrVendorInvalidResponse  = errors.New("integration: invalid vendor response")
	ErrInvalidRecordKind      = errors.New("integration: invalid record kind")
	ErrInvalidSyncDirection   = errors.New("integration: invalid sync direction")
	ErrSyncedRecordNotFound   = errors.New("integration: synced record not found")
	ErrSyncRunNotFound        = errors.New("integration: sync run not found")
	ErrInvalidSyncedRecordKey = errors.New("integration: synced record key incomplete")

	// Mapping errors
	ErrMappingNotFound = errors.New("integration: mapping not found")
	ErrMappingFailed   = errors.New("integration: mapping failed")
	ErrMappingInvalid  = errors.New("integration: invalid mapping definition")
)

// IsRetryable reports whether err is a transient vendor condition worth retrying
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVendorUnavailable) || errors.Is(err, ErrVendorRateLimited)
}
