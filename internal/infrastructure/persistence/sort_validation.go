package persistence

import (
	"strings"

	"github.com/supplychain/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// paginate applies a whitelisted ORDER BY plus LIMIT/OFFSET from filter
func paginate(query *gorm.DB, filter shared.Filter, allowed map[string]bool, defaultField string) *gorm.DB {
	f := filter.Normalize()
	field := ValidateSortField(f.OrderBy, allowed, defaultField)
	return query.
		Order(field + " " + ValidateSortOrder(f.OrderDir)).
		Offset(f.Offset()).
		Limit(f.PageSize)
}

// IntegrationSortFields contains allowed sort fields for integrations
var IntegrationSortFields = map[string]bool{
	"id":           true,
	"created_at":   true,
	"updated_at":   true,
	"name":         true,
	"type":         true,
	"status":       true,
	"last_sync_at": true,
}

// SyncedRecordSortFields contains allowed sort fields for synced records
var SyncedRecordSortFields = map[string]bool{
	"id":              true,
	"external_id":     true,
	"kind":            true,
	"version":         true,
	"first_synced_at": true,
	"last_synced_at":  true,
	"changed_at":      true,
}

// SyncRunSortFields contains allowed sort fields for sync runs
var SyncRunSortFields = map[string]bool{
	"id":          true,
	"started_at":  true,
	"finished_at": true,
	"status":      true,
	"total":       true,
	"failed":      true,
}

// NotificationSortFields contains allowed sort fields for notifications
var NotificationSortFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"level":      true,
	"category":   true,
	"read_at":    true,
}

// KYCSortFields contains allowed sort fields for KYC applications
var KYCSortFields = map[string]bool{
	"id":            true,
	"created_at":    true,
	"updated_at":    true,
	"status":        true,
	"business_name": true,
	"submitted_at":  true,
	"reviewed_at":   true,
}
