package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExternalRecord is a vendor record as decoded from the vendor API
type ExternalRecord struct {
	Kind       RecordKind     `json:"kind"`
	ExternalID string         `json:"external_id"`
	Fields     map[string]any `json:"fields"`
	ModifiedAt time.Time      `json:"modified_at"`
}

// Record is a vendor record translated to the internal schema
type Record struct {
	Kind            RecordKind
	ExternalID      string
	Data            map[string]any
	Checksum        string
	SourceUpdatedAt time.Time
}

// Checksum returns the sha256 of the canonical JSON form of data.
// encoding/json sorts map keys, so equal maps give equal checksums.
func Checksum(data map[string]any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// UpsertOutcome is what an idempotent upsert did with an incoming record
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "CREATED"
	UpsertUpdated   UpsertOutcome = "UPDATED"
	UpsertUnchanged UpsertOutcome = "UNCHANGED"
	// UpsertStale means the stored copy is newer than the incoming one
	UpsertStale UpsertOutcome = "STALE"
)

// SyncedRecord is the reconciled internal copy of a vendor record.
// It is unique per (TenantID, IntegrationID, Kind, ExternalID).
type SyncedRecord struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	IntegrationID   uuid.UUID
	Kind            RecordKind
	ExternalID      string
	Data            map[string]any
	Checksum        string
	Version         int
	SourceUpdatedAt time.Time
	FirstSyncedAt   time.Time
	LastSyncedAt    time.Time
	// ChangedAt moves only when Data changes; outbound sync reads from it
	ChangedAt time.Time
}

// NewSyncedRecord builds the upsert candidate for a mapped record
func NewSyncedRecord(tenantID, integrationID uuid.UUID, rec Record) *SyncedRecord {
	now := time.Now()
	return &SyncedRecord{
		ID:              uuid.New(),
		TenantID:        tenantID,
		IntegrationID:   integrationID,
		Kind:            rec.Kind,
		ExternalID:      rec.ExternalID,
		Data:            rec.Data,
		Checksum:        rec.Checksum,
		Version:         1,
		SourceUpdatedAt: rec.SourceUpdatedAt,
		FirstSyncedAt:   now,
		LastSyncedAt:    now,
		ChangedAt:       now,
	}
}

// ValidateKey checks the natural key is complete
func (r *SyncedRecord) ValidateKey() error {
	if r.TenantID == uuid.Nil || r.IntegrationID == uuid.Nil || r.ExternalID == "" || !r.Kind.IsValid() {
		return ErrInvalidSyncedRecordKey
	}
	return nil
}

// Decide compares an incoming candidate against this stored copy and returns
// the outcome the upsert must apply.
func (r *SyncedRecord) Decide(incoming *SyncedRecord) UpsertOutcome {
	if r.Checksum == incoming.Checksum {
		return UpsertUnchanged
	}
	if !incoming.SourceUpdatedAt.IsZero() && !r.SourceUpdatedAt.IsZero() &&
		incoming.SourceUpdatedAt.Before(r.SourceUpdatedAt) {
		return UpsertStale
	}
	return UpsertUpdated
}

// ToRecord converts the stored copy back to a mapped record, for outbound push
func (r *SyncedRecord) ToRecord() Record {
	return Record{
		Kind:            r.Kind,
		ExternalID:      r.ExternalID,
		Data:            r.Data,
		Checksum:        r.Checksum,
		SourceUpdatedAt: r.SourceUpdatedAt,
	}
}
