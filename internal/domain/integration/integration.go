package integration

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/shared"
)

// AggregateTypeIntegration is the aggregate type name used in events
const AggregateTypeIntegration = "Integration"

// Credentials holds the secrets needed to reach a vendor (api keys, client
// id/secret, username/password, tokens). It is only ever kept in memory; the
// aggregate stores the sealed form.
type Credentials map[string]string

// Get returns the credential value for key, or "" when absent
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c[key])
}

// Has reports whether every key has a non-empty value
func (c Credentials) Has(keys ...string) bool {
	for _, k := range keys {
		if c.Get(k) == "" {
			return false
		}
	}
	return true
}

// Keys returns the credential names without their values, for display
func (c Credentials) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Integration is the aggregate root for one connector to an external system
type Integration struct {
	shared.TenantAggregateRoot
	Name              string
	Type              IntegrationType
	Endpoint          string
	Settings          map[string]string
	SealedCredentials string
	CredentialKeys    []string
	Enabled           bool
	Status            IntegrationStatus
	SyncInterval      time.Duration
	LastConnectedAt   *time.Time
	LastSyncAt        *time.Time
	LastSyncStatus    SyncStatus
	LastError         string
	// SyncWatermarks holds, per kind and direction, the start time of the
	// last run that moved that kind completely. Incremental syncs resume there.
	SyncWatermarks map[string]time.Time
}

// NewIntegration creates a new, disconnected integration
func NewIntegration(tenantID uuid.UUID, name string, integrationType IntegrationType, endpoint string) (*Integration, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if !integrationType.IsValid() {
		return nil, ErrUnsupportedType
	}
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	return &Integration{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                strings.TrimSpace(name),
		Type:                integrationType,
		Endpoint:            strings.TrimRight(endpoint, "/"),
		Settings:            make(map[string]string),
		SyncWatermarks:      make(map[string]time.Time),
		Enabled:             true,
		Status:              IntegrationStatusDisconnected,
		SyncInterval:        DefaultSyncInterval,
		LastSyncStatus:      SyncStatusPending,
	}, nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 || n > 100 {
		return ErrInvalidName
	}
	return nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ErrInvalidEndpoint
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidEndpoint
	}
	return nil
}

// Update changes the descriptive configuration. Empty values are left as is.
func (i *Integration) Update(name, endpoint string, settings map[string]string) error {
	if name != "" {
		if err := validateName(name); err != nil {
			return err
		}
		i.Name = strings.TrimSpace(name)
	}
	if endpoint != "" {
		if err := validateEndpoint(endpoint); err != nil {
			return err
		}
		i.Endpoint = strings.TrimRight(endpoint, "/")
	}
	if settings != nil {
		i.Settings = settings
	}
	i.touch()
	return nil
}

// SetSealedCredentials replaces the sealed credential blob
func (i *Integration) SetSealedCredentials(sealed string, keys []string) {
	i.SealedCredentials = sealed
	i.CredentialKeys = keys
	i.touch()
}

// SetSyncInterval sets how often the scheduler syncs this integration.
// Zero disables scheduled sync.
func (i *Integration) SetSyncInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	i.SyncInterval = d
	i.touch()
}

// Setting returns a setting value or the fallback
func (i *Integration) Setting(key, fallback string) string {
	if v, ok := i.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Enable allows the integration to connect and sync
func (i *Integration) Enable() {
	i.Enabled = true
	i.touch()
}

// Disable prevents further syncs; the current connection state is kept
func (i *Integration) Disable() {
	i.Enabled = false
	i.touch()
}

// IsConnected reports whether the adapter session is established
func (i *Integration) IsConnected() bool {
	return i.Status == IntegrationStatusConnected || i.Status == IntegrationStatusSyncing
}

// MarkConnected records a successful connect
func (i *Integration) MarkConnected() error {
	if i.Status == IntegrationStatusSyncing {
		return ErrSyncInProgress
	}
	now := time.Now()
	i.Status = IntegrationStatusConnected
	i.LastConnectedAt = &now
	i.LastError = ""
	i.touch()
	i.AddDomainEvent(NewIntegrationConnectedEvent(i))
	return nil
}

// MarkDisconnected records a disconnect
func (i *Integration) MarkDisconnected() error {
	if i.Status == IntegrationStatusSyncing {
		return ErrSyncInProgress
	}
	i.Status = IntegrationStatusDisconnected
	i.touch()
	i.AddDomainEvent(NewIntegrationDisconnectedEvent(i))
	return nil
}

// MarkConnectionFailed moves the integration to ERROR after a failed connect
func (i *Integration) MarkConnectionFailed(err error) {
	i.MarkError(err)
	i.AddDomainEvent(NewIntegrationConnectionFailedEvent(i))
}

// MarkError moves the integration to ERROR and keeps the message
func (i *Integration) MarkError(err error) {
	i.Status = IntegrationStatusError
	if err != nil {
		i.LastError = err.Error()
	}
	i.touch()
}

// BeginSync moves a connected integration to SYNCING
func (i *Integration) BeginSync() error {
	if !i.Enabled {
		return ErrIntegrationDisabled
	}
	switch i.Status {
	case IntegrationStatusSyncing:
		return ErrSyncInProgress
	case IntegrationStatusConnected:
	default:
		return ErrNotConnected
	}
	i.Status = IntegrationStatusSyncing
	i.touch()
	return nil
}

// CompleteSync leaves SYNCING and records the run outcome
func (i *Integration) CompleteSync(run *SyncRun) {
	now := time.Now()
	if i.Status == IntegrationStatusSyncing {
		i.Status = IntegrationStatusConnected
	}
	i.LastSyncAt = &now
	i.LastSyncStatus = run.Status
	if run.Status == SyncStatusFailed {
		i.LastError = run.Error
		if i.LastError == "" {
			i.LastError = "sync failed"
		}
		i.AddDomainEvent(NewIntegrationSyncFailedEvent(i, run))
	} else {
		i.LastError = ""
		i.AddDomainEvent(NewIntegrationSyncCompletedEvent(i, run))
	}
	i.touch()
}

func watermarkKey(kind RecordKind, direction SyncDirection) string {
	return string(direction) + ":" + string(kind)
}

// Watermark returns where an incremental sync of kind in direction resumes,
// or nil when the kind has never been synced completely
func (i *Integration) Watermark(kind RecordKind, direction SyncDirection) *time.Time {
	at, ok := i.SyncWatermarks[watermarkKey(kind, direction)]
	if !ok {
		return nil
	}
	return &at
}

// AdvanceWatermark moves the watermark of kind in direction to at. It never
// moves backwards.
func (i *Integration) AdvanceWatermark(kind RecordKind, direction SyncDirection, at time.Time) {
	if at.IsZero() {
		return
	}
	key := watermarkKey(kind, direction)
	if cur, ok := i.SyncWatermarks[key]; ok && !at.After(cur) {
		return
	}
	if i.SyncWatermarks == nil {
		i.SyncWatermarks = make(map[string]time.Time)
	}
	i.SyncWatermarks[key] = at
	i.touch()
}

// AdvanceWatermarks moves the watermark of every kind the run moved
// completely to the run's start time. A run started from an explicit since
// later than the stored watermark leaves a gap, so it does not advance it.
func (i *Integration) AdvanceWatermarks(run *SyncRun, since *time.Time) {
	for _, res := range run.Results {
		if !res.Complete() {
			continue
		}
		if since != nil {
			if wm := i.Watermark(res.Kind, res.Direction); wm == nil || since.After(*wm) {
				continue
			}
		}
		i.AdvanceWatermark(res.Kind, res.Direction, run.StartedAt)
	}
}

// IsDue reports whether a scheduled sync should run at now
func (i *Integration) IsDue(now time.Time) bool {
	if !i.Enabled || i.Status != IntegrationStatusConnected || i.SyncInterval <= 0 {
		return false
	}
	if i.LastSyncAt == nil {
		return true
	}
	return now.Sub(*i.LastSyncAt) >= i.SyncInterval
}

// Supports reports whether this integration can move kind in direction
func (i *Integration) Supports(kind RecordKind, direction SyncDirection) bool {
	return Supports(i.Type, kind, direction)
}

// touch stamps UpdatedAt. Version is owned by the repository, which bumps it
// once per successful save.
func (i *Integration) touch() {
	i.Touch()
}
