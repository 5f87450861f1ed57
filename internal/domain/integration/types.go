package integration

import "time"

// ---------------------------------------------------------------------------
// IntegrationType
// ---------------------------------------------------------------------------

// IntegrationType identifies the kind of external system a connector talks to
type IntegrationType string

const (
	// IntegrationTypeSAP is an SAP S/4HANA system exposed through OData services
	IntegrationTypeSAP IntegrationType = "SAP"
	// IntegrationTypePowerBI is a Power BI workspace receiving push datasets
	IntegrationTypePowerBI IntegrationType = "POWERBI"
	// IntegrationTypeIoT is an IoT platform exposing device telemetry and trackers
	IntegrationTypeIoT IntegrationType = "IOT"
	// IntegrationTypeShopify is a Shopify store accessed through the Admin REST API
	IntegrationTypeShopify IntegrationType = "SHOPIFY"
)

// AllIntegrationTypes lists every supported integration type in display order
func AllIntegrationTypes() []IntegrationType {
	return []IntegrationType{
		IntegrationTypeSAP,
		IntegrationTypePowerBI,
		IntegrationTypeIoT,
		IntegrationTypeShopify,
	}
}

// IsValid returns true if the integration type is supported
func (t IntegrationType) IsValid() bool {
	switch t {
	case IntegrationTypeSAP, IntegrationTypePowerBI, IntegrationTypeIoT, IntegrationTypeShopify:
		return true
	default:
		return false
	}
}

// String returns the string representation of IntegrationType
func (t IntegrationType) String() string {
	return string(t)
}

// DisplayName returns a human-readable name for the integration type
func (t IntegrationType) DisplayName() string {
	switch t {
	case IntegrationTypeSAP:
		return "SAP"
	case IntegrationTypePowerBI:
		return "Power BI"
	case IntegrationTypeIoT:
		return "IoT Platform"
	case IntegrationTypeShopify:
		return "Shopify"
	default:
		return string(t)
	}
}

// ---------------------------------------------------------------------------
// IntegrationStatus
// ---------------------------------------------------------------------------

// IntegrationStatus is the connection state of an integration
type IntegrationStatus string

const (
	IntegrationStatusDisconnected IntegrationStatus = "DISCONNECTED"
	IntegrationStatusConnected    IntegrationStatus = "CONNECTED"
	IntegrationStatusSyncing      IntegrationStatus = "SYNCING"
	IntegrationStatusError        IntegrationStatus = "ERROR"
)

// IsValid returns true if the status is known
func (s IntegrationStatus) IsValid() bool {
	switch s {
	case IntegrationStatusDisconnected, IntegrationStatusConnected,
		IntegrationStatusSyncing, IntegrationStatusError:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// RecordKind
// ---------------------------------------------------------------------------

// RecordKind is the internal domain a synchronized record belongs to
type RecordKind string

const (
	RecordKindOrder     RecordKind = "ORDER"
	RecordKindInventory RecordKind = "INVENTORY"
	RecordKindShipment  RecordKind = "SHIPMENT"
	RecordKindProduct   RecordKind = "PRODUCT"
	RecordKindTelemetry RecordKind = "TELEMETRY"
)

// IsValid returns true if the record kind is known
func (k RecordKind) IsValid() bool {
	switch k {
	case RecordKindOrder, RecordKindInventory, RecordKindShipment,
		RecordKindProduct, RecordKindTelemetry:
		return true
	default:
		return false
	}
}

// String returns the string representation of RecordKind
func (k RecordKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// SyncDirection / SyncTrigger / SyncStatus
// ---------------------------------------------------------------------------

// SyncDirection represents the direction of synchronization
type SyncDirection string

const (
	// SyncDirectionInbound pulls records from the vendor and upserts them locally
	SyncDirectionInbound SyncDirection = "INBOUND"
	// SyncDirectionOutbound pushes local records to the vendor
	SyncDirectionOutbound SyncDirection = "OUTBOUND"
)

// IsValid returns true if the direction is known
func (d SyncDirection) IsValid() bool {
	return d == SyncDirectionInbound || d == SyncDirectionOutbound
}

// SyncTrigger records what started a sync run
type SyncTrigger string

const (
	SyncTriggerManual    SyncTrigger = "MANUAL"
	SyncTriggerScheduled SyncTrigger = "SCHEDULED"
	SyncTriggerBatch     SyncTrigger = "BATCH"
)

// SyncStatus represents the status of a synchronization operation
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSuccess SyncStatus = "SUCCESS"
	// SyncStatusPartial means some records failed while others succeeded
	SyncStatusPartial SyncStatus = "PARTIAL"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// ---------------------------------------------------------------------------
// Capabilities
// ---------------------------------------------------------------------------

// Capability is one record kind an integration type can move in one direction
type Capability struct {
	Kind      RecordKind    `json:"kind"`
	Direction SyncDirection `json:"direction"`
}

var capabilityTable = map[IntegrationType][]Capability{
	IntegrationTypeSAP: {
		{RecordKindOrder, SyncDirectionInbound},
		{RecordKindInventory, SyncDirectionInbound},
		{RecordKindProduct, SyncDirectionInbound},
		{RecordKindOrder, SyncDirectionOutbound},
		{RecordKindInventory, SyncDirectionOutbound},
	},
	IntegrationTypePowerBI: {
		{RecordKindOrder, SyncDirectionOutbound},
		{RecordKindInventory, SyncDirectionOutbound},
		{RecordKindShipment, SyncDirectionOutbound},
	},
	IntegrationTypeIoT: {
		{RecordKindTelemetry, SyncDirectionInbound},
		{RecordKindShipment, SyncDirectionInbound},
	},
	IntegrationTypeShopify: {
		{RecordKindOrder, SyncDirectionInbound},
		{RecordKindProduct, SyncDirectionInbound},
		{RecordKindInventory, SyncDirectionInbound},
		{RecordKindInventory, SyncDirectionOutbound},
	},
}

// CapabilitiesFor returns the capabilities of an integration type
func CapabilitiesFor(t IntegrationType) []Capability {
	caps := capabilityTable[t]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// KindsFor returns the record kinds a type supports in the given direction
func KindsFor(t IntegrationType, direction SyncDirection) []RecordKind {
	var kinds []RecordKind
	for _, c := range capabilityTable[t] {
		if c.Direction == direction {
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// Supports reports whether the type can move kind in direction
func Supports(t IntegrationType, kind RecordKind, direction SyncDirection) bool {
	for _, c := range capabilityTable[t] {
		if c.Kind == kind && c.Direction == direction {
			return true
		}
	}
	return false
}

// DefaultSyncInterval is used when an integration is created without one
const DefaultSyncInterval = time.Hour
