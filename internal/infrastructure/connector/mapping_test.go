package connector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplychain/backend/internal/domain/integration"
)

const sapOrderOverride = `
mappings:
  - type: SAP
    kind: ORDER
    external_id: PurchaseOrderByCustomer
    fields:
      - {source: SalesOrder, target: order_number}
      - {source: SalesOrganization, target: sales_org}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDefaultMappings_CoverEveryCapability(t *testing.T) {
	p, err := NewYAMLMappingProvider("", nil)
	require.NoError(t, err)

	for _, typ := range integration.AllIntegrationTypes() {
		for _, c := range integration.CapabilitiesFor(typ) {
			m, err := p.Mapping(typ, c.Kind)
			require.NoError(t, err, "%s/%s", typ, c.Kind)
			assert.NoError(t, m.Validate())
		}
	}

	_, err = p.Mapping(integration.IntegrationTypePowerBI, integration.RecordKindTelemetry)
	assert.ErrorIs(t, err, integration.ErrMappingNotFound)
}

func TestDefaultMappings_MapVendorRecords(t *testing.T) {
	p, err := NewYAMLMappingProvider("", nil)
	require.NoError(t, err)

	t.Run("sap order", func(t *testing.T) {
		m, err := p.Mapping(integration.IntegrationTypeSAP, integration.RecordKindOrder)
		require.NoError(t, err)
		rec, err := m.Map(integration.ExternalRecord{Fields: map[string]any{
			"SalesOrder":             "1001",
			"SoldToParty":            " 17100001 ",
			"OverallSDProcessStatus": "c",
			"TransactionCurrency":    "eur",
			"TotalNetAmount":         "1250.50",
			"CreationDate":           "/Date(1700000000000)/",
			"LastChangeDateTime":     "/Date(1700000500000+0000)/",
		}})
		require.NoError(t, err)
		assert.Equal(t, "1001", rec.ExternalID)
		assert.Equal(t, "17100001", rec.Data["customer"])
		assert.Equal(t, "C", rec.Data["status"])
		assert.Equal(t, "EUR", rec.Data["currency"])
		assert.Equal(t, "1250.5", rec.Data["total_amount"])
		assert.Equal(t, "2023-11-14T22:13:20Z", rec.Data["ordered_at"])
		assert.Equal(t, time.UnixMilli(1700000500000).UTC(), rec.SourceUpdatedAt)
	})

	t.Run("shopify product uses first variant", func(t *testing.T) {
		m, err := p.Mapping(integration.IntegrationTypeShopify, integration.RecordKindProduct)
		require.NoError(t, err)
		rec, err := m.Map(integration.ExternalRecord{ExternalID: "632910392", Fields: map[string]any{
			"title":    "IPod Nano ",
			"variants": []any{map[string]any{"sku": "IPOD2008PINK", "price": "199.00"}},
		}})
		require.NoError(t, err)
		assert.Equal(t, "IPOD2008PINK", rec.Data["sku"])
		assert.Equal(t, "IPod Nano", rec.Data["name"])
		assert.Equal(t, "199", rec.Data["price"])
	})

	t.Run("iot telemetry requires a value", func(t *testing.T) {
		m, err := p.Mapping(integration.IntegrationTypeIoT, integration.RecordKindTelemetry)
		require.NoError(t, err)
		_, err = m.Map(integration.ExternalRecord{ExternalID: "t1", Fields: map[string]any{"device_id": "d1", "metric": "temp"}})
		assert.ErrorIs(t, err, integration.ErrMappingFailed)
	})

	t.Run("power bi reverse builds row columns", func(t *testing.T) {
		m, err := p.Mapping(integration.IntegrationTypePowerBI, integration.RecordKindInventory)
		require.NoError(t, err)
		row := m.Reverse(integration.Record{
			ExternalID: "TG11/1010",
			Data:       map[string]any{"sku": "TG11", "location": "1010", "quantity": "40"},
		})
		assert.Equal(t, map[string]any{"ExternalId": "TG11/1010", "Sku": "TG11", "Location": "1010", "Quantity": "40"}, row)
	})
}

func TestYAMLMappingProvider_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	writeFile(t, path, sapOrderOverride)

	p, err := NewYAMLMappingProvider(path, nil)
	require.NoError(t, err)

	m, err := p.Mapping(integration.IntegrationTypeSAP, integration.RecordKindOrder)
	require.NoError(t, err)
	assert.Equal(t, "PurchaseOrderByCustomer", m.ExternalIDField)

	other, err := p.Mapping(integration.IntegrationTypeSAP, integration.RecordKindProduct)
	require.NoError(t, err)
	assert.Equal(t, "Product", other.ExternalIDField, "other kinds keep defaults")
}

func TestYAMLMappingProvider_MissingOverrideUsesDefaults(t *testing.T) {
	p, err := NewYAMLMappingProvider(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	m, err := p.Mapping(integration.IntegrationTypeSAP, integration.RecordKindOrder)
	require.NoError(t, err)
	assert.Equal(t, "SalesOrder", m.ExternalIDField)
}

func TestYAMLMappingProvider_BadReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	writeFile(t, path, sapOrderOverride)
	p, err := NewYAMLMappingProvider(path, nil)
	require.NoError(t, err)

	writeFile(t, path, "mappings:\n  - type: SAP\n    kind: ORDER\n    fields: []\n")
	assert.ErrorIs(t, p.Reload(), integration.ErrMappingInvalid)

	m, err := p.Mapping(integration.IntegrationTypeSAP, integration.RecordKindOrder)
	require.NoError(t, err)
	assert.Equal(t, "PurchaseOrderByCustomer", m.ExternalIDField)
}

func TestNewYAMLMappingProvider_InvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	writeFile(t, path, "mappings: [")
	_, err := NewYAMLMappingProvider(path, nil)
	assert.ErrorIs(t, err, integration.ErrMappingInvalid)
}

func TestParseMappings(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"empty document", "", false},
		{"unknown key", "mappings:\n  - type: SAP\n    kind: ORDER\n    external_id: x\n    colour: red\n", true},
		{"unknown transform", "mappings:\n  - type: SAP\n    kind: ORDER\n    external_id: x\n    fields:\n      - {source: a, target: b, transform: rot13}\n", true},
		{"duplicate pair", "mappings:\n  - {type: IOT, kind: TELEMETRY, external_id: id}\n  - {type: IOT, kind: TELEMETRY, external_id: id}\n", true},
		{"valid", "mappings:\n  - {type: IOT, kind: TELEMETRY, external_id: id}\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMappings([]byte(tt.doc))
			if tt.wantErr {
				assert.ErrorIs(t, err, integration.ErrMappingInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestYAMLMappingProvider_WatchOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	writeFile(t, path, sapOrderOverride)
	p, err := NewYAMLMappingProvider(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := p.WatchOverrides(ctx)
	require.NoError(t, err)

	writeFile(t, path, `
mappings:
  - type: SAP
    kind: ORDER
    external_id: SalesOrder
    fields:
      - {source: SalesOrder, target: order_number}
`)
	assert.Eventually(t, func() bool {
		m, err := p.Mapping(integration.IntegrationTypeSAP, integration.RecordKindOrder)
		return err == nil && m.ExternalIDField == "SalesOrder"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestYAMLMappingProvider_WatchWithoutOverride(t *testing.T) {
	p, err := NewYAMLMappingProvider("", nil)
	require.NoError(t, err)
	done, err := p.WatchOverrides(context.Background())
	require.NoError(t, err)
	_, open := <-done
	assert.False(t, open)
}
