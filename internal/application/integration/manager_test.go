package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/scheduler"
)

var _ scheduler.IntegrationSyncer = (*Manager)(nil)

type harness struct {
	m            *Manager
	tenantID     uuid.UUID
	integrations *memIntegrations
	records      *memRecords
	runs         *memRuns
	sap          *fakeAdapter
	shopify      *fakeAdapter
	powerbi      *fakeAdapter
	events       *recordingPublisher
	metrics      *recordingMetrics
	archive      *memArchive
}

func newHarness(t *testing.T, cfg ManagerConfig) *harness {
	t.Helper()
	h := &harness{
		tenantID:     uuid.New(),
		integrations: newMemIntegrations(),
		records:      newMemRecords(),
		runs:         newMemRuns(),
		sap:          newFakeAdapter(integration.IntegrationTypeSAP),
		shopify:      newFakeAdapter(integration.IntegrationTypeShopify),
		powerbi:      newFakeAdapter(integration.IntegrationTypePowerBI),
		events:       &recordingPublisher{},
		metrics:      newRecordingMetrics(),
		archive:      &memArchive{},
	}
	h.m = NewManager(ManagerDeps{
		Integrations: h.integrations,
		Records:      h.records,
		Runs:         h.runs,
		Adapters:     newFakeFactory(h.sap, h.shopify, h.powerbi),
		Mappings:     testMappings(),
		Cipher:       jsonCipher{},
		Events:       h.events,
	}, cfg, WithArchive(h.archive), WithMetrics(h.metrics), WithLogger(zap.NewNop()))
	return h
}

func (h *harness) create(t *testing.T, typ integration.IntegrationType, name string) uuid.UUID {
	t.Helper()
	resp, err := h.m.CreateIntegration(context.Background(), h.tenantID, CreateIntegrationRequest{
		Name:        name,
		Type:        string(typ),
		Endpoint:    "https://" + faker.DomainName(),
		Credentials: map[string]string{"client_secret": faker.Password(true, true, true, false, false, 24), "client_id": faker.Username()},
	})
	require.NoError(t, err)
	return resp.ID
}

func (h *harness) connected(t *testing.T, typ integration.IntegrationType, name string) uuid.UUID {
	t.Helper()
	id := h.create(t, typ, name)
	_, err := h.m.Connect(context.Background(), h.tenantID, id)
	require.NoError(t, err)
	return id
}

func TestManagerConfig_Defaults(t *testing.T) {
	cfg := ManagerConfig{}.withDefaults()
	assert.Equal(t, DefaultManagerConfig(), cfg)

	cfg = ManagerConfig{PageSize: 7, FanOutConcurrency: 2}.withDefaults()
	assert.Equal(t, 7, cfg.PageSize)
	assert.Equal(t, 2, cfg.FanOutConcurrency)
	assert.Equal(t, 50, cfg.MaxPages)
}

// ---------------------------------------------------------------------------
// CRUD
// ---------------------------------------------------------------------------

func TestManager_CreateIntegration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{DefaultSyncInterval: 15 * time.Minute})

	t.Run("seals credentials and exposes only key names", func(t *testing.T) {
		resp, err := h.m.CreateIntegration(ctx, h.tenantID, CreateIntegrationRequest{
			Name:        "SAP Production",
			Type:        "SAP",
			Endpoint:    "https://sap.example.com/odata",
			Credentials: map[string]string{"username": "svc", "password": "hunter2"},
			Settings:    map[string]string{"client": "100"},
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"password", "username"}, resp.CredentialKeys)
		assert.Equal(t, 15, resp.SyncIntervalMinutes)
		assert.Equal(t, integration.IntegrationStatusDisconnected, resp.Status)
		assert.True(t, resp.Enabled)
		assert.NotEmpty(t, resp.Capabilities)

		stored := h.integrations.get(resp.ID)
		assert.Contains(t, stored.SealedCredentials, "sealed:")
		assert.Equal(t, "100", stored.Setting("client", ""))
	})

	t.Run("name is unique per tenant", func(t *testing.T) {
		_, err := h.m.CreateIntegration(ctx, h.tenantID, CreateIntegrationRequest{
			Name: "sap production", Type: "SAP", Endpoint: "https://sap.example.com",
		})
		assert.ErrorIs(t, err, integration.ErrDuplicateName)

		_, err = h.m.CreateIntegration(ctx, uuid.New(), CreateIntegrationRequest{
			Name: "SAP Production", Type: "SAP", Endpoint: "https://sap.example.com",
		})
		assert.NoError(t, err)
	})

	t.Run("options", func(t *testing.T) {
		interval := 45
		disabled := false
		resp, err := h.m.CreateIntegration(ctx, h.tenantID, CreateIntegrationRequest{
			Name: "Fleet", Type: "IOT", Endpoint: "https://iot.example.com",
			SyncIntervalMinutes: &interval, Enabled: &disabled,
		})
		require.NoError(t, err)
		assert.Equal(t, 45, resp.SyncIntervalMinutes)
		assert.False(t, resp.Enabled)
		assert.Empty(t, resp.CredentialKeys)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := h.m.CreateIntegration(ctx, h.tenantID, CreateIntegrationRequest{Name: "x", Type: "SALESFORCE", Endpoint: "https://x.example.com"})
		assert.ErrorIs(t, err, integration.ErrUnsupportedType)

		_, err = h.m.CreateIntegration(ctx, h.tenantID, CreateIntegrationRequest{Name: "x", Type: "SAP", Endpoint: "not a url"})
		assert.ErrorIs(t, err, integration.ErrInvalidEndpoint)
	})
}

func TestManager_UpdateIntegration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.create(t, integration.IntegrationTypeShopify, "Storefront")
	h.create(t, integration.IntegrationTypeSAP, "ERP")

	_, err := h.m.UpdateIntegration(ctx, h.tenantID, id, UpdateIntegrationRequest{Name: "ERP"})
	assert.ErrorIs(t, err, integration.ErrDuplicateName)

	disabled := false
	interval := 5
	resp, err := h.m.UpdateIntegration(ctx, h.tenantID, id, UpdateIntegrationRequest{
		Name:                "Storefront EU",
		Credentials:         map[string]string{"access_token": "shpat_123"},
		Enabled:             &disabled,
		SyncIntervalMinutes: &interval,
	})
	require.NoError(t, err)
	assert.Equal(t, "Storefront EU", resp.Name)
	assert.Equal(t, []string{"access_token"}, resp.CredentialKeys)
	assert.False(t, resp.Enabled)
	assert.Equal(t, 5, resp.SyncIntervalMinutes)

	_, err = h.m.UpdateIntegration(ctx, uuid.New(), id, UpdateIntegrationRequest{Name: "other"})
	assert.ErrorIs(t, err, integration.ErrIntegrationNotFound)
}

func TestManager_ListAndGet(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	for _, name := range []string{"a", "b", "c"} {
		h.create(t, integration.IntegrationTypeIoT, name)
	}

	filter := shared.DefaultFilter()
	filter.PageSize = 2
	items, total, err := h.m.ListIntegrations(ctx, h.tenantID, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 2)

	got, err := h.m.GetIntegration(ctx, h.tenantID, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, items[0].Name, got.Name)

	_, err = h.m.GetIntegration(ctx, uuid.New(), items[0].ID)
	assert.True(t, IsNotFound(err))
}

func TestManager_DeleteIntegration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	assert.Equal(t, int64(1), h.metrics.connections[integration.IntegrationTypeSAP])

	require.NoError(t, h.m.DeleteIntegration(ctx, h.tenantID, id))

	assert.Empty(t, h.sap.connected)
	assert.Zero(t, h.metrics.connections[integration.IntegrationTypeSAP])
	_, err := h.m.GetIntegration(ctx, h.tenantID, id)
	assert.ErrorIs(t, err, integration.ErrIntegrationNotFound)
	assert.ErrorIs(t, h.m.DeleteIntegration(ctx, h.tenantID, id), integration.ErrIntegrationNotFound)
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func TestManager_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("success opens credentials and publishes", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		id := h.create(t, integration.IntegrationTypeSAP, "ERP")

		resp, err := h.m.Connect(ctx, h.tenantID, id)
		require.NoError(t, err)
		assert.Equal(t, integration.IntegrationStatusConnected, resp.Status)
		assert.NotNil(t, resp.LastConnectedAt)

		require.Len(t, h.sap.configs, 1)
		assert.True(t, h.sap.configs[0].Credentials.Has("client_id", "client_secret"))
		assert.Contains(t, h.events.types(), integration.EventTypeIntegrationConnected)
		assert.Equal(t, int64(1), h.metrics.connections[integration.IntegrationTypeSAP])

		// reconnecting an open session does not double count
		_, err = h.m.Connect(ctx, h.tenantID, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), h.metrics.connections[integration.IntegrationTypeSAP])
	})

	t.Run("vendor rejection leaves ERROR", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		h.sap.connectErr = integration.ErrVendorAuthFailed
		id := h.create(t, integration.IntegrationTypeSAP, "ERP")

		_, err := h.m.Connect(ctx, h.tenantID, id)
		assert.ErrorIs(t, err, integration.ErrVendorAuthFailed)

		stored := h.integrations.get(id)
		assert.Equal(t, integration.IntegrationStatusError, stored.Status)
		assert.Contains(t, stored.LastError, "authentication")
		assert.Contains(t, h.events.types(), integration.EventTypeIntegrationConnectionFailed)
		assert.Zero(t, h.metrics.connections[integration.IntegrationTypeSAP])
	})

	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		id := h.create(t, integration.IntegrationTypeSAP, "ERP")
		disabled := false
		_, err := h.m.UpdateIntegration(ctx, h.tenantID, id, UpdateIntegrationRequest{Enabled: &disabled})
		require.NoError(t, err)

		_, err = h.m.Connect(ctx, h.tenantID, id)
		assert.ErrorIs(t, err, integration.ErrIntegrationDisabled)
	})

	t.Run("sealed credentials cannot be opened", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		id := h.create(t, integration.IntegrationTypeSAP, "ERP")
		h.m.cipher = jsonCipher{openErr: errors.New("no identity matched")}

		_, err := h.m.Connect(ctx, h.tenantID, id)
		assert.ErrorContains(t, err, "open credentials")
		assert.Empty(t, h.sap.configs)
	})
}

func TestManager_DisconnectAndTestConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeShopify, "Store")

	require.NoError(t, h.m.TestConnection(ctx, h.tenantID, id))

	resp, err := h.m.Disconnect(ctx, h.tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, integration.IntegrationStatusDisconnected, resp.Status)
	assert.Contains(t, h.events.types(), integration.EventTypeIntegrationDisconnected)
	assert.Zero(t, h.metrics.connections[integration.IntegrationTypeShopify])

	h.shopify.connectErr = integration.ErrVendorUnavailable
	assert.ErrorIs(t, h.m.TestConnection(ctx, h.tenantID, id), integration.ErrVendorUnavailable)
	assert.Equal(t, integration.IntegrationStatusDisconnected, h.integrations.get(id).Status)
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

func TestResolveKinds(t *testing.T) {
	tests := []struct {
		name    string
		typ     integration.IntegrationType
		opts    SyncOptions
		want    []integration.RecordKind
		wantDir integration.SyncDirection
		wantErr error
	}{
		{
			name:    "defaults to inbound capabilities",
			typ:     integration.IntegrationTypeIoT,
			want:    []integration.RecordKind{integration.RecordKindTelemetry, integration.RecordKindShipment},
			wantDir: integration.SyncDirectionInbound,
		},
		{
			name:    "power bi has no inbound kinds",
			typ:     integration.IntegrationTypePowerBI,
			wantErr: integration.ErrOperationNotSupported,
		},
		{
			name:    "duplicates collapse",
			typ:     integration.IntegrationTypeSAP,
			opts:    SyncOptions{Kinds: []integration.RecordKind{"ORDER", "ORDER", "PRODUCT"}},
			want:    []integration.RecordKind{integration.RecordKindOrder, integration.RecordKindProduct},
			wantDir: integration.SyncDirectionInbound,
		},
		{
			name:    "unsupported kind",
			typ:     integration.IntegrationTypeShopify,
			opts:    SyncOptions{Direction: integration.SyncDirectionOutbound, Kinds: []integration.RecordKind{"ORDER"}},
			wantErr: integration.ErrOperationNotSupported,
		},
		{
			name:    "unknown kind",
			typ:     integration.IntegrationTypeSAP,
			opts:    SyncOptions{Kinds: []integration.RecordKind{"INVOICE"}},
			wantErr: integration.ErrInvalidRecordKind,
		},
		{
			name:    "unknown direction",
			typ:     integration.IntegrationTypeSAP,
			opts:    SyncOptions{Direction: "SIDEWAYS"},
			wantErr: integration.ErrInvalidSyncDirection,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			err := resolveKinds(tt.typ, &opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, opts.Kinds)
			assert.Equal(t, tt.wantDir, opts.Direction)
		})
	}
}

func TestManager_SyncInbound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{PageSize: 2})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")

	t0 := time.Now().Add(-time.Hour).UTC()
	orders := []integration.ExternalRecord{
		sapOrder("100", t0), sapOrder("101", t0), sapOrder("102", t0), sapOrder("103", t0), sapOrder("104", t0),
	}
	h.sap.pages[integration.RecordKindOrder] = paged(integration.RecordKindOrder, 2, orders...)

	run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
	require.NoError(t, err)

	assert.Equal(t, integration.SyncStatusSuccess, run.Status)
	assert.Equal(t, integration.SyncTriggerManual, run.Trigger)
	assert.Equal(t, 5, run.Total)
	assert.Equal(t, 5, run.Created)
	assert.Len(t, h.sap.fetches, 3)
	assert.Nil(t, h.sap.fetches[0].Since)
	assert.Equal(t, 2, h.sap.fetches[0].PageSize)
	assert.Equal(t, "page-1", h.sap.fetches[1].Cursor)
	assert.Len(t, h.archive.keys, 3)

	stored := h.integrations.get(id)
	assert.Equal(t, integration.IntegrationStatusConnected, stored.Status)
	assert.Equal(t, integration.SyncStatusSuccess, stored.LastSyncStatus)
	require.NotNil(t, stored.LastSyncAt)
	assert.Contains(t, h.events.types(), integration.EventTypeIntegrationSyncCompleted)
	assert.Equal(t, []integration.SyncStatus{integration.SyncStatusSuccess}, h.metrics.runs)

	t.Run("second run is incremental and idempotent", func(t *testing.T) {
		h.sap.fetches = nil
		run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
		require.NoError(t, err)

		assert.Equal(t, 5, run.Unchanged)
		assert.Zero(t, run.Created)
		require.NotEmpty(t, h.sap.fetches)
		assert.NotNil(t, h.sap.fetches[0].Since)
	})

	t.Run("history", func(t *testing.T) {
		runs, total, err := h.m.ListSyncRuns(ctx, h.tenantID, id, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, runs, 2)

		got, err := h.m.GetSyncRun(ctx, h.tenantID, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Created)

		_, err = h.m.GetSyncRun(ctx, uuid.New(), run.ID)
		assert.ErrorIs(t, err, integration.ErrSyncRunNotFound)

		records, total, err := h.m.ListRecords(ctx, h.tenantID, id, integration.RecordKindOrder, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Equal(t, "100", records[0].ExternalID)

		_, _, err = h.m.ListRecords(ctx, h.tenantID, id, "INVOICE", shared.DefaultFilter())
		assert.ErrorIs(t, err, integration.ErrInvalidRecordKind)
	})
}

func TestManager_SyncPartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")

	bad := integration.ExternalRecord{Kind: integration.RecordKindInventory, ExternalID: "MAT-9", Fields: map[string]any{"Qty": 3}}
	h.sap.pages[integration.RecordKindInventory] = paged(integration.RecordKindInventory, 10,
		sapStock("MAT-1", 4), bad, sapStock("MAT-2", 12))

	run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindInventory}})
	require.NoError(t, err)

	assert.Equal(t, integration.SyncStatusPartial, run.Status)
	assert.Equal(t, 2, run.Created)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "MAT-9", run.Failures[0].ExternalID)
	assert.Equal(t, integration.FailureCodeMappingFailed, run.Failures[0].Code)
	assert.Equal(t, integration.SyncStatusPartial, h.integrations.get(id).LastSyncStatus)
}

func TestManager_SyncMissingMappingOnlyAbortsThatKind(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	h.m.mappings = staticMappings{"SAP/ORDER": sapOrderMapping()}
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	h.sap.pages[integration.RecordKindOrder] = paged(integration.RecordKindOrder, 10, sapOrder("1", time.Time{}))

	run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{})
	require.NoError(t, err)

	require.Len(t, run.Results, 3)
	assert.Equal(t, integration.SyncStatusSuccess, run.Results[0].Status)
	assert.Equal(t, integration.SyncStatusFailed, run.Results[1].Status)
	assert.Equal(t, integration.SyncStatusPartial, run.Status)
	assert.Contains(t, run.Error, "mapping not found")
}

func TestManager_SyncFetchFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	h.sap.fetchErr = integration.ErrVendorUnavailable

	run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
	require.NoError(t, err)

	assert.Equal(t, integration.SyncStatusFailed, run.Status)
	assert.Contains(t, run.Error, "temporarily unavailable")

	stored := h.integrations.get(id)
	assert.Equal(t, integration.IntegrationStatusConnected, stored.Status)
	assert.Equal(t, integration.SyncStatusFailed, stored.LastSyncStatus)
	assert.NotEmpty(t, stored.LastError)
	assert.Contains(t, h.events.types(), integration.EventTypeIntegrationSyncFailed)
}

func TestManager_SyncPreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	idle := h.create(t, integration.IntegrationTypeSAP, "ERP")
	bi := h.connected(t, integration.IntegrationTypePowerBI, "Dashboards")

	_, err := h.m.Sync(ctx, h.tenantID, idle, SyncOptions{})
	assert.ErrorIs(t, err, integration.ErrNotConnected)

	_, err = h.m.Sync(ctx, h.tenantID, bi, SyncOptions{Direction: integration.SyncDirectionInbound})
	assert.ErrorIs(t, err, integration.ErrOperationNotSupported)

	_, err = h.m.Sync(ctx, h.tenantID, uuid.New(), SyncOptions{})
	assert.ErrorIs(t, err, integration.ErrIntegrationNotFound)

	assert.Empty(t, h.metrics.runs)
}

func TestManager_SyncPanicReleasesIntegration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	h.sap.panicOn = integration.RecordKindOrder

	assert.Panics(t, func() {
		_, _ = h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
	})

	stored := h.integrations.get(id)
	assert.Equal(t, integration.IntegrationStatusConnected, stored.Status)
	assert.Equal(t, integration.SyncStatusFailed, stored.LastSyncStatus)
	assert.Contains(t, stored.LastError, "panicked")
}

func TestManager_SyncOutbound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{PushBatchSize: 2})
	sapID := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	shopID := h.connected(t, integration.IntegrationTypeShopify, "Store")

	h.sap.pages[integration.RecordKindInventory] = paged(integration.RecordKindInventory, 10,
		sapStock("MAT-1", 4), sapStock("MAT-2", 8), sapStock("MAT-3", 15))
	_, err := h.m.Sync(ctx, h.tenantID, sapID, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindInventory}})
	require.NoError(t, err)

	// a record the store itself produced is never echoed back
	own := integration.NewSyncedRecord(h.tenantID, shopID, integration.Record{
		Kind: integration.RecordKindInventory, ExternalID: "SHOP-1", Data: map[string]any{"sku": "SHOP-1"}, Checksum: "x",
	})
	_, err = h.records.Upsert(ctx, own)
	require.NoError(t, err)

	h.shopify.rejects["MAT-2"] = true

	run, err := h.m.Sync(ctx, h.tenantID, shopID, SyncOptions{Direction: integration.SyncDirectionOutbound})
	require.NoError(t, err)

	assert.Equal(t, []integration.RecordKind{integration.RecordKindInventory}, run.Kinds)
	assert.Equal(t, integration.SyncStatusPartial, run.Status)
	assert.Equal(t, 2, run.Pushed)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, integration.FailureCodeRejected, run.Failures[0].Code)
	assert.Len(t, h.shopify.pushes, 2)

	pushed := h.shopify.pushedRecords()
	require.Len(t, pushed, 3)
	assert.Equal(t, "MAT-1", pushed[0].ExternalID)
	assert.Equal(t, map[string]any{"inventory_item_id": "MAT-1", "sku": "MAT-1", "available": "4"}, pushed[0].Payload)
	for _, p := range pushed {
		assert.NotEqual(t, "SHOP-1", p.ExternalID)
	}
}

func TestManager_SyncOutboundTransportFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{PushBatchSize: 2})
	sapID := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	biID := h.connected(t, integration.IntegrationTypePowerBI, "Dashboards")

	h.sap.pages[integration.RecordKindInventory] = paged(integration.RecordKindInventory, 10,
		sapStock("MAT-1", 1), sapStock("MAT-2", 2), sapStock("MAT-3", 3))
	_, err := h.m.Sync(ctx, h.tenantID, sapID, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindInventory}})
	require.NoError(t, err)

	h.powerbi.pushErr = integration.ErrVendorRateLimited
	run, err := h.m.Sync(ctx, h.tenantID, biID, SyncOptions{
		Direction: integration.SyncDirectionOutbound,
		Kinds:     []integration.RecordKind{integration.RecordKindInventory},
	})
	require.NoError(t, err)

	assert.Equal(t, integration.SyncStatusFailed, run.Status)
	assert.Equal(t, 2, run.Failed)
	assert.Len(t, h.powerbi.pushes, 1)
	assert.Equal(t, integration.FailureCodePushFailed, run.Failures[0].Code)
}

func TestManager_SyncOutboundPartialPushBeforeError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{PushBatchSize: 10})
	sapID := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	shopID := h.connected(t, integration.IntegrationTypeShopify, "Store")

	h.sap.pages[integration.RecordKindInventory] = paged(integration.RecordKindInventory, 10,
		sapStock("MAT-1", 1), sapStock("MAT-2", 2))
	_, err := h.m.Sync(ctx, h.tenantID, sapID, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindInventory}})
	require.NoError(t, err)

	h.shopify.pushErr = integration.ErrVendorUnavailable
	h.shopify.pushAcceptBeforeErr = 1
	run, err := h.m.Sync(ctx, h.tenantID, shopID, SyncOptions{Direction: integration.SyncDirectionOutbound})
	require.NoError(t, err)

	assert.Equal(t, 1, run.Pushed)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, integration.SyncStatusPartial, run.Status)
	assert.Equal(t, integration.FailureCodePushFailed, run.Failures[0].Code)
}

func TestManager_SyncAbortAfterFirstPageCountsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{PageSize: 1})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	h.sap.pages[integration.RecordKindOrder] = paged(integration.RecordKindOrder, 1,
		sapOrder("1", time.Time{}), sapOrder("2", time.Time{}))
	h.sap.fetchErr = integration.ErrVendorUnavailable
	h.sap.fetchErrAfter = 1

	run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
	require.NoError(t, err)

	assert.Equal(t, integration.SyncStatusPartial, run.Status)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, integration.FailureCodeFetchFailed, run.Failures[0].Code)
}

func TestManager_SyncReopensSessionAfterRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
	h.sap.pages[integration.RecordKindOrder] = paged(integration.RecordKindOrder, 10, sapOrder("1", time.Time{}))

	h.sap.restart()
	run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
	require.NoError(t, err)

	assert.Equal(t, integration.SyncStatusSuccess, run.Status)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, h.sap.connectCount())
	assert.Equal(t, "https://", h.sap.configs[0].Endpoint[:8])
	assert.NotEmpty(t, h.sap.configs[0].Credentials.Get("client_id"))

	t.Run("failed reopen fails the run", func(t *testing.T) {
		h.sap.restart()
		h.sap.connectErr = integration.ErrVendorAuthFailed
		t.Cleanup(func() { h.sap.connectErr = nil })

		run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
		require.NoError(t, err)
		assert.Equal(t, integration.SyncStatusFailed, run.Status)
		assert.Contains(t, run.Error, "reopen session")
		assert.Equal(t, 1, h.sap.connectCount())
	})

	t.Run("outbound push reopens too", func(t *testing.T) {
		shopID := h.connected(t, integration.IntegrationTypeShopify, "Store")
		stock := integration.NewSyncedRecord(h.tenantID, id, integration.Record{
			Kind: integration.RecordKindInventory, ExternalID: "MAT-1", Data: map[string]any{"sku": "MAT-1", "quantity": "3"}, Checksum: "x",
		})
		_, err := h.records.Upsert(ctx, stock)
		require.NoError(t, err)
		h.shopify.restart()

		run, err := h.m.Sync(ctx, h.tenantID, shopID, SyncOptions{Direction: integration.SyncDirectionOutbound})
		require.NoError(t, err)
		assert.Equal(t, integration.SyncStatusSuccess, run.Status)
		assert.Equal(t, 1, run.Pushed)
		assert.Equal(t, 1, h.shopify.connectCount())
	})
}

func TestManager_SyncWatermark(t *testing.T) {
	ctx := context.Background()
	orderOnly := SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}}

	t.Run("failed first run leaves the next one a full fetch", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
		h.sap.fetchErr = integration.ErrVendorUnavailable

		run, err := h.m.Sync(ctx, h.tenantID, id, orderOnly)
		require.NoError(t, err)
		require.Equal(t, integration.SyncStatusFailed, run.Status)
		storedIntegration := h.integrations.get(id)
		assert.Nil(t, storedIntegration.Watermark(integration.RecordKindOrder, integration.SyncDirectionInbound))

		h.sap.fetchErr = nil
		h.sap.fetches = nil
		_, err = h.m.Sync(ctx, h.tenantID, id, orderOnly)
		require.NoError(t, err)
		require.NotEmpty(t, h.sap.fetches)
		assert.Nil(t, h.sap.fetches[0].Since)
	})

	t.Run("resumes from the start of the last complete run", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		id := h.connected(t, integration.IntegrationTypeSAP, "ERP")

		good, err := h.m.Sync(ctx, h.tenantID, id, orderOnly)
		require.NoError(t, err)
		require.Equal(t, integration.SyncStatusSuccess, good.Status)

		h.sap.fetchErr = integration.ErrVendorUnavailable
		_, err = h.m.Sync(ctx, h.tenantID, id, orderOnly)
		require.NoError(t, err)

		h.sap.fetchErr = nil
		h.sap.fetches = nil
		_, err = h.m.Sync(ctx, h.tenantID, id, orderOnly)
		require.NoError(t, err)
		require.NotEmpty(t, h.sap.fetches)
		require.NotNil(t, h.sap.fetches[0].Since)
		assert.True(t, h.sap.fetches[0].Since.Equal(good.StartedAt))
	})

	t.Run("page limit does not advance", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{PageSize: 1, MaxPages: 1})
		id := h.connected(t, integration.IntegrationTypeSAP, "ERP")
		h.sap.pages[integration.RecordKindOrder] = paged(integration.RecordKindOrder, 1,
			sapOrder("1", time.Time{}), sapOrder("2", time.Time{}))

		run, err := h.m.Sync(ctx, h.tenantID, id, orderOnly)
		require.NoError(t, err)
		require.Len(t, run.Results, 1)
		assert.True(t, run.Results[0].Truncated)
		storedIntegration := h.integrations.get(id)
		assert.Nil(t, storedIntegration.Watermark(integration.RecordKindOrder, integration.SyncDirectionInbound))
	})

	t.Run("kinds keep separate watermarks", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		id := h.connected(t, integration.IntegrationTypeSAP, "ERP")

		_, err := h.m.Sync(ctx, h.tenantID, id, orderOnly)
		require.NoError(t, err)

		h.sap.fetches = nil
		_, err = h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindInventory}})
		require.NoError(t, err)
		require.NotEmpty(t, h.sap.fetches)
		assert.Nil(t, h.sap.fetches[0].Since)
	})

	t.Run("explicit since past the watermark does not advance it", func(t *testing.T) {
		h := newHarness(t, ManagerConfig{})
		id := h.connected(t, integration.IntegrationTypeSAP, "ERP")

		since := time.Now().Add(-time.Minute)
		opts := orderOnly
		opts.Since = &since
		_, err := h.m.Sync(ctx, h.tenantID, id, opts)
		require.NoError(t, err)
		storedIntegration := h.integrations.get(id)
		assert.Nil(t, storedIntegration.Watermark(integration.RecordKindOrder, integration.SyncDirectionInbound))
	})
}

func TestManager_UpdateDuringSyncIsKept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "sap")
	h.sap.pages[integration.RecordKindOrder] = paged(integration.RecordKindOrder, 10, sapOrder("1", time.Time{}))

	fetching := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.sap.beforeFetch = func() {
		once.Do(func() {
			close(fetching)
			<-release
		})
	}

	done := make(chan *integration.SyncRun, 1)
	go func() {
		run, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{Kinds: []integration.RecordKind{integration.RecordKindOrder}})
		assert.NoError(t, err)
		done <- run
	}()
	<-fetching

	_, err := h.m.Sync(ctx, h.tenantID, id, SyncOptions{})
	assert.ErrorIs(t, err, integration.ErrSyncInProgress)

	disabled := false
	_, err = h.m.UpdateIntegration(ctx, h.tenantID, id, UpdateIntegrationRequest{Name: "renamed", Enabled: &disabled})
	require.NoError(t, err)
	close(release)

	run := <-done
	require.NotNil(t, run)
	assert.Equal(t, integration.SyncStatusSuccess, run.Status)

	stored := h.integrations.get(id)
	assert.Equal(t, "renamed", stored.Name)
	assert.False(t, stored.Enabled)
	assert.Equal(t, integration.IntegrationStatusConnected, stored.Status)
	assert.Equal(t, integration.SyncStatusSuccess, stored.LastSyncStatus)
	assert.NotNil(t, stored.Watermark(integration.RecordKindOrder, integration.SyncDirectionInbound))
}

func TestManager_StaleSaveIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")

	first, err := h.integrations.FindByIDForTenant(ctx, h.tenantID, id)
	require.NoError(t, err)
	second, err := h.integrations.FindByIDForTenant(ctx, h.tenantID, id)
	require.NoError(t, err)

	require.NoError(t, first.BeginSync())
	require.NoError(t, h.integrations.Save(ctx, first))
	require.NoError(t, second.BeginSync())
	assert.ErrorIs(t, h.integrations.Save(ctx, second), shared.ErrConflict)
}

func TestManager_RunScheduledSync(t *testing.T) {
	h := newHarness(t, ManagerConfig{})
	id := h.connected(t, integration.IntegrationTypeSAP, "ERP")

	run, err := h.m.RunScheduledSync(context.Background(), h.tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, integration.SyncTriggerScheduled, run.Trigger)
	assert.Equal(t, integration.SyncDirectionInbound, run.Direction)
}

// ---------------------------------------------------------------------------
// Batch operations
// ---------------------------------------------------------------------------

func TestManager_ConnectAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{FanOutConcurrency: 2})
	h.create(t, integration.IntegrationTypeSAP, "ERP")
	h.create(t, integration.IntegrationTypeShopify, "Store")
	h.create(t, integration.IntegrationTypePowerBI, "Dashboards")
	h.shopify.connectErr = integration.ErrVendorAuthFailed

	batch, err := h.m.ConnectAll(ctx, h.tenantID)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Total)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	for _, r := range batch.Results {
		if r.Type == integration.IntegrationTypeShopify {
			assert.False(t, r.Success)
			assert.Contains(t, r.Error, "authentication")
		} else {
			assert.True(t, r.Success, r.Name)
		}
	}

	batch, err = h.m.DisconnectAll(ctx, h.tenantID)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Succeeded)
	assert.Empty(t, h.sap.connected)
}

func TestManager_SyncAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ManagerConfig{})
	h.connected(t, integration.IntegrationTypeSAP, "ERP")
	h.connected(t, integration.IntegrationTypePowerBI, "Dashboards")
	h.create(t, integration.IntegrationTypeShopify, "Store")

	h.sap.pages[integration.RecordKindOrder] = paged(integration.RecordKindOrder, 10, sapOrder("1", time.Time{}))

	batch, err := h.m.SyncAll(ctx, h.tenantID)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Total)
	assert.Equal(t, 2, batch.Succeeded)
	for _, r := range batch.Results {
		switch r.Type {
		case integration.IntegrationTypeShopify:
			assert.Contains(t, r.Error, "not connected")
			assert.Nil(t, r.Run)
		case integration.IntegrationTypePowerBI:
			require.NotNil(t, r.Run)
			assert.Equal(t, integration.SyncDirectionOutbound, r.Run.Direction)
			assert.Equal(t, integration.SyncTriggerBatch, r.Run.Trigger)
		case integration.IntegrationTypeSAP:
			require.NotNil(t, r.Run)
			assert.Equal(t, 1, r.Run.Created)
		}
	}
}

func TestManager_SyncAllEmptyTenant(t *testing.T) {
	h := newHarness(t, ManagerConfig{})
	batch, err := h.m.SyncAll(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, batch.Total)
	assert.Empty(t, batch.Results)
}
