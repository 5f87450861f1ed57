package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/shared"
)

var faker = gofakeit.New(42)

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

type memIntegrations struct {
	mu      sync.Mutex
	items   map[uuid.UUID]integration.Integration
	saveErr error
	deleted []uuid.UUID
}

func newMemIntegrations() *memIntegrations {
	return &memIntegrations{items: map[uuid.UUID]integration.Integration{}}
}

func (r *memIntegrations) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok || i.TenantID != tenantID {
		return nil, integration.ErrIntegrationNotFound
	}
	c := cloneIntegration(i)
	return &c, nil
}

// cloneIntegration copies the maps so callers never share state with the store
func cloneIntegration(i integration.Integration) integration.Integration {
	i.Settings = maps.Clone(i.Settings)
	i.SyncWatermarks = maps.Clone(i.SyncWatermarks)
	return i
}

func (r *memIntegrations) FindAllForTenant(_ context.Context, tenantID uuid.UUID, filter shared.Filter) ([]integration.Integration, int64, error) {
	all, _ := r.FindEnabledOrAll(tenantID, false)
	total := int64(len(all))
	start := min(filter.Offset(), len(all))
	end := min(start+filter.PageSize, len(all))
	return all[start:end], total, nil
}

func (r *memIntegrations) FindEnabledOrAll(tenantID uuid.UUID, enabledOnly bool) ([]integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.Integration
	for _, i := range r.items {
		if i.TenantID == tenantID && (!enabledOnly || i.Enabled) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (r *memIntegrations) FindEnabled(_ context.Context, tenantID uuid.UUID) ([]integration.Integration, error) {
	return r.FindEnabledOrAll(tenantID, true)
}

func (r *memIntegrations) FindDue(_ context.Context, now time.Time) ([]integration.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.Integration
	for _, i := range r.items {
		if i.IsDue(now) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *memIntegrations) ExistsByName(_ context.Context, tenantID uuid.UUID, name string, excludeID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.items {
		if i.TenantID == tenantID && i.ID != excludeID && strings.EqualFold(i.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memIntegrations) Save(_ context.Context, i *integration.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if stored, ok := r.items[i.ID]; ok {
		if stored.Version != i.Version {
			return shared.ErrConflict
		}
		i.Version++
	}
	c := cloneIntegration(*i)
	c.ClearDomainEvents()
	r.items[i.ID] = c
	return nil
}

func (r *memIntegrations) DeleteForTenant(_ context.Context, tenantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok || i.TenantID != tenantID {
		return integration.ErrIntegrationNotFound
	}
	delete(r.items, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *memIntegrations) get(id uuid.UUID) integration.Integration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneIntegration(r.items[id])
}

type memRecords struct {
	mu         sync.Mutex
	items      map[string]integration.SyncedRecord
	failUpsert map[string]bool
}

func newMemRecords() *memRecords {
	return &memRecords{items: map[string]integration.SyncedRecord{}, failUpsert: map[string]bool{}}
}

func recordKey(tenantID, integrationID uuid.UUID, kind integration.RecordKind, externalID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", tenantID, integrationID, kind, externalID)
}

func (r *memRecords) Upsert(_ context.Context, rec *integration.SyncedRecord) (integration.UpsertOutcome, error) {
	if err := rec.ValidateKey(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert[rec.ExternalID] {
		return "", errors.New("constraint violation")
	}
	key := recordKey(rec.TenantID, rec.IntegrationID, rec.Kind, rec.ExternalID)
	stored, ok := r.items[key]
	if !ok {
		r.items[key] = *rec
		return integration.UpsertCreated, nil
	}
	outcome := stored.Decide(rec)
	now := time.Now()
	stored.LastSyncedAt = now
	if outcome == integration.UpsertUpdated {
		stored.Data = rec.Data
		stored.Checksum = rec.Checksum
		stored.SourceUpdatedAt = rec.SourceUpdatedAt
		stored.Version++
		stored.ChangedAt = now
	}
	r.items[key] = stored
	return outcome, nil
}

func (r *memRecords) FindByKey(_ context.Context, tenantID, integrationID uuid.UUID, kind integration.RecordKind, externalID string) (*integration.SyncedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[recordKey(tenantID, integrationID, kind, externalID)]
	if !ok {
		return nil, integration.ErrSyncedRecordNotFound
	}
	return &rec, nil
}

func (r *memRecords) FindByIntegration(_ context.Context, tenantID, integrationID uuid.UUID, kind integration.RecordKind, filter shared.Filter) ([]integration.SyncedRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.SyncedRecord
	for _, rec := range r.items {
		if rec.TenantID == tenantID && rec.IntegrationID == integrationID && (kind == "" || rec.Kind == kind) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ExternalID < out[b].ExternalID })
	total := int64(len(out))
	start := min(filter.Offset(), len(out))
	end := min(start+filter.PageSize, len(out))
	return out[start:end], total, nil
}

func (r *memRecords) FindModifiedSince(_ context.Context, tenantID uuid.UUID, kind integration.RecordKind, since time.Time, limit int) ([]integration.SyncedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.SyncedRecord
	for _, rec := range r.items {
		if rec.TenantID == tenantID && rec.Kind == kind && rec.ChangedAt.After(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ExternalID < out[b].ExternalID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRecords) DeleteByIntegration(_ context.Context, tenantID, integrationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, rec := range r.items {
		if rec.TenantID == tenantID && rec.IntegrationID == integrationID {
			delete(r.items, k)
		}
	}
	return nil
}

func (r *memRecords) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type memRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]integration.SyncRun
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[uuid.UUID]integration.SyncRun{}}
}

func (r *memRuns) Save(_ context.Context, run *integration.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memRuns) FindByID(_ context.Context, tenantID, id uuid.UUID) (*integration.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, integration.ErrSyncRunNotFound
	}
	return &run, nil
}

func (r *memRuns) FindByIntegration(_ context.Context, tenantID, integrationID uuid.UUID, filter shared.Filter) ([]integration.SyncRun, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.SyncRun
	for _, run := range r.runs {
		if run.TenantID == tenantID && run.IntegrationID == integrationID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	total := int64(len(out))
	start := min(filter.Offset(), len(out))
	end := min(start+filter.PageSize, len(out))
	return out[start:end], total, nil
}

// ---------------------------------------------------------------------------
// Adapters and mappings
// ---------------------------------------------------------------------------

type fakeAdapter struct {
	mu         sync.Mutex
	typ        integration.IntegrationType
	connectErr error
	fetchErr   error
	pushErr    error
	pages      map[integration.RecordKind][]*integration.FetchPage
	rejects    map[string]bool
	connected  map[uuid.UUID]bool
	configs    []integration.ConnectionConfig
	fetches    []integration.FetchRequest
	pushes     []integration.PushRequest
	panicOn    integration.RecordKind

	// fetchErr starts after fetchErrAfter fetches; with pushErr set the
	// vendor still confirms pushAcceptBeforeErr records first
	fetchErrAfter       int
	pushAcceptBeforeErr int
	beforeFetch         func()
}

func newFakeAdapter(t integration.IntegrationType) *fakeAdapter {
	return &fakeAdapter{
		typ:       t,
		pages:     map[integration.RecordKind][]*integration.FetchPage{},
		rejects:   map[string]bool{},
		connected: map[uuid.UUID]bool{},
	}
}

func (a *fakeAdapter) Type() integration.IntegrationType { return a.typ }

func (a *fakeAdapter) Connect(_ context.Context, cfg integration.ConnectionConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs = append(a.configs, cfg)
	if a.connectErr != nil {
		return a.connectErr
	}
	a.connected[cfg.IntegrationID] = true
	return nil
}

func (a *fakeAdapter) Disconnect(_ context.Context, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.connected, id)
	return nil
}

func (a *fakeAdapter) TestConnection(_ context.Context, cfg integration.ConnectionConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs = append(a.configs, cfg)
	return a.connectErr
}

func (a *fakeAdapter) Fetch(_ context.Context, id uuid.UUID, req integration.FetchRequest) (*integration.FetchPage, error) {
	if a.beforeFetch != nil {
		a.beforeFetch()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if req.Kind == a.panicOn && a.panicOn != "" {
		panic("vendor client bug")
	}
	if !a.connected[id] {
		a.fetches = append(a.fetches, req)
		return nil, integration.ErrNotConnected
	}
	if a.fetchErr != nil && len(a.fetches) >= a.fetchErrAfter {
		a.fetches = append(a.fetches, req)
		return nil, a.fetchErr
	}
	a.fetches = append(a.fetches, req)
	pages := a.pages[req.Kind]
	idx := 0
	if req.Cursor != "" {
		_, _ = fmt.Sscanf(req.Cursor, "page-%d", &idx)
	}
	if idx >= len(pages) {
		return &integration.FetchPage{}, nil
	}
	return pages[idx], nil
}

func (a *fakeAdapter) Push(_ context.Context, id uuid.UUID, req integration.PushRequest) (*integration.PushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushes = append(a.pushes, req)
	if !a.connected[id] {
		return nil, integration.ErrNotConnected
	}
	if a.pushErr != nil {
		if a.pushAcceptBeforeErr > 0 {
			return &integration.PushResult{Accepted: min(a.pushAcceptBeforeErr, len(req.Records))}, a.pushErr
		}
		return nil, a.pushErr
	}
	res := &integration.PushResult{}
	for _, r := range req.Records {
		if a.rejects[r.ExternalID] {
			res.Failures = append(res.Failures, integration.SyncFailure{ExternalID: r.ExternalID, Message: "row rejected"})
			continue
		}
		res.Accepted++
	}
	return res, nil
}

// restart drops every session, as a new process would
func (a *fakeAdapter) restart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = map[uuid.UUID]bool{}
	a.configs = nil
}

func (a *fakeAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.configs)
}

func (a *fakeAdapter) pushedRecords() []integration.PushRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []integration.PushRecord
	for _, p := range a.pushes {
		out = append(out, p.Records...)
	}
	return out
}

// paged splits records into pages chained by "page-N" cursors
func paged(kind integration.RecordKind, pageSize int, records ...integration.ExternalRecord) []*integration.FetchPage {
	var pages []*integration.FetchPage
	for start := 0; start < len(records); start += pageSize {
		end := min(start+pageSize, len(records))
		p := &integration.FetchPage{Records: records[start:end]}
		if end < len(records) {
			p.HasMore = true
			p.NextCursor = fmt.Sprintf("page-%d", len(pages)+1)
		}
		pages = append(pages, p)
	}
	return pages
}

type fakeFactory struct {
	adapters map[integration.IntegrationType]integration.Adapter
}

func newFakeFactory(adapters ...*fakeAdapter) *fakeFactory {
	f := &fakeFactory{adapters: map[integration.IntegrationType]integration.Adapter{}}
	for _, a := range adapters {
		f.adapters[a.typ] = a
	}
	return f
}

func (f *fakeFactory) Adapter(t integration.IntegrationType) (integration.Adapter, error) {
	a, ok := f.adapters[t]
	if !ok {
		return nil, integration.ErrAdapterNotRegistered
	}
	return a, nil
}

func (f *fakeFactory) Types() []integration.IntegrationType {
	out := make([]integration.IntegrationType, 0, len(f.adapters))
	for t := range f.adapters {
		out = append(out, t)
	}
	return out
}

type staticMappings map[string]*integration.MappingSet

func (m staticMappings) Mapping(t integration.IntegrationType, kind integration.RecordKind) (*integration.MappingSet, error) {
	set, ok := m[string(t)+"/"+string(kind)]
	if !ok {
		return nil, integration.ErrMappingNotFound
	}
	return set, nil
}

func sapOrderMapping() *integration.MappingSet {
	return &integration.MappingSet{
		Type:            integration.IntegrationTypeSAP,
		Kind:            integration.RecordKindOrder,
		ExternalIDField: "SalesOrder",
		UpdatedAtField:  "LastChangeDateTime",
		Fields: []integration.FieldMapping{
			{Source: "SalesOrder", Target: "order_number", Required: true},
			{Source: "SoldToParty", Target: "customer", Transform: integration.TransformTrim},
			{Source: "TotalNetAmount", Target: "total_amount", Transform: integration.TransformDecimal},
		},
	}
}

func inventoryMapping(t integration.IntegrationType, idField, skuField, qtyField string) *integration.MappingSet {
	return &integration.MappingSet{
		Type:            t,
		Kind:            integration.RecordKindInventory,
		ExternalIDField: idField,
		Fields: []integration.FieldMapping{
			{Source: skuField, Target: "sku", Required: true},
			{Source: qtyField, Target: "quantity", Transform: integration.TransformDecimal},
		},
	}
}

func passThrough(t integration.IntegrationType, kind integration.RecordKind, idField string) *integration.MappingSet {
	return &integration.MappingSet{
		Type:            t,
		Kind:            kind,
		ExternalIDField: idField,
		Fields:          []integration.FieldMapping{{Source: "name", Target: "name"}},
	}
}

func testMappings() staticMappings {
	return staticMappings{
		"SAP/ORDER":         sapOrderMapping(),
		"SAP/INVENTORY":     inventoryMapping(integration.IntegrationTypeSAP, "Material", "Material", "Qty"),
		"SAP/PRODUCT":       passThrough(integration.IntegrationTypeSAP, integration.RecordKindProduct, "Product"),
		"SHOPIFY/INVENTORY": inventoryMapping(integration.IntegrationTypeShopify, "inventory_item_id", "sku", "available"),
		"POWERBI/INVENTORY": inventoryMapping(integration.IntegrationTypePowerBI, "ExternalId", "Sku", "Quantity"),
		"POWERBI/ORDER":     passThrough(integration.IntegrationTypePowerBI, integration.RecordKindOrder, "ExternalId"),
		"POWERBI/SHIPMENT":  passThrough(integration.IntegrationTypePowerBI, integration.RecordKindShipment, "ExternalId"),
	}
}

func sapOrder(id string, modified time.Time) integration.ExternalRecord {
	return integration.ExternalRecord{
		Kind:       integration.RecordKindOrder,
		ExternalID: id,
		ModifiedAt: modified,
		Fields: map[string]any{
			"SalesOrder":     id,
			"SoldToParty":    " " + faker.Company() + " ",
			"TotalNetAmount": fmt.Sprintf("%.2f", faker.Price(10, 5000)),
		},
	}
}

func sapStock(material string, qty int) integration.ExternalRecord {
	return integration.ExternalRecord{
		Kind:       integration.RecordKindInventory,
		ExternalID: material,
		Fields:     map[string]any{"Material": material, "Qty": qty},
	}
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

type jsonCipher struct {
	openErr error
}

func (c jsonCipher) Seal(creds integration.Credentials) (string, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	return "sealed:" + string(raw), nil
}

func (c jsonCipher) Open(sealed string) (integration.Credentials, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	var creds integration.Credentials
	if err := json.Unmarshal([]byte(strings.TrimPrefix(sealed, "sealed:")), &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type recordingMetrics struct {
	mu          sync.Mutex
	runs        []integration.SyncStatus
	connections map[integration.IntegrationType]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{connections: map[integration.IntegrationType]int64{}}
}

func (m *recordingMetrics) RecordRun(_ context.Context, run *integration.SyncRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run.Status)
}

func (m *recordingMetrics) ConnectionChanged(_ context.Context, t integration.IntegrationType, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[t] += delta
}

type memArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *memArchive) Archive(_ context.Context, tenantID, integrationID, runID uuid.UUID, kind integration.RecordKind, page int, records []integration.ExternalRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%s/%s/%04d", tenantID, integrationID, runID, kind, page)
	a.keys = append(a.keys, key)
	return key, nil
}
