package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/telemetry"
)

// ManagerConfig bounds sync work
type ManagerConfig struct {
	PageSize            int
	MaxPages            int
	PushBatchSize       int
	OutboundLimit       int
	FanOutConcurrency   int
	DefaultSyncInterval time.Duration
}

// DefaultManagerConfig returns default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PageSize:            100,
		MaxPages:            50,
		PushBatchSize:       200,
		OutboundLimit:       10000,
		FanOutConcurrency:   4,
		DefaultSyncInterval: integration.DefaultSyncInterval,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	if c.PushBatchSize <= 0 {
		c.PushBatchSize = d.PushBatchSize
	}
	if c.OutboundLimit <= 0 {
		c.OutboundLimit = d.OutboundLimit
	}
	if c.FanOutConcurrency <= 0 {
		c.FanOutConcurrency = d.FanOutConcurrency
	}
	if c.DefaultSyncInterval <= 0 {
		c.DefaultSyncInterval = d.DefaultSyncInterval
	}
	return c
}

// ManagerDeps are the required collaborators of the Manager
type ManagerDeps struct {
	Integrations integration.IntegrationRepository
	Records      integration.SyncedRecordRepository
	Runs         integration.SyncRunRepository
	Adapters     integration.AdapterFactory
	Mappings     integration.MappingProvider
	Cipher       CredentialCipher
	Events       shared.EventPublisher
}

// ManagerOption configures optional collaborators
type ManagerOption func(*Manager)

// WithArchive archives every inbound page
func WithArchive(a PayloadArchive) ManagerOption {
	return func(m *Manager) { m.archive = a }
}

// WithMetrics records run and connection metrics
func WithMetrics(metrics SyncMetrics) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns integration lifecycle and sync orchestration
type Manager struct {
	integrations integration.IntegrationRepository
	records      integration.SyncedRecordRepository
	runs         integration.SyncRunRepository
	adapters     integration.AdapterFactory
	mappings     integration.MappingProvider
	cipher       CredentialCipher
	events       shared.EventPublisher
	reconciler   *Reconciler
	archive      PayloadArchive
	metrics      SyncMetrics
	config       ManagerConfig
	logger       *zap.Logger
}

// NewManager creates a Manager
func NewManager(deps ManagerDeps, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		integrations: deps.Integrations,
		records:      deps.Records,
		runs:         deps.Runs,
		adapters:     deps.Adapters,
		mappings:     deps.Mappings,
		cipher:       deps.Cipher,
		events:       deps.Events,
		reconciler:   NewReconciler(deps.Records),
		metrics:      nopMetrics{},
		config:       cfg.withDefaults(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ---------------------------------------------------------------------------
// CRUD
// ---------------------------------------------------------------------------

// CreateIntegration validates, seals the credentials and persists a new integration
func (m *Manager) CreateIntegration(ctx context.Context, tenantID uuid.UUID, req CreateIntegrationRequest) (*IntegrationResponse, error) {
	integ, err := integration.NewIntegration(tenantID, req.Name, integration.IntegrationType(req.Type), req.Endpoint)
	if err != nil {
		return nil, err
	}

	exists, err := m.integrations.ExistsByName(ctx, tenantID, integ.Name, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, integration.ErrDuplicateName
	}

	if req.Settings != nil {
		integ.Settings = req.Settings
	}
	if err := m.sealCredentials(integ, req.Credentials); err != nil {
		return nil, err
	}
	interval := m.config.DefaultSyncInterval
	if req.SyncIntervalMinutes != nil {
		interval = time.Duration(*req.SyncIntervalMinutes) * time.Minute
	}
	integ.SetSyncInterval(interval)
	if req.Enabled != nil && !*req.Enabled {
		integ.Disable()
	}

	if err := m.integrations.Save(ctx, integ); err != nil {
		return nil, err
	}

	m.logger.Info("Integration created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("integration_id", integ.ID.String()),
		zap.String("type", string(integ.Type)),
	)
	resp := ToIntegrationResponse(integ)
	return &resp, nil
}

// GetIntegration returns one integration of the tenant
func (m *Manager) GetIntegration(ctx context.Context, tenantID, id uuid.UUID) (*IntegrationResponse, error) {
	integ, err := m.integrations.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	resp := ToIntegrationResponse(integ)
	return &resp, nil
}

// ListIntegrations lists a tenant's integrations
func (m *Manager) ListIntegrations(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]IntegrationResponse, int64, error) {
	items, total, err := m.integrations.FindAllForTenant(ctx, tenantID, filter.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]IntegrationResponse, 0, len(items))
	for i := range items {
		out = append(out, ToIntegrationResponse(&items[i]))
	}
	return out, total, nil
}

// UpdateIntegration changes an integration and re-seals credentials when given
func (m *Manager) UpdateIntegration(ctx context.Context, tenantID, id uuid.UUID, req UpdateIntegrationRequest) (*IntegrationResponse, error) {
	integ, err := m.integrations.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" && req.Name != integ.Name {
		exists, err := m.integrations.ExistsByName(ctx, tenantID, req.Name, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, integration.ErrDuplicateName
		}
	}
	if err := integ.Update(req.Name, req.Endpoint, req.Settings); err != nil {
		return nil, err
	}
	if len(req.Credentials) > 0 {
		if err := m.sealCredentials(integ, req.Credentials); err != nil {
			return nil, err
		}
	}
	if req.SyncIntervalMinutes != nil {
		integ.SetSyncInterval(time.Duration(*req.SyncIntervalMinutes) * time.Minute)
	}
	if req.Enabled != nil {
		if *req.Enabled {
			integ.Enable()
		} else {
			integ.Disable()
		}
	}

	if err := m.integrations.Save(ctx, integ); err != nil {
		return nil, err
	}
	resp := ToIntegrationResponse(integ)
	return &resp, nil
}

// DeleteIntegration disconnects when connected, then removes the integration
// with its records and runs
func (m *Manager) DeleteIntegration(ctx context.Context, tenantID, id uuid.UUID) error {
	integ, err := m.integrations.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if integ.Status == integration.IntegrationStatusSyncing {
		return integration.ErrSyncInProgress
	}
	if integ.IsConnected() {
		if adapter, err := m.adapters.Adapter(integ.Type); err == nil {
			if err := adapter.Disconnect(ctx, integ.ID); err != nil {
				m.logger.Warn("Disconnect before delete failed", zap.String("integration_id", id.String()), zap.Error(err))
			}
		}
		m.metrics.ConnectionChanged(ctx, integ.Type, -1)
	}
	if err := m.integrations.DeleteForTenant(ctx, tenantID, id); err != nil {
		return err
	}
	m.logger.Info("Integration deleted", zap.String("tenant_id", tenantID.String()), zap.String("integration_id", id.String()))
	return nil
}

func (m *Manager) sealCredentials(integ *integration.Integration, creds map[string]string) error {
	if len(creds) == 0 {
		integ.SetSealedCredentials("", nil)
		return nil
	}
	c := integration.Credentials(creds)
	sealed, err := m.cipher.Seal(c)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	integ.SetSealedCredentials(sealed, c.Keys())
	return nil
}

func (m *Manager) openCredentials(integ *integration.Integration) (integration.Credentials, error) {
	if integ.SealedCredentials == "" {
		return integration.Credentials{}, nil
	}
	creds, err := m.cipher.Open(integ.SealedCredentials)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	return creds, nil
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// Connect opens a vendor session. A rejected connect leaves the integration
// in ERROR and publishes IntegrationConnectionFailed.
func (m *Manager) Connect(ctx context.Context, tenantID, id uuid.UUID) (resp *IntegrationResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, "integration", "connect", attribute.String("integration.id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	integ, err := m.integrations.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !integ.Enabled {
		return nil, integration.ErrIntegrationDisabled
	}
	if integ.Status == integration.IntegrationStatusSyncing {
		return nil, integration.ErrSyncInProgress
	}
	adapter, err := m.adapters.Adapter(integ.Type)
	if err != nil {
		return nil, err
	}
	creds, err := m.openCredentials(integ)
	if err != nil {
		return nil, err
	}

	wasConnected := integ.IsConnected()
	if connErr := adapter.Connect(ctx, integration.ConnectionConfigFor(integ, creds)); connErr != nil {
		integ.MarkConnectionFailed(connErr)
		if err := m.saveAndPublish(ctx, integ); err != nil {
			return nil, err
		}
		if wasConnected {
			m.metrics.ConnectionChanged(ctx, integ.Type, -1)
		}
		m.logger.Warn("Integration connect failed",
			zap.String("integration_id", id.String()),
			zap.String("type", string(integ.Type)),
			zap.Error(connErr),
		)
		return nil, connErr
	}

	if err := integ.MarkConnected(); err != nil {
		return nil, err
	}
	if err := m.saveAndPublish(ctx, integ); err != nil {
		return nil, err
	}
	if !wasConnected {
		m.metrics.ConnectionChanged(ctx, integ.Type, 1)
	}
	m.logger.Info("Integration connected", zap.String("integration_id", id.String()), zap.String("type", string(integ.Type)))
	r := ToIntegrationResponse(integ)
	return &r, nil
}

// Disconnect closes the vendor session
func (m *Manager) Disconnect(ctx context.Context, tenantID, id uuid.UUID) (*IntegrationResponse, error) {
	integ, err := m.integrations.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	adapter, err := m.adapters.Adapter(integ.Type)
	if err != nil {
		return nil, err
	}
	if integ.Status == integration.IntegrationStatusSyncing {
		return nil, integration.ErrSyncInProgress
	}

	wasConnected := integ.IsConnected()
	if err := adapter.Disconnect(ctx, integ.ID); err != nil {
		return nil, err
	}
	if err := integ.MarkDisconnected(); err != nil {
		return nil, err
	}
	if err := m.saveAndPublish(ctx, integ); err != nil {
		return nil, err
	}
	if wasConnected {
		m.metrics.ConnectionChanged(ctx, integ.Type, -1)
	}
	r := ToIntegrationResponse(integ)
	return &r, nil
}

// TestConnection checks credentials without changing the integration
func (m *Manager) TestConnection(ctx context.Context, tenantID, id uuid.UUID) error {
	integ, err := m.integrations.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}
	adapter, err := m.adapters.Adapter(integ.Type)
	if err != nil {
		return err
	}
	creds, err := m.openCredentials(integ)
	if err != nil {
		return err
	}
	return adapter.TestConnection(ctx, integration.ConnectionConfigFor(integ, creds))
}

func (m *Manager) saveAndPublish(ctx context.Context, integ *integration.Integration) error {
	if err := m.integrations.Save(ctx, integ); err != nil {
		return err
	}
	m.publish(ctx, integ.PopDomainEvents())
	return nil
}

func (m *Manager) publish(ctx context.Context, events []shared.DomainEvent) {
	if m.events == nil || len(events) == 0 {
		return
	}
	if err := m.events.Publish(ctx, events...); err != nil {
		m.logger.Warn("Failed to publish integration events", zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

// resolveKinds applies direction and kind defaults and checks capabilities
func resolveKinds(t integration.IntegrationType, opts *SyncOptions) error {
	if opts.Direction == "" {
		opts.Direction = integration.SyncDirectionInbound
	}
	if !opts.Direction.IsValid() {
		return integration.ErrInvalidSyncDirection
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = integration.KindsFor(t, opts.Direction)
		if len(opts.Kinds) == 0 {
			return fmt.Errorf("%w: %s has no %s kinds", integration.ErrOperationNotSupported, t, opts.Direction)
		}
		return nil
	}
	seen := make(map[integration.RecordKind]bool, len(opts.Kinds))
	kinds := opts.Kinds[:0:0]
	for _, k := range opts.Kinds {
		if !k.IsValid() {
			return integration.ErrInvalidRecordKind
		}
		if !integration.Supports(t, k, opts.Direction) {
			return fmt.Errorf("%w: %s cannot sync %s %s", integration.ErrOperationNotSupported, t, k, opts.Direction)
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	opts.Kinds = kinds
	return nil
}

// Sync runs one sync of the integration. Record-level and transport failures
// are reported in the returned run; an error is returned only when the run
// could not start.
func (m *Manager) Sync(ctx context.Context, tenantID, id uuid.UUID, opts SyncOptions) (run *integration.SyncRun, err error) {
	ctx, span := telemetry.StartSpan(ctx, "integration", "sync",
		attribute.String("integration.id", id.String()),
		attribute.String("sync.trigger", string(opts.Trigger)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	integ, err := m.integrations.FindByIDForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if opts.Trigger == "" {
		opts.Trigger = integration.SyncTriggerManual
	}
	if err := resolveKinds(integ.Type, &opts); err != nil {
		return nil, err
	}
	adapter, err := m.adapters.Adapter(integ.Type)
	if err != nil {
		return nil, err
	}
	if err := integ.BeginSync(); err != nil {
		return nil, err
	}
	// a concurrent Sync that also read CONNECTED loses here with ErrConflict
	if err := m.integrations.Save(ctx, integ); err != nil {
		return nil, err
	}

	run = integration.NewSyncRun(integ, opts.Trigger, opts.Direction, opts.Kinds)
	logger := m.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("integration_id", id.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("type", string(integ.Type)),
		zap.String("direction", string(opts.Direction)),
	)
	logger.Info("Sync started", zap.String("trigger", string(opts.Trigger)), zap.Int("kinds", len(opts.Kinds)))

	// the run is always completed, even on panic, so the integration leaves SYNCING
	completed := false
	defer func() {
		if completed {
			return
		}
		if p := recover(); p != nil {
			run.Fail(fmt.Errorf("sync panicked: %v", p))
			m.finishRun(ctx, integ, run, opts.Since, logger)
			panic(p)
		}
	}()

	session := &runSession{manager: m, adapter: adapter, integ: integ, logger: logger}
	results := make([]*integration.SyncResult, 0, len(opts.Kinds))
	for _, kind := range opts.Kinds {
		since := opts.Since
		if since == nil {
			since = integ.Watermark(kind, opts.Direction)
		}
		var result *integration.SyncResult
		if opts.Direction == integration.SyncDirectionOutbound {
			result = m.syncOutbound(ctx, session, kind, since, logger)
		} else {
			result = m.syncInbound(ctx, session, run.ID, kind, since, logger)
		}
		results = append(results, result.Finalize())
	}
	run.Complete(results)
	completed = true
	m.finishRun(ctx, integ, run, opts.Since, logger)
	return run, nil
}

// maxFinishAttempts bounds re-reads when the integration changed during a run
const maxFinishAttempts = 3

func (m *Manager) finishRun(ctx context.Context, integ *integration.Integration, run *integration.SyncRun, since *time.Time, logger *zap.Logger) {
	// persist the outcome even when the caller's context is gone
	ctx = context.WithoutCancel(ctx)

	if err := m.runs.Save(ctx, run); err != nil {
		logger.Error("Failed to save sync run", zap.Error(err))
	}

	current := integ
	for attempt := 1; ; attempt++ {
		current.CompleteSync(run)
		current.AdvanceWatermarks(run, since)
		err := m.saveAndPublish(ctx, current)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrConflict) || attempt == maxFinishAttempts {
			logger.Error("Failed to save integration after sync", zap.Error(err))
			break
		}
		// someone updated the integration mid-run; apply the outcome to their copy
		fresh, err := m.integrations.FindByIDForTenant(ctx, integ.TenantID, integ.ID)
		if err != nil {
			logger.Error("Failed to reload integration after sync", zap.Error(err))
			break
		}
		current = fresh
	}
	m.metrics.RecordRun(ctx, run)

	logger.Info("Sync finished",
		zap.String("status", string(run.Status)),
		zap.Int("total", run.Total),
		zap.Int("created", run.Created),
		zap.Int("updated", run.Updated),
		zap.Int("unchanged", run.Unchanged),
		zap.Int("skipped", run.Skipped),
		zap.Int("pushed", run.Pushed),
		zap.Int("failed", run.Failed),
		zap.Duration("duration", run.Duration()),
	)
}

// runSession reopens the vendor session once per run when the adapter has
// none. Sessions live in process memory, so after a restart or on another
// replica a CONNECTED integration starts without one.
type runSession struct {
	manager  *Manager
	adapter  integration.Adapter
	integ    *integration.Integration
	logger   *zap.Logger
	reopened bool
}

func (s *runSession) reopen(ctx context.Context) error {
	if s.reopened {
		return integration.ErrNotConnected
	}
	s.reopened = true
	creds, err := s.manager.openCredentials(s.integ)
	if err != nil {
		return err
	}
	if err := s.adapter.Connect(ctx, integration.ConnectionConfigFor(s.integ, creds)); err != nil {
		s.logger.Warn("Reopening vendor session failed", zap.Error(err))
		return fmt.Errorf("reopen session: %w", err)
	}
	s.logger.Info("Reopened vendor session")
	return nil
}

func (s *runSession) fetch(ctx context.Context, req integration.FetchRequest) (*integration.FetchPage, error) {
	page, err := s.adapter.Fetch(ctx, s.integ.ID, req)
	if errors.Is(err, integration.ErrNotConnected) {
		if err := s.reopen(ctx); err != nil {
			return nil, err
		}
		return s.adapter.Fetch(ctx, s.integ.ID, req)
	}
	return page, err
}

func (s *runSession) push(ctx context.Context, req integration.PushRequest) (*integration.PushResult, error) {
	res, err := s.adapter.Push(ctx, s.integ.ID, req)
	if res == nil && errors.Is(err, integration.ErrNotConnected) {
		if err := s.reopen(ctx); err != nil {
			return nil, err
		}
		return s.adapter.Push(ctx, s.integ.ID, req)
	}
	return res, err
}

func (m *Manager) syncInbound(
	ctx context.Context,
	session *runSession,
	runID uuid.UUID,
	kind integration.RecordKind,
	since *time.Time,
	logger *zap.Logger,
) *integration.SyncResult {
	integ := session.integ
	result := integration.NewSyncResult(kind, integration.SyncDirectionInbound)
	mapping, err := m.mappings.Mapping(integ.Type, kind)
	if err != nil {
		result.Abort(integration.FailureCodeMappingFailed, err)
		return result
	}

	cursor := ""
	for page := 1; page <= m.config.MaxPages; page++ {
		fetched, err := session.fetch(ctx, integration.FetchRequest{
			Kind:     kind,
			Since:    since,
			Cursor:   cursor,
			PageSize: m.config.PageSize,
		})
		if err != nil {
			logger.Warn("Fetch failed", zap.String("kind", string(kind)), zap.Int("page", page), zap.Error(err))
			result.Abort(integration.FailureCodeFetchFailed, err)
			return result
		}

		m.reconciler.ReconcileInto(ctx, integ, mapping, fetched.Records, result)
		if m.archive != nil && len(fetched.Records) > 0 {
			key, err := m.archive.Archive(ctx, integ.TenantID, integ.ID, runID, kind, page, fetched.Records)
			if err != nil {
				logger.Warn("Failed to archive sync page", zap.String("kind", string(kind)), zap.Int("page", page), zap.Error(err))
			} else {
				logger.Debug("Archived sync page", zap.String("key", key))
			}
		}
		if result.Error != "" {
			return result
		}
		if !fetched.HasMore || fetched.NextCursor == "" {
			return result
		}
		cursor = fetched.NextCursor
	}

	logger.Warn("Stopped fetching at page limit", zap.String("kind", string(kind)), zap.Int("max_pages", m.config.MaxPages))
	result.Truncated = true
	return result
}

func (m *Manager) syncOutbound(
	ctx context.Context,
	session *runSession,
	kind integration.RecordKind,
	since *time.Time,
	logger *zap.Logger,
) *integration.SyncResult {
	integ := session.integ
	result := integration.NewSyncResult(kind, integration.SyncDirectionOutbound)
	mapping, err := m.mappings.Mapping(integ.Type, kind)
	if err != nil {
		result.Abort(integration.FailureCodeMappingFailed, err)
		return result
	}

	var from time.Time
	if since != nil {
		from = *since
	}
	stored, err := m.records.FindModifiedSince(ctx, integ.TenantID, kind, from, m.config.OutboundLimit)
	if err != nil {
		result.Abort(integration.FailureCodeFetchFailed, err)
		return result
	}
	if len(stored) >= m.config.OutboundLimit {
		logger.Warn("Outbound selection hit the row limit", zap.String("kind", string(kind)), zap.Int("limit", m.config.OutboundLimit))
		result.Truncated = true
	}

	// records that came from this integration are not echoed back to it
	payloads := make([]integration.PushRecord, 0, len(stored))
	for i := range stored {
		if stored[i].IntegrationID == integ.ID {
			continue
		}
		payloads = append(payloads, integration.PushRecord{
			ExternalID: stored[i].ExternalID,
			Payload:    mapping.Reverse(stored[i].ToRecord()),
		})
	}

	for start := 0; start < len(payloads); start += m.config.PushBatchSize {
		end := min(start+m.config.PushBatchSize, len(payloads))
		batch := payloads[start:end]

		res, err := session.push(ctx, integration.PushRequest{Kind: kind, Records: batch})
		remaining := len(batch)
		if res != nil {
			recordPushResult(result, res)
			remaining -= res.Accepted + len(res.Failures)
		}
		if err != nil {
			logger.Warn("Push failed", zap.String("kind", string(kind)), zap.Int("batch_size", len(batch)), zap.Int("unconfirmed", max(remaining, 0)), zap.Error(err))
			result.AddFailedBatch(remaining, integration.FailureCodePushFailed, err.Error())
			result.Abort(integration.FailureCodePushFailed, err)
			return result
		}
	}
	return result
}

// recordPushResult counts what the vendor confirmed, even when the push
// call also returned an error
func recordPushResult(result *integration.SyncResult, res *integration.PushResult) {
	result.RecordPushed(res.Accepted)
	for _, f := range res.Failures {
		code := f.Code
		if code == "" {
			code = integration.FailureCodeRejected
		}
		result.RecordFailure(f.ExternalID, code, f.Message)
	}
}

// RunScheduledSync is the scheduler's entry point
func (m *Manager) RunScheduledSync(ctx context.Context, tenantID, integrationID uuid.UUID) (*integration.SyncRun, error) {
	return m.Sync(ctx, tenantID, integrationID, SyncOptions{Trigger: integration.SyncTriggerScheduled})
}

// ---------------------------------------------------------------------------
// Batch operations
// ---------------------------------------------------------------------------

// fanOut runs op over the tenant's enabled integrations with bounded
// concurrency. One failure never cancels the others.
func (m *Manager) fanOut(
	ctx context.Context,
	tenantID uuid.UUID,
	op func(ctx context.Context, integ *integration.Integration) (*integration.SyncRun, error),
) (*BatchResult, error) {
	enabled, err := m.integrations.FindEnabled(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	results := make([]OperationResult, len(enabled))
	var g errgroup.Group
	g.SetLimit(m.config.FanOutConcurrency)
	for i := range enabled {
		integ := &enabled[i]
		g.Go(func() error {
			res := OperationResult{IntegrationID: integ.ID, Name: integ.Name, Type: integ.Type}
			run, err := op(ctx, integ)
			switch {
			case err != nil:
				res.Error = err.Error()
			case run != nil && run.Status == integration.SyncStatusFailed:
				res.Error = run.Error
				if res.Error == "" {
					res.Error = "sync failed"
				}
			default:
				res.Success = true
			}
			res.Run = ToSyncRunResponse(run)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return newBatchResult(results), nil
}

// ConnectAll connects every enabled integration of the tenant
func (m *Manager) ConnectAll(ctx context.Context, tenantID uuid.UUID) (*BatchResult, error) {
	return m.fanOut(ctx, tenantID, func(ctx context.Context, integ *integration.Integration) (*integration.SyncRun, error) {
		_, err := m.Connect(ctx, tenantID, integ.ID)
		return nil, err
	})
}

// SyncAll syncs every enabled integration of the tenant in its default direction
func (m *Manager) SyncAll(ctx context.Context, tenantID uuid.UUID) (*BatchResult, error) {
	return m.fanOut(ctx, tenantID, func(ctx context.Context, integ *integration.Integration) (*integration.SyncRun, error) {
		opts := SyncOptions{Trigger: integration.SyncTriggerBatch}
		if len(integration.KindsFor(integ.Type, integration.SyncDirectionInbound)) == 0 {
			opts.Direction = integration.SyncDirectionOutbound
		}
		return m.Sync(ctx, tenantID, integ.ID, opts)
	})
}

// DisconnectAll disconnects every enabled integration of the tenant
func (m *Manager) DisconnectAll(ctx context.Context, tenantID uuid.UUID) (*BatchResult, error) {
	return m.fanOut(ctx, tenantID, func(ctx context.Context, integ *integration.Integration) (*integration.SyncRun, error) {
		_, err := m.Disconnect(ctx, tenantID, integ.ID)
		return nil, err
	})
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// ListSyncRuns lists the sync history of an integration
func (m *Manager) ListSyncRuns(ctx context.Context, tenantID, id uuid.UUID, filter shared.Filter) ([]SyncRunResponse, int64, error) {
	if _, err := m.integrations.FindByIDForTenant(ctx, tenantID, id); err != nil {
		return nil, 0, err
	}
	runs, total, err := m.runs.FindByIntegration(ctx, tenantID, id, filter.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]SyncRunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, *ToSyncRunResponse(&runs[i]))
	}
	return out, total, nil
}

// GetSyncRun returns one run of the tenant
func (m *Manager) GetSyncRun(ctx context.Context, tenantID, runID uuid.UUID) (*SyncRunResponse, error) {
	run, err := m.runs.FindByID(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	return ToSyncRunResponse(run), nil
}

// ListRecords lists the reconciled records of an integration, optionally of one kind
func (m *Manager) ListRecords(ctx context.Context, tenantID, id uuid.UUID, kind integration.RecordKind, filter shared.Filter) ([]RecordResponse, int64, error) {
	if kind != "" && !kind.IsValid() {
		return nil, 0, integration.ErrInvalidRecordKind
	}
	if _, err := m.integrations.FindByIDForTenant(ctx, tenantID, id); err != nil {
		return nil, 0, err
	}
	records, total, err := m.records.FindByIntegration(ctx, tenantID, id, kind, filter.Normalize())
	if err != nil {
		return nil, 0, err
	}
	out := make([]RecordResponse, 0, len(records))
	for i := range records {
		out = append(out, ToRecordResponse(&records[i]))
	}
	return out, total, nil
}

// IsNotFound reports whether err means the integration or run does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, integration.ErrIntegrationNotFound) || errors.Is(err, integration.ErrSyncRunNotFound)
}
