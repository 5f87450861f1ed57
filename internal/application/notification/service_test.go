package notification

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/kyc"
	"github.com/supplychain/backend/internal/domain/notification"
	"github.com/supplychain/backend/internal/domain/shared"
	"github.com/supplychain/backend/internal/infrastructure/cache"
	"github.com/supplychain/backend/internal/infrastructure/event"
)

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]notification.Notification
	saves int
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[uuid.UUID]notification.Notification{}}
}

func (r *memRepo) Save(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.items[n.ID] = *n
	return nil
}

func (r *memRepo) FindByID(_ context.Context, tenantID, id uuid.UUID) (*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.TenantID != tenantID {
		return nil, notification.ErrNotificationNotFound
	}
	return &n, nil
}

func (r *memRepo) visible(tenantID, userID uuid.UUID) []notification.Notification {
	var out []notification.Notification
	for _, n := range r.items {
		if n.VisibleTo(tenantID, userID) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

func (r *memRepo) FindVisible(_ context.Context, tenantID uuid.UUID, filter notification.ListFilter) ([]notification.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Notification
	for _, n := range r.visible(tenantID, filter.UserID) {
		if filter.UnreadOnly && n.IsRead() {
			continue
		}
		if filter.Category != "" && n.Category != filter.Category {
			continue
		}
		out = append(out, n)
	}
	total := int64(len(out))
	start := min(filter.Offset(), len(out))
	end := min(start+filter.PageSize, len(out))
	return out[start:end], total, nil
}

func (r *memRepo) CountUnread(_ context.Context, tenantID, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.visible(tenantID, userID) {
		if !item.IsRead() {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) MarkAllRead(_ context.Context, tenantID, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for _, item := range r.visible(tenantID, userID) {
		if !item.IsRead() {
			item.MarkRead()
			r.items[item.ID] = item
			changed++
		}
	}
	return changed, nil
}

func (r *memRepo) all() []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Notification, 0, len(r.items))
	for _, n := range r.items {
		out = append(out, n)
	}
	return out
}

func TestService_NotifyAndList(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo, zap.NewNop())
	tenantID, alice, bob := uuid.New(), uuid.New(), uuid.New()

	_, err := svc.Notify(ctx, tenantID, NotifyInput{Level: notification.LevelInfo, Category: notification.CategorySystem, Title: "Maintenance tonight"})
	require.NoError(t, err)
	_, err = svc.Notify(ctx, tenantID, NotifyInput{UserID: &alice, Level: notification.LevelWarning, Category: notification.CategoryOnboarding, Title: "Finish onboarding"})
	require.NoError(t, err)

	t.Run("validation", func(t *testing.T) {
		_, err := svc.Notify(ctx, tenantID, NotifyInput{Level: "LOUD", Category: notification.CategorySystem, Title: "x"})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_INPUT", domainErr.Code)

		_, _, err = svc.List(ctx, tenantID, alice, ListFilter{Filter: shared.DefaultFilter(), Category: "BILLING"})
		assert.Error(t, err)
	})

	t.Run("visibility", func(t *testing.T) {
		items, total, err := svc.List(ctx, tenantID, alice, ListFilter{Filter: shared.DefaultFilter()})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, items, 2)

		_, total, err = svc.List(ctx, tenantID, bob, ListFilter{Filter: shared.DefaultFilter()})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)

		items, _, err = svc.List(ctx, tenantID, alice, ListFilter{Filter: shared.DefaultFilter(), Category: notification.CategoryOnboarding})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Finish onboarding", items[0].Title)
	})
}

func TestService_MarkRead(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo, nil)
	tenantID, alice, bob := uuid.New(), uuid.New(), uuid.New()

	created, err := svc.Notify(ctx, tenantID, NotifyInput{UserID: &alice, Level: notification.LevelInfo, Category: notification.CategoryKYC, Title: "Upload documents"})
	require.NoError(t, err)
	_, err = svc.Notify(ctx, tenantID, NotifyInput{Level: notification.LevelInfo, Category: notification.CategorySystem, Title: "Welcome"})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, tenantID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	first, err := svc.MarkRead(ctx, tenantID, alice, created.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	saves := repo.saves

	again, err := svc.MarkRead(ctx, tenantID, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ReadAt, again.ReadAt)
	assert.Equal(t, saves, repo.saves)

	_, err = svc.MarkRead(ctx, tenantID, bob, created.ID)
	assert.ErrorContains(t, err, "not found")
	_, err = svc.MarkRead(ctx, uuid.New(), alice, created.ID)
	assert.ErrorContains(t, err, "not found")

	unread, _, err := svc.List(ctx, tenantID, alice, ListFilter{Filter: shared.DefaultFilter(), UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	changed, err := svc.MarkAllRead(ctx, tenantID, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	count, err = svc.UnreadCount(ctx, tenantID, alice)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func newIntegrationFixture(t *testing.T) *integration.Integration {
	t.Helper()
	i, err := integration.NewIntegration(uuid.New(), "ERP Production", integration.IntegrationTypeSAP, "https://sap.example.com")
	require.NoError(t, err)
	return i
}

func TestEventNotifier_Render(t *testing.T) {
	integ := newIntegrationFixture(t)
	run := integration.NewSyncRun(integ, integration.SyncTriggerManual, integration.SyncDirectionInbound, nil)

	app, err := kyc.NewApplication(integ.TenantID)
	require.NoError(t, err)
	app.Details.BusinessName = "Acme Trading"
	reviewer := uuid.New()
	app.ReviewerID = &reviewer
	app.RejectionReason = "license expired"

	tests := []struct {
		name     string
		event    shared.DomainEvent
		level    notification.Level
		category notification.Category
		message  string
	}{
		{
			name: "sync success",
			event: func() shared.DomainEvent {
				r := *run
				r.Status, r.Created, r.Updated = integration.SyncStatusSuccess, 1200, 3
				return integration.NewIntegrationSyncCompletedEvent(integ, &r)
			}(),
			level:    notification.LevelSuccess,
			category: notification.CategoryIntegration,
			message:  "SAP sync completed: 1,200 created, 3 updated",
		},
		{
			name: "outbound success",
			event: func() shared.DomainEvent {
				r := *run
				r.Direction, r.Status, r.Pushed = integration.SyncDirectionOutbound, integration.SyncStatusSuccess, 40
				return integration.NewIntegrationSyncCompletedEvent(integ, &r)
			}(),
			level:    notification.LevelSuccess,
			category: notification.CategoryIntegration,
			message:  "SAP sync completed: 40 pushed",
		},
		{
			name: "partial",
			event: func() shared.DomainEvent {
				r := *run
				r.Status, r.Total, r.Failed = integration.SyncStatusPartial, 10, 2
				return integration.NewIntegrationSyncCompletedEvent(integ, &r)
			}(),
			level:    notification.LevelWarning,
			category: notification.CategoryIntegration,
			message:  "SAP sync completed with errors: 2 of 10 records failed",
		},
		{
			name: "failed",
			event: func() shared.DomainEvent {
				r := *run
				r.Status, r.Error = integration.SyncStatusFailed, "ORDER: vendor timeout"
				return integration.NewIntegrationSyncFailedEvent(integ, &r)
			}(),
			level:    notification.LevelError,
			category: notification.CategoryIntegration,
			message:  "SAP sync failed: ORDER: vendor timeout",
		},
		{
			name: "connection failed",
			event: func() shared.DomainEvent {
				c := *integ
				c.LastError = "401 unauthorized"
				return integration.NewIntegrationConnectionFailedEvent(&c)
			}(),
			level:    notification.LevelError,
			category: notification.CategoryIntegration,
			message:  "SAP rejected the connection: 401 unauthorized",
		},
		{
			name:     "kyc approved",
			event:    kyc.NewKYCApprovedEvent(app),
			level:    notification.LevelSuccess,
			category: notification.CategoryKYC,
			message:  "Acme Trading has been verified",
		},
		{
			name:     "kyc rejected",
			event:    kyc.NewKYCRejectedEvent(app),
			level:    notification.LevelError,
			category: notification.CategoryKYC,
			message:  "Acme Trading was rejected: license expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			h := NewEventNotifier(NewService(repo, nil), nil)

			require.NoError(t, h.Handle(context.Background(), tt.event))

			items := repo.all()
			require.Len(t, items, 1)
			assert.Equal(t, tt.level, items[0].Level)
			assert.Equal(t, tt.category, items[0].Category)
			assert.Equal(t, tt.message, items[0].Message)
			assert.Equal(t, tt.event.TenantID(), items[0].TenantID)
			require.NotNil(t, items[0].SourceID)
		})
	}
}

func TestEventNotifier_IgnoresOtherEvents(t *testing.T) {
	repo := newMemRepo()
	h := NewEventNotifier(NewService(repo, nil), nil)

	require.NoError(t, h.Handle(context.Background(), integration.NewIntegrationConnectedEvent(newIntegrationFixture(t))))
	assert.Empty(t, repo.all())
	assert.NotContains(t, h.EventTypes(), integration.EventTypeIntegrationConnected)
}

func TestEventNotifier_RedeliveryIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	store := cache.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	handler := event.NewIdempotentHandler("notifier", NewEventNotifier(NewService(repo, nil), nil), store, zap.NewNop())

	integ := newIntegrationFixture(t)
	run := integration.NewSyncRun(integ, integration.SyncTriggerScheduled, integration.SyncDirectionInbound, nil)
	run.Status = integration.SyncStatusSuccess
	ev := integration.NewIntegrationSyncCompletedEvent(integ, run)

	ctx := context.Background()
	require.NoError(t, handler.Handle(ctx, ev))
	require.NoError(t, handler.Handle(ctx, ev))

	assert.Len(t, repo.all(), 1)
	assert.Equal(t, int64(1), handler.Stats().Duplicate)
}
