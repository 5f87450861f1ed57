package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supplychain/backend/internal/domain/identity"
	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/kyc"
	"github.com/supplychain/backend/internal/domain/notification"
	"github.com/supplychain/backend/internal/domain/onboarding"
	"github.com/supplychain/backend/internal/domain/shared"
)

func TestGormNotificationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormNotificationRepository(newTestDB(t))
	tenantID, alice, bob := uuid.New(), uuid.New(), uuid.New()

	mk := func(title string, category notification.Category, user *uuid.UUID) *notification.Notification {
		n, err := notification.NewNotification(tenantID, notification.LevelInfo, category, title, "")
		require.NoError(t, err)
		if user != nil {
			n.ForUser(*user)
		}
		require.NoError(t, repo.Save(ctx, n))
		return n
	}
	broadcast := mk("tenant wide", notification.CategoryIntegration, nil)
	mk("for alice", notification.CategoryKYC, &alice)
	mk("for bob", notification.CategoryKYC, &bob)

	t.Run("users see broadcasts and their own", func(t *testing.T) {
		items, total, err := repo.FindVisible(ctx, tenantID, notification.ListFilter{Filter: shared.DefaultFilter(), UserID: alice})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		titles := []string{items[0].Title, items[1].Title}
		assert.ElementsMatch(t, []string{"tenant wide", "for alice"}, titles)
	})

	t.Run("category filter", func(t *testing.T) {
		_, total, err := repo.FindVisible(ctx, tenantID, notification.ListFilter{
			Filter: shared.DefaultFilter(), UserID: alice, Category: notification.CategoryKYC,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("mark read and unread counts", func(t *testing.T) {
		count, err := repo.CountUnread(ctx, tenantID, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		got, err := repo.FindByID(ctx, tenantID, broadcast.ID)
		require.NoError(t, err)
		got.MarkRead()
		require.NoError(t, repo.Save(ctx, got))

		count, err = repo.CountUnread(ctx, tenantID, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		n, err := repo.MarkAllRead(ctx, tenantID, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err = repo.CountUnread(ctx, tenantID, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "bob's own notification stays unread")

		_, total, err := repo.FindVisible(ctx, tenantID, notification.ListFilter{Filter: shared.DefaultFilter(), UserID: alice, UnreadOnly: true})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("not found in another tenant", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New(), broadcast.ID)
		assert.ErrorIs(t, err, notification.ErrNotificationNotFound)
	})
}

func TestGormKYCRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormKYCRepository(newTestDB(t))
	tenantID := uuid.New()

	_, err := repo.FindByTenant(ctx, tenantID)
	assert.ErrorIs(t, err, kyc.ErrApplicationNotFound)

	app, err := kyc.NewApplication(tenantID)
	require.NoError(t, err)
	require.NoError(t, app.Start())
	require.NoError(t, app.UpdateDetails(kyc.Details{BusinessName: "Acme", RegistrationNumber: "R-1", Country: "de"}))
	require.NoError(t, app.AddDocument(kyc.DocumentBusinessLicense, "license.pdf", "kyc/a/license.pdf"))
	require.NoError(t, app.AddDocument(kyc.DocumentIDProof, "id.png", "kyc/a/id.png"))
	require.NoError(t, app.Submit())
	require.NoError(t, repo.Save(ctx, app))

	got, err := repo.FindByTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, kyc.StatusPendingReview, got.Status)
	assert.Equal(t, "DE", got.Details.Country)
	require.Len(t, got.Documents, 2)
	assert.NotNil(t, got.SubmittedAt)

	pending, total, err := repo.FindByStatus(ctx, kyc.StatusPendingReview, shared.DefaultFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, app.ID, pending[0].ID)

	reviewer := uuid.New()
	require.NoError(t, got.Approve(reviewer))
	require.NoError(t, repo.Save(ctx, got))

	again, err := repo.FindByTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, kyc.StatusApproved, again.Status)
	require.NotNil(t, again.ReviewerID)
	assert.Equal(t, reviewer, *again.ReviewerID)
}

func TestGormOnboardingRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormOnboardingRepository(newTestDB(t))
	tenantID, userID := uuid.New(), uuid.New()

	_, err := repo.FindByUser(ctx, tenantID, userID)
	assert.ErrorIs(t, err, onboarding.ErrProgressNotFound)

	p, err := onboarding.NewProgress(tenantID, userID)
	require.NoError(t, err)
	require.NoError(t, p.Start(onboarding.RoleSupplier))
	require.NoError(t, p.CompleteStep("company_profile"))
	require.NoError(t, p.Skip("connect_integrations"))
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.FindByUser(ctx, tenantID, userID)
	require.NoError(t, err)
	assert.Equal(t, onboarding.RoleSupplier, got.Role)
	assert.True(t, got.CompletedSteps["company_profile"])
	assert.True(t, got.SkippedSteps["connect_integrations"])
	assert.Equal(t, p.CurrentStep, got.CurrentStep)
	assert.Equal(t, p.Percent(), got.Percent())
}

func TestGormUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormUserRepository(newTestDB(t))

	u, err := identity.NewUser(uuid.New(), "Admin", "s3cret-pass!", identity.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, u))

	dup, err := identity.NewUser(uuid.New(), "Admin", "s3cret-pass!", identity.RoleBuyer)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, dup), identity.ErrUsernameTaken)

	exists, err := repo.ExistsByUsername(ctx, "ADMIN")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := repo.FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, got.VerifyPassword("s3cret-pass!"))

	got.RecordLoginSuccess()
	require.NoError(t, repo.Update(ctx, got))
	reloaded, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastLoginAt)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	ghost, err := identity.NewUser(uuid.New(), "ghost", "s3cret-pass!", identity.RoleBuyer)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Update(ctx, ghost), identity.ErrUserNotFound)
}

func TestGormSyncedRecordRepository_UpsertPropagatesDriverErrors(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	repo := NewGormSyncedRecordRepository(db.DB)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "synced_records" WHERE`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	rec := integration.NewSyncedRecord(uuid.New(), uuid.New(), integration.Record{
		Kind: integration.RecordKindOrder, ExternalID: "X", Data: map[string]any{}, Checksum: "c",
		SourceUpdatedAt: time.Now(),
	})
	_, err := repo.Upsert(context.Background(), rec)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
