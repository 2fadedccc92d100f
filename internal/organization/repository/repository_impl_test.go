package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/organization/domain"
	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Organization{}))
	return db
}

func seedOrg(t *testing.T, db *gorm.DB) *domain.Organization {
	t.Helper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	org := &domain.Organization{
		ID:            1001,
		Name:          "Acme",
		Slug:          "acme",
		BillingEmail:  "billing@acme.test",
		InvoicePrefix: "ACME",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, Provide().Create(context.Background(), db, org))
	return org
}

func TestUpdateIfVersion(t *testing.T) {
	db := setupTestDB(t)
	repo := Provide()
	ctx := context.Background()
	org := seedOrg(t, db)
	assert.Equal(t, int64(1), org.Version)

	org.Subscription.ExternalSubscriptionID = "sub_1"
	org.Subscription.Features = []string{"website"}
	org.Subscription.SetStatus(subscriptiondomain.StatusActive)
	require.NoError(t, repo.UpdateIfVersion(ctx, db, org))
	assert.Equal(t, int64(2), org.Version)

	stale, err := repo.FindByID(ctx, db, org.ID)
	require.NoError(t, err)
	stale.Version = 1
	stale.Subscription.Status = subscriptiondomain.StatusPastDue
	err = repo.UpdateIfVersion(ctx, db, stale)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, int64(1), stale.Version)

	stored, err := repo.FindByExternalSubscriptionID(ctx, db, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, subscriptiondomain.StatusActive, stored.Subscription.Status)
	assert.True(t, stored.Subscription.Active)
	assert.Equal(t, []string{"website"}, []string(stored.Subscription.Features))
}

func TestFindByExternalIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := Provide()
	ctx := context.Background()
	org := seedOrg(t, db)

	org.Subscription.ExternalCustomerID = "cus_1"
	require.NoError(t, repo.UpdateIfVersion(ctx, db, org))

	found, err := repo.FindByExternalCustomerID(ctx, db, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, org.ID, found.ID)

	missing, err := repo.FindByExternalCustomerID(ctx, db, "cus_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	blank, err := repo.FindByExternalSubscriptionID(ctx, db, "  ")
	require.NoError(t, err)
	assert.Nil(t, blank)
}

func TestNextInvoiceSequence(t *testing.T) {
	db := setupTestDB(t)
	repo := Provide()
	ctx := context.Background()
	org := seedOrg(t, db)

	first, err := repo.NextInvoiceSequence(ctx, db, org.ID)
	require.NoError(t, err)
	second, err := repo.NextInvoiceSequence(ctx, db, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	// a versioned write must not reset the counter
	require.NoError(t, repo.UpdateIfVersion(ctx, db, org))
	third, err := repo.NextInvoiceSequence(ctx, db, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), third)

	_, err = repo.NextInvoiceSequence(ctx, db, 999)
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}
