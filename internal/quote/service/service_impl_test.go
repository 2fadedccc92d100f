package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/clock"
	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
	pricingservice "github.com/smallbiznis/atelier/internal/pricing/service"
	"github.com/smallbiznis/atelier/internal/quote/domain"
	"github.com/smallbiznis/atelier/internal/quote/repository"
)

func newTestService(t *testing.T) (domain.Service, domain.Repository, *clock.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Record{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	repo := repository.Provide(db)

	svc := NewService(Params{
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Engine: pricingservice.NewEngine(pricingdomain.DefaultCatalog()),
		Repo:   repo,
	})
	return svc, repo, clk
}

func TestQuote_WithoutSubjectIsNotStored(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.Quote(context.Background(), domain.QuoteRequest{Features: []string{"website", "email"}})
	require.NoError(t, err)
	assert.Empty(t, resp.ID)
	assert.Equal(t, int64(200_000), resp.SetupTotal)
	assert.Equal(t, int64(7_000), resp.MonthlyTotal)
	require.Len(t, resp.Lines, 2)
	assert.Equal(t, "website", resp.Lines[0].Capability)
}

func TestQuote_StoresLatestForSubject(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()

	first, err := svc.Quote(ctx, domain.QuoteRequest{Features: []string{"website"}, SubjectType: domain.SubjectOrganization, SubjectID: 7})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	clk.Advance(time.Minute)
	second, err := svc.Quote(ctx, domain.QuoteRequest{Features: []string{"web-app", "ai"}, SubjectType: domain.SubjectOrganization, SubjectID: 7})
	require.NoError(t, err)

	latest, err := svc.Latest(ctx, domain.SubjectOrganization, 7)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID.String())
	assert.Equal(t, int64(880_000), latest.SetupTotal)
	assert.Equal(t, domain.StatusDraft, latest.Status)

	var lines []map[string]any
	require.NoError(t, json.Unmarshal(latest.Breakdown, &lines))
	assert.Len(t, lines, 2)

	require.NoError(t, repo.Approve(ctx, latest.ID, clk.Now()))
	approved, err := repo.Latest(ctx, domain.SubjectOrganization, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	assert.ErrorIs(t, repo.Approve(ctx, 42, clk.Now()), domain.ErrQuoteNotFound)
}

func TestQuote_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Quote(ctx, domain.QuoteRequest{Features: []string{"blockchain"}})
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidFeature)

	_, err = svc.Quote(ctx, domain.QuoteRequest{Features: []string{"website"}, SubjectType: domain.SubjectProject})
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)

	_, err = svc.Quote(ctx, domain.QuoteRequest{Features: []string{"website"}, SubjectType: "team", SubjectID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)

	_, err = svc.Latest(ctx, domain.SubjectOrganization, 99)
	assert.ErrorIs(t, err, domain.ErrQuoteNotFound)
}
