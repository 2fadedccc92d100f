package service

import (
	"context"
	"errors"
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
	"github.com/smallbiznis/atelier/internal/config"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/atelier/internal/organization/repository"
	"github.com/smallbiznis/atelier/internal/payment/paymenttest"
	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
	pricingservice "github.com/smallbiznis/atelier/internal/pricing/service"
	quotedomain "github.com/smallbiznis/atelier/internal/quote/domain"
	quoterepo "github.com/smallbiznis/atelier/internal/quote/repository"
	"github.com/smallbiznis/atelier/internal/subscription/domain"
)

const testOrgID = snowflake.ID(1001)

type harness struct {
	svc       domain.Service
	db        *gorm.DB
	orgs      organizationdomain.Repository
	quotes    quotedomain.Repository
	processor *paymenttest.Processor
	clock     *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&organizationdomain.Organization{}, &quotedomain.Record{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	processor := paymenttest.NewProcessor(clk.Now)
	orgs := organizationrepo.Provide()
	quotes := quoterepo.Provide(db)

	require.NoError(t, orgs.Create(context.Background(), db, &organizationdomain.Organization{
		ID:            testOrgID,
		Name:          "Acme",
		Slug:          "acme",
		BillingEmail:  "billing@acme.test",
		InvoicePrefix: "ACME",
		CreatedAt:     clk.Now(),
		UpdatedAt:     clk.Now(),
	}))

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Config:    config.Config{},
		Engine:    pricingservice.NewEngine(pricingdomain.DefaultCatalog()),
		Processor: processor,
		Orgs:      orgs,
		Quotes:    quotes,
	})

	return &harness{svc: svc, db: db, orgs: orgs, quotes: quotes, processor: processor, clock: clk}
}

func (h *harness) org(t *testing.T) *organizationdomain.Organization {
	t.Helper()
	org, err := h.orgs.FindByID(context.Background(), h.db, testOrgID)
	require.NoError(t, err)
	require.NotNil(t, org)
	return org
}

func TestCreate_StoresProcessorIdentifiers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"ai", "web-app"}})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusIncomplete, state.Status)
	assert.False(t, state.Active)
	assert.Equal(t, "cus_1001", state.ExternalCustomerID)
	assert.NotEmpty(t, state.ExternalSubscriptionID)
	assert.Equal(t, int64(880_000), state.SetupTotal)
	assert.Equal(t, int64(35_000), state.MonthlyTotal)
	assert.Equal(t, "web-app+ai", state.Plan)
	assert.False(t, state.SetupPaid)
	require.NotNil(t, state.CurrentPeriodEnd)

	require.Len(t, h.processor.Created, 1)
	req := h.processor.Created[0]
	assert.Len(t, req.RecurringLines, 2)
	assert.Len(t, req.SetupLines, 2)
	assert.Equal(t, int64(550_000), req.SetupLines[0].AmountCents)
	assert.NotEmpty(t, req.IdempotencyKey)

	stored := h.org(t)
	assert.Equal(t, state.ExternalSubscriptionID, stored.Subscription.ExternalSubscriptionID)
	assert.Equal(t, int64(2), stored.Version)

	quote, err := h.quotes.Latest(ctx, quotedomain.SubjectOrganization, testOrgID)
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, quotedomain.StatusApproved, quote.Status)
	assert.Equal(t, int64(880_000), quote.SetupTotal)
}

func TestCreate_WithTrial(t *testing.T) {
	h := newHarness(t)
	days := 14

	state, err := h.svc.Create(context.Background(), domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}, TrialDays: &days})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTrialing, state.Status)
	assert.True(t, state.Active)
	require.NotNil(t, state.TrialEnd)
	assert.Equal(t, 14, h.processor.Created[0].TrialDays)
}

func TestCreate_ValidationHappensBeforeProcessorCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website", "crypto"}})
	assert.ErrorIs(t, err, domain.ErrInvalidFeature)

	_, err = h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID})
	assert.ErrorIs(t, err, domain.ErrNoBillableFeatures)

	negative := -1
	_, err = h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}, TrialDays: &negative})
	assert.ErrorIs(t, err, domain.ErrInvalidTrialDays)

	_, err = h.svc.Create(ctx, domain.CreateRequest{OrgID: 42, Features: []string{"website"}})
	assert.ErrorIs(t, err, organizationdomain.ErrOrganizationNotFound)

	assert.Empty(t, h.processor.Calls)
}

func TestCreate_ProcessorFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	cause := errors.New("card_declined")
	h.processor.Fail["create_subscription"] = cause

	_, err := h.svc.Create(context.Background(), domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	assert.ErrorIs(t, err, domain.ErrPaymentSetup)
	assert.ErrorIs(t, err, cause)

	stored := h.org(t)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, stored.Subscription.ExternalCustomerID)
	assert.Empty(t, stored.Subscription.ExternalSubscriptionID)
	assert.Empty(t, stored.Subscription.Status)
}

func TestCreate_RejectsSecondLiveSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	assert.ErrorIs(t, err, domain.ErrSubscriptionExists)
	assert.Equal(t, 1, h.processor.CallCount("create_subscription"))
}

func TestCreate_KeepsStatusAppliedByEarlierWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// the processor assigns sub_1 on the first call; pretend its webhook landed first
	org := h.org(t)
	eventAt := h.clock.Now()
	org.Subscription.ExternalSubscriptionID = "sub_1"
	org.Subscription.Status = domain.StatusCanceled
	org.Subscription.LastEventAt = &eventAt
	require.NoError(t, h.orgs.UpdateIfVersion(ctx, h.db, org))

	state, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", state.ExternalSubscriptionID)
	assert.Equal(t, domain.StatusCanceled, state.Status)
	assert.Equal(t, int64(150_000), state.SetupTotal)
}

func TestChangeFeatures_UpdatesInPlace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)

	changed, err := h.svc.ChangeFeatures(ctx, testOrgID, []string{"website", "email"})
	require.NoError(t, err)

	assert.Equal(t, created.ExternalSubscriptionID, changed.ExternalSubscriptionID)
	assert.Equal(t, 1, h.processor.CallCount("create_subscription"))
	assert.Equal(t, int64(200_000), changed.SetupTotal)
	assert.Equal(t, int64(7_000), changed.MonthlyTotal)
	assert.Equal(t, []string{"website", "email"}, []string(changed.Features))
	assert.Equal(t, created.Status, changed.Status)

	require.Len(t, h.processor.Updated, 1)
	update := h.processor.Updated[0]
	assert.True(t, update.Prorate)
	assert.Equal(t, created.ExternalSubscriptionID, update.ExternalSubscriptionID)
	require.Len(t, update.SetupLines, 1)
	assert.Equal(t, "email", update.SetupLines[0].Key)
	assert.Len(t, update.RecurringLines, 2)
}

func TestChangeFeatures_ProcessorFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)
	before := h.org(t)

	h.processor.Fail["update_subscription"] = errors.New("timeout")
	_, err = h.svc.ChangeFeatures(ctx, testOrgID, []string{"website", "ai"})
	assert.ErrorIs(t, err, domain.ErrPaymentSetup)

	after := h.org(t)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, []string{"website"}, []string(after.Subscription.Features))
}

func TestChangeFeatures_WithoutSubscriptionCreatesOne(t *testing.T) {
	h := newHarness(t)

	state, err := h.svc.ChangeFeatures(context.Background(), testOrgID, []string{"payments"})
	require.NoError(t, err)
	assert.NotEmpty(t, state.ExternalSubscriptionID)
	assert.Equal(t, 1, h.processor.CallCount("create_subscription"))
	assert.Equal(t, 0, h.processor.CallCount("update_subscription"))
}

func TestCancelAtPeriodEndThenReactivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)

	canceled, err := h.svc.Cancel(ctx, testOrgID, false)
	require.NoError(t, err)
	assert.True(t, canceled.CancelAtPeriodEnd)
	assert.Equal(t, created.Status, canceled.Status)

	reactivated, err := h.svc.Reactivate(ctx, testOrgID)
	require.NoError(t, err)
	assert.False(t, reactivated.CancelAtPeriodEnd)
	assert.Equal(t, created.Status, reactivated.Status)
}

func TestReactivate_AfterPeriodEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, testOrgID, false)
	require.NoError(t, err)

	h.clock.Advance(45 * 24 * time.Hour)
	_, err = h.svc.Reactivate(ctx, testOrgID)
	assert.ErrorIs(t, err, domain.ErrNotReactivatable)
	assert.Equal(t, 0, h.processor.CallCount("reactivate_subscription"))
}

func TestReactivate_WithoutScheduledCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Reactivate(ctx, testOrgID)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	_, err = h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)
	_, err = h.svc.Reactivate(ctx, testOrgID)
	assert.ErrorIs(t, err, domain.ErrNotReactivatable)
}

func TestCancelImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)

	state, err := h.svc.Cancel(ctx, testOrgID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, state.Status)
	assert.False(t, state.Active)
	require.NotNil(t, state.CanceledAt)

	_, err = h.svc.Cancel(ctx, testOrgID, true)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestCancel_ProcessorFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)

	h.processor.Fail["cancel_subscription"] = errors.New("unavailable")
	_, err = h.svc.Cancel(ctx, testOrgID, true)
	assert.ErrorIs(t, err, domain.ErrProcessorCall)
	assert.Equal(t, domain.StatusIncomplete, h.org(t).Subscription.Status)
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Pause(ctx, testOrgID)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

	_, err = h.svc.Create(ctx, domain.CreateRequest{OrgID: testOrgID, Features: []string{"website"}})
	require.NoError(t, err)

	_, err = h.svc.Resume(ctx, testOrgID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	paused, err := h.svc.Pause(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.False(t, paused.Active)

	_, err = h.svc.Pause(ctx, testOrgID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	resumed, err := h.svc.Resume(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, resumed.Status)
	assert.True(t, resumed.Active)
}

func TestGet(t *testing.T) {
	h := newHarness(t)

	state, err := h.svc.Get(context.Background(), testOrgID)
	require.NoError(t, err)
	assert.Empty(t, state.ExternalSubscriptionID)

	_, err = h.svc.Get(context.Background(), 5)
	assert.ErrorIs(t, err, organizationdomain.ErrOrganizationNotFound)
}
