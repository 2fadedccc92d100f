package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/config"
	invoicedomain "github.com/smallbiznis/atelier/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/atelier/internal/invoice/repository"
	"github.com/smallbiznis/atelier/internal/lock"
	"github.com/smallbiznis/atelier/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/atelier/internal/organization/repository"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/atelier/internal/payment/repository"
	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
)

const (
	testOrgID     = snowflake.ID(1001)
	testInvoiceID = snowflake.ID(5001)
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	rec      *Reconciler
	db       *gorm.DB
	orgs     organizationdomain.Repository
	invoices invoicedomain.Repository
	events   paymentdomain.Repository
	registry *prometheus.Registry
}

type option func(p *Params)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&organizationdomain.Organization{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&paymentdomain.EventRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ctx := context.Background()
	orgs := organizationrepo.Provide()
	invoices := invoicerepo.Provide()
	events := paymentrepo.Provide()

	require.NoError(t, orgs.Create(ctx, db, &organizationdomain.Organization{
		ID:            testOrgID,
		Name:          "Acme",
		Slug:          "acme",
		BillingEmail:  "billing@acme.test",
		InvoicePrefix: "ACME",
		Subscription: subscriptiondomain.BillingState{
			Plan:                   "website",
			Active:                 true,
			Features:               datatypes.JSONSlice[string]{"website"},
			ExternalCustomerID:     "cus_1",
			ExternalSubscriptionID: "sub_1",
			SetupTotal:             150000,
			MonthlyTotal:           5000,
			Status:                 subscriptiondomain.StatusActive,
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}))

	external := "in_local"
	require.NoError(t, invoices.Create(ctx, db, &invoicedomain.Invoice{
		ID:                testInvoiceID,
		OrgID:             testOrgID,
		Sequence:          1,
		InvoiceNumber:     "ACME-00001",
		Kind:              invoicedomain.KindOneOff,
		Currency:          "usd",
		Subtotal:          100000,
		Total:             100000,
		Status:            invoicedomain.InvoiceStatusSent,
		IssueDate:         t0,
		ExternalInvoiceID: &external,
		Items: []invoicedomain.InvoiceItem{
			{ID: 1, Description: "Design", Quantity: 2, UnitPriceCents: 50000, TotalCents: 100000},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}))

	registry := prometheus.NewRegistry()
	p := Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(t0.Add(time.Hour)),
		Config:   config.Config{},
		Events:   events,
		Orgs:     orgs,
		Invoices: invoices,
		Billing:  metrics.NewBillingMetrics(registry, metrics.Config{ServiceName: "atelier"}),
	}
	for _, opt := range opts {
		opt(&p)
	}

	return &harness{
		rec:      NewReconciler(p),
		db:       db,
		orgs:     p.Orgs,
		invoices: invoices,
		events:   events,
		registry: registry,
	}
}

func (h *harness) org(t *testing.T) *organizationdomain.Organization {
	t.Helper()
	org, err := h.orgs.FindByID(context.Background(), h.db, testOrgID)
	require.NoError(t, err)
	require.NotNil(t, org)
	return org
}

func (h *harness) invoice(t *testing.T) *invoicedomain.Invoice {
	t.Helper()
	inv, err := h.invoices.FindByID(context.Background(), h.db, testInvoiceID)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

func (h *harness) record(t *testing.T, eventID string) *paymentdomain.EventRecord {
	t.Helper()
	rec, err := h.events.FindEvent(context.Background(), h.db, "stripe", eventID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func invoiceEvent(id string, typ paymentdomain.EventType, at time.Time, p paymentdomain.InvoicePayload) *paymentdomain.Event {
	return &paymentdomain.Event{
		ExternalEventID: id,
		Provider:        "stripe",
		Type:            typ,
		OccurredAt:      at,
		Payload:         &p,
	}
}

func subscriptionEvent(id string, typ paymentdomain.EventType, at time.Time, p paymentdomain.SubscriptionPayload) *paymentdomain.Event {
	return &paymentdomain.Event{
		ExternalEventID: id,
		Provider:        "stripe",
		Type:            typ,
		OccurredAt:      at,
		Payload:         &p,
	}
}

func TestApply_InvoicePaidIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := invoiceEvent("evt_1", paymentdomain.EventInvoicePaid, t0.Add(time.Minute), paymentdomain.InvoicePayload{
		InvoiceID:  "in_local",
		CustomerID: "cus_1",
		Kind:       paymentdomain.InvoiceKindOneOff,
	})

	require.NoError(t, h.rec.Apply(ctx, event))
	first := h.invoice(t)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, first.Status)
	require.NotNil(t, first.PaidAt)
	assert.True(t, first.PaidAt.Equal(t0.Add(time.Minute)))

	require.NoError(t, h.rec.Apply(ctx, event))
	second := h.invoice(t)
	assert.Equal(t, first.Version, second.Version)

	var count int64
	require.NoError(t, h.db.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	rec := h.record(t, "evt_1")
	assert.Equal(t, paymentdomain.OutcomeApplied, rec.Outcome)
	assert.NotNil(t, rec.ProcessedAt)
}

func TestApply_DelayedFailureDoesNotRevertPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := paymentdomain.InvoicePayload{InvoiceID: "in_local", CustomerID: "cus_1", Kind: paymentdomain.InvoiceKindOneOff}

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_paid", paymentdomain.EventInvoicePaid, t0.Add(2*time.Minute), payload)))
	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_failed", paymentdomain.EventInvoicePaymentFailed, t0.Add(time.Minute), payload)))

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, h.invoice(t).Status)
	assert.Equal(t, paymentdomain.OutcomeStale, h.record(t, "evt_failed").Outcome)
}

func TestApply_FailureThenPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := paymentdomain.InvoicePayload{InvoiceID: "in_local", CustomerID: "cus_1", Kind: paymentdomain.InvoiceKindOneOff}

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_failed", paymentdomain.EventInvoicePaymentFailed, t0.Add(time.Minute), payload)))
	assert.Equal(t, invoicedomain.InvoiceStatusPaymentFailed, h.invoice(t).Status)

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_paid", paymentdomain.EventInvoicePaid, t0.Add(2*time.Minute), payload)))
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, h.invoice(t).Status)
	// one-off invoices never touch the subscription
	assert.Equal(t, subscriptiondomain.StatusActive, h.org(t).Subscription.Status)
}

func TestApply_UnknownTypeIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.rec.Apply(ctx, &paymentdomain.Event{
		ExternalEventID: "evt_unknown",
		Provider:        "stripe",
		Type:            "charge.refunded",
		OccurredAt:      t0,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, h.record(t, "evt_unknown").Outcome)

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_next", paymentdomain.EventInvoicePaid, t0.Add(time.Minute), paymentdomain.InvoicePayload{
		InvoiceID: "in_local",
	})))
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, h.invoice(t).Status)
}

func TestApply_RejectsMalformedEvent(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.rec.Apply(context.Background(), nil), paymentdomain.ErrInvalidEvent)
	assert.ErrorIs(t, h.rec.Apply(context.Background(), &paymentdomain.Event{
		ExternalEventID: "evt_x",
		Provider:        "stripe",
		Type:            paymentdomain.EventInvoicePaid,
		OccurredAt:      t0,
	}), paymentdomain.ErrInvalidEvent)
}

func TestApply_SetupFailureKeepsSubscriptionActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_setup_failed", paymentdomain.EventInvoicePaymentFailed, t0.Add(time.Minute), paymentdomain.InvoicePayload{
		InvoiceID:      "in_sub_first",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Kind:           paymentdomain.InvoiceKindSetup,
	})))
	assert.Equal(t, subscriptiondomain.StatusActive, h.org(t).Subscription.Status)
	assert.Equal(t, paymentdomain.OutcomeIgnored, h.record(t, "evt_setup_failed").Outcome)

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_cycle_failed", paymentdomain.EventInvoicePaymentFailed, t0.Add(2*time.Minute), paymentdomain.InvoicePayload{
		InvoiceID:      "in_sub_cycle",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Kind:           paymentdomain.InvoiceKindRecurring,
	})))
	sub := h.org(t).Subscription
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)
	assert.True(t, sub.Active)
}

func TestApply_SetupPaidActivatesIncomplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	org := h.org(t)
	org.Subscription.SetStatus(subscriptiondomain.StatusIncomplete)
	require.NoError(t, h.orgs.UpdateIfVersion(ctx, h.db, org))

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_setup_paid", paymentdomain.EventInvoicePaid, t0.Add(time.Minute), paymentdomain.InvoicePayload{
		InvoiceID:      "in_sub_first",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Kind:           paymentdomain.InvoiceKindSetup,
	})))

	sub := h.org(t).Subscription
	assert.True(t, sub.SetupPaid)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.True(t, sub.Active)
}

func TestApply_TrialFirstChargePaidActivates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	org := h.org(t)
	org.Subscription.SetStatus(subscriptiondomain.StatusTrialing)
	require.NoError(t, h.orgs.UpdateIfVersion(ctx, h.db, org))

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_trial_paid", paymentdomain.EventInvoicePaid, t0.Add(time.Minute), paymentdomain.InvoicePayload{
		InvoiceID:      "in_after_trial",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Kind:           paymentdomain.InvoiceKindRecurring,
	})))

	assert.Equal(t, subscriptiondomain.StatusActive, h.org(t).Subscription.Status)
	assert.Equal(t, paymentdomain.OutcomeApplied, h.record(t, "evt_trial_paid").Outcome)
}

func TestApply_RecurringPaidRecoversPastDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := paymentdomain.InvoicePayload{
		InvoiceID:      "in_cycle",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Kind:           paymentdomain.InvoiceKindRecurring,
	}

	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_f", paymentdomain.EventInvoicePaymentFailed, t0.Add(time.Minute), payload)))
	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_p", paymentdomain.EventInvoicePaid, t0.Add(3*time.Minute), payload)))
	assert.Equal(t, subscriptiondomain.StatusActive, h.org(t).Subscription.Status)

	// the retry's earlier failure notice arrives late
	require.NoError(t, h.rec.Apply(ctx, invoiceEvent("evt_f2", paymentdomain.EventInvoicePaymentFailed, t0.Add(2*time.Minute), payload)))
	assert.Equal(t, subscriptiondomain.StatusActive, h.org(t).Subscription.Status)
	assert.Equal(t, paymentdomain.OutcomeStale, h.record(t, "evt_f2").Outcome)
}

func TestApply_SubscriptionUpdatesAreLastWriteWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	periodEnd := t0.AddDate(0, 1, 0)

	require.NoError(t, h.rec.Apply(ctx, subscriptionEvent("evt_new", paymentdomain.EventSubscriptionUpdated, t0.Add(2*time.Minute), paymentdomain.SubscriptionPayload{
		SubscriptionID:    "sub_1",
		CustomerID:        "cus_1",
		Status:            "active",
		CurrentPeriodEnd:  &periodEnd,
		CancelAtPeriodEnd: true,
	})))
	require.NoError(t, h.rec.Apply(ctx, subscriptionEvent("evt_old", paymentdomain.EventSubscriptionUpdated, t0.Add(time.Minute), paymentdomain.SubscriptionPayload{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         "past_due",
	})))

	sub := h.org(t).Subscription
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))
	assert.Equal(t, paymentdomain.OutcomeStale, h.record(t, "evt_old").Outcome)
	// billing totals belong to the lifecycle, not to events
	assert.Equal(t, int64(150000), sub.SetupTotal)
}

func TestApply_SubscriptionDeleted(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.rec.Apply(context.Background(), subscriptionEvent("evt_del", paymentdomain.EventSubscriptionDeleted, t0.Add(time.Minute), paymentdomain.SubscriptionPayload{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         "active",
	})))

	sub := h.org(t).Subscription
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	assert.False(t, sub.Active)
	require.NotNil(t, sub.CanceledAt)
	assert.True(t, sub.CanceledAt.Equal(t0.Add(time.Minute)))
}

func TestApply_EventsForReplacedSubscriptionAreStale(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.rec.Apply(context.Background(), subscriptionEvent("evt_other", paymentdomain.EventSubscriptionUpdated, t0.Add(time.Minute), paymentdomain.SubscriptionPayload{
		SubscriptionID: "sub_0",
		CustomerID:     "cus_1",
		Status:         "canceled",
	})))

	sub := h.org(t).Subscription
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionID)
	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
}

func TestApply_CustomerEventsSyncContactOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.rec.Apply(ctx, &paymentdomain.Event{
		ExternalEventID: "evt_cus_new",
		Provider:        "stripe",
		Type:            paymentdomain.EventCustomerUpdated,
		OccurredAt:      t0.Add(2 * time.Minute),
		Payload:         &paymentdomain.CustomerPayload{CustomerID: "cus_1", Email: "ap@acme.test"},
	}))
	require.NoError(t, h.rec.Apply(ctx, &paymentdomain.Event{
		ExternalEventID: "evt_cus_old",
		Provider:        "stripe",
		Type:            paymentdomain.EventCustomerUpdated,
		OccurredAt:      t0.Add(time.Minute),
		Payload:         &paymentdomain.CustomerPayload{CustomerID: "cus_1", Email: "old@acme.test"},
	}))

	org := h.org(t)
	assert.Equal(t, "ap@acme.test", org.BillingEmail)
	assert.Equal(t, int64(150000), org.Subscription.SetupTotal)
	assert.Equal(t, paymentdomain.OutcomeStale, h.record(t, "evt_cus_old").Outcome)
}

func TestApply_PaymentIntentForLocalInvoice(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.rec.Apply(context.Background(), &paymentdomain.Event{
		ExternalEventID: "evt_pi",
		Provider:        "stripe",
		Type:            paymentdomain.EventPaymentIntentSucceeded,
		OccurredAt:      t0.Add(time.Minute),
		Payload:         &paymentdomain.PaymentIntentPayload{PaymentIntentID: "pi_1", InvoiceID: "in_local"},
	}))
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, h.invoice(t).Status)

	require.NoError(t, h.rec.Apply(context.Background(), &paymentdomain.Event{
		ExternalEventID: "evt_pi_bare",
		Provider:        "stripe",
		Type:            paymentdomain.EventPaymentIntentFailed,
		OccurredAt:      t0.Add(time.Minute),
		Payload:         &paymentdomain.PaymentIntentPayload{PaymentIntentID: "pi_2"},
	}))
	assert.Equal(t, paymentdomain.OutcomeIgnored, h.record(t, "evt_pi_bare").Outcome)
}

// conflictingOrgs loses the first n optimistic writes to a concurrent writer.
type conflictingOrgs struct {
	organizationdomain.Repository
	conflicts int
	err       error
}

func (c *conflictingOrgs) UpdateIfVersion(ctx context.Context, db *gorm.DB, org *organizationdomain.Organization) error {
	if c.err != nil {
		return c.err
	}
	if c.conflicts > 0 {
		c.conflicts--
		return organizationdomain.ErrVersionConflict
	}
	return c.Repository.UpdateIfVersion(ctx, db, org)
}

func TestApply_RetriesOnVersionConflict(t *testing.T) {
	orgs := &conflictingOrgs{Repository: organizationrepo.Provide(), conflicts: 2}
	h := newHarness(t, func(p *Params) { p.Orgs = orgs })

	require.NoError(t, h.rec.Apply(context.Background(), subscriptionEvent("evt_retry", paymentdomain.EventSubscriptionUpdated, t0.Add(time.Minute), paymentdomain.SubscriptionPayload{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         "past_due",
	})))

	assert.Equal(t, subscriptiondomain.StatusPastDue, h.org(t).Subscription.Status)
	count, err := testutil.GatherAndCount(h.registry, "atelier_reconcile_version_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// concurrentDelivery lets another delivery of the same event commit its
// outcome right after this delivery has seen the record unprocessed.
type concurrentDelivery struct {
	paymentdomain.Repository
	done bool
}

func (c *concurrentDelivery) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*paymentdomain.EventRecord, error) {
	rec, err := c.Repository.FindEvent(ctx, db, provider, providerEventID)
	if err != nil || rec == nil || rec.ProcessedAt != nil || c.done {
		return rec, err
	}
	c.done = true
	if err := c.Repository.MarkProcessed(ctx, db, rec.ID, paymentdomain.OutcomeApplied, t0.Add(2*time.Minute)); err != nil {
		return nil, err
	}
	return rec, nil
}

func TestApply_InFlightRedeliveryKeepsFirstOutcome(t *testing.T) {
	events := &concurrentDelivery{Repository: paymentrepo.Provide()}
	h := newHarness(t, func(p *Params) { p.Events = events })
	ctx := context.Background()

	// the first delivery has recorded the event but not finished applying it
	_, err := h.events.InsertEvent(ctx, h.db, &paymentdomain.EventRecord{
		ID:              77,
		Provider:        "stripe",
		ProviderEventID: "evt_inflight",
		EventType:       string(paymentdomain.EventSubscriptionUpdated),
		OccurredAt:      t0.Add(time.Minute),
		ReceivedAt:      t0.Add(time.Minute),
		CreatedAt:       t0.Add(time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, h.rec.Apply(ctx, subscriptionEvent("evt_inflight", paymentdomain.EventSubscriptionUpdated, t0.Add(time.Minute), paymentdomain.SubscriptionPayload{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         "past_due",
	})))

	// this delivery's writes were rolled back and the first outcome stands
	assert.Equal(t, subscriptiondomain.StatusActive, h.org(t).Subscription.Status)
	rec := h.record(t, "evt_inflight")
	require.NotNil(t, rec.ProcessedAt)
	assert.True(t, rec.ProcessedAt.Equal(t0.Add(2*time.Minute)))
	assert.Equal(t, paymentdomain.OutcomeApplied, rec.Outcome)

	count, err := testutil.GatherAndCount(h.registry, "atelier_reconcile_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApply_StoreFailureLeavesEventUnprocessed(t *testing.T) {
	orgs := &conflictingOrgs{Repository: organizationrepo.Provide(), err: errors.New("disk full")}
	h := newHarness(t, func(p *Params) { p.Orgs = orgs })
	ctx := context.Background()
	event := subscriptionEvent("evt_fail", paymentdomain.EventSubscriptionUpdated, t0.Add(time.Minute), paymentdomain.SubscriptionPayload{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         "past_due",
	})

	require.Error(t, h.rec.Apply(ctx, event))
	assert.Nil(t, h.record(t, "evt_fail").ProcessedAt)
	assert.Equal(t, subscriptiondomain.StatusActive, h.org(t).Subscription.Status)

	orgs.err = nil
	require.NoError(t, h.rec.Apply(ctx, event))
	assert.NotNil(t, h.record(t, "evt_fail").ProcessedAt)
	assert.Equal(t, subscriptiondomain.StatusPastDue, h.org(t).Subscription.Status)
}

func TestApply_WithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	h := newHarness(t, func(p *Params) { p.Locker = lock.NewLocker(client) })

	require.NoError(t, h.rec.Apply(context.Background(), invoiceEvent("evt_locked", paymentdomain.EventInvoicePaid, t0.Add(time.Minute), paymentdomain.InvoicePayload{
		InvoiceID: "in_local",
	})))
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, h.invoice(t).Status)
	// released after apply
	assert.False(t, mr.Exists("atelier:lock:invoice:in_local"))
}
