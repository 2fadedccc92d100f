// Package reconcile applies processor events to local billing state.
//
// Every event is applied at most once (dedup on provider and event id), and
// per entity the newest processor timestamp wins. Events that lose are
// recorded with the "stale" outcome and acknowledged. Only store failures
// are returned, so the caller can have the processor redeliver.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/config"
	invoicedomain "github.com/smallbiznis/atelier/internal/invoice/domain"
	"github.com/smallbiznis/atelier/internal/lock"
	"github.com/smallbiznis/atelier/internal/observability/metrics"
	"github.com/smallbiznis/atelier/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Events   paymentdomain.Repository
	Orgs     organizationdomain.Repository
	Invoices invoicedomain.Repository
	Locker   *lock.Locker            `optional:"true"`
	Billing  *metrics.BillingMetrics `optional:"true"`
	Metrics  *metrics.Metrics        `optional:"true"`
}

type Reconciler struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	events   paymentdomain.Repository
	orgs     organizationdomain.Repository
	invoices invoicedomain.Repository
	locker   *lock.Locker
	billing  *metrics.BillingMetrics
	metrics  *metrics.Metrics

	lockTTL  time.Duration
	maxRetry int
}

func NewReconciler(p Params) *Reconciler {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	lockTTL := p.Config.Billing.ReconcileLockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	maxRetry := p.Config.Billing.ReconcileMaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &Reconciler{
		db:       p.DB,
		log:      p.Log.Named("payment.reconcile"),
		genID:    p.GenID,
		clock:    p.Clock,
		events:   p.Events,
		orgs:     p.Orgs,
		invoices: p.Invoices,
		locker:   p.Locker,
		billing:  p.Billing,
		metrics:  m,
		lockTTL:  lockTTL,
		maxRetry: maxRetry,
	}
}

// Apply records and applies one event. Duplicates, unknown types and stale
// events return nil.
func (r *Reconciler) Apply(ctx context.Context, event *paymentdomain.Event) (err error) {
	if err := validate(event); err != nil {
		return err
	}

	ctx, span := tracing.Start(ctx, "reconcile.apply")
	defer func() { tracing.End(span, err) }()

	started := r.clock.Now()
	eventType := string(event.Type)
	log := r.log.With(
		zap.String("provider", event.Provider),
		zap.String("event_id", event.ExternalEventID),
		zap.String("event_type", eventType),
	)

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = started
	}
	record := &paymentdomain.EventRecord{
		ID:              r.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ExternalEventID,
		EventType:       eventType,
		OccurredAt:      event.OccurredAt.UTC(),
		ReceivedAt:      receivedAt.UTC(),
		CreatedAt:       started,
	}

	inserted, err := r.events.InsertEvent(ctx, r.db, record)
	if err != nil {
		r.billing.IncReconcileError(eventType, err)
		return err
	}
	if !inserted {
		existing, err := r.events.FindEvent(ctx, r.db, event.Provider, event.ExternalEventID)
		if err != nil {
			r.billing.IncReconcileError(eventType, err)
			return err
		}
		if existing == nil {
			return fmt.Errorf("payment event %s/%s vanished after conflict", event.Provider, event.ExternalEventID)
		}
		if existing.ProcessedAt != nil {
			log.Debug("duplicate payment event skipped")
			r.billing.IncEvent(eventType, "duplicate")
			return nil
		}
		// an earlier delivery failed before committing; apply it now
		record = existing
	}

	if key := entityKey(event); key != "" {
		release, err := r.locker.Acquire(ctx, key, r.lockTTL)
		if err != nil {
			log.Warn("entity lock unavailable, relying on version checks", zap.String("key", key), zap.Error(err))
		}
		defer release()
	}

	outcome, err := r.applyWithRetry(ctx, record, event, log)
	r.billing.ObserveReconcile(eventType, r.clock.Now().Sub(started))
	if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		// a concurrent delivery of the same event committed first
		log.Debug("duplicate payment event skipped")
		r.billing.IncEvent(eventType, "duplicate")
		return nil
	}
	if err != nil {
		log.Error("payment event not applied", zap.Error(err))
		r.billing.IncReconcileError(eventType, err)
		return err
	}

	r.billing.IncEvent(eventType, outcome)
	r.metrics.RecordPaymentEvent(ctx, event.Provider, eventType, outcome)
	log.Info("payment event reconciled", zap.String("outcome", outcome))
	return nil
}

func (r *Reconciler) applyWithRetry(ctx context.Context, record *paymentdomain.EventRecord, event *paymentdomain.Event, log *zap.Logger) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetry; attempt++ {
		var outcome string
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			o, err := r.route(ctx, tx, event, log)
			if err != nil {
				return err
			}
			outcome = o
			return r.events.MarkProcessed(ctx, tx, record.ID, o, r.clock.Now())
		})
		if err == nil {
			return outcome, nil
		}

		switch {
		case errors.Is(err, organizationdomain.ErrVersionConflict):
			r.billing.IncVersionRetry("organization")
		case errors.Is(err, invoicedomain.ErrVersionConflict):
			r.billing.IncVersionRetry("invoice")
		default:
			return "", err
		}
		log.Debug("version conflict, retrying", zap.Int("attempt", attempt+1))
		lastErr = err
	}
	return "", lastErr
}

// route dispatches on the payload union. Handlers signal a stale or
// irrelevant event with ErrStaleEvent or ErrEventIgnored.
func (r *Reconciler) route(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, log *zap.Logger) (string, error) {
	var err error
	switch p := event.Payload.(type) {
	case *paymentdomain.CustomerPayload:
		err = r.applyCustomer(ctx, tx, event, p)
	case *paymentdomain.SubscriptionPayload:
		err = r.applySubscription(ctx, tx, event, p, log)
	case *paymentdomain.InvoicePayload:
		switch event.Type {
		case paymentdomain.EventInvoicePaid:
			err = r.applyInvoice(ctx, tx, event, p, true)
		case paymentdomain.EventInvoicePaymentFailed:
			err = r.applyInvoice(ctx, tx, event, p, false)
		default:
			err = paymentdomain.ErrEventIgnored
		}
	case *paymentdomain.PaymentIntentPayload:
		err = r.applyPaymentIntent(ctx, tx, event, p)
	default:
		log.Info("payment event type not handled")
		err = paymentdomain.ErrEventIgnored
	}

	switch {
	case err == nil:
		return paymentdomain.OutcomeApplied, nil
	case errors.Is(err, paymentdomain.ErrStaleEvent):
		log.Info("stale payment event dropped", zap.Time("occurred_at", event.OccurredAt))
		return paymentdomain.OutcomeStale, nil
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		return paymentdomain.OutcomeIgnored, nil
	default:
		return "", err
	}
}

// findOrg resolves the organization an event is about, trying the most
// specific processor id first and our own metadata last.
func (r *Reconciler) findOrg(ctx context.Context, tx *gorm.DB, subscriptionID, customerID, orgID string) (*organizationdomain.Organization, error) {
	if subscriptionID != "" {
		org, err := r.orgs.FindByExternalSubscriptionID(ctx, tx, subscriptionID)
		if err != nil || org != nil {
			return org, err
		}
	}
	if customerID != "" {
		org, err := r.orgs.FindByExternalCustomerID(ctx, tx, customerID)
		if err != nil || org != nil {
			return org, err
		}
	}
	if id, err := snowflake.ParseString(strings.TrimSpace(orgID)); err == nil && id != 0 {
		return r.orgs.FindByID(ctx, tx, id)
	}
	return nil, nil
}

func validate(event *paymentdomain.Event) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.ExternalEventID = strings.TrimSpace(event.ExternalEventID)
	if event.Provider == "" || event.ExternalEventID == "" || event.Type == "" || event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}
	if event.Type.IsKnown() && event.Payload == nil {
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

// entityKey names the record an event mutates, for the cross-replica lock.
func entityKey(event *paymentdomain.Event) string {
	switch p := event.Payload.(type) {
	case *paymentdomain.CustomerPayload:
		return keyed("customer", p.CustomerID)
	case *paymentdomain.SubscriptionPayload:
		return keyed("subscription", p.SubscriptionID)
	case *paymentdomain.InvoicePayload:
		return keyed("invoice", p.InvoiceID)
	case *paymentdomain.PaymentIntentPayload:
		return keyed("invoice", p.InvoiceID)
	}
	return ""
}

func keyed(kind, id string) string {
	if id == "" {
		return ""
	}
	return kind + ":" + id
}
