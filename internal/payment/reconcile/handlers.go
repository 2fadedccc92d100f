package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	invoicedomain "github.com/smallbiznis/atelier/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
)

// applyCustomer syncs the processor customer id and contact email. Billing
// totals are never touched here.
func (r *Reconciler) applyCustomer(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, p *paymentdomain.CustomerPayload) error {
	org, err := r.findOrg(ctx, tx, "", p.CustomerID, p.OrgID)
	if err != nil {
		return err
	}
	if org == nil {
		return paymentdomain.ErrEventIgnored
	}
	if org.Subscription.ExternalCustomerID != "" && org.Subscription.ExternalCustomerID != p.CustomerID {
		return paymentdomain.ErrStaleEvent
	}
	if org.ContactSyncedAt != nil && event.OccurredAt.Before(*org.ContactSyncedAt) {
		return paymentdomain.ErrStaleEvent
	}

	org.Subscription.ExternalCustomerID = p.CustomerID
	if email := strings.TrimSpace(p.Email); email != "" {
		org.BillingEmail = email
	}
	synced := event.OccurredAt.UTC()
	org.ContactSyncedAt = &synced
	org.UpdatedAt = r.clock.Now()
	return r.orgs.UpdateIfVersion(ctx, tx, org)
}

func (r *Reconciler) applySubscription(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, p *paymentdomain.SubscriptionPayload, log *zap.Logger) error {
	org, err := r.findOrg(ctx, tx, p.SubscriptionID, p.CustomerID, p.OrgID)
	if err != nil {
		return err
	}
	if org == nil {
		log.Warn("subscription event for unknown organization", zap.String("subscription_id", p.SubscriptionID))
		return paymentdomain.ErrEventIgnored
	}

	sub := &org.Subscription
	if sub.ExternalSubscriptionID != "" && sub.ExternalSubscriptionID != p.SubscriptionID {
		// a replaced subscription only matters once the current one is gone
		if sub.IsLive() || event.Type == paymentdomain.EventSubscriptionDeleted {
			return paymentdomain.ErrStaleEvent
		}
	}
	if sub.ExternalSubscriptionID == p.SubscriptionID && sub.IsStale(event.OccurredAt) {
		return paymentdomain.ErrStaleEvent
	}

	status, known := subscriptiondomain.FromProcessorStatus(p.Status)
	if event.Type == paymentdomain.EventSubscriptionDeleted {
		status, known = subscriptiondomain.StatusCanceled, true
	}
	if !known {
		log.Warn("unmapped processor subscription status kept current", zap.String("status", p.Status))
		status = sub.Status
	}
	if sub.Status != "" && !subscriptiondomain.CanTransition(sub.Status, status, subscriptiondomain.TriggerProcessor) {
		// the processor is authoritative; record what it reports
		log.Warn("unexpected subscription transition",
			zap.String("from", string(sub.Status)),
			zap.String("to", string(status)),
		)
	}

	sub.ExternalSubscriptionID = p.SubscriptionID
	if sub.ExternalCustomerID == "" {
		sub.ExternalCustomerID = p.CustomerID
	}
	sub.SetStatus(status)
	if p.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = p.CurrentPeriodStart
	}
	if p.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = p.CurrentPeriodEnd
	}
	if p.TrialStart != nil {
		sub.TrialStart = p.TrialStart
	}
	if p.TrialEnd != nil {
		sub.TrialEnd = p.TrialEnd
	}
	sub.CancelAtPeriodEnd = p.CancelAtPeriodEnd
	if status == subscriptiondomain.StatusCanceled {
		canceledAt := event.OccurredAt.UTC()
		if p.CanceledAt != nil {
			canceledAt = *p.CanceledAt
		}
		sub.CanceledAt = &canceledAt
		sub.CancelAtPeriodEnd = false
	}
	sub.Touch(event.OccurredAt)
	org.UpdatedAt = r.clock.Now()
	return r.orgs.UpdateIfVersion(ctx, tx, org)
}

// applyInvoice moves the local invoice (when one exists) and the owning
// subscription. Paid and void invoices never move again.
func (r *Reconciler) applyInvoice(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, p *paymentdomain.InvoicePayload, paid bool) error {
	inv, err := r.findInvoice(ctx, tx, p.InvoiceID, p.LocalInvoiceID)
	if err != nil {
		return err
	}

	kind := p.Kind
	if inv != nil && inv.Kind != "" {
		kind = paymentdomain.InvoiceKind(inv.Kind)
	}

	invoiceErr := paymentdomain.ErrEventIgnored
	if inv != nil {
		invoiceErr = r.moveInvoice(ctx, tx, event, inv, p.InvoiceID, paid)
		if invoiceErr != nil && !isDropped(invoiceErr) {
			return invoiceErr
		}
	}

	orgErr := paymentdomain.ErrEventIgnored
	if kind == paymentdomain.InvoiceKindSetup || kind == paymentdomain.InvoiceKindRecurring {
		orgID := p.OrgID
		if inv != nil {
			orgID = inv.OrgID.String()
		}
		orgErr = r.moveSubscription(ctx, tx, event, p.SubscriptionID, p.CustomerID, orgID, kind, paid)
		if orgErr != nil && !isDropped(orgErr) {
			return orgErr
		}
	}

	switch {
	case invoiceErr == nil || orgErr == nil:
		return nil
	case errors.Is(invoiceErr, paymentdomain.ErrStaleEvent) || errors.Is(orgErr, paymentdomain.ErrStaleEvent):
		return paymentdomain.ErrStaleEvent
	default:
		return paymentdomain.ErrEventIgnored
	}
}

func (r *Reconciler) moveInvoice(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, inv *invoicedomain.Invoice, externalID string, paid bool) error {
	if inv.IsTerminal() || inv.IsStale(event.OccurredAt) {
		return paymentdomain.ErrStaleEvent
	}

	if paid {
		inv.Status = invoicedomain.InvoiceStatusPaid
		paidAt := event.OccurredAt.UTC()
		inv.PaidAt = &paidAt
	} else {
		inv.Status = invoicedomain.InvoiceStatusPaymentFailed
	}
	if inv.ExternalInvoiceID == nil && externalID != "" {
		inv.ExternalInvoiceID = &externalID
	}
	inv.Touch(event.OccurredAt)
	inv.UpdatedAt = r.clock.Now()
	return r.invoices.UpdateIfVersion(ctx, tx, inv)
}

// moveSubscription applies a subscription-tied invoice outcome. A setup
// charge failing never marks the subscription past due.
func (r *Reconciler) moveSubscription(
	ctx context.Context,
	tx *gorm.DB,
	event *paymentdomain.Event,
	subscriptionID, customerID, orgID string,
	kind paymentdomain.InvoiceKind,
	paid bool,
) error {
	org, err := r.findOrg(ctx, tx, subscriptionID, customerID, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return paymentdomain.ErrEventIgnored
	}
	sub := &org.Subscription
	if subscriptionID != "" && subscriptionID != sub.ExternalSubscriptionID {
		return paymentdomain.ErrStaleEvent
	}

	changed := false
	if paid && kind == paymentdomain.InvoiceKindSetup && !sub.SetupPaid {
		sub.SetupPaid = true
		changed = true
	}

	if target, ok := invoiceTarget(sub.Status, kind, paid); ok {
		if sub.IsStale(event.OccurredAt) {
			if !changed {
				return paymentdomain.ErrStaleEvent
			}
		} else {
			sub.SetStatus(target)
			sub.Touch(event.OccurredAt)
			changed = true
		}
	}

	if !changed {
		return paymentdomain.ErrEventIgnored
	}
	org.UpdatedAt = r.clock.Now()
	return r.orgs.UpdateIfVersion(ctx, tx, org)
}

// invoiceTarget is the status an invoice outcome moves a subscription to.
func invoiceTarget(current subscriptiondomain.Status, kind paymentdomain.InvoiceKind, paid bool) (subscriptiondomain.Status, bool) {
	if paid {
		switch {
		case kind == paymentdomain.InvoiceKindSetup && current == subscriptiondomain.StatusIncomplete,
			kind == paymentdomain.InvoiceKindRecurring && (current == subscriptiondomain.StatusIncomplete ||
				current == subscriptiondomain.StatusTrialing ||
				current == subscriptiondomain.StatusPastDue ||
				current == subscriptiondomain.StatusUnpaid):
			return subscriptiondomain.StatusActive, true
		}
		return "", false
	}

	if kind == paymentdomain.InvoiceKindRecurring &&
		(current == subscriptiondomain.StatusActive || current == subscriptiondomain.StatusTrialing) {
		return subscriptiondomain.StatusPastDue, true
	}
	return "", false
}

// applyPaymentIntent treats an invoice-backed payment intent like the
// invoice event it stands for. Bare intents have nothing local to update.
func (r *Reconciler) applyPaymentIntent(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event, p *paymentdomain.PaymentIntentPayload) error {
	if p.InvoiceID == "" {
		return paymentdomain.ErrEventIgnored
	}
	return r.applyInvoice(ctx, tx, event, &paymentdomain.InvoicePayload{
		InvoiceID:  p.InvoiceID,
		CustomerID: p.CustomerID,
		Kind:       paymentdomain.InvoiceKindOneOff,
	}, event.Type == paymentdomain.EventPaymentIntentSucceeded)
}

func (r *Reconciler) findInvoice(ctx context.Context, tx *gorm.DB, externalID, localID string) (*invoicedomain.Invoice, error) {
	inv, err := r.invoices.FindByExternalID(ctx, tx, externalID)
	if err != nil || inv != nil {
		return inv, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(localID))
	if err != nil || id == 0 {
		return nil, nil
	}
	return r.invoices.FindByID(ctx, tx, id)
}

func isDropped(err error) bool {
	return errors.Is(err, paymentdomain.ErrStaleEvent) || errors.Is(err, paymentdomain.ErrEventIgnored)
}
