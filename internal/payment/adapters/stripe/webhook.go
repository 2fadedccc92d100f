package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
)

const signatureHeader = "Stripe-Signature"

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, a.webhookSecret, a.tolerance); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var evt stripego.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(evt.ID) == "" || strings.TrimSpace(string(evt.Type)) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	eventType := paymentdomain.EventType(evt.Type)
	if !eventType.IsKnown() {
		return nil, paymentdomain.ErrEventIgnored
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	body, err := decodePayload(eventType, evt.Data.Raw)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.Event{
		ExternalEventID: evt.ID,
		Provider:        providerName,
		Type:            eventType,
		OccurredAt:      timestamp(evt.Created, 0),
		ReceivedAt:      time.Now().UTC(),
		Payload:         body,
	}, nil
}

func decodePayload(eventType paymentdomain.EventType, raw json.RawMessage) (paymentdomain.Payload, error) {
	switch eventType {
	case paymentdomain.EventCustomerCreated, paymentdomain.EventCustomerUpdated:
		var cus stripego.Customer
		if err := json.Unmarshal(raw, &cus); err != nil || cus.ID == "" {
			return nil, invalidObject(err)
		}
		return &paymentdomain.CustomerPayload{
			CustomerID: cus.ID,
			Email:      cus.Email,
			Name:       cus.Name,
			OrgID:      cus.Metadata[paymentdomain.MetadataOrgID],
		}, nil

	case paymentdomain.EventSubscriptionCreated, paymentdomain.EventSubscriptionUpdated, paymentdomain.EventSubscriptionDeleted:
		var sub stripego.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil || sub.ID == "" {
			return nil, invalidObject(err)
		}
		ext := toExternalSubscription(&sub)
		return &paymentdomain.SubscriptionPayload{
			SubscriptionID:     ext.ID,
			CustomerID:         ext.CustomerID,
			Status:             ext.Status,
			CurrentPeriodStart: ext.CurrentPeriodStart,
			CurrentPeriodEnd:   ext.CurrentPeriodEnd,
			TrialStart:         ext.TrialStart,
			TrialEnd:           ext.TrialEnd,
			CancelAtPeriodEnd:  ext.CancelAtPeriodEnd,
			CanceledAt:         ext.CanceledAt,
			OrgID:              sub.Metadata[paymentdomain.MetadataOrgID],
		}, nil

	case paymentdomain.EventInvoicePaid, paymentdomain.EventInvoicePaymentFailed:
		var inv stripego.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil || inv.ID == "" {
			return nil, invalidObject(err)
		}
		subscriptionID := ""
		if inv.Subscription != nil {
			subscriptionID = inv.Subscription.ID
		}
		return &paymentdomain.InvoicePayload{
			InvoiceID:      inv.ID,
			CustomerID:     customerID(inv.Customer),
			SubscriptionID: subscriptionID,
			BillingReason:  string(inv.BillingReason),
			AmountPaid:     inv.AmountPaid,
			Kind:           paymentdomain.ClassifyInvoice(string(inv.BillingReason), inv.Metadata[paymentdomain.MetadataKind]),
			LocalInvoiceID: inv.Metadata[paymentdomain.MetadataInvoiceID],
			OrgID:          inv.Metadata[paymentdomain.MetadataOrgID],
		}, nil

	case paymentdomain.EventPaymentIntentSucceeded, paymentdomain.EventPaymentIntentFailed:
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil || pi.ID == "" {
			return nil, invalidObject(err)
		}
		invoiceID := ""
		if pi.Invoice != nil {
			invoiceID = pi.Invoice.ID
		}
		return &paymentdomain.PaymentIntentPayload{
			PaymentIntentID: pi.ID,
			CustomerID:      customerID(pi.Customer),
			InvoiceID:       invoiceID,
			Amount:          pi.Amount,
			Status:          string(pi.Status),
		}, nil
	}
	return nil, paymentdomain.ErrEventIgnored
}

func invalidObject(err error) error {
	if err == nil {
		return paymentdomain.ErrInvalidPayload
	}
	return errors.Join(paymentdomain.ErrInvalidPayload, err)
}
