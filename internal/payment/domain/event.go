package domain

import (
	"strings"
	"time"
)

type EventType string

const (
	EventCustomerCreated        EventType = "customer.created"
	EventCustomerUpdated        EventType = "customer.updated"
	EventSubscriptionCreated    EventType = "customer.subscription.created"
	EventSubscriptionUpdated    EventType = "customer.subscription.updated"
	EventSubscriptionDeleted    EventType = "customer.subscription.deleted"
	EventInvoicePaid            EventType = "invoice.paid"
	EventInvoicePaymentFailed   EventType = "invoice.payment_failed"
	EventPaymentIntentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed    EventType = "payment_intent.payment_failed"
)

var knownEventTypes = map[EventType]struct{}{
	EventCustomerCreated:        {},
	EventCustomerUpdated:        {},
	EventSubscriptionCreated:    {},
	EventSubscriptionUpdated:    {},
	EventSubscriptionDeleted:    {},
	EventInvoicePaid:            {},
	EventInvoicePaymentFailed:   {},
	EventPaymentIntentSucceeded: {},
	EventPaymentIntentFailed:    {},
}

// IsKnown reports whether t belongs to the closed set the reconciler handles.
func (t EventType) IsKnown() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Event is one inbound processor fact. Payload is a closed union; the
// concrete type tells the reconciler which entity it touches.
type Event struct {
	ExternalEventID string
	Provider        string
	Type            EventType
	OccurredAt      time.Time
	ReceivedAt      time.Time
	Payload         Payload
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	isPayload()
}

type CustomerPayload struct {
	CustomerID string
	Email      string
	Name       string
	OrgID      string
}

type SubscriptionPayload struct {
	SubscriptionID     string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	OrgID              string
}

type InvoicePayload struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	BillingReason  string
	AmountPaid     int64
	Kind           InvoiceKind
	LocalInvoiceID string
	OrgID          string
}

type PaymentIntentPayload struct {
	PaymentIntentID string
	CustomerID      string
	InvoiceID       string
	Amount          int64
	Status          string
}

func (*CustomerPayload) isPayload()      {}
func (*SubscriptionPayload) isPayload()  {}
func (*InvoicePayload) isPayload()       {}
func (*PaymentIntentPayload) isPayload() {}

// InvoiceKind tells setup charges apart from recurring ones.
type InvoiceKind string

const (
	InvoiceKindOneOff    InvoiceKind = "one_off"
	InvoiceKindSetup     InvoiceKind = "setup"
	InvoiceKindRecurring InvoiceKind = "recurring"
)

// ClassifyInvoice derives the kind from our own metadata first, then from the
// processor's billing reason. The first subscription invoice carries the setup lines.
func ClassifyInvoice(billingReason, metadataKind string) InvoiceKind {
	switch InvoiceKind(strings.TrimSpace(metadataKind)) {
	case InvoiceKindSetup:
		return InvoiceKindSetup
	case InvoiceKindRecurring:
		return InvoiceKindRecurring
	case InvoiceKindOneOff:
		return InvoiceKindOneOff
	}

	switch strings.TrimSpace(billingReason) {
	case "subscription_create":
		return InvoiceKindSetup
	case "subscription_cycle", "subscription_update", "subscription_threshold", "subscription":
		return InvoiceKindRecurring
	default:
		return InvoiceKindOneOff
	}
}
