// Package domain defines the payment processor boundary and the inbound event union.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer identifies the organization on the processor side.
type Customer struct {
	OrgID      snowflake.ID
	Name       string
	Email      string
	ExternalID string
}

// PriceLine is one capability's amount. Recurring lines bill monthly, setup lines once.
type PriceLine struct {
	Key         string
	Description string
	AmountCents int64
}

type SubscriptionRequest struct {
	OrgID              snowflake.ID
	ExternalCustomerID string
	Currency           string
	RecurringLines     []PriceLine
	SetupLines         []PriceLine
	TrialDays          int
	IdempotencyKey     string
}

type SubscriptionUpdate struct {
	OrgID                  snowflake.ID
	ExternalSubscriptionID string
	Currency               string
	RecurringLines         []PriceLine
	SetupLines             []PriceLine
	Prorate                bool
	IdempotencyKey         string
}

// ExternalSubscription is the processor's view after a call.
type ExternalSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

type InvoiceLine struct {
	Description    string
	Quantity       int64
	UnitPriceCents int64
}

type InvoiceRequest struct {
	ExternalCustomerID string
	Currency           string
	Description        string
	Lines              []InvoiceLine
	TaxCents           int64
	DueDate            *time.Time
	Metadata           map[string]string
	IdempotencyKey     string
}

type ExternalInvoice struct {
	ID        string
	Status    string
	Number    string
	HostedURL string
}

// Processor is the only component that calls the payment processor API.
type Processor interface {
	Name() string
	CreateOrUpdateCustomer(ctx context.Context, customer Customer) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (ExternalSubscription, error)
	UpdateSubscription(ctx context.Context, req SubscriptionUpdate) (ExternalSubscription, error)
	CancelSubscription(ctx context.Context, externalID string, immediate bool) (ExternalSubscription, error)
	ReactivateSubscription(ctx context.Context, externalID string) (ExternalSubscription, error)
	PauseSubscription(ctx context.Context, externalID string) (ExternalSubscription, error)
	ResumeSubscription(ctx context.Context, externalID string) (ExternalSubscription, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (ExternalInvoice, error)
	FinalizeInvoice(ctx context.Context, externalID string) (ExternalInvoice, error)
	SendInvoice(ctx context.Context, externalID string) (ExternalInvoice, error)
	VoidInvoice(ctx context.Context, externalID string) (ExternalInvoice, error)
	MarkInvoiceUncollectible(ctx context.Context, externalID string) (ExternalInvoice, error)
}

// Metadata keys written on processor objects so events can be traced back.
const (
	MetadataOrgID     = "org_id"
	MetadataInvoiceID = "invoice_id"
	MetadataKind      = "kind"
)
