// Package paymenttest provides an in-memory Processor for service tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/atelier/internal/payment/domain"
)

// Processor records every call and answers from in-memory state. Set Fail
// to make an operation return an error.
type Processor struct {
	mu sync.Mutex

	Now   func() time.Time
	Fail  map[string]error
	Calls []string

	Subscriptions map[string]*domain.ExternalSubscription
	Invoices      map[string]*domain.ExternalInvoice
	Created       []domain.SubscriptionRequest
	Updated       []domain.SubscriptionUpdate
	InvoiceReqs   []domain.InvoiceRequest

	seq int
}

func NewProcessor(now func() time.Time) *Processor {
	return &Processor{
		Now:           now,
		Fail:          map[string]error{},
		Subscriptions: map[string]*domain.ExternalSubscription{},
		Invoices:      map[string]*domain.ExternalInvoice{},
	}
}

func (p *Processor) Name() string { return "fake" }

// CallCount returns how many times op was called.
func (p *Processor) CallCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (p *Processor) begin(op string) error {
	p.Calls = append(p.Calls, op)
	return p.Fail[op]
}

func (p *Processor) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

func (p *Processor) CreateOrUpdateCustomer(ctx context.Context, customer domain.Customer) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("create_or_update_customer"); err != nil {
		return "", err
	}
	if customer.ExternalID != "" {
		return customer.ExternalID, nil
	}
	return "cus_" + customer.OrgID.String(), nil
}

func (p *Processor) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (domain.ExternalSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("create_subscription"); err != nil {
		return domain.ExternalSubscription{}, err
	}
	p.Created = append(p.Created, req)

	now := p.Now()
	end := now.AddDate(0, 1, 0)
	sub := &domain.ExternalSubscription{
		ID:                 p.nextID("sub"),
		CustomerID:         req.ExternalCustomerID,
		Status:             "incomplete",
		CurrentPeriodStart: &now,
		CurrentPeriodEnd:   &end,
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		sub.Status = "trialing"
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
	}
	p.Subscriptions[sub.ID] = sub
	return *sub, nil
}

func (p *Processor) UpdateSubscription(ctx context.Context, req domain.SubscriptionUpdate) (domain.ExternalSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("update_subscription"); err != nil {
		return domain.ExternalSubscription{}, err
	}
	p.Updated = append(p.Updated, req)
	return p.subscription(req.ExternalSubscriptionID)
}

func (p *Processor) CancelSubscription(ctx context.Context, externalID string, immediate bool) (domain.ExternalSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("cancel_subscription"); err != nil {
		return domain.ExternalSubscription{}, err
	}
	sub, err := p.subscription(externalID)
	if err != nil {
		return sub, err
	}
	stored := p.Subscriptions[externalID]
	if immediate {
		now := p.Now()
		stored.Status = "canceled"
		stored.CanceledAt = &now
	} else {
		stored.CancelAtPeriodEnd = true
	}
	return *stored, nil
}

func (p *Processor) ReactivateSubscription(ctx context.Context, externalID string) (domain.ExternalSubscription, error) {
	return p.mutate("reactivate_subscription", externalID, func(sub *domain.ExternalSubscription) {
		sub.CancelAtPeriodEnd = false
	})
}

func (p *Processor) PauseSubscription(ctx context.Context, externalID string) (domain.ExternalSubscription, error) {
	return p.mutate("pause_subscription", externalID, func(sub *domain.ExternalSubscription) {
		sub.Status = "paused"
	})
}

func (p *Processor) ResumeSubscription(ctx context.Context, externalID string) (domain.ExternalSubscription, error) {
	return p.mutate("resume_subscription", externalID, func(sub *domain.ExternalSubscription) {
		sub.Status = "active"
	})
}

func (p *Processor) mutate(op, externalID string, fn func(sub *domain.ExternalSubscription)) (domain.ExternalSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(op); err != nil {
		return domain.ExternalSubscription{}, err
	}
	if _, err := p.subscription(externalID); err != nil {
		return domain.ExternalSubscription{}, err
	}
	stored := p.Subscriptions[externalID]
	fn(stored)
	return *stored, nil
}

func (p *Processor) subscription(id string) (domain.ExternalSubscription, error) {
	sub, ok := p.Subscriptions[id]
	if !ok {
		return domain.ExternalSubscription{}, domain.ErrProcessorNotFound
	}
	return *sub, nil
}

// SeedSubscription registers a subscription the processor already knows.
func (p *Processor) SeedSubscription(sub domain.ExternalSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Subscriptions[sub.ID] = &sub
}

func (p *Processor) CreateInvoice(ctx context.Context, req domain.InvoiceRequest) (domain.ExternalInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("create_invoice"); err != nil {
		return domain.ExternalInvoice{}, err
	}
	p.InvoiceReqs = append(p.InvoiceReqs, req)
	inv := &domain.ExternalInvoice{ID: p.nextID("in"), Status: "draft"}
	p.Invoices[inv.ID] = inv
	return *inv, nil
}

func (p *Processor) FinalizeInvoice(ctx context.Context, externalID string) (domain.ExternalInvoice, error) {
	return p.invoice("finalize_invoice", externalID, "open")
}

func (p *Processor) SendInvoice(ctx context.Context, externalID string) (domain.ExternalInvoice, error) {
	return p.invoice("send_invoice", externalID, "open")
}

func (p *Processor) VoidInvoice(ctx context.Context, externalID string) (domain.ExternalInvoice, error) {
	return p.invoice("void_invoice", externalID, "void")
}

func (p *Processor) MarkInvoiceUncollectible(ctx context.Context, externalID string) (domain.ExternalInvoice, error) {
	return p.invoice("mark_invoice_uncollectible", externalID, "uncollectible")
}

func (p *Processor) invoice(op, externalID, status string) (domain.ExternalInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(op); err != nil {
		return domain.ExternalInvoice{}, err
	}
	inv, ok := p.Invoices[externalID]
	if !ok {
		return domain.ExternalInvoice{}, domain.ErrProcessorNotFound
	}
	inv.Status = status
	inv.HostedURL = "https://pay.test/" + externalID
	return *inv, nil
}

var _ domain.Processor = (*Processor)(nil)
