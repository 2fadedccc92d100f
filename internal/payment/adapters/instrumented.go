package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/smallbiznis/atelier/internal/observability/metrics"
	"github.com/smallbiznis/atelier/internal/observability/tracing"
	"github.com/smallbiznis/atelier/internal/payment/domain"
)

// Instrument wraps a processor with spans, call counters and failure logs.
func Instrument(next domain.Processor, m *metrics.BillingMetrics, log *zap.Logger) domain.Processor {
	return &instrumented{next: next, metrics: m, log: log.Named("payment.processor")}
}

type instrumented struct {
	next    domain.Processor
	metrics *metrics.BillingMetrics
	log     *zap.Logger
}

func (p *instrumented) observe(ctx context.Context, operation string, call func(ctx context.Context) error) error {
	ctx, span := tracing.Start(ctx, "processor."+operation,
		attribute.String("provider", p.next.Name()),
		attribute.String("operation", operation),
	)
	start := time.Now()
	err := call(ctx)
	tracing.End(span, err)
	p.metrics.IncProcessorCall(operation, err)
	if err != nil {
		p.log.Warn("processor call failed",
			zap.String("provider", p.next.Name()),
			zap.String("operation", operation),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	}
	return err
}

func (p *instrumented) Name() string { return p.next.Name() }

func (p *instrumented) CreateOrUpdateCustomer(ctx context.Context, customer domain.Customer) (id string, err error) {
	err = p.observe(ctx, "create_or_update_customer", func(ctx context.Context) error {
		id, err = p.next.CreateOrUpdateCustomer(ctx, customer)
		return err
	})
	return id, err
}

func (p *instrumented) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (sub domain.ExternalSubscription, err error) {
	err = p.observe(ctx, "create_subscription", func(ctx context.Context) error {
		sub, err = p.next.CreateSubscription(ctx, req)
		return err
	})
	return sub, err
}

func (p *instrumented) UpdateSubscription(ctx context.Context, req domain.SubscriptionUpdate) (sub domain.ExternalSubscription, err error) {
	err = p.observe(ctx, "update_subscription", func(ctx context.Context) error {
		sub, err = p.next.UpdateSubscription(ctx, req)
		return err
	})
	return sub, err
}

func (p *instrumented) CancelSubscription(ctx context.Context, externalID string, immediate bool) (sub domain.ExternalSubscription, err error) {
	err = p.observe(ctx, "cancel_subscription", func(ctx context.Context) error {
		sub, err = p.next.CancelSubscription(ctx, externalID, immediate)
		return err
	})
	return sub, err
}

func (p *instrumented) ReactivateSubscription(ctx context.Context, externalID string) (sub domain.ExternalSubscription, err error) {
	err = p.observe(ctx, "reactivate_subscription", func(ctx context.Context) error {
		sub, err = p.next.ReactivateSubscription(ctx, externalID)
		return err
	})
	return sub, err
}

func (p *instrumented) PauseSubscription(ctx context.Context, externalID string) (sub domain.ExternalSubscription, err error) {
	err = p.observe(ctx, "pause_subscription", func(ctx context.Context) error {
		sub, err = p.next.PauseSubscription(ctx, externalID)
		return err
	})
	return sub, err
}

func (p *instrumented) ResumeSubscription(ctx context.Context, externalID string) (sub domain.ExternalSubscription, err error) {
	err = p.observe(ctx, "resume_subscription", func(ctx context.Context) error {
		sub, err = p.next.ResumeSubscription(ctx, externalID)
		return err
	})
	return sub, err
}

func (p *instrumented) CreateInvoice(ctx context.Context, req domain.InvoiceRequest) (inv domain.ExternalInvoice, err error) {
	err = p.observe(ctx, "create_invoice", func(ctx context.Context) error {
		inv, err = p.next.CreateInvoice(ctx, req)
		return err
	})
	return inv, err
}

func (p *instrumented) FinalizeInvoice(ctx context.Context, externalID string) (inv domain.ExternalInvoice, err error) {
	err = p.observe(ctx, "finalize_invoice", func(ctx context.Context) error {
		inv, err = p.next.FinalizeInvoice(ctx, externalID)
		return err
	})
	return inv, err
}

func (p *instrumented) SendInvoice(ctx context.Context, externalID string) (inv domain.ExternalInvoice, err error) {
	err = p.observe(ctx, "send_invoice", func(ctx context.Context) error {
		inv, err = p.next.SendInvoice(ctx, externalID)
		return err
	})
	return inv, err
}

func (p *instrumented) VoidInvoice(ctx context.Context, externalID string) (inv domain.ExternalInvoice, err error) {
	err = p.observe(ctx, "void_invoice", func(ctx context.Context) error {
		inv, err = p.next.VoidInvoice(ctx, externalID)
		return err
	})
	return inv, err
}

func (p *instrumented) MarkInvoiceUncollectible(ctx context.Context, externalID string) (inv domain.ExternalInvoice, err error) {
	err = p.observe(ctx, "mark_invoice_uncollectible", func(ctx context.Context) error {
		inv, err = p.next.MarkInvoiceUncollectible(ctx, externalID)
		return err
	})
	return inv, err
}
