package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/config"
	invoicedomain "github.com/smallbiznis/atelier/internal/invoice/domain"
	"github.com/smallbiznis/atelier/internal/invoice/format"
	"github.com/smallbiznis/atelier/internal/invoice/render"
	"github.com/smallbiznis/atelier/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
)

const maxWriteAttempts = 5

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Engine    pricingdomain.Engine
	Processor paymentdomain.Processor
	Orgs      organizationdomain.Repository
	Invoices  invoicedomain.Repository
	Renderer  render.Renderer
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	engine    pricingdomain.Engine
	processor paymentdomain.Processor
	orgs      organizationdomain.Repository
	invoices  invoicedomain.Repository
	renderer  render.Renderer
	metrics   *metrics.Metrics

	currency     string
	dueDays      int
	numberFormat string
}

func NewService(p ServiceParam) invoicedomain.Service {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	numberFormat := p.Config.Billing.InvoiceNumberTmpl
	if numberFormat == "" {
		numberFormat = format.DefaultInvoiceNumberTemplate
	}
	currency := strings.ToLower(strings.TrimSpace(p.Config.Billing.Currency))
	if currency == "" {
		currency = "usd"
	}
	dueDays := p.Config.Billing.InvoiceDueDays
	if dueDays <= 0 {
		dueDays = 14
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		engine:    p.Engine,
		processor: p.Processor,
		orgs:      p.Orgs,
		invoices:  p.Invoices,
		renderer:  p.Renderer,
		metrics:   m,

		currency:     currency,
		dueDays:      dueDays,
		numberFormat: numberFormat,
	}
}

type draft struct {
	projectID   *snowflake.ID
	description string
	currency    string
	kind        invoicedomain.Kind
	items       []invoicedomain.InvoiceItem
	subtotal    int64
	tax         int64
	dueDate     *time.Time
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.Invoice, error) {
	items, subtotal, err := buildItems(req.LineItems)
	if err != nil {
		return nil, err
	}
	if req.Tax < 0 || subtotal > math.MaxInt64-req.Tax {
		return nil, invoicedomain.ErrInvalidAmount
	}
	kind, err := normalizeKind(req.Kind)
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, req.OrgID, draft{
		projectID:   req.ProjectID,
		description: strings.TrimSpace(req.Description),
		currency:    s.currency,
		kind:        kind,
		items:       items,
		subtotal:    subtotal,
		tax:         req.Tax,
		dueDate:     req.DueDate,
	}, req.AutoSend)
}

func (s *Service) CreateFromQuote(ctx context.Context, req invoicedomain.QuoteInvoiceRequest) (*invoicedomain.Invoice, error) {
	quote, err := s.engine.ComputeQuote(pricingdomain.ParseCapabilities(req.Features))
	if err != nil {
		return nil, err
	}

	lines := make([]invoicedomain.LineItemRequest, 0, len(quote.Breakdown)*2)
	for _, line := range quote.Lines() {
		if line.Setup > 0 {
			lines = append(lines, invoicedomain.LineItemRequest{
				Description:    string(line.Capability) + " setup",
				Quantity:       1,
				UnitPriceCents: line.Setup,
			})
		}
		if req.IncludeMonthly && line.Monthly > 0 {
			lines = append(lines, invoicedomain.LineItemRequest{
				Description:    string(line.Capability) + " monthly",
				Quantity:       1,
				UnitPriceCents: line.Monthly,
			})
		}
	}
	items, subtotal, err := buildItems(lines)
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, req.OrgID, draft{
		projectID:   req.ProjectID,
		description: "Setup: " + strings.Join(pricingdomain.Strings(quote.Capabilities), ", "),
		currency:    quote.Currency,
		kind:        invoicedomain.KindOneOff,
		items:       items,
		subtotal:    subtotal,
		dueDate:     req.DueDate,
	}, req.AutoSend)
}

func (s *Service) issue(ctx context.Context, orgID snowflake.ID, d draft, autoSend bool) (inv *invoicedomain.Invoice, err error) {
	defer func() {
		if err != nil {
			s.metrics.RecordInvoice(ctx, "failed")
			return
		}
		s.metrics.RecordInvoice(ctx, string(inv.Status))
	}()

	now := s.clock.Now()
	due := now.AddDate(0, 0, s.dueDays)
	if d.dueDate != nil {
		if d.dueDate.Before(now.Truncate(24 * time.Hour)) {
			return nil, invoicedomain.ErrInvalidDueDate
		}
		due = d.dueDate.UTC()
	}

	org, err := s.loadOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	inv = &invoicedomain.Invoice{
		ID:           s.genID.Generate(),
		OrgID:        org.ID,
		ProjectID:    d.projectID,
		Kind:         d.kind,
		Description:  d.description,
		Items:        d.items,
		Currency:     d.currency,
		Subtotal:     d.subtotal,
		Tax:          d.tax,
		Total:        d.subtotal + d.tax,
		Status:       invoicedomain.InvoiceStatusDraft,
		IssueDate:    now,
		DueDate:      &due,
		BillingEmail: org.BillingEmail,
		SentTo:       datatypes.JSONSlice[string]{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i := range inv.Items {
		inv.Items[i].ID = s.genID.Generate()
		inv.Items[i].Position = i
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := s.orgs.NextInvoiceSequence(ctx, tx, org.ID)
		if err != nil {
			return err
		}
		number, err := format.FormatInvoiceNumber(s.numberFormat, org.InvoicePrefix, now, seq)
		if err != nil {
			return err
		}
		inv.Sequence = seq
		inv.InvoiceNumber = number
		return s.invoices.Create(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}

	return s.publish(ctx, org, inv, autoSend)
}

// publish pushes a local draft to the processor: create, finalize and,
// when send is set, deliver. Each step records its result locally before the
// next one so a retry resumes where the last attempt stopped.
func (s *Service) publish(ctx context.Context, org *organizationdomain.Organization, inv *invoicedomain.Invoice, send bool) (*invoicedomain.Invoice, error) {
	if inv.ExternalInvoiceID == nil {
		customerID, err := s.ensureCustomer(ctx, org)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", invoicedomain.ErrInvoiceFinalize, err)
		}

		ext, err := s.processor.CreateInvoice(ctx, paymentdomain.InvoiceRequest{
			ExternalCustomerID: customerID,
			Currency:           inv.Currency,
			Description:        invoiceDescription(inv),
			Lines:              processorLines(inv.Items),
			TaxCents:           inv.Tax,
			DueDate:            inv.DueDate,
			Metadata: map[string]string{
				paymentdomain.MetadataInvoiceID: inv.ID.String(),
				paymentdomain.MetadataOrgID:     inv.OrgID.String(),
				paymentdomain.MetadataKind:      string(inv.Kind),
			},
			IdempotencyKey: "invoice-create-" + inv.ID.String(),
		})
		if err != nil {
			s.log.Warn("processor invoice create failed",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %w", invoicedomain.ErrInvoiceFinalize, err)
		}

		inv, err = s.update(ctx, inv.ID, func(i *invoicedomain.Invoice) error {
			i.ExternalInvoiceID = &ext.ID
			i.HostedURL = ext.HostedURL
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if inv.FinalizedAt == nil {
		ext, err := s.processor.FinalizeInvoice(ctx, *inv.ExternalInvoiceID)
		if err != nil {
			s.log.Warn("processor invoice finalize failed",
				zap.String("invoice_id", inv.ID.String()),
				zap.String("external_invoice_id", *inv.ExternalInvoiceID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %w", invoicedomain.ErrInvoiceFinalize, err)
		}

		inv, err = s.update(ctx, inv.ID, func(i *invoicedomain.Invoice) error {
			now := s.clock.Now()
			i.FinalizedAt = &now
			if ext.HostedURL != "" {
				i.HostedURL = ext.HostedURL
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if !send {
		return inv, nil
	}

	if _, err := s.processor.SendInvoice(ctx, *inv.ExternalInvoiceID); err != nil {
		s.log.Warn("processor invoice send failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", invoicedomain.ErrInvoiceSend, err)
	}

	return s.update(ctx, inv.ID, func(i *invoicedomain.Invoice) error {
		// a payment event may have beaten us here
		if i.Status != invoicedomain.InvoiceStatusDraft {
			return nil
		}
		now := s.clock.Now()
		i.Status = invoicedomain.InvoiceStatusSent
		i.SentAt = &now
		if i.BillingEmail != "" {
			i.SentTo = append(datatypes.JSONSlice[string]{}, i.BillingEmail)
		}
		return nil
	})
}

func (s *Service) Send(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != invoicedomain.InvoiceStatusDraft {
		return nil, invoicedomain.ErrInvalidInvoiceStatus
	}
	org, err := s.loadOrg(ctx, inv.OrgID)
	if err != nil {
		return nil, err
	}

	sent, err := s.publish(ctx, org, inv, true)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvoice(ctx, string(sent.Status))
	return sent, nil
}

func (s *Service) Void(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !voidable(inv.Status) {
		return nil, invoicedomain.ErrInvalidInvoiceStatus
	}

	// an unfinalized processor draft never collects, so only finalized
	// invoices need the processor to void them
	if inv.ExternalInvoiceID != nil && inv.FinalizedAt != nil {
		if _, err := s.processor.VoidInvoice(ctx, *inv.ExternalInvoiceID); err != nil {
			return nil, fmt.Errorf("%w: %w", invoicedomain.ErrProcessorCall, err)
		}
	}

	voided, err := s.update(ctx, id, func(i *invoicedomain.Invoice) error {
		if !voidable(i.Status) {
			return invoicedomain.ErrInvalidInvoiceStatus
		}
		now := s.clock.Now()
		i.Status = invoicedomain.InvoiceStatusVoid
		i.VoidedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvoice(ctx, string(voided.Status))
	return voided, nil
}

func (s *Service) MarkUncollectible(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !collectible(inv.Status) || inv.ExternalInvoiceID == nil {
		return nil, invoicedomain.ErrInvalidInvoiceStatus
	}

	if _, err := s.processor.MarkInvoiceUncollectible(ctx, *inv.ExternalInvoiceID); err != nil {
		return nil, fmt.Errorf("%w: %w", invoicedomain.ErrProcessorCall, err)
	}

	marked, err := s.update(ctx, id, func(i *invoicedomain.Invoice) error {
		if !collectible(i.Status) {
			return invoicedomain.ErrInvalidInvoiceStatus
		}
		i.Status = invoicedomain.InvoiceStatusUncollectible
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvoice(ctx, string(marked.Status))
	return marked, nil
}

// Get reports the read-time status: a sent invoice past due reads as overdue.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Status = inv.EffectiveStatus(s.clock.Now())
	return inv, nil
}

func (s *Service) ListByOrganization(ctx context.Context, orgID snowflake.ID) ([]invoicedomain.Invoice, error) {
	if _, err := s.loadOrg(ctx, orgID); err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for i := range invoices {
		invoices[i].Status = invoices[i].EffectiveStatus(now)
	}
	return invoices, nil
}

func (s *Service) RenderHTML(ctx context.Context, id snowflake.ID) (string, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	org, err := s.loadOrg(ctx, inv.OrgID)
	if err != nil {
		return "", err
	}
	return s.renderer.RenderHTML(render.NewInput(*inv, org.Name, s.clock.Now()))
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := s.invoices.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Service) loadOrg(ctx context.Context, orgID snowflake.ID) (*organizationdomain.Organization, error) {
	org, err := s.orgs.FindByID(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, organizationdomain.ErrOrganizationNotFound
	}
	return org, nil
}

// update reloads the invoice, applies mutate and writes it back under the
// version check, retrying when a concurrent writer got there first.
func (s *Service) update(ctx context.Context, id snowflake.ID, mutate func(i *invoicedomain.Invoice) error) (*invoicedomain.Invoice, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		inv, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(inv); err != nil {
			return nil, err
		}
		inv.UpdatedAt = s.clock.Now()

		err = s.invoices.UpdateIfVersion(ctx, s.db, inv)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, invoicedomain.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	s.log.Error("invoice write gave up",
		zap.String("invoice_id", id.String()),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// ensureCustomer returns the org's processor customer, creating it on first
// use and recording it on the organization.
func (s *Service) ensureCustomer(ctx context.Context, org *organizationdomain.Organization) (string, error) {
	if id := org.Subscription.ExternalCustomerID; id != "" {
		return id, nil
	}

	customerID, err := s.processor.CreateOrUpdateCustomer(ctx, paymentdomain.Customer{
		OrgID: org.ID,
		Name:  org.Name,
		Email: org.BillingEmail,
	})
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.loadOrg(ctx, org.ID)
		if err != nil {
			return "", err
		}
		if current.Subscription.ExternalCustomerID != "" {
			return current.Subscription.ExternalCustomerID, nil
		}
		current.Subscription.ExternalCustomerID = customerID
		current.UpdatedAt = s.clock.Now()
		err = s.orgs.UpdateIfVersion(ctx, s.db, current)
		if err == nil {
			*org = *current
			return customerID, nil
		}
		if !errors.Is(err, organizationdomain.ErrVersionConflict) {
			return "", err
		}
	}
	// the processor customer exists either way; the next call records it
	s.log.Warn("could not record processor customer", zap.String("org_id", org.ID.String()))
	return customerID, nil
}

func buildItems(lines []invoicedomain.LineItemRequest) ([]invoicedomain.InvoiceItem, int64, error) {
	if len(lines) == 0 {
		return nil, 0, invoicedomain.ErrInvalidLineItems
	}

	items := make([]invoicedomain.InvoiceItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		description := strings.TrimSpace(line.Description)
		if description == "" || line.Quantity < 1 {
			return nil, 0, invoicedomain.ErrInvalidLineItems
		}
		if line.UnitPriceCents < 0 {
			return nil, 0, invoicedomain.ErrInvalidAmount
		}
		if line.UnitPriceCents > 0 && line.Quantity > math.MaxInt64/line.UnitPriceCents {
			return nil, 0, invoicedomain.ErrInvalidAmount
		}
		total := line.Quantity * line.UnitPriceCents
		if subtotal > math.MaxInt64-total {
			return nil, 0, invoicedomain.ErrInvalidAmount
		}
		subtotal += total
		items = append(items, invoicedomain.InvoiceItem{
			Description:    description,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     total,
		})
	}
	return items, subtotal, nil
}

func normalizeKind(kind invoicedomain.Kind) (invoicedomain.Kind, error) {
	switch kind {
	case "":
		return invoicedomain.KindOneOff, nil
	case invoicedomain.KindOneOff, invoicedomain.KindSetup, invoicedomain.KindRecurring:
		return kind, nil
	default:
		return "", invoicedomain.ErrInvalidKind
	}
}

func processorLines(items []invoicedomain.InvoiceItem) []paymentdomain.InvoiceLine {
	lines := make([]paymentdomain.InvoiceLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, paymentdomain.InvoiceLine{
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return lines
}

func invoiceDescription(inv *invoicedomain.Invoice) string {
	if inv.Description == "" {
		return inv.InvoiceNumber
	}
	return inv.InvoiceNumber + " " + inv.Description
}

func voidable(status invoicedomain.InvoiceStatus) bool {
	switch status {
	case invoicedomain.InvoiceStatusDraft,
		invoicedomain.InvoiceStatusSent,
		invoicedomain.InvoiceStatusPaymentFailed,
		invoicedomain.InvoiceStatusUncollectible:
		return true
	}
	return false
}

func collectible(status invoicedomain.InvoiceStatus) bool {
	return status == invoicedomain.InvoiceStatusSent || status == invoicedomain.InvoiceStatusPaymentFailed
}
