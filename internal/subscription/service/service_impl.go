package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/config"
	"github.com/smallbiznis/atelier/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
	quotedomain "github.com/smallbiznis/atelier/internal/quote/domain"
	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
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
	Quotes    quotedomain.Repository
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
	quotes    quotedomain.Repository
	metrics   *metrics.Metrics

	defaultTrialDays int
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		engine:    p.Engine,
		processor: p.Processor,
		orgs:      p.Orgs,
		quotes:    p.Quotes,
		metrics:   m,

		defaultTrialDays: p.Config.Billing.DefaultTrialDays,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (state subscriptiondomain.BillingState, err error) {
	defer func() { s.metrics.RecordSubscriptionOperation(ctx, "create", err) }()

	quote, err := s.quote(req.Features)
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}

	trialDays := s.defaultTrialDays
	if req.TrialDays != nil {
		trialDays = *req.TrialDays
	}
	if trialDays < 0 {
		return subscriptiondomain.BillingState{}, subscriptiondomain.ErrInvalidTrialDays
	}

	org, err := s.loadOrg(ctx, req.OrgID)
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}
	if org.Subscription.IsLive() {
		return subscriptiondomain.BillingState{}, subscriptiondomain.ErrSubscriptionExists
	}

	customerID, err := s.processor.CreateOrUpdateCustomer(ctx, paymentdomain.Customer{
		OrgID:      org.ID,
		Name:       org.Name,
		Email:      org.BillingEmail,
		ExternalID: org.Subscription.ExternalCustomerID,
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, fmt.Errorf("%w: %w", subscriptiondomain.ErrPaymentSetup, err)
	}

	ext, err := s.processor.CreateSubscription(ctx, paymentdomain.SubscriptionRequest{
		OrgID:              org.ID,
		ExternalCustomerID: customerID,
		Currency:           quote.Currency,
		RecurringLines:     monthlyLines(quote, nil),
		SetupLines:         setupLines(quote, nil),
		TrialDays:          trialDays,
		IdempotencyKey:     newIdempotencyKey(),
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, fmt.Errorf("%w: %w", subscriptiondomain.ErrPaymentSetup, err)
	}

	status := subscriptiondomain.StatusIncomplete
	if ext.Status == string(subscriptiondomain.StatusTrialing) || trialDays > 0 {
		status = subscriptiondomain.StatusTrialing
	}

	updated, err := s.writeBack(ctx, org.ID, func(o *organizationdomain.Organization) {
		sub := &o.Subscription
		// a webhook for this subscription may already have landed
		alreadyReconciled := sub.ExternalSubscriptionID == ext.ID && sub.LastEventAt != nil

		sub.ExternalCustomerID = customerID
		sub.ExternalSubscriptionID = ext.ID
		applyQuote(sub, quote)
		sub.SetupPaid = false
		if alreadyReconciled {
			return
		}
		sub.SetStatus(status)
		sub.CurrentPeriodStart = ext.CurrentPeriodStart
		sub.CurrentPeriodEnd = ext.CurrentPeriodEnd
		sub.TrialStart = ext.TrialStart
		sub.TrialEnd = ext.TrialEnd
		sub.CancelAtPeriodEnd = ext.CancelAtPeriodEnd
		sub.CanceledAt = nil
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}

	s.recordQuote(ctx, org.ID, quote)
	s.log.Info("subscription created",
		zap.String("org_id", org.ID.String()),
		zap.String("external_subscription_id", ext.ID),
		zap.String("status", string(updated.Subscription.Status)),
		zap.Int64("setup_total", quote.SetupTotal),
		zap.Int64("monthly_total", quote.MonthlyTotal),
	)
	return updated.Subscription, nil
}

func (s *Service) ChangeFeatures(ctx context.Context, orgID snowflake.ID, features []string) (state subscriptiondomain.BillingState, err error) {
	quote, err := s.quote(features)
	if err != nil {
		s.metrics.RecordSubscriptionOperation(ctx, "change_features", err)
		return subscriptiondomain.BillingState{}, err
	}

	org, err := s.loadOrg(ctx, orgID)
	if err != nil {
		s.metrics.RecordSubscriptionOperation(ctx, "change_features", err)
		return subscriptiondomain.BillingState{}, err
	}
	if !org.Subscription.IsLive() {
		return s.Create(ctx, subscriptiondomain.CreateRequest{OrgID: orgID, Features: features})
	}
	defer func() { s.metrics.RecordSubscriptionOperation(ctx, "change_features", err) }()

	current := make(map[pricingdomain.Capability]struct{}, len(org.Subscription.Features))
	for _, f := range org.Subscription.Features {
		current[pricingdomain.NormalizeCapability(f)] = struct{}{}
	}

	externalID := org.Subscription.ExternalSubscriptionID
	_, err = s.processor.UpdateSubscription(ctx, paymentdomain.SubscriptionUpdate{
		OrgID:                  org.ID,
		ExternalSubscriptionID: externalID,
		Currency:               quote.Currency,
		RecurringLines:         monthlyLines(quote, nil),
		SetupLines:             setupLines(quote, current),
		Prorate:                true,
		IdempotencyKey:         newIdempotencyKey(),
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, fmt.Errorf("%w: %w", subscriptiondomain.ErrPaymentSetup, err)
	}

	updated, err := s.writeBack(ctx, org.ID, func(o *organizationdomain.Organization) {
		applyQuote(&o.Subscription, quote)
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}

	s.recordQuote(ctx, org.ID, quote)
	s.log.Info("subscription features changed",
		zap.String("org_id", org.ID.String()),
		zap.String("external_subscription_id", externalID),
		zap.Strings("features", updated.Subscription.Features),
	)
	return updated.Subscription, nil
}

func (s *Service) Cancel(ctx context.Context, orgID snowflake.ID, immediate bool) (state subscriptiondomain.BillingState, err error) {
	defer func() { s.metrics.RecordSubscriptionOperation(ctx, "cancel", err) }()

	org, err := s.loadLive(ctx, orgID)
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}
	if immediate && !subscriptiondomain.CanTransition(org.Subscription.Status, subscriptiondomain.StatusCanceled, subscriptiondomain.TriggerAdmin) {
		return subscriptiondomain.BillingState{}, subscriptiondomain.ErrInvalidTransition
	}

	ext, err := s.processor.CancelSubscription(ctx, org.Subscription.ExternalSubscriptionID, immediate)
	if err != nil {
		return subscriptiondomain.BillingState{}, fmt.Errorf("%w: %w", subscriptiondomain.ErrProcessorCall, err)
	}

	now := s.clock.Now()
	updated, err := s.writeBack(ctx, org.ID, func(o *organizationdomain.Organization) {
		sub := &o.Subscription
		if !immediate {
			sub.CancelAtPeriodEnd = true
			return
		}
		canceledAt := ext.CanceledAt
		if canceledAt == nil {
			canceledAt = &now
		}
		sub.SetStatus(subscriptiondomain.StatusCanceled)
		sub.CanceledAt = canceledAt
		sub.CancelAtPeriodEnd = false
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}

	s.log.Info("subscription canceled",
		zap.String("org_id", org.ID.String()),
		zap.Bool("immediate", immediate),
	)
	return updated.Subscription, nil
}

func (s *Service) Reactivate(ctx context.Context, orgID snowflake.ID) (state subscriptiondomain.BillingState, err error) {
	defer func() { s.metrics.RecordSubscriptionOperation(ctx, "reactivate", err) }()

	org, err := s.loadOrg(ctx, orgID)
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}
	sub := org.Subscription
	if sub.ExternalSubscriptionID == "" {
		return subscriptiondomain.BillingState{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !reactivatable(sub, s.clock.Now()) {
		return subscriptiondomain.BillingState{}, subscriptiondomain.ErrNotReactivatable
	}

	if _, err := s.processor.ReactivateSubscription(ctx, sub.ExternalSubscriptionID); err != nil {
		return subscriptiondomain.BillingState{}, fmt.Errorf("%w: %w", subscriptiondomain.ErrProcessorCall, err)
	}

	updated, err := s.writeBack(ctx, org.ID, func(o *organizationdomain.Organization) {
		o.Subscription.CancelAtPeriodEnd = false
		if o.Subscription.Status == subscriptiondomain.StatusCanceled {
			o.Subscription.SetStatus(subscriptiondomain.StatusActive)
			o.Subscription.CanceledAt = nil
		}
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}

	s.log.Info("subscription reactivated", zap.String("org_id", org.ID.String()))
	return updated.Subscription, nil
}

// reactivatable allows undoing a scheduled cancellation while the period runs.
func reactivatable(sub subscriptiondomain.BillingState, now time.Time) bool {
	if !sub.CancelAtPeriodEnd || sub.CurrentPeriodEnd == nil {
		return false
	}
	if !now.Before(*sub.CurrentPeriodEnd) {
		return false
	}
	if sub.Status == subscriptiondomain.StatusCanceled {
		return subscriptiondomain.CanTransition(sub.Status, subscriptiondomain.StatusActive, subscriptiondomain.TriggerReactivate)
	}
	return true
}

func (s *Service) Pause(ctx context.Context, orgID snowflake.ID) (state subscriptiondomain.BillingState, err error) {
	defer func() { s.metrics.RecordSubscriptionOperation(ctx, "pause", err) }()

	org, err := s.loadLive(ctx, orgID)
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}
	if org.Subscription.Status == subscriptiondomain.StatusPaused ||
		!subscriptiondomain.CanTransition(org.Subscription.Status, subscriptiondomain.StatusPaused, subscriptiondomain.TriggerAdmin) {
		return subscriptiondomain.BillingState{}, subscriptiondomain.ErrInvalidTransition
	}

	if _, err := s.processor.PauseSubscription(ctx, org.Subscription.ExternalSubscriptionID); err != nil {
		return subscriptiondomain.BillingState{}, fmt.Errorf("%w: %w", subscriptiondomain.ErrProcessorCall, err)
	}

	updated, err := s.writeBack(ctx, org.ID, func(o *organizationdomain.Organization) {
		o.Subscription.SetStatus(subscriptiondomain.StatusPaused)
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}

	s.log.Info("subscription paused", zap.String("org_id", org.ID.String()))
	return updated.Subscription, nil
}

func (s *Service) Resume(ctx context.Context, orgID snowflake.ID) (state subscriptiondomain.BillingState, err error) {
	defer func() { s.metrics.RecordSubscriptionOperation(ctx, "resume", err) }()

	org, err := s.loadLive(ctx, orgID)
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}
	if org.Subscription.Status != subscriptiondomain.StatusPaused {
		return subscriptiondomain.BillingState{}, subscriptiondomain.ErrInvalidTransition
	}

	ext, err := s.processor.ResumeSubscription(ctx, org.Subscription.ExternalSubscriptionID)
	if err != nil {
		return subscriptiondomain.BillingState{}, fmt.Errorf("%w: %w", subscriptiondomain.ErrProcessorCall, err)
	}

	next, ok := subscriptiondomain.FromProcessorStatus(ext.Status)
	if !ok || next == subscriptiondomain.StatusPaused ||
		!subscriptiondomain.CanTransition(subscriptiondomain.StatusPaused, next, subscriptiondomain.TriggerAdmin) {
		next = subscriptiondomain.StatusActive
	}

	updated, err := s.writeBack(ctx, org.ID, func(o *organizationdomain.Organization) {
		if o.Subscription.Status == subscriptiondomain.StatusPaused {
			o.Subscription.SetStatus(next)
		}
	})
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}

	s.log.Info("subscription resumed",
		zap.String("org_id", org.ID.String()),
		zap.String("status", string(updated.Subscription.Status)),
	)
	return updated.Subscription, nil
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID) (subscriptiondomain.BillingState, error) {
	org, err := s.loadOrg(ctx, orgID)
	if err != nil {
		return subscriptiondomain.BillingState{}, err
	}
	return org.Subscription, nil
}

func (s *Service) quote(features []string) (pricingdomain.Quote, error) {
	quote, err := s.engine.ComputeQuote(pricingdomain.ParseCapabilities(features))
	if err != nil {
		return pricingdomain.Quote{}, err
	}
	if len(quote.Capabilities) == 0 {
		return pricingdomain.Quote{}, subscriptiondomain.ErrNoBillableFeatures
	}
	return quote, nil
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

func (s *Service) loadLive(ctx context.Context, orgID snowflake.ID) (*organizationdomain.Organization, error) {
	org, err := s.loadOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !org.Subscription.IsLive() {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return org, nil
}

// writeBack applies the confirmed processor result to a fresh copy of the
// organization, retrying when a concurrent webhook bumped the version.
func (s *Service) writeBack(ctx context.Context, orgID snowflake.ID, apply func(o *organizationdomain.Organization)) (*organizationdomain.Organization, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		org, err := s.loadOrg(ctx, orgID)
		if err != nil {
			return nil, err
		}
		apply(org)
		org.UpdatedAt = s.clock.Now()

		err = s.orgs.UpdateIfVersion(ctx, s.db, org)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, organizationdomain.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	s.log.Error("subscription write-back gave up",
		zap.String("org_id", orgID.String()),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

func (s *Service) recordQuote(ctx context.Context, orgID snowflake.ID, quote pricingdomain.Quote) {
	now := s.clock.Now()
	record, err := quotedomain.NewRecord(s.genID.Generate(), quotedomain.SubjectOrganization, orgID, quote, now)
	if err == nil {
		record.Status = quotedomain.StatusApproved
		record.ApprovedAt = &now
		err = s.quotes.Save(ctx, &record)
	}
	if err != nil {
		// the subscription is already live at the processor; the quote is an audit trail
		s.log.Warn("failed to store approved quote", zap.String("org_id", orgID.String()), zap.Error(err))
	}
}

func applyQuote(sub *subscriptiondomain.BillingState, quote pricingdomain.Quote) {
	features := pricingdomain.Strings(quote.Capabilities)
	sub.Features = features
	sub.Plan = planName(features)
	sub.SetupTotal = quote.SetupTotal
	sub.MonthlyTotal = quote.MonthlyTotal
}

func planName(features []string) string {
	return strings.Join(features, "+")
}

func monthlyLines(quote pricingdomain.Quote, skip map[pricingdomain.Capability]struct{}) []paymentdomain.PriceLine {
	lines := make([]paymentdomain.PriceLine, 0, len(quote.Breakdown))
	for _, line := range quote.Lines() {
		if _, ok := skip[line.Capability]; ok || line.Monthly <= 0 {
			continue
		}
		lines = append(lines, paymentdomain.PriceLine{
			Key:         string(line.Capability),
			Description: string(line.Capability) + " (monthly)",
			AmountCents: line.Monthly,
		})
	}
	return lines
}

// setupLines charges setup once per capability; already owned ones are skipped.
func setupLines(quote pricingdomain.Quote, owned map[pricingdomain.Capability]struct{}) []paymentdomain.PriceLine {
	lines := make([]paymentdomain.PriceLine, 0, len(quote.Breakdown))
	for _, line := range quote.Lines() {
		if _, ok := owned[line.Capability]; ok || line.Setup <= 0 {
			continue
		}
		lines = append(lines, paymentdomain.PriceLine{
			Key:         string(line.Capability),
			Description: string(line.Capability) + " (setup)",
			AmountCents: line.Setup,
		})
	}
	return lines
}

func newIdempotencyKey() string {
	return ulid.Make().String()
}
