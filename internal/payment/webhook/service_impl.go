// Package webhook authenticates inbound processor deliveries and hands the
// decoded events to the reconciler.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/atelier/internal/clock"
	"github.com/smallbiznis/atelier/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
	"github.com/smallbiznis/atelier/internal/payment/reconcile"
)

// Applier applies one decoded event.
type Applier interface {
	Apply(ctx context.Context, event *paymentdomain.Event) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Adapters   *adapters.Registry
	Reconciler *reconcile.Reconciler
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	adapters *adapters.Registry
	applier  Applier
}

func NewService(p Params) *Service {
	return New(p.Log, p.Clock, p.Adapters, p.Reconciler)
}

func New(log *zap.Logger, clk clock.Clock, registry *adapters.Registry, applier Applier) *Service {
	return &Service{
		log:      log.Named("payment.webhook"),
		clock:    clk,
		adapters: registry,
		applier:  applier,
	}
}

// Ingest verifies and applies one delivery. Event types outside the handled
// set are acknowledged without being recorded.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrProviderNotFound
	}
	parser, err := s.adapters.Parser(provider)
	if err != nil {
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	if err := parser.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		return err
	}

	event, err := parser.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("webhook event type ignored", zap.String("provider", provider))
			return nil
		}
		return err
	}

	event.Provider = provider
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.clock.Now()
	}
	return s.applier.Apply(ctx, event)
}
