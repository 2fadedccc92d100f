package payment

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/atelier/internal/config"
	"github.com/smallbiznis/atelier/internal/observability/metrics"
	"github.com/smallbiznis/atelier/internal/payment/adapters"
	"github.com/smallbiznis/atelier/internal/payment/adapters/stripe"
	"github.com/smallbiznis/atelier/internal/payment/domain"
	"github.com/smallbiznis/atelier/internal/payment/reconcile"
	"github.com/smallbiznis/atelier/internal/payment/repository"
	"github.com/smallbiznis/atelier/internal/payment/webhook"
)

type processorParams struct {
	fx.In

	Registry *adapters.Registry
	Billing  *metrics.BillingMetrics `optional:"true"`
	Log      *zap.Logger
}

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, log *zap.Logger) (*adapters.Registry, error) {
		return adapters.NewRegistry(cfg, log, stripe.NewFactory())
	}),
	fx.Provide(func(p processorParams) domain.Processor {
		return adapters.Instrument(p.Registry.Processor(), p.Billing, p.Log)
	}),
	fx.Provide(reconcile.NewReconciler),
	fx.Provide(webhook.NewService),
)
