package pricing

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/atelier/internal/config"
	"github.com/smallbiznis/atelier/internal/pricing/domain"
	"github.com/smallbiznis/atelier/internal/pricing/service"
)

var Module = fx.Module("pricing.service",
	fx.Provide(func(holder *config.PricingConfigHolder) domain.Engine {
		return service.NewReloadingEngine(holder)
	}),
)
