package quote

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/atelier/internal/quote/repository"
	"github.com/smallbiznis/atelier/internal/quote/service"
)

var Module = fx.Module("quote.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
