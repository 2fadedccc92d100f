package invoice

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/atelier/internal/invoice/render"
	"github.com/smallbiznis/atelier/internal/invoice/repository"
	"github.com/smallbiznis/atelier/internal/invoice/service"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(render.NewRenderer),
	fx.Provide(service.NewService),
)
