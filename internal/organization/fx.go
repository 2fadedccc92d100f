package organization

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/atelier/internal/organization/repository"
	"github.com/smallbiznis/atelier/internal/organization/service"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
