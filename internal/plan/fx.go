package plan

import (
	"github.com/croftlabs/croft/internal/plan/repository"
	"github.com/croftlabs/croft/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.catalog",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
