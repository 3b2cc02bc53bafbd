package subscription

import (
	"github.com/croftlabs/croft/internal/subscription/repository"
	"github.com/croftlabs/croft/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.engine",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
