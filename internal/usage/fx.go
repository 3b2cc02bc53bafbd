package usage

import (
	"github.com/croftlabs/croft/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.meter",
	fx.Provide(service.NewService),
)
