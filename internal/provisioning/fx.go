package provisioning

import (
	"github.com/croftlabs/croft/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning",
	fx.Provide(service.NewService),
)
