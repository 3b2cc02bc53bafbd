package tenant

import (
	"github.com/croftlabs/croft/internal/tenant/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.store",
	fx.Provide(repository.Provide),
)
