package providers

import (
	"github.com/croftlabs/croft/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
)
