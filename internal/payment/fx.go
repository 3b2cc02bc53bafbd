package payment

import (
	"github.com/croftlabs/croft/internal/payment/adapters"
	"github.com/croftlabs/croft/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(adapters.NewRegistry),
	fx.Provide(webhook.NewService),
)
