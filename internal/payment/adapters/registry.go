// Package adapters assembles the closed set of gateway adapters at
// startup. There is no runtime registration: the set of gateways is an
// enum, and the registry is built once from configuration.
package adapters

import (
	"fmt"

	"github.com/croftlabs/croft/internal/config"
	"github.com/croftlabs/croft/internal/payment/adapters/mercadopago"
	"github.com/croftlabs/croft/internal/payment/adapters/paddle"
	"github.com/croftlabs/croft/internal/payment/domain"
	"go.uber.org/zap"
)

type Registry struct {
	adapters map[domain.Gateway]domain.Adapter
}

// NewRegistry builds every gateway adapter up front and applies the
// webhook-secret policy once, at startup, rather than per request: a
// missing secret is a hard construction error in production, and a
// loudly-logged unverified adapter everywhere else.
func NewRegistry(cfg config.Config, log *zap.Logger) (*Registry, error) {
	log = log.Named("payment.adapters")
	registry := &Registry{adapters: map[domain.Gateway]domain.Adapter{}}

	mpOpts, err := unverifiedPolicy(cfg, log, domain.GatewayMercadoPago, cfg.MercadoPagoWebhookSecret)
	if err != nil {
		return nil, err
	}
	var mpAdapterOpts []mercadopago.Option
	if mpOpts {
		mpAdapterOpts = append(mpAdapterOpts, mercadopago.WithAllowUnverified())
	}
	registry.adapters[domain.GatewayMercadoPago] = mercadopago.New(
		cfg.MercadoPagoWebhookSecret, cfg.MercadoPagoAccessToken, mpAdapterOpts...)

	paddleOpen, err := unverifiedPolicy(cfg, log, domain.GatewayPaddle, cfg.PaddleWebhookSecret)
	if err != nil {
		return nil, err
	}
	var paddleAdapterOpts []paddle.Option
	if paddleOpen {
		paddleAdapterOpts = append(paddleAdapterOpts, paddle.WithAllowUnverified())
	}
	registry.adapters[domain.GatewayPaddle] = paddle.New(
		cfg.PaddleWebhookSecret, cfg.PaddleAPIKey, paddleAdapterOpts...)

	return registry, nil
}

func unverifiedPolicy(cfg config.Config, log *zap.Logger, gateway domain.Gateway, secret string) (bool, error) {
	if secret != "" {
		return false, nil
	}
	if cfg.IsProduction() {
		return false, fmt.Errorf("%w: %s webhook secret required in production", domain.ErrMissingSecret, gateway)
	}
	log.Warn("webhook signature verification DISABLED: no secret configured",
		zap.String("gateway", gateway.String()),
		zap.String("environment", cfg.Environment),
	)
	return true, nil
}

func (r *Registry) Adapter(gateway domain.Gateway) (domain.Adapter, error) {
	adapter, ok := r.adapters[gateway]
	if !ok {
		return nil, domain.ErrGatewayNotFound
	}
	return adapter, nil
}
