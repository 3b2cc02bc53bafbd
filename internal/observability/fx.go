package observability

import (
	"github.com/croftlabs/croft/internal/config"
	"github.com/croftlabs/croft/internal/observability/logger"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideLoggerConfig,
		logger.New,
	),
)

func provideLoggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName:   cfg.AppName,
		Environment:   cfg.Environment,
		Version:       cfg.AppVersion,
		Level:         "info",
		Format:        "json",
		IncludeCaller: true,
	}
}
