package cli

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/internal/api"
	"github.com/backtesting-org/sitewatch/internal/config"
	"github.com/backtesting-org/sitewatch/internal/infrastructure"
	"github.com/backtesting-org/sitewatch/internal/services"
)

// App assembles the dashboard agent served by the serve command
func App(cfg *config.Config) fx.Option {
	return fx.Options(
		config.Module(cfg),
		infrastructure.Module,
		services.Module,
		api.Module,
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
}
