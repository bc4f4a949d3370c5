package services

import (
	"go.uber.org/fx"

	"github.com/backtesting-org/sitewatch/pkg/lifecycle"
)

// Module provides application services
var Module = fx.Module("services",
	fx.Provide(
		lifecycle.NewHost,
		NewEventBus,
		NewSiteStore,
		NewSiteMonitor,
	),
)
