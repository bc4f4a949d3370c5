package infrastructure

import (
	"go.uber.org/fx"
)

// Module provides infrastructure components (logging, clock, metrics, lifecycle)
var Module = fx.Module("infrastructure",
	fx.Provide(
		NewLogger,
		NewClock,
		NewRegistry,
		NewCollector,
	),
	fx.Invoke(RegisterLifecycle),
)
