package config

import "go.uber.org/fx"

// Module supplies an already loaded configuration to the application graph
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
