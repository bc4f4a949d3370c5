package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/internal/api/handlers"
	"github.com/backtesting-org/sitewatch/internal/api/websocket"
	"github.com/backtesting-org/sitewatch/internal/config"
)

// Module provides HTTP API components (handlers, routes, server)
var Module = fx.Module("api",
	fx.Provide(
		handlers.NewDashboardHandler,
		websocket.NewHandler,
		NewRouter,
		NewHTTPServer,
	),
	fx.Invoke(
		func(lc fx.Lifecycle, wsHandler *websocket.Handler) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					wsHandler.StartEventListener()
					return nil
				},
				OnStop: func(context.Context) error {
					wsHandler.Close()
					return nil
				},
			})
		},
	),
)

// NewRouter builds the gin engine from the server config
func NewRouter(
	cfg *config.Config,
	dashboardHandler *handlers.DashboardHandler,
	wsHandler *websocket.Handler,
	registry *prometheus.Registry,
	clk clock.WithTicker,
	logger *zap.Logger,
) *gin.Engine {
	return SetupRouter(dashboardHandler, wsHandler, registry, logger.Named("http"), cfg.Server.CORSAllowOrigin, clk)
}

// NewHTTPServer creates the dashboard API server. It is started by the
// infrastructure lifecycle hooks.
func NewHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
}
