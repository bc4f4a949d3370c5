package infrastructure

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/internal/services"
)

// RegisterLifecycle sets up application startup and shutdown hooks
func RegisterLifecycle(
	lc fx.Lifecycle,
	server *http.Server,
	monitor *services.SiteMonitor,
	eventBus *services.EventBus,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}

			go func() {
				logger.Info("Server started", zap.String("address", listener.Addr().String()))

				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Server stopped unexpectedly", zap.Error(err))
				}
			}()

			return monitor.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
			}

			monitor.Stop()
			eventBus.Close()

			logger.Info("Server stopped")
			return nil
		},
	})
}
