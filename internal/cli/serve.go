package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// NewServeCmd creates the serve command
func NewServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard agent and its local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			app := fx.New(App(cfg))
			if err := app.Err(); err != nil {
				return fmt.Errorf("failed to build application: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}

			<-ctx.Done()

			stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancelStop()
			return app.Stop(stopCtx)
		},
	}
}
