package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backtesting-org/sitewatch/internal/infrastructure"
	"github.com/backtesting-org/sitewatch/internal/simulator"
)

// NewSimulateCmd creates the simulate command
func NewSimulateCmd(load configLoader) *cobra.Command {
	var (
		port  int
		sites int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve a simulated monitoring backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Simulator.Port = port
			}
			if cmd.Flags().Changed("sites") {
				cfg.Simulator.Sites = sites
			}

			logger, err := infrastructure.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := simulator.NewServer(cfg.Simulator, infrastructure.NewClock(), logger)
			return server.ListenAndServe(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on")
	cmd.Flags().IntVar(&sites, "sites", 0, "Number of simulated sites")
	return cmd
}
