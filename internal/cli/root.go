package cli

import (
	"github.com/spf13/cobra"

	"github.com/backtesting-org/sitewatch/internal/config"
)

// NewRootCmd creates the sitewatch command tree
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "sitewatch",
		Short:         "Live site data for the wastewater monitoring dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file (yaml, json or toml)")

	load := func() (*config.Config, error) {
		return config.LoadConfig(configPath)
	}

	rootCmd.AddCommand(
		NewServeCmd(load),
		NewWatchCmd(load),
		NewSimulateCmd(load),
		NewTargetsCmd(load),
	)
	return rootCmd
}

type configLoader func() (*config.Config, error)
