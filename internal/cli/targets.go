package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/backtesting-org/sitewatch/internal/config"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
)

// Endpoint is one backend endpoint a view can subscribe to
type Endpoint struct {
	View      string `json:"view"`
	Transport string `json:"transport"`
	Path      string `json:"path"`
	URL       string `json:"url"`
}

// Endpoints lists the backend endpoints for the overview and, if siteID is
// set, for that site's detail view.
func Endpoints(cfg *config.Config, siteID string) ([]Endpoint, error) {
	targets := []subscription.Target{subscription.SitesSocket(), subscription.SitesPoll()}
	if siteID != "" {
		targets = append(targets, subscription.SiteSocket(siteID), subscription.SitePoll(siteID))
	}

	endpoints := make([]Endpoint, 0, len(targets))
	for _, target := range targets {
		view := "sites"
		if target.SingleSite() {
			view = "site:" + target.SiteID
		}

		url := strings.TrimRight(cfg.Backend.BaseURL, "/") + target.Path()
		if target.Transport == subscription.TransportSocket {
			var err error
			if url, err = target.SocketURL(cfg.Backend.BaseURL); err != nil {
				return nil, err
			}
		}

		endpoints = append(endpoints, Endpoint{
			View:      view,
			Transport: target.Transport.String(),
			Path:      target.Path(),
			URL:       url,
		})
	}
	return endpoints, nil
}

// NewTargetsCmd creates a command that prints the backend endpoints in use
func NewTargetsCmd(load configLoader) *cobra.Command {
	var (
		siteID     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the backend endpoints the dashboard subscribes to",
		Long: `List the backend endpoints the dashboard subscribes to.

By default, outputs a table.
Use --json flag for machine-readable JSON output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			endpoints, err := Endpoints(cfg, siteID)
			if err != nil {
				return err
			}

			if jsonOutput {
				output, err := json.MarshalIndent(endpoints, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal endpoints: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}
			return printEndpoints(cmd.OutOrStdout(), endpoints)
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Include the endpoints of one site")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func printEndpoints(w io.Writer, endpoints []Endpoint) error {
	table := tablewriter.NewWriter(w)
	table.Header("View", "Transport", "URL")
	for _, endpoint := range endpoints {
		if err := table.Append([]string{endpoint.View, endpoint.Transport, endpoint.URL}); err != nil {
			return err
		}
	}
	return table.Render()
}
