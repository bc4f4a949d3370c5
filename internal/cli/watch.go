package cli

import (
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/internal/config"
	"github.com/backtesting-org/sitewatch/internal/infrastructure"
	"github.com/backtesting-org/sitewatch/internal/services"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
	"github.com/backtesting-org/sitewatch/pkg/websocket/security"
)

// NewWatchCmd creates the watch command
func NewWatchCmd(load configLoader) *cobra.Command {
	var (
		siteID string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live site data in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			transport := cfg.Transport()
			if mode != "" {
				if transport, err = subscription.ParseTransport(mode); err != nil {
					return err
				}
			}

			// The table owns stdout
			logging := cfg.Logging
			logging.OutputPath = "stderr"
			logger, err := infrastructure.BuildLogger(logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			target := subscription.Target{Transport: transport, SiteID: siteID}
			w := newWatcher(cmd.OutOrStdout(), target, infrastructure.NewClock(), logger)

			sub, err := w.mount(cfg)
			if err != nil {
				return err
			}
			defer sub.Teardown()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Follow a single site by id")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Transport: socket or poll (defaults to sync.transport)")
	return cmd
}

// watcher folds updates into a site store and redraws on every change
type watcher struct {
	out    io.Writer
	target subscription.Target
	store  *services.SiteStore
	clock  clock.PassiveClock
	logger *zap.Logger

	mu     sync.Mutex
	status subscription.Status
}

func newWatcher(out io.Writer, target subscription.Target, clk clock.PassiveClock, logger *zap.Logger) *watcher {
	return &watcher{
		out:    out,
		target: target,
		store:  services.NewSiteStore(),
		clock:  clk,
		logger: logger,
		status: subscription.Status{Target: target},
	}
}

func (w *watcher) mount(cfg *config.Config) (*subscription.Subscription, error) {
	subConfig := cfg.Subscription(w.target)
	subConfig.OnUpdate = w.onUpdate
	subConfig.OnStatus = w.onStatus

	var provider security.AuthProvider
	if cfg.Backend.Token != "" {
		provider = security.NewStaticTokenProvider(cfg.Backend.Token)
	}

	return subscription.Mount(subConfig, subscription.Deps{
		Auth:   security.NewAuthManager(provider, w.logger),
		Logger: w.logger,
	})
}

func (w *watcher) onUpdate(update subscription.Update) {
	for _, err := range w.store.Replace(update.Records, w.clock.Now()) {
		w.logger.Warn("Skipping site record", zap.Error(err))
	}
	w.redraw()
}

func (w *watcher) onStatus(status subscription.Status) {
	w.mu.Lock()
	previous := w.status
	w.status = status
	w.mu.Unlock()

	if previous.Exhausted != status.Exhausted || previous.State != status.State || previous.Active != status.Active {
		w.redraw()
	}
}

func (w *watcher) redraw() {
	w.mu.Lock()
	status := w.status
	w.mu.Unlock()

	// Clear the screen and home the cursor
	_, _ = fmt.Fprint(w.out, "\033[H\033[2J")
	if err := RenderSites(w.out, w.store.List(), status); err != nil {
		w.logger.Error("Failed to render sites", zap.Error(err))
	}
}
