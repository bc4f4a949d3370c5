package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/internal/config"
	"github.com/backtesting-org/sitewatch/pkg/lifecycle"
	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
	"github.com/backtesting-org/sitewatch/pkg/websocket/performance"
	"github.com/backtesting-org/sitewatch/pkg/websocket/security"
)

// ViewSites is the overview of every site. Detail views are named site:<id>.
const ViewSites = "sites"

const siteViewPrefix = "site:"

var (
	ErrUnknownView       = errors.New("unknown view")
	ErrViewNotMounted    = errors.New("view is not mounted")
	ErrMonitorNotRunning = errors.New("site monitor is not running")
)

// SiteView returns the detail view name for a site
func SiteView(id string) string {
	return siteViewPrefix + id
}

// ParseView maps a view name to the target it subscribes to
func ParseView(view string, transport subscription.Transport) (subscription.Target, error) {
	if view == ViewSites {
		return subscription.Target{Transport: transport}, nil
	}
	if id, ok := strings.CutPrefix(view, siteViewPrefix); ok && strings.TrimSpace(id) != "" {
		return subscription.Target{Transport: transport, SiteID: strings.TrimSpace(id)}, nil
	}
	return subscription.Target{}, fmt.Errorf("%w: %q", ErrUnknownView, view)
}

// ViewStatus is the serializable status of one mounted view
type ViewStatus struct {
	View        string     `json:"view"`
	Target      string     `json:"target"`
	Focused     bool       `json:"focused"`
	Active      bool       `json:"active"`
	Background  bool       `json:"background"`
	State       string     `json:"state,omitempty"`
	Attempts    int        `json:"attempts"`
	Exhausted   bool       `json:"exhausted"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Records     int        `json:"records"`
}

func newViewStatus(view string, focused bool, st subscription.Status) ViewStatus {
	vs := ViewStatus{
		View:       view,
		Target:     st.Target.String(),
		Focused:    focused,
		Active:     st.Active,
		Background: st.Background,
		Attempts:   st.Attempts,
		Exhausted:  st.Exhausted,
		Records:    st.Records,
	}
	if st.Target.Transport == subscription.TransportSocket {
		vs.State = st.State.String()
	}
	if !st.LastUpdated.IsZero() {
		updated := st.LastUpdated
		vs.LastUpdated = &updated
	}
	if st.LastError != nil {
		vs.LastError = st.LastError.Error()
	}
	return vs
}

type mountedView struct {
	name    string
	sub     *subscription.Subscription
	focused atomic.Bool
}

func (mv *mountedView) status() ViewStatus {
	return newViewStatus(mv.name, mv.focused.Load(), mv.sub.Status())
}

// SiteMonitor keeps one subscription per mounted dashboard view, folds the
// payloads into the site store and publishes the changes on the event bus.
type SiteMonitor struct {
	cfg       *config.Config
	host      *lifecycle.Host
	store     *SiteStore
	bus       *EventBus
	collector *performance.Collector
	clock     clock.WithTicker
	auth      security.AuthManager
	logger    *zap.Logger

	mu         sync.Mutex
	views      map[string]*mountedView
	running    bool
	removeHost func()
}

// NewSiteMonitor creates a monitor. collector may be nil.
func NewSiteMonitor(
	cfg *config.Config,
	host *lifecycle.Host,
	store *SiteStore,
	bus *EventBus,
	collector *performance.Collector,
	clk clock.WithTicker,
	logger *zap.Logger,
) *SiteMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	var provider security.AuthProvider
	if cfg.Backend.Token != "" {
		provider = security.NewStaticTokenProvider(cfg.Backend.Token)
	}
	auth := security.NewAuthManager(provider, logger)

	return &SiteMonitor{
		cfg:       cfg,
		host:      host,
		store:     store,
		bus:       bus,
		collector: collector,
		clock:     clk,
		auth:      auth,
		logger:    logger.Named("monitor"),
		views:     make(map[string]*mountedView),
	}
}

// Start mounts the overview and begins forwarding host state changes
func (m *SiteMonitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.removeHost = m.host.AddHandler(m.appStateChanged)

	if _, err := m.mountLocked(ViewSites); err != nil {
		m.running = false
		m.removeHost()
		m.removeHost = nil
		return err
	}

	m.logger.Info("Site monitor started",
		zap.String("backend", m.cfg.Backend.BaseURL),
		zap.Stringer("transport", m.cfg.Transport()))
	return nil
}

// Stop tears down every view
func (m *SiteMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	views := m.views
	m.views = make(map[string]*mountedView)
	remove := m.removeHost
	m.removeHost = nil
	m.mu.Unlock()

	if remove != nil {
		remove()
	}
	for _, v := range views {
		v.sub.Teardown()
	}
	m.logger.Info("Site monitor stopped", zap.Int("views", len(views)))
}

// Host returns the app lifecycle source the views observe
func (m *SiteMonitor) Host() *lifecycle.Host {
	return m.host
}

// SetAppState forwards a host state transition
func (m *SiteMonitor) SetAppState(state string) error {
	parsed, err := lifecycle.ParseAppState(state)
	if err != nil {
		return err
	}
	return m.host.Update(parsed)
}

// Focus records whether a view is on screen. Focusing a view that is not
// mounted mounts it.
func (m *SiteMonitor) Focus(view string, focused bool) (ViewStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ViewStatus{}, ErrMonitorNotRunning
	}

	mv, ok := m.views[view]
	if !ok {
		if !focused {
			return ViewStatus{}, fmt.Errorf("%w: %s", ErrViewNotMounted, view)
		}
		var err error
		if mv, err = m.mountLocked(view); err != nil {
			return ViewStatus{}, err
		}
	}

	mv.focused.Store(focused)
	mv.sub.SetFocused(focused)
	return mv.status(), nil
}

// Unmount tears a view down
func (m *SiteMonitor) Unmount(view string) error {
	m.mu.Lock()
	mv, ok := m.views[view]
	if ok {
		delete(m.views, view)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrViewNotMounted, view)
	}
	mv.sub.Teardown()
	return nil
}

// Refresh asks a mounted view to fetch or request fresh data now
func (m *SiteMonitor) Refresh(view string) error {
	m.mu.Lock()
	mv, ok := m.views[view]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrViewNotMounted, view)
	}
	return mv.sub.Refresh()
}

// Statuses returns the status of every mounted view ordered by name
func (m *SiteMonitor) Statuses() []ViewStatus {
	m.mu.Lock()
	views := make([]*mountedView, 0, len(m.views))
	for _, mv := range m.views {
		views = append(views, mv)
	}
	m.mu.Unlock()

	statuses := make([]ViewStatus, 0, len(views))
	for _, mv := range views {
		statuses = append(statuses, mv.status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].View < statuses[j].View })
	return statuses
}

func (m *SiteMonitor) Sites() []Site {
	return m.store.List()
}

func (m *SiteMonitor) Site(id string) (Site, bool) {
	return m.store.Get(id)
}

// mountLocked subscribes view. Callbacks must not take m.mu: Teardown waits
// for them to return.
func (m *SiteMonitor) mountLocked(view string) (*mountedView, error) {
	target, err := ParseView(view, m.cfg.Transport())
	if err != nil {
		return nil, err
	}

	mv := &mountedView{name: view}
	mv.focused.Store(true)

	config := m.cfg.Subscription(target)
	config.OnUpdate = func(update subscription.Update) {
		m.applyUpdate(view, update)
	}
	config.OnStatus = func(status subscription.Status) {
		m.bus.Publish(Event{
			Type: EventStatusChanged,
			View: view,
			Data: map[string]interface{}{"status": newViewStatus(view, mv.focused.Load(), status)},
		})
	}

	var metrics performance.Metrics
	if m.collector != nil {
		metrics = m.collector.ForTarget(target.String())
	}

	// Each view trips its own breaker.
	fetcher := polling.NewHTTPFetcher(m.cfg.Backend.BaseURL, nil, m.auth,
		polling.NewBreaker(target.String(), m.logger), m.logger)

	sub, err := subscription.Mount(config, subscription.Deps{
		Host:    m.host,
		Fetcher: fetcher,
		Auth:    m.auth,
		Metrics: metrics,
		Clock:   m.clock,
		Logger:  m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mount view %s: %w", view, err)
	}

	mv.sub = sub
	m.views[view] = mv
	m.logger.Info("View mounted", zap.String("view", view), zap.Stringer("target", target))
	return mv, nil
}

func (m *SiteMonitor) applyUpdate(view string, update subscription.Update) {
	now := m.clock.Now()

	if !update.Target.SingleSite() {
		for _, err := range m.store.Replace(update.Records, now) {
			m.logger.Warn("Skipping site record", zap.String("view", view), zap.Error(err))
		}
		m.bus.Publish(Event{
			Type: EventSitesUpdated,
			View: view,
			Data: map[string]interface{}{"sites": m.store.List()},
		})
		return
	}

	for _, err := range m.store.Upsert(update.Records, now) {
		m.logger.Warn("Skipping site record", zap.String("view", view), zap.Error(err))
	}
	if site, ok := m.store.Get(update.Target.SiteID); ok {
		m.bus.Publish(Event{
			Type: EventSiteUpdated,
			View: view,
			Data: map[string]interface{}{"site": site},
		})
	}
}

func (m *SiteMonitor) appStateChanged(state lifecycle.AppState) {
	m.bus.Publish(Event{
		Type: EventAppStateChanged,
		Data: map[string]interface{}{
			"state":      state.String(),
			"foreground": state.Foreground(),
		},
	})
}

// Degraded reports whether some view has stopped receiving live updates for good
func (m *SiteMonitor) Degraded() bool {
	for _, st := range m.Statuses() {
		if st.Exhausted {
			return true
		}
	}
	return false
}
