package subscription

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/pkg/lifecycle"
	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/websocket/base"
	"github.com/backtesting-org/sitewatch/pkg/websocket/connection"
	"github.com/backtesting-org/sitewatch/pkg/websocket/performance"
	"github.com/backtesting-org/sitewatch/pkg/websocket/security"
)

// BackgroundPolicy decides what a subscription does while the host app is backgrounded
type BackgroundPolicy int

const (
	// BackgroundDefault holds poll targets and releases socket targets
	BackgroundDefault BackgroundPolicy = iota
	// BackgroundHold keeps the transport running
	BackgroundHold
	// BackgroundRelease stops the transport until the app returns
	BackgroundRelease
)

// Update is delivered to the subscriber for every applied payload
type Update struct {
	Target Target

	// Records is the full last-known-good set after the payload was applied
	Records []base.Record

	// Changed holds the resulting versions of the records the payload touched
	Changed []base.Record
}

type Config struct {
	BaseURL string
	Target  Target

	// Unfocused mounts the subscription without subscriber focus; it stays
	// idle until SetFocused(true).
	Unfocused bool

	Background             BackgroundPolicy
	PollInterval           time.Duration
	BackgroundPollInterval time.Duration

	// Connection is used for socket targets. URL is derived from BaseURL and Target.
	Connection connection.Config
	Guard      polling.GuardConfig

	OnUpdate func(Update)
	OnStatus func(Status)
}

func DefaultConfig() Config {
	return Config{
		PollInterval:           30 * time.Second,
		BackgroundPollInterval: 60 * time.Second,
		Connection:             connection.DefaultConfig(),
		Guard:                  polling.DefaultGuardConfig(),
	}
}

func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.BackgroundPollInterval <= 0 {
		c.BackgroundPollInterval = defaults.BackgroundPollInterval
	}
	c.Connection.ApplyDefaults()
	c.Guard.ApplyDefaults()
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.OnUpdate == nil {
		return fmt.Errorf("update callback is required")
	}
	if c.BackgroundPollInterval < c.PollInterval {
		return fmt.Errorf("background poll interval %s is shorter than poll interval %s",
			c.BackgroundPollInterval, c.PollInterval)
	}

	if c.Target.Transport == TransportSocket {
		url, err := c.Target.SocketURL(c.BaseURL)
		if err != nil {
			return err
		}
		c.Connection.URL = url
		if err := c.Connection.Validate(); err != nil {
			return fmt.Errorf("invalid connection config: %w", err)
		}
	}

	return nil
}

func (c *Config) holdInBackground() bool {
	switch c.Background {
	case BackgroundHold:
		return true
	case BackgroundRelease:
		return false
	default:
		return c.Target.Transport == TransportPoll
	}
}

func (c *Config) interval(background bool) time.Duration {
	if background {
		return c.BackgroundPollInterval
	}
	return c.PollInterval
}

// Deps are the collaborators a subscription is built from. Every field is optional.
type Deps struct {
	Host    *lifecycle.Host
	Dialer  connection.WebSocketDialer
	Fetcher polling.Fetcher
	Auth    security.AuthManager
	Metrics performance.Metrics
	Clock   clock.WithTicker
	Logger  *zap.Logger
}

func (d *Deps) applyDefaults(baseURL string) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	if d.Metrics == nil {
		d.Metrics = performance.NoopMetrics()
	}
	if d.Auth == nil {
		d.Auth = security.NewAuthManager(nil, d.Logger)
	}
	if d.Fetcher == nil {
		d.Fetcher = polling.NewHTTPFetcher(baseURL, nil, d.Auth, nil, d.Logger)
	}
}
