package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/backtesting-org/sitewatch/pkg/polling"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
	"github.com/backtesting-org/sitewatch/pkg/websocket/connection"
)

// EnvPrefix is prepended to every environment override, e.g. SITEWATCH_BACKEND_BASE_URL
const EnvPrefix = "SITEWATCH"

// Config represents the application configuration
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Server    ServerConfig    `mapstructure:"server"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BackendConfig locates the monitoring backend
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	Token   string `mapstructure:"token"`
}

// SyncConfig holds the live-sync timings
type SyncConfig struct {
	Transport              string        `mapstructure:"transport" validate:"oneof=socket poll"`
	HeartbeatInterval      time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	ReconnectDelay         time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
	MaxReconnects          int           `mapstructure:"max_reconnects" validate:"min=1"`
	PollInterval           time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BackgroundPollInterval time.Duration `mapstructure:"background_poll_interval" validate:"gtefield=PollInterval"`
	FetchTimeout           time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	RetryDelay             time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	RetryAttempts          int           `mapstructure:"retry_attempts" validate:"min=1"`
	RequireSSL             bool          `mapstructure:"require_ssl"`
}

// ServerConfig represents the local dashboard API server
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `mapstructure:"read_timeout" validate:"min=1"`
	WriteTimeout    int    `mapstructure:"write_timeout" validate:"min=1"`
	CORSAllowOrigin string `mapstructure:"cors_allow_origin"`
}

// SimulatorConfig represents the backend simulator
type SimulatorConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	Sites          int           `mapstructure:"sites" validate:"min=1"`
	MutateInterval time.Duration `mapstructure:"mutate_interval" validate:"gt=0"`
	Seed           int64         `mapstructure:"seed"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path" validate:"required"`
}

// LoadConfig loads configuration from defaults, an optional file and the
// environment, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:8090")
	v.SetDefault("backend.token", "")

	v.SetDefault("sync.transport", "socket")
	v.SetDefault("sync.heartbeat_interval", 30*time.Second)
	v.SetDefault("sync.reconnect_delay", 3*time.Second)
	v.SetDefault("sync.max_reconnects", 10)
	v.SetDefault("sync.poll_interval", 30*time.Second)
	v.SetDefault("sync.background_poll_interval", 60*time.Second)
	v.SetDefault("sync.fetch_timeout", 10*time.Second)
	v.SetDefault("sync.retry_delay", 5*time.Second)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.require_ssl", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.cors_allow_origin", "*")

	v.SetDefault("simulator.host", "0.0.0.0")
	v.SetDefault("simulator.port", 8090)
	v.SetDefault("simulator.sites", 8)
	v.SetDefault("simulator.mutate_interval", 5*time.Second)
	v.SetDefault("simulator.seed", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// Validate checks struct tags and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Sync.RequireSSL && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base_url must use https when require_ssl is set")
	}

	return nil
}

// Transport returns the configured default transport
func (c *Config) Transport() subscription.Transport {
	transport, err := subscription.ParseTransport(c.Sync.Transport)
	if err != nil {
		return subscription.TransportSocket
	}
	return transport
}

// Subscription returns a subscription config for target carrying the
// configured timings. Callbacks are left to the caller.
func (c *Config) Subscription(target subscription.Target) subscription.Config {
	sub := subscription.DefaultConfig()
	sub.BaseURL = c.Backend.BaseURL
	sub.Target = target
	sub.PollInterval = c.Sync.PollInterval
	sub.BackgroundPollInterval = c.Sync.BackgroundPollInterval

	sub.Connection.HeartbeatInterval = c.Sync.HeartbeatInterval
	sub.Connection.RequireSSL = c.Sync.RequireSSL
	sub.Connection.Reconnect = connection.ReconnectPolicy{
		Interval:    c.Sync.ReconnectDelay,
		MaxAttempts: c.Sync.MaxReconnects,
		Classify:    connection.ClassifyCloseCode,
	}

	sub.Guard = polling.GuardConfig{
		Timeout:     c.Sync.FetchTimeout,
		RetryDelay:  c.Sync.RetryDelay,
		MaxAttempts: c.Sync.RetryAttempts,
	}

	return sub
}
