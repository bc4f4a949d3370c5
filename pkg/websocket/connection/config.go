package connection

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds WebSocket connection configuration
type Config struct {
	// Connection settings
	URL              string        `json:"url" validate:"required,url"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// Buffer settings
	ReadBufferSize  int   `json:"read_buffer_size"`
	WriteBufferSize int   `json:"write_buffer_size"`
	MaxMessageSize  int64 `json:"max_message_size"`

	// Timing settings
	WriteTimeout      time.Duration `json:"write_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// Reconnection settings
	Reconnect ReconnectPolicy `json:"-"`

	// Security settings
	RequireSSL bool `json:"require_ssl"`

	// Rate limiting for subscriber-initiated frames
	RateLimitCapacity int           `json:"rate_limit_capacity"`
	RateLimitRefill   time.Duration `json:"rate_limit_refill"`

	EnableCompression bool `json:"enable_compression"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		MaxMessageSize:    1024 * 1024, // 1MB
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		Reconnect:         DefaultReconnectPolicy(),
		RequireSSL:        false,
		RateLimitCapacity: 20,
		RateLimitRefill:   2 * time.Second,
		EnableCompression: false,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	switch u.Scheme {
	case "wss":
	case "ws":
		if c.RequireSSL {
			return fmt.Errorf("insecure WebSocket scheme: %s (must be wss)", u.Scheme)
		}
	default:
		return fmt.Errorf("unsupported WebSocket scheme: %q", u.Scheme)
	}

	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}

	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive")
	}

	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("write buffer size must be positive")
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive")
	}

	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}

	return c.Reconnect.Validate()
}

// ApplyDefaults fills in missing values with defaults
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.RateLimitCapacity == 0 {
		c.RateLimitCapacity = defaults.RateLimitCapacity
	}
	if c.RateLimitRefill == 0 {
		c.RateLimitRefill = defaults.RateLimitRefill
	}

	c.Reconnect.ApplyDefaults()
}

// TestConfig returns a configuration suitable for testing
func TestConfig(url string) Config {
	config := DefaultConfig()
	config.URL = url
	config.HandshakeTimeout = 2 * time.Second
	config.WriteTimeout = time.Second
	return config
}
