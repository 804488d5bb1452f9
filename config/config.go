// Package config loads ssectl settings from a YAML file and SSECTL_* environment variables.
package config

import (
	"time"

	"go.uber.org/zap"

	"sse-rpc/client"
	"sse-rpc/loadbalance"
	"sse-rpc/middleware"
)

const defaultRetryBaseDelay = 100 * time.Millisecond

// Config is the top-level configuration.
type Config struct {
	// Server selects what to connect to: a stream URL, or a service name
	// resolved through the registry.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts" mapstructure:"timeouts"`
	Reconnect ReconnectConfig `yaml:"reconnect" mapstructure:"reconnect"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Client    ClientConfig    `yaml:"client" mapstructure:"client"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	// URL of the event stream, e.g. "http://localhost:8050/sse".
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,stream_url"`

	// Service is the registry name to discover when URL is empty.
	Service string `yaml:"service" mapstructure:"service"`
}

type RegistryConfig struct {
	// Endpoints of the etcd cluster.
	Endpoints []string `yaml:"endpoints" mapstructure:"endpoints" validate:"omitempty,dive,required"`

	Balancer string `yaml:"balancer" mapstructure:"balancer" validate:"oneof=round_robin weighted_random consistent_hash"`
}

type TimeoutsConfig struct {
	Connect time.Duration `yaml:"connect" mapstructure:"connect" validate:"gt=0"`
	Call    time.Duration `yaml:"call" mapstructure:"call" validate:"gt=0"`
	Idle    time.Duration `yaml:"idle" mapstructure:"idle" validate:"gte=0"`

	// Total bounds a whole call, submission and any rate-limit wait
	// included. Zero leaves only the per-call timeout.
	Total time.Duration `yaml:"total" mapstructure:"total" validate:"gte=0"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gt=0"`
}

// RateLimitConfig throttles outgoing calls. RPS of 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// RetryConfig re-issues calls that timed out. MaxRetries of 0, the default,
// disables it; only enable it for servers whose tools are idempotent.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	BaseDelay  time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gte=0"`
}

type ClientConfig struct {
	Name    string `yaml:"name" mapstructure:"name" validate:"required"`
	Version string `yaml:"version" mapstructure:"version" validate:"required"`
}

type LogConfig struct {
	Development bool `yaml:"development" mapstructure:"development"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Registry.Balancer == "" {
		c.Registry.Balancer = "round_robin"
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = client.DefaultConnectTimeout
	}
	if c.Timeouts.Call == 0 {
		c.Timeouts.Call = client.DefaultCallTimeout
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = client.DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = client.DefaultReconnectMaxDelay
	}
	if c.Retry.MaxRetries > 0 && c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = defaultRetryBaseDelay
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
	if c.Client.Name == "" {
		c.Client.Name = "ssectl"
	}
	if c.Client.Version == "" {
		c.Client.Version = "dev"
	}
}

// Balancer builds the configured strategy. Consistent hashing keys on the
// client name so one named client keeps landing on the same server.
func (c *Config) Balancer() (loadbalance.Balancer, error) {
	return loadbalance.New(c.Registry.Balancer, c.Client.Name)
}

// ClientOptions converts the configuration into client options. The
// registry is not included because opening it needs the network.
func (c *Config) ClientOptions(logger *zap.Logger) []client.Option {
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithClientInfo(c.Client.Name, c.Client.Version),
		client.WithConnectTimeout(c.Timeouts.Connect),
		client.WithCallTimeout(c.Timeouts.Call),
		client.WithIdleTimeout(c.Timeouts.Idle),
		client.WithReconnect(c.Reconnect.MaxAttempts, c.Reconnect.BaseDelay, c.Reconnect.MaxDelay),
	}
	// Retry wraps the deadline so every attempt gets a fresh one.
	if c.Retry.MaxRetries > 0 {
		opts = append(opts, client.WithMiddleware(middleware.RetryMiddleware(c.Retry.MaxRetries, c.Retry.BaseDelay, logger)))
	}
	if c.Timeouts.Total > 0 {
		opts = append(opts, client.WithMiddleware(middleware.TimeOutMiddleware(c.Timeouts.Total)))
	}
	if c.RateLimit.RPS > 0 {
		opts = append(opts, client.WithMiddleware(middleware.RateLimitMiddleware(c.RateLimit.RPS, c.RateLimit.Burst)))
	}
	return opts
}
