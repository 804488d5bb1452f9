package client

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sse-rpc/codec"
	"sse-rpc/loadbalance"
	"sse-rpc/message"
	"sse-rpc/metrics"
	"sse-rpc/middleware"
	"sse-rpc/registry"
)

const (
	DefaultConnectTimeout     = 30 * time.Second
	DefaultCallTimeout        = 30 * time.Second
	DefaultReconnectAttempts  = 5
	DefaultReconnectBaseDelay = time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second

	DefaultNotificationBuffer = 64

	defaultSubmitTimeout = 30 * time.Second
)

type options struct {
	submitClient   *http.Client
	streamClient   *http.Client
	codec          codec.Codec
	logger         *zap.Logger
	metrics        *metrics.Metrics
	middlewares    []middleware.Middleware
	clientInfo     message.Implementation
	connectTimeout time.Duration
	callTimeout    time.Duration
	idleTimeout    time.Duration
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	registry       registry.Registry
	balancer       loadbalance.Balancer
	baseContext    context.Context

	notificationBuffer int
}

// Option configures a Client.
type Option func(*options)

func defaultOptions() options {
	return options{
		submitClient:   &http.Client{Timeout: defaultSubmitTimeout},
		streamClient:   &http.Client{},
		codec:          codec.GetCodec("json"),
		logger:         zap.NewNop(),
		clientInfo:     message.Implementation{Name: "sse-rpc", Version: "0.1.0"},
		connectTimeout: DefaultConnectTimeout,
		callTimeout:    DefaultCallTimeout,
		maxAttempts:    DefaultReconnectAttempts,
		baseDelay:      DefaultReconnectBaseDelay,
		maxDelay:       DefaultReconnectMaxDelay,
		balancer:       &loadbalance.RoundRobinBalancer{},
		baseContext:    context.Background(),

		notificationBuffer: DefaultNotificationBuffer,
	}
}

// WithHTTPClient sets the client used for submissions. The stream shares its
// transport but never its Timeout, which would cut the long-lived GET.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.submitClient = hc
		o.streamClient = &http.Client{Transport: hc.Transport, Jar: hc.Jar}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMiddleware appends call middlewares after the built-in logging and
// metrics layers.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithClientInfo sets the name and version sent in the initialize handshake.
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientInfo = message.Implementation{Name: name, Version: version}
	}
}

// WithConnectTimeout bounds the wait for the endpoint announcement and for
// the initialize response.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithCallTimeout sets the default per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// WithIdleTimeout treats a stream with no lines, keep-alives included, for d
// as lost. Zero, the default, never gives up on a quiet stream.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithReconnect sets the attempt cap and the backoff bounds. The delay before
// attempt n is base·2^(n-1), capped at max. maxAttempts of 0 disables
// reconnection.
func WithReconnect(maxAttempts int, base, max time.Duration) Option {
	return func(o *options) {
		o.maxAttempts = maxAttempts
		o.baseDelay = base
		o.maxDelay = max
	}
}

// WithRegistry enables ConnectService. A nil balancer keeps round robin.
func WithRegistry(reg registry.Registry, bal loadbalance.Balancer) Option {
	return func(o *options) {
		o.registry = reg
		if bal != nil {
			o.balancer = bal
		}
	}
}

// WithCodec replaces the envelope codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithBaseContext sets the parent of every session context. Cancelling it
// ends the session as if Disconnect had been called.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		o.baseContext = ctx
	}
}

// WithNotificationBuffer sets how many unread notifications each subscriber
// may hold before new ones are dropped for it.
func WithNotificationBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.notificationBuffer = n
		}
	}
}
