// Package client is the public surface of an SSE-correlated JSON-RPC session.
//
// A Client owns one session at a time. Connect opens the event stream, waits
// for the server to announce its submission endpoint, and performs the
// initialize handshake. Calls are then POSTed to that endpoint while their
// responses come back on the stream, matched by id:
//
//	Call ──→ middleware ──→ roundTrip ──Register──→ PendingTable
//	                            │                       ↑
//	                            └──POST──→ server ──stream──→ StreamReader
//
// If the stream drops, in-flight calls fail with ErrConnectionLost and the
// client reconnects with capped exponential backoff, re-running the handshake
// each time.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sse-rpc/codec"
	"sse-rpc/message"
	"sse-rpc/middleware"
	"sse-rpc/transport"
)

type Client struct {
	opts    options
	codec   codec.Codec
	ids     *transport.IDGenerator
	pending *transport.PendingTable
	sender  *transport.Sender
	handler middleware.HandlerFunc
	logger  *zap.Logger

	notifications *hub[*message.Notification]
	states        *hub[StateEvent]

	mu         sync.Mutex
	state      State
	target     func(ctx context.Context) (string, error)
	streamURL  string
	endpoint   string
	token      string
	serverInfo *message.InitializeResult
	attempt    *attempt
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
}

func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		opts:          o,
		codec:         o.codec,
		ids:           transport.NewIDGenerator(),
		pending:       transport.NewPendingTable(o.callTimeout),
		sender:        transport.NewSender(o.submitClient, o.codec),
		logger:        o.logger,
		notifications: newHub[*message.Notification](o.notificationBuffer),
		states:        newHub[StateEvent](16),
	}
	c.pending.OnExpire(func(id message.ID) {
		c.logger.Debug("call timed out", zap.String("id", string(id)))
		c.opts.metrics.Timeout()
		c.opts.metrics.SetPending(c.pending.Len())
	})

	chain := []middleware.Middleware{
		middleware.LoggingMiddleware(o.logger),
		middleware.MetricsMiddleware(o.metrics),
	}
	c.handler = middleware.Chain(append(chain, o.middlewares...)...)(c.roundTrip)
	return c
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo is the result of the most recent initialize handshake, or nil.
func (c *Client) ServerInfo() *message.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Session returns the learned submission endpoint and session token.
func (c *Client) Session() (endpoint, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint, c.token
}

// Pending reports how many calls await a response.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Notifications subscribes to server notifications in stream order. Delivery
// is best effort: once a subscriber has WithNotificationBuffer notifications
// unread, further ones are dropped for it (and logged) rather than stalling
// the stream. Call the returned func to unsubscribe.
func (c *Client) Notifications() (<-chan *message.Notification, func()) {
	return c.notifications.subscribe()
}

// StateChanges subscribes to lifecycle transitions.
func (c *Client) StateChanges() (<-chan StateEvent, func()) {
	return c.states.subscribe()
}

type ctxKey int

const (
	timeoutKey ctxKey = iota
	handshakeKey
)

// Call sends method with params and waits for the matching response. A
// non-positive timeout uses the client default. Protocol errors are returned
// as *message.Error.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.State() != Ready {
		return nil, ErrNotConnected
	}
	return c.call(ctx, method, params, timeout)
}

func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	req, err := message.NewRequest("", method, params)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		ctx = context.WithValue(ctx, timeoutKey, timeout)
	}

	resp, err := c.handler(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify sends a notification. Nothing is registered and no reply is awaited.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if c.State() != Ready {
		return ErrNotConnected
	}
	return c.notify(ctx, method, params)
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	n, err := message.NewNotification(method, params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	endpoint, ok := c.submitEndpointLocked(ctx)
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return c.sender.Send(ctx, endpoint, n)
}

// ListTools returns every tool the server advertises, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]message.Tool, error) {
	var (
		tools  []message.Tool
		cursor string
	)
	for {
		var params any
		if cursor != "" {
			params = message.ListToolsParams{Cursor: cursor}
		}
		raw, err := c.Call(ctx, message.MethodToolsList, params, 0)
		if err != nil {
			return nil, err
		}
		var page message.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("client: decode tools/list: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool. A result with IsError set is a tool failure, not
// a transport failure, and is returned with a nil error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*message.CallToolResult, error) {
	raw, err := c.Call(ctx, message.MethodToolsCall, message.CallToolParams{Name: name, Arguments: args}, 0)
	if err != nil {
		return nil, err
	}
	var result message.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode tools/call: %w", err)
	}
	return &result, nil
}

// Ping checks that the server is answering on the current session.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, message.MethodPing, nil, 0)
	return err
}

// submitEndpointLocked returns where to POST, or false if the session cannot
// take submissions. The handshake runs before Ready and marks its context.
func (c *Client) submitEndpointLocked(ctx context.Context) (string, bool) {
	if c.attempt == nil || c.endpoint == "" {
		return "", false
	}
	if c.state == Ready {
		return c.endpoint, true
	}
	if ctx.Value(handshakeKey) != nil && c.state == Streaming {
		return c.endpoint, true
	}
	return "", false
}

// roundTrip is the innermost handler. Registration happens under c.mu so a
// concurrent teardown either rejects the call or evicts it.
func (c *Client) roundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	req = req.WithID(c.ids.Next())
	timeout, _ := ctx.Value(timeoutKey).(time.Duration)

	c.mu.Lock()
	endpoint, ok := c.submitEndpointLocked(ctx)
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	p, err := c.pending.Register(req.ID, timeout)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.opts.metrics.SetPending(c.pending.Len())
	defer func() { c.opts.metrics.SetPending(c.pending.Len()) }()

	if err := c.sender.Send(ctx, endpoint, req); err != nil {
		if ctx.Err() != nil {
			err = contextError(ctx)
		}
		if c.pending.Evict(req.ID, err) {
			return nil, err
		}
		// Already completed, usually evicted by a stream loss.
		res := <-p.Done()
		return res.Response, res.Err
	}

	select {
	case res := <-p.Done():
		return res.Response, res.Err
	case <-ctx.Done():
		err := contextError(ctx)
		if c.pending.Evict(req.ID, err) {
			return nil, err
		}
		res := <-p.Done()
		return res.Response, res.Err
	}
}

// contextError maps a finished caller context onto the call error taxonomy:
// a deadline is a timeout, anything else a cancellation.
func contextError(ctx context.Context) error {
	cause := ErrCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cause = ErrTimeout
	}
	return fmt.Errorf("%w: %w", cause, ctx.Err())
}
