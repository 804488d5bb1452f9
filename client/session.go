package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sse-rpc/message"
	"sse-rpc/protocol"
	"sse-rpc/transport"
)

// attempt is one stream connection. A session goes through several of them
// when it reconnects.
type attempt struct {
	streamURL string
	cancel    context.CancelFunc
	reader    *transport.StreamReader

	announced chan struct{} // closed on the first endpoint announcement
	once      sync.Once
	exited    chan struct{} // closed when the reader returns
	err       error         // reader result, valid after exited
}

func (a *attempt) stop() {
	a.cancel()
	<-a.exited
}

// streamHandler routes one attempt's records. Records from an attempt that is
// no longer current are dropped.
type streamHandler struct {
	c *Client
	a *attempt
}

func (h *streamHandler) HandleEndpoint(ep protocol.Endpoint) {
	c := h.c
	submitURL, err := protocol.ResolveEndpoint(h.a.streamURL, ep)
	if err != nil {
		c.logger.Warn("unusable endpoint announcement", zap.String("endpoint", ep.URL), zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.attempt != h.a {
		c.mu.Unlock()
		return
	}
	c.endpoint = submitURL
	c.token = ep.Token
	if c.state == Connecting || c.state == Degraded {
		c.setStateLocked(Streaming, nil, 0)
	}
	c.mu.Unlock()

	c.logger.Debug("endpoint announced", zap.String("endpoint", submitURL))
	h.a.once.Do(func() { close(h.a.announced) })
}

func (h *streamHandler) HandleResponse(resp *message.Response) {
	if !h.c.pending.Resolve(resp) {
		h.c.logger.Debug("dropping response for unknown id", zap.String("id", string(resp.ID)))
	}
}

func (h *streamHandler) HandleNotification(n *message.Notification) {
	h.c.opts.metrics.Notification(n.Method)
	if missed := h.c.notifications.publish(n); missed > 0 {
		h.c.logger.Warn("notification dropped for slow subscribers",
			zap.String("method", n.Method), zap.Int("subscribers", missed))
	}
}

// Connect opens a session against the stream at address and returns once it
// is Ready. On failure the client is back in Disconnected.
func (c *Client) Connect(ctx context.Context, address string) error {
	return c.connect(ctx, func(context.Context) (string, error) { return address, nil })
}

func (c *Client) connect(ctx context.Context, target func(context.Context) (string, error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	sessCtx, cancel := context.WithCancel(c.opts.baseContext)
	done := make(chan struct{})
	c.target = target
	c.cancel = cancel
	c.done = done
	c.setStateLocked(Connecting, nil, 0)
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.run(sessCtx, done, ready)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		c.stop(done)
		return ctx.Err()
	}
}

// run supervises one session from Connect until it ends.
func (c *Client) run(ctx context.Context, done chan struct{}, ready chan<- error) {
	defer close(done)

	a, err := c.establish(ctx, done)
	if err != nil {
		c.finish(done, err)
		ready <- err
		return
	}
	ready <- nil

	if err := c.supervise(ctx, done, a); err != nil && ctx.Err() == nil {
		c.finish(done, err)
	}
}

// establish opens a stream, waits for the endpoint, and runs the handshake.
// The returned attempt is current and the session is Ready.
func (c *Client) establish(ctx context.Context, done chan struct{}) (*attempt, error) {
	c.mu.Lock()
	target := c.target
	c.mu.Unlock()

	streamURL, err := target(ctx)
	if err != nil {
		return nil, err
	}

	a, err := c.startAttempt(ctx, done, streamURL)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.connectTimeout)
	defer timer.Stop()

	select {
	case <-a.announced:
	case <-a.exited:
		a.cancel()
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, a.err)
	case <-timer.C:
		a.stop()
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		a.stop()
		return nil, ctx.Err()
	}

	info, err := c.handshake(ctx, a)
	if err != nil {
		a.stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return nil, fmt.Errorf("client: handshake: %w", err)
	}

	c.mu.Lock()
	if c.done != done || c.attempt != a {
		c.mu.Unlock()
		a.stop()
		return nil, context.Canceled
	}
	c.serverInfo = info
	c.setStateLocked(Ready, nil, 0)
	c.mu.Unlock()

	c.logger.Info("session ready",
		zap.String("stream", streamURL),
		zap.String("server", info.ServerInfo.Name),
		zap.String("protocol", info.ProtocolVersion))
	return a, nil
}

func (c *Client) startAttempt(ctx context.Context, done chan struct{}, streamURL string) (*attempt, error) {
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{
		streamURL: streamURL,
		cancel:    cancel,
		announced: make(chan struct{}),
		exited:    make(chan struct{}),
	}
	a.reader = transport.NewStreamReader(streamURL, c.opts.streamClient, c.codec, &streamHandler{c: c, a: a},
		transport.WithIdleTimeout(c.opts.idleTimeout),
		transport.WithStreamLogger(c.logger))

	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		cancel()
		return nil, context.Canceled
	}
	c.attempt = a
	c.streamURL = streamURL
	c.endpoint = ""
	c.token = ""
	c.mu.Unlock()

	go func() {
		a.err = a.reader.Run(actx)
		close(a.exited)
	}()
	return a, nil
}

// handshake sends initialize and the initialized notification. It is cut
// short if the attempt's stream ends, since the response could never arrive.
func (c *Client) handshake(ctx context.Context, a *attempt) (*message.InitializeResult, error) {
	ctx, cancel := context.WithCancel(context.WithValue(ctx, handshakeKey, true))
	defer cancel()
	go func() {
		select {
		case <-a.exited:
			cancel()
		case <-ctx.Done():
		}
	}()

	params := message.InitializeParams{
		ProtocolVersion: message.ProtocolVersion,
		Capabilities:    json.RawMessage(`{}`),
		ClientInfo:      c.opts.clientInfo,
	}
	raw, err := c.call(ctx, message.MethodInitialize, params, c.opts.connectTimeout)
	if err != nil {
		select {
		case <-a.exited:
			return nil, fmt.Errorf("%w: %w", ErrConnectionLost, a.err)
		default:
		}
		return nil, err
	}

	var info message.InitializeResult
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode initialize result: %w", err)
	}
	if err := c.notify(ctx, message.MethodInitialized, nil); err != nil {
		return nil, err
	}
	return &info, nil
}

// supervise waits for the current stream to end and reconnects. It returns
// nil when the session context ends, or the terminal error.
func (c *Client) supervise(ctx context.Context, done chan struct{}, a *attempt) error {
	for {
		select {
		case <-ctx.Done():
			a.stop()
			return nil
		case <-a.exited:
		}
		if ctx.Err() != nil {
			return nil
		}

		lost := fmt.Errorf("%w: %w", ErrConnectionLost, a.err)
		if !c.transition(done, Degraded, a.err, 0) {
			return nil
		}
		n := c.pending.EvictAll(lost)
		c.opts.metrics.SetPending(0)
		c.logger.Warn("event stream lost", zap.Int("evicted", n), zap.Error(a.err))

		next, err := c.reconnect(ctx, done)
		if err != nil {
			return err
		}
		a = next
	}
}

// reconnect retries establish with capped exponential backoff.
func (c *Client) reconnect(ctx context.Context, done chan struct{}) (*attempt, error) {
	var lastErr error
	for n := 1; n <= c.opts.maxAttempts; n++ {
		delay := c.backoff(n)
		if !c.transition(done, Degraded, lastErr, n) {
			return nil, context.Canceled
		}
		c.logger.Warn("reconnecting",
			zap.Int("attempt", n),
			zap.Int("max_attempts", c.opts.maxAttempts),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		a, err := c.establish(ctx, done)
		c.opts.metrics.Reconnect(err == nil)
		if err == nil {
			return a, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrConnectionLost
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, c.opts.maxAttempts, lastErr)
}

func (c *Client) backoff(n int) time.Duration {
	delay := c.opts.baseDelay
	for i := 1; i < n && delay < c.opts.maxDelay; i++ {
		delay *= 2
	}
	if c.opts.maxDelay > 0 && delay > c.opts.maxDelay {
		delay = c.opts.maxDelay
	}
	return delay
}

// Disconnect ends the session and evicts every pending call with
// ErrCancelled. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		c.stop(done)
	}
}

// stop tears down the session identified by done, if it is still current.
func (c *Client) stop(done chan struct{}) {
	c.mu.Lock()
	if done == nil || c.done != done {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel, c.done, c.attempt = nil, nil, nil
	c.mu.Unlock()

	cancel()
	<-done

	n := c.pending.EvictAll(ErrCancelled)
	c.opts.metrics.SetPending(0)

	c.mu.Lock()
	c.clearSessionLocked()
	c.setStateLocked(Disconnected, nil, 0)
	c.mu.Unlock()
	c.logger.Info("disconnected", zap.Int("evicted", n))
}

// finish ends a session from inside run after a terminal failure.
func (c *Client) finish(done chan struct{}, err error) {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel, c.done = nil, nil
	c.clearSessionLocked()
	c.setStateLocked(Disconnected, err, 0)
	c.mu.Unlock()

	cancel()
	c.pending.EvictAll(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	c.opts.metrics.SetPending(0)
	if errors.Is(err, ErrReconnectExhausted) {
		c.logger.Error("session lost", zap.Error(err))
	} else {
		c.logger.Warn("connect failed", zap.Error(err))
	}
}

// Close disconnects and ends all subscriptions. The client cannot be reused.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.notifications.close()
	c.states.close()
	return nil
}

func (c *Client) clearSessionLocked() {
	c.attempt = nil
	c.target = nil
	c.streamURL = ""
	c.endpoint = ""
	c.token = ""
	c.serverInfo = nil
}

// transition changes state on behalf of the session identified by done.
func (c *Client) transition(done chan struct{}, s State, err error, attemptNum int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done {
		return false
	}
	c.setStateLocked(s, err, attemptNum)
	return true
}

func (c *Client) setStateLocked(s State, err error, attemptNum int) {
	prev := c.state
	if prev == s && attemptNum == 0 && err == nil {
		return
	}
	c.state = s
	c.opts.metrics.SetState(int(s))
	if prev != s {
		c.logger.Info("state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s),
			zap.Int("attempt", attemptNum))
	}
	c.states.publish(StateEvent{State: s, Previous: prev, Err: err, Attempt: attemptNum, At: time.Now()})
}
