package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sse-rpc/codec"
	"sse-rpc/message"
	"sse-rpc/protocol"
)

const (
	// scannerInitialBufSize is the initial line buffer.
	scannerInitialBufSize = 64 * 1024

	// scannerMaxBufSize bounds a single stream line.
	scannerMaxBufSize = 10 * 1024 * 1024
)

// Handler receives what the StreamReader recognizes on the stream. Methods
// are called from the reader goroutine, one at a time, in stream order.
type Handler interface {
	HandleEndpoint(ep protocol.Endpoint)
	HandleResponse(resp *message.Response)
	HandleNotification(n *message.Notification)
}

// StreamReader consumes one long-lived GET and dispatches every record.
type StreamReader struct {
	url         string
	httpClient  *http.Client
	codec       codec.Codec
	handler     Handler
	logger      *zap.Logger
	idleTimeout time.Duration

	lastActivity atomic.Int64
}

// StreamOption configures a StreamReader.
type StreamOption func(*StreamReader)

// WithIdleTimeout closes the stream when no line, keep-alives included,
// arrives for d. Zero disables the watchdog.
func WithIdleTimeout(d time.Duration) StreamOption {
	return func(r *StreamReader) {
		r.idleTimeout = d
	}
}

// WithStreamLogger sets the logger for ignored lines and payloads.
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(r *StreamReader) {
		r.logger = logger
	}
}

func NewStreamReader(url string, httpClient *http.Client, c codec.Codec, h Handler, opts ...StreamOption) *StreamReader {
	r := &StreamReader{
		url:        url,
		httpClient: httpClient,
		codec:      c,
		handler:    h,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LastActivity is the time the most recent line was read.
func (r *StreamReader) LastActivity() time.Time {
	ns := r.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run opens the stream and reads it until it ends or ctx is cancelled. It
// never panics across the goroutine boundary: the result always wraps
// ErrStreamClosed with the cause, so the supervisor can decide what next.
func (r *StreamReader) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http status %d", ErrStreamClosed, resp.StatusCode)
	}

	r.touch()
	if r.idleTimeout > 0 {
		go r.watchdog(ctx, cancel)
	}

	err = r.read(resp.Body)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = cause
	}
	return fmt.Errorf("%w: %w", ErrStreamClosed, err)
}

// read is the dispatch loop. Reads are sequential because lines only make
// sense in stream order.
func (r *StreamReader) read(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBufSize), scannerMaxBufSize)

	for scanner.Scan() {
		r.touch()

		rec, err := protocol.ParseLine(scanner.Text())
		if err != nil {
			return err
		}

		switch rec.Kind {
		case protocol.RecordEndpoint:
			r.handler.HandleEndpoint(rec.Endpoint)
		case protocol.RecordJSON:
			r.dispatch(rec.Data)
		case protocol.RecordIgnored:
			if line := scanner.Text(); line != "" {
				r.logger.Debug("ignoring stream line", zap.String("line", line))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (r *StreamReader) dispatch(data string) {
	in, err := r.codec.Decode([]byte(data))
	if err != nil {
		r.logger.Debug("ignoring stream payload", zap.Error(err))
		return
	}
	switch in.Kind {
	case codec.KindResponse:
		r.handler.HandleResponse(in.Response)
	default:
		r.handler.HandleNotification(in.Notification)
	}
}

// errIdle is the cancellation cause set by the watchdog.
var errIdle = errors.New("no stream activity")

func (r *StreamReader) watchdog(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(r.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(r.LastActivity()) > r.idleTimeout {
				cancel(fmt.Errorf("%w for %s", errIdle, r.idleTimeout))
				return
			}
		}
	}
}

func (r *StreamReader) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}
