package middleware

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sse-rpc/message"
	"sse-rpc/metrics"
	"sse-rpc/transport"
)

// echoHandler answers immediately, as if the stream delivered the response.
func echoHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{JSONRPC: message.Version, ID: "1-a", Result: []byte(`"ok"`)}, nil
}

// slowHandler waits like a call whose response never shows up on the stream.
func slowHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return echoHandler(ctx, req)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", transport.ErrTimeout, ctx.Err())
	}
}

func newRequest(method string) *message.Request {
	req, _ := message.NewRequest("", method, nil)
	return req
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp, err := handler(context.Background(), newRequest(message.MethodToolsList))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Result) != `"ok"` {
		t.Fatalf("expect result \"ok\", got %s", resp.Result)
	}
	entries := logs.FilterMessage("rpc call").All()
	if len(entries) != 1 {
		t.Fatalf("expect one log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["method"] != message.MethodToolsList {
		t.Fatalf("unexpected fields %v", entries[0].ContextMap())
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newRequest(message.MethodPing)); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newRequest(message.MethodPing))
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expect timeout error, got %v", err)
	}
}

func TestRetryOnlyOnTimeout(t *testing.T) {
	calls := 0
	flaky := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		calls++
		if calls < 3 {
			return nil, transport.ErrTimeout
		}
		return echoHandler(ctx, req)
	}
	handler := RetryMiddleware(3, time.Millisecond, zap.NewNop())(flaky)
	if _, err := handler(context.Background(), newRequest(message.MethodToolsList)); err != nil {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls)
	}

	calls = 0
	submitFail := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		calls++
		return nil, &transport.SubmitError{StatusCode: 500}
	}
	handler = RetryMiddleware(3, time.Millisecond, zap.NewNop())(submitFail)
	if _, err := handler(context.Background(), newRequest(message.MethodToolsList)); err == nil {
		t.Fatal("expect submit error")
	}
	if calls != 1 {
		t.Fatalf("submit errors must not be retried, got %d attempts", calls)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: two calls pass, the third cannot get a
	// token before its deadline.
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newRequest(message.MethodPing)); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := handler(ctx, newRequest(message.MethodPing)); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	handler := MetricsMiddleware(m)(echoHandler)

	_, _ = handler(context.Background(), newRequest(message.MethodToolsCall))
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues(message.MethodToolsCall, "ok")); got != 1 {
		t.Fatalf("expect 1 ok call, got %v", got)
	}
}

func TestStatus(t *testing.T) {
	cases := []struct {
		resp *message.Response
		err  error
		want string
	}{
		{&message.Response{}, nil, "ok"},
		{&message.Response{Error: &message.Error{Code: -1}}, nil, "rpc_error"},
		{nil, transport.ErrTimeout, "timeout"},
		{nil, fmt.Errorf("x: %w", transport.ErrConnectionLost), "connection_lost"},
		{nil, transport.ErrCancelled, "cancelled"},
		{nil, &transport.SubmitError{StatusCode: 404}, "submit_error"},
		{nil, errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		if got := Status(tc.resp, tc.err); got != tc.want {
			t.Errorf("Status(%v, %v) = %s, want %s", tc.resp, tc.err, got, tc.want)
		}
	}
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (*message.Response, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(tag("a"), LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond), tag("b"))
	if _, err := chained(echoHandler)(context.Background(), newRequest(message.MethodPing)); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order %v", order)
	}
}
