package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sse-rpc/codec"
	"sse-rpc/message"
	"sse-rpc/protocol"
)

type recordingHandler struct {
	mu            sync.Mutex
	endpoints     []protocol.Endpoint
	responses     []*message.Response
	notifications []*message.Notification
}

func (h *recordingHandler) HandleEndpoint(ep protocol.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endpoints = append(h.endpoints, ep)
}

func (h *recordingHandler) HandleResponse(resp *message.Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, resp)
}

func (h *recordingHandler) HandleNotification(n *message.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append(h.notifications, n)
}

func streamServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n", l)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamReaderDispatch(t *testing.T) {
	srv := streamServer(t,
		": ping - keepalive",
		"event: endpoint",
		"data: /messages/?session_id=abc123",
		"",
		"event: message",
		`data: {"jsonrpc":"2.0","method":"notifications/message","params":{"n":1}}`,
		`data: {"jsonrpc":"2.0","id":"2-a","result":{"v":2}}`,
		`data: {"jsonrpc":"2.0","id":"1-a","result":{"v":1}}`,
		`data: {"jsonrpc":"2.0","method":"notifications/message","params":{"n":2}}`,
		"data: {broken json",
		"id: 17",
	)

	h := &recordingHandler{}
	reader := NewStreamReader(srv.URL+"/sse", srv.Client(), codec.GetCodec("json"), h)

	err := reader.Run(context.Background())
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expect ErrStreamClosed, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expect EOF cause, got %v", err)
	}

	if len(h.endpoints) != 1 || h.endpoints[0].Token != "abc123" {
		t.Fatalf("unexpected endpoints %+v", h.endpoints)
	}
	if len(h.responses) != 2 || h.responses[0].ID != "2-a" || h.responses[1].ID != "1-a" {
		t.Fatalf("responses must be dispatched in stream order: %+v", h.responses)
	}
	if len(h.notifications) != 2 {
		t.Fatalf("expect 2 notifications, got %d", len(h.notifications))
	}
	for i, n := range h.notifications {
		var p struct{ N int }
		_ = json.Unmarshal(n.Params, &p)
		if p.N != i+1 {
			t.Fatalf("notification %d out of order: %s", i, n.Params)
		}
	}
	if reader.LastActivity().IsZero() {
		t.Fatal("expect activity to be recorded")
	}
}

func TestStreamReaderMalformedEndpoint(t *testing.T) {
	srv := streamServer(t, "data: /messages with space?session_id=x")

	err := NewStreamReader(srv.URL, srv.Client(), &codec.JSONCodec{}, &recordingHandler{}).Run(context.Background())
	if !errors.Is(err, ErrStreamClosed) || !errors.Is(err, protocol.ErrMalformedEndpoint) {
		t.Fatalf("expect stream error for malformed endpoint, got %v", err)
	}
}

func TestStreamReaderBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewStreamReader(srv.URL, srv.Client(), &codec.JSONCodec{}, &recordingHandler{}).Run(context.Background())
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expect ErrStreamClosed, got %v", err)
	}
}

func TestStreamReaderCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: /messages?session_id=s\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewStreamReader(srv.URL, srv.Client(), &codec.JSONCodec{}, h).Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStreamClosed) {
			t.Fatalf("expect ErrStreamClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop after cancel")
	}
}

func TestStreamReaderIdleWatchdog(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	reader := NewStreamReader(srv.URL, srv.Client(), &codec.JSONCodec{}, &recordingHandler{},
		WithIdleTimeout(40*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- reader.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, errIdle) {
			t.Fatalf("expect idle cause, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not close the idle stream")
	}
}

func TestSenderStatus(t *testing.T) {
	var got message.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "Could not find session", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sender := NewSender(srv.Client(), &codec.JSONCodec{})
	req, _ := message.NewRequest("1-a", message.MethodPing, nil)

	if err := sender.Send(context.Background(), srv.URL+"/ok", req); err != nil {
		t.Fatalf("expect success, got %v", err)
	}
	if got.ID != "1-a" || got.Method != message.MethodPing {
		t.Fatalf("server received %+v", got)
	}

	err := sender.Send(context.Background(), srv.URL+"/gone", req)
	var submitErr *SubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("expect SubmitError, got %v", err)
	}
	if submitErr.StatusCode != http.StatusNotFound || submitErr.Body != "Could not find session" {
		t.Fatalf("unexpected submit error %+v", submitErr)
	}
}

func TestSenderNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := NewSender(http.DefaultClient, &codec.JSONCodec{}).Send(context.Background(), addr, map[string]string{})
	var submitErr *SubmitError
	if !errors.As(err, &submitErr) || submitErr.Err == nil {
		t.Fatalf("expect network SubmitError, got %v", err)
	}
}
