// Package ssetest runs an in-process SSE JSON-RPC server for tests.
//
// The server follows the HTTP+SSE transport: GET /sse opens the event stream
// and announces "/messages/?session_id=<id>"; requests POSTed there are
// answered with 202 Accepted and the response is written to the stream later.
// Tools are registered from plain Go methods, the same way an RPC service
// is registered by reflection.
//
//	srv := ssetest.NewServer()
//	_ = srv.Register(&Calculator{})
//	defer srv.Close()
//	c.Connect(ctx, srv.URL)
//
// Hooks such as DropStreams and Silence let tests break the stream on purpose.
package ssetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sse-rpc/message"
	"sse-rpc/protocol"
	"sse-rpc/registry"
)

type session struct {
	id   string
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *session) drop() {
	s.once.Do(func() { close(s.done) })
}

// Server is an httptest-backed SSE server. URL is the stream address.
type Server struct {
	URL string

	srv       *httptest.Server
	info      message.Implementation
	pageSize  int
	keepAlive time.Duration

	mu         sync.Mutex
	tools      map[string]*tool
	order      []string
	sessions   map[string]*session
	silent     bool
	reject     int
	endpointFn func(token string) string
	requests   map[string]int

	streams atomic.Int64
	closing chan struct{}
	closed  sync.Once
	wg      sync.WaitGroup
}

type Option func(*Server)

// WithServerInfo sets the serverInfo returned by initialize.
func WithServerInfo(name, version string) Option {
	return func(s *Server) {
		s.info = message.Implementation{Name: name, Version: version}
	}
}

// WithPageSize splits tools/list into pages of n tools.
func WithPageSize(n int) Option {
	return func(s *Server) {
		s.pageSize = n
	}
}

// WithKeepAlive writes ": ping" comments every d.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		s.keepAlive = d
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		info:     message.Implementation{Name: "ssetest", Version: "1.0.0"},
		tools:    make(map[string]*tool),
		sessions: make(map[string]*session),
		requests: make(map[string]int),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.StreamSuffix, s.handleStream)
	mux.HandleFunc("POST /messages", s.handleMessage)
	mux.HandleFunc("POST /messages/", s.handleMessage)
	s.srv = httptest.NewServer(mux)
	s.URL = s.srv.URL + protocol.StreamSuffix
	return s
}

// Register exposes every tool method of rcvr.
func (s *Server) Register(rcvr any) error {
	tools, err := scanTools(rcvr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tools {
		if _, ok := s.tools[t.name]; !ok {
			s.order = append(s.order, t.name)
		}
		s.tools[t.name] = t
	}
	return nil
}

// Client returns an HTTP client wired to the test server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// Advertise registers the stream address under service until ctx ends.
func (s *Server) Advertise(ctx context.Context, reg registry.Registry, service string, weight int) error {
	return reg.Register(ctx, service, registry.ServiceInstance{Addr: s.URL, Weight: weight, Version: s.info.Version}, 10)
}

// DropStreams ends every open event stream. Responses not yet written are lost.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.drop()
		delete(s.sessions, id)
	}
}

// Silence stops the server from writing anything to its streams while on.
// Requests are still accepted.
func (s *Server) Silence(on bool) {
	s.mu.Lock()
	s.silent = on
	s.mu.Unlock()
}

// RejectStreams answers the next n stream requests with 503.
func (s *Server) RejectStreams(n int) {
	s.mu.Lock()
	s.reject = n
	s.mu.Unlock()
}

// SetEndpoint overrides the endpoint announcement. fn receives the session
// id; returning "" announces nothing.
func (s *Server) SetEndpoint(fn func(token string) string) {
	s.mu.Lock()
	s.endpointFn = fn
	s.mu.Unlock()
}

// Notify sends a notification on every open stream.
func (s *Server) Notify(method string, params any) error {
	n, err := message.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		s.enqueue(sess, data)
	}
	return nil
}

// Streams reports how many event streams have been opened.
func (s *Server) Streams() int {
	return int(s.streams.Load())
}

// Sessions reports how many event streams are open now.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Requests reports how many submissions named method were received.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

// Close ends all streams and shuts the server down.
func (s *Server) Close() {
	s.closed.Do(func() {
		close(s.closing)
		s.srv.CloseClientConnections()
		s.srv.Close()
		s.wg.Wait()
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if s.reject > 0 {
		s.reject--
		s.mu.Unlock()
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	sess := &session{id: uuid.NewString(), out: make(chan []byte, 64), done: make(chan struct{})}
	s.sessions[sess.id] = sess
	announce := "/messages/?" + protocol.SessionParam + "=" + sess.id
	if s.endpointFn != nil {
		announce = s.endpointFn(sess.id)
	}
	s.mu.Unlock()
	s.streams.Add(1)

	defer func() {
		s.mu.Lock()
		if s.sessions[sess.id] == sess {
			delete(s.sessions, sess.id)
		}
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if announce != "" {
		fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", announce)
	}
	flusher.Flush()

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.done:
			return
		case <-s.closing:
			return
		case <-tick:
			if !s.isSilent() {
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		case data := <-sess.out:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(protocol.SessionParam)
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "Could not find session", http.StatusNotFound)
		return
	}

	var req inbound
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Could not parse message", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests[req.Method]++
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))

	if len(req.ID) == 0 || string(req.ID) == "null" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.dispatch(&req)
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		s.enqueue(sess, data)
	}()
}

// enqueue hands data to the stream writer unless the server is silent or
// the stream is gone.
func (s *Server) enqueue(sess *session, data []byte) {
	if s.isSilent() {
		return
	}
	select {
	case sess.out <- data:
	case <-sess.done:
	case <-s.closing:
	}
}

func (s *Server) isSilent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silent
}

type outbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *message.Error  `json:"error,omitempty"`
}

func (s *Server) dispatch(req *inbound) *outbound {
	resp := &outbound{JSONRPC: message.Version, ID: req.ID}
	result, rpcErr := s.handle(req)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) handle(req *inbound) (any, *message.Error) {
	switch req.Method {
	case message.MethodInitialize:
		return message.InitializeResult{
			ProtocolVersion: message.ProtocolVersion,
			Capabilities:    json.RawMessage(`{"tools":{}}`),
			ServerInfo:      s.info,
		}, nil
	case message.MethodPing:
		return struct{}{}, nil
	case message.MethodToolsList:
		var params message.ListToolsParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, &message.Error{Code: message.CodeInvalidParams, Message: err.Error()}
			}
		}
		return s.listTools(params.Cursor)
	case message.MethodToolsCall:
		var params message.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &message.Error{Code: message.CodeInvalidParams, Message: err.Error()}
		}
		s.mu.Lock()
		t, ok := s.tools[params.Name]
		s.mu.Unlock()
		if !ok {
			return nil, &message.Error{Code: message.CodeMethodNotFound, Message: "unknown tool: " + params.Name}
		}
		result, err := t.call(params.Arguments)
		if err != nil {
			return nil, &message.Error{Code: message.CodeInvalidParams, Message: err.Error()}
		}
		return result, nil
	}
	return nil, &message.Error{Code: message.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

func (s *Server) listTools(cursor string) (any, *message.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(s.order) {
			return nil, &message.Error{Code: message.CodeInvalidParams, Message: "invalid cursor"}
		}
		start = n
	}
	end := len(s.order)
	if s.pageSize > 0 && start+s.pageSize < end {
		end = start + s.pageSize
	}

	page := message.ListToolsResult{Tools: make([]message.Tool, 0, end-start)}
	for _, name := range s.order[start:end] {
		page.Tools = append(page.Tools, s.tools[name].descriptor())
	}
	if end < len(s.order) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}
