package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sse-rpc/codec"
)

// maxErrorBodySize caps how much of a rejected submission's body is kept.
const maxErrorBodySize = 64 * 1024

// Sender submits envelopes on the side channel. Success only means the server
// accepted the envelope; any reply arrives on the stream. A Sender is safe for
// concurrent use since every submission is an independent HTTP request.
type Sender struct {
	httpClient *http.Client
	codec      codec.Codec
}

func NewSender(httpClient *http.Client, c codec.Codec) *Sender {
	return &Sender{httpClient: httpClient, codec: c}
}

// Send POSTs v as JSON to endpoint. Any 2xx status is success.
func (s *Sender) Send(ctx context.Context, endpoint string, v any) error {
	body, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &SubmitError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &SubmitError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &SubmitError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return nil
}
