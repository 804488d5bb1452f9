// Package protocol implements the line framing of the server-sent event stream.
//
// The stream is newline-delimited text. Only a few line shapes matter:
//
//	: ping                                  keep-alive comment, liveness only
//	event: endpoint                         event name, framing only
//	data: /messages/?session_id=abc123      endpoint announcement
//	data: {"jsonrpc":"2.0","id":"1-x",...}  JSON-RPC payload
//	<blank>                                 record separator
//
// Everything else is ignored so newer servers can add fields without breaking
// older clients.
package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// SessionParam is the query parameter carrying the session token.
const SessionParam = "session_id"

// StreamSuffix is trimmed from the stream address to find the server base.
const StreamSuffix = "/sse"

var ErrMalformedEndpoint = errors.New("protocol: malformed endpoint announcement")

// RecordKind classifies a single stream line.
type RecordKind int

const (
	RecordIgnored  RecordKind = iota // blank, unknown field, or non-JSON data
	RecordComment                    // ":" keep-alive
	RecordEvent                      // "event:" name
	RecordEndpoint                   // data carrying the submission path
	RecordJSON                       // data carrying a JSON object
)

// Record is one parsed line.
type Record struct {
	Kind     RecordKind
	Event    string   // set for RecordEvent
	Data     string   // payload after "data:" for RecordJSON
	Endpoint Endpoint // set for RecordEndpoint
}

// Endpoint is the learned submission address.
type Endpoint struct {
	URL   string // path with query as announced, or an absolute URL
	Token string // session_id query value, may be empty
}

// IsAbsolute reports whether the server announced a full URL.
func (e Endpoint) IsAbsolute() bool {
	return strings.HasPrefix(e.URL, "http://") || strings.HasPrefix(e.URL, "https://")
}

// endpointPattern matches "/<path>[?query]" optionally prefixed with scheme://host.
var endpointPattern = regexp.MustCompile(`^(https?://[^\s/?#]+)?(/[^\s?#]*)(\?[^\s#]*)?$`)

// ParseLine applies the framing rules in priority order: comments, event
// names, endpoint announcements, JSON payloads, then everything else.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r")
	if strings.HasPrefix(line, ":") {
		return Record{Kind: RecordComment}, nil
	}
	if name, ok := cutField(line, "event"); ok {
		return Record{Kind: RecordEvent, Event: name}, nil
	}
	payload, ok := cutField(line, "data")
	if !ok || payload == "" {
		return Record{Kind: RecordIgnored}, nil
	}

	switch {
	case strings.HasPrefix(payload, "{"):
		return Record{Kind: RecordJSON, Data: payload}, nil
	case strings.HasPrefix(payload, "/"), strings.HasPrefix(payload, "http://"), strings.HasPrefix(payload, "https://"):
		ep, err := ParseEndpoint(payload)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: RecordEndpoint, Endpoint: ep}, nil
	}
	return Record{Kind: RecordIgnored}, nil
}

// ParseEndpoint extracts the submission path and session token from an
// endpoint announcement payload such as "/messages/?session_id=abc123".
func ParseEndpoint(payload string) (Endpoint, error) {
	payload = strings.TrimSpace(payload)
	m := endpointPattern.FindStringSubmatch(payload)
	if m == nil {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrMalformedEndpoint, payload)
	}

	ep := Endpoint{URL: payload}
	if query := strings.TrimPrefix(m[3], "?"); query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrMalformedEndpoint, payload, err)
		}
		ep.Token = values.Get(SessionParam)
	}
	return ep, nil
}

// ResolveEndpoint joins an announced endpoint to the stream address:
// "<scheme://host/base-without-/sse><endpoint>". Absolute announcements
// are returned unchanged.
func ResolveEndpoint(streamURL string, ep Endpoint) (string, error) {
	if ep.IsAbsolute() {
		return ep.URL, nil
	}
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("protocol: invalid stream address %q: %w", streamURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("protocol: stream address %q must be absolute", streamURL)
	}
	base := strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), StreamSuffix)
	return u.Scheme + "://" + u.Host + base + ep.URL, nil
}

// cutField splits "name: value" (a single optional space after the colon).
func cutField(line, name string) (string, bool) {
	rest, ok := strings.CutPrefix(line, name+":")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}
