package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"sse-rpc/message"
)

var (
	ErrUnknownEnvelope = errors.New("codec: payload is neither a response nor a notification")
	ErrBadVersion      = errors.New("codec: unsupported jsonrpc version")
)

// JSONCodec uses encoding/json, which is what every JSON-RPC peer speaks.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode classifies data by shape: an id with a result or error is a
// response, anything with a method is routed as a notification.
func (c *JSONCodec) Decode(data []byte) (*Inbound, error) {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *message.Error  `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("codec: invalid json: %w", err)
	}
	if raw.JSONRPC != "" && raw.JSONRPC != message.Version {
		return nil, fmt.Errorf("%w: %q", ErrBadVersion, raw.JSONRPC)
	}

	hasID := len(raw.ID) > 0 && string(raw.ID) != "null"
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	if raw.Method != "" {
		kind := KindNotification
		if hasID {
			kind = KindRequest
		}
		return &Inbound{
			Kind: kind,
			Notification: &message.Notification{
				JSONRPC: message.Version,
				Method:  raw.Method,
				Params:  raw.Params,
			},
		}, nil
	}

	if !hasID || hasResult == hasError {
		return nil, ErrUnknownEnvelope
	}

	var id message.ID
	if err := id.UnmarshalJSON(raw.ID); err != nil {
		return nil, err
	}
	return &Inbound{
		Kind: KindResponse,
		Response: &message.Response{
			JSONRPC: message.Version,
			ID:      id,
			Result:  raw.Result,
			Error:   raw.Error,
		},
	}, nil
}

func (c *JSONCodec) Name() string {
	return "json"
}
