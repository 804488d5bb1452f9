package codec

import "sse-rpc/message"

// Kind classifies an inbound envelope.
type Kind int

const (
	KindResponse     Kind = iota // has an id and a result or error
	KindNotification             // has a method and no id
	KindRequest                  // server-initiated request: method and id
)

// Inbound is a decoded stream payload. Exactly one of Response and
// Notification is set; server requests are surfaced as Notifications.
type Inbound struct {
	Kind         Kind
	Response     *message.Response
	Notification *message.Notification
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (*Inbound, error)
	Name() string
}

// GetCodec returns the codec registered under name, or nil. An empty name
// selects JSON, the only format the event stream carries.
func GetCodec(name string) Codec {
	switch name {
	case "", "json":
		return &JSONCodec{}
	}
	return nil
}
