package client

import "time"

// State is the session lifecycle. Calls are accepted only in Ready.
//
//	Disconnected ──Connect──→ Connecting ──endpoint──→ Streaming ──initialize──→ Ready
//	     ↑                                                                         │
//	     └──────── attempts exhausted ──── Degraded ←──────── stream lost ─────────┘
type State int

const (
	Disconnected State = iota
	Connecting
	Streaming
	Ready
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// StateEvent is published on every transition. Err explains why the session
// left Ready or ended; Attempt numbers reconnect attempts while Degraded.
type StateEvent struct {
	State    State
	Previous State
	Err      error
	Attempt  int
	At       time.Time
}
