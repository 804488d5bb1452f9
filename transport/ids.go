package transport

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"sse-rpc/message"
)

// IDGenerator hands out request ids of the form "<seq>-<suffix>". The counter
// never resets, so ids stay unique across reconnects; the random suffix keeps
// two clients talking to the same server apart.
type IDGenerator struct {
	seq    atomic.Uint64
	suffix string
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{suffix: strings.ReplaceAll(uuid.NewString(), "-", "")[:12]}
}

func (g *IDGenerator) Next() message.ID {
	return message.ID(fmt.Sprintf("%d-%s", g.seq.Add(1), g.suffix))
}
