package transport

import (
	"sync"
	"time"

	"sse-rpc/message"
)

// Result completes a pending call: a Response, or an error explaining why
// none will arrive.
type Result struct {
	Response *message.Response
	Err      error
}

// Pending is the completion handle for one registered request.
type Pending struct {
	ID        message.ID
	CreatedAt time.Time

	done  chan Result // buffered, receives exactly once
	timer *time.Timer
}

// Done delivers the single Result for this call.
func (p *Pending) Done() <-chan Result {
	return p.done
}

// PendingTable maps request ids to waiting callers. Every entry leaves the
// table exactly once: resolved, timed out, or evicted. Whoever removes it
// under the lock delivers the Result, so a late response after a timeout
// finds nothing and is dropped.
type PendingTable struct {
	mu       sync.Mutex
	pending  map[message.ID]*Pending
	timeout  time.Duration
	onExpire func(id message.ID)
}

// NewPendingTable creates a table whose calls time out after timeout unless
// Register is given its own bound.
func NewPendingTable(timeout time.Duration) *PendingTable {
	return &PendingTable{
		pending: make(map[message.ID]*Pending),
		timeout: timeout,
	}
}

// OnExpire installs a hook run after a call is evicted by its timer.
func (t *PendingTable) OnExpire(fn func(id message.ID)) {
	t.mu.Lock()
	t.onExpire = fn
	t.mu.Unlock()
}

// Register adds a slot for id and arms its timeout. A non-positive timeout
// uses the table default.
func (t *PendingTable) Register(id message.ID, timeout time.Duration) (*Pending, error) {
	if timeout <= 0 {
		timeout = t.timeout
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; ok {
		return nil, ErrDuplicateID
	}
	p := &Pending{
		ID:        id,
		CreatedAt: time.Now(),
		done:      make(chan Result, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		if t.complete(id, Result{Err: ErrTimeout}) {
			t.mu.Lock()
			fn := t.onExpire
			t.mu.Unlock()
			if fn != nil {
				fn(id)
			}
		}
	})
	t.pending[id] = p
	return p, nil
}

// Resolve completes the call matching resp.ID. It returns false when the id
// is unknown, which is normal for responses that lost the race to a timeout.
func (t *PendingTable) Resolve(resp *message.Response) bool {
	return t.complete(resp.ID, Result{Response: resp})
}

// Evict completes a single call with err.
func (t *PendingTable) Evict(id message.ID, err error) bool {
	return t.complete(id, Result{Err: err})
}

// EvictAll completes every outstanding call with err and returns how many
// were evicted. The table is empty afterwards.
func (t *PendingTable) EvictAll(err error) int {
	t.mu.Lock()
	evicted := t.pending
	t.pending = make(map[message.ID]*Pending)
	t.mu.Unlock()

	for _, p := range evicted {
		p.timer.Stop()
		p.done <- Result{Err: err}
	}
	return len(evicted)
}

// Len reports the number of calls still awaiting a reply.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *PendingTable) complete(id message.ID, res Result) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	p.timer.Stop()
	p.done <- res
	return true
}
