package client

import "sync"

// hub fans values out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the value. Each subscriber sees values in
// publish order.
type hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	size   int
	closed bool
}

func newHub[T any](size int) *hub[T] {
	return &hub[T]{subs: make(map[int]chan T), size: size}
}

func (h *hub[T]) subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan T, h.size)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// publish returns how many subscribers missed v.
func (h *hub[T]) publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	missed := 0
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			missed++
		}
	}
	return missed
}

func (h *hub[T]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
