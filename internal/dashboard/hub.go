package dashboard

import "sync"

// hub fans snapshot updates out to subscribers (the SSE surface, tests).
// The zero value is ready to use.
type hub struct {
	mu   sync.Mutex
	subs map[chan Snapshot]struct{}
}

func (h *hub) subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = map[chan Snapshot]struct{}{}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan Snapshot) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// broadcast delivers snap to every subscriber without blocking: a full
// channel means the consumer is behind, and it will catch up on the next
// update. Each channel has capacity 1, so a reader always finds a recent
// snapshot.
func (h *hub) broadcast(snap Snapshot) {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	h.mu.Unlock()
}
