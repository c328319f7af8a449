package app

import (
	"sync"

	"quiz-coordinator/internal/domain"
)

const subscriberBuffer = 64

type subscriber struct {
	userID string
	ch     chan domain.Envelope
}

// hub fans room events out to connected members. Sends never block the room worker.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) subscribe(userID string, initial ...domain.Envelope) (<-chan domain.Envelope, func()) {
	sub := &subscriber{userID: userID, ch: make(chan domain.Envelope, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	for _, env := range initial {
		h.deliverLocked(sub, env)
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

func (h *hub) publish(env domain.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if env.To != "" && env.To != sub.userID {
			continue
		}
		h.deliverLocked(sub, env)
	}
}

// deliverLocked drops the oldest queued message when a subscriber falls behind;
// clients recover by requesting a snapshot.
func (h *hub) deliverLocked(sub *subscriber, env domain.Envelope) {
	select {
	case sub.ch <- env:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- env:
		default:
		}
	}
}

func (h *hub) connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for sub := range h.subs {
		if sub.userID == userID {
			n++
		}
	}
	return n
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
