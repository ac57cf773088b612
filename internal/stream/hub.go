package stream

import "sync"

// Hub wakes watchers in this process when a match's log or status changes, so
// they need not wait for the next poll. Watchers on other processes still
// observe changes by polling.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers interest in matchID. The returned channel receives a
// value after one or more Notify calls; cancel must be called to release it.
func (h *Hub) Subscribe(matchID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[matchID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[matchID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(set, ch)
		if cur, ok := h.subs[matchID]; ok && len(cur) == 0 {
			delete(h.subs, matchID)
		}
	}
}

// Notify wakes every subscriber of matchID without blocking.
func (h *Hub) Notify(matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[matchID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for matchID.
func (h *Hub) Subscribers(matchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[matchID])
}
