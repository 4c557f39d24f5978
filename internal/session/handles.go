package session

import (
	"sync"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
)

// handleSet collects subscriptions owned by one session scope and disposes
// each exactly once on teardown, replacing ad-hoc maps of unsubscribe
// closures.
type handleSet struct {
	mu      sync.Mutex
	handles []core.Subscription
	closed  bool
}

// add registers a handle. If the set is already closed the handle is
// disposed immediately: late registrations must not outlive the scope.
func (h *handleSet) add(s core.Subscription) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Dispose()
		return
	}
	h.handles = append(h.handles, s)
	h.mu.Unlock()
}

func (h *handleSet) disposeAll() {
	h.mu.Lock()
	handles := h.handles
	h.handles = nil
	h.closed = true
	h.mu.Unlock()
	for _, s := range handles {
		s.Dispose()
	}
}
