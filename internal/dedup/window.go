// Package dedup suppresses redelivered messages. Upstream transports retry
// delivery when a slow agent response outlives their ack window, so each
// message id is only processed once within the window.
package dedup

import (
	"sync"
	"time"
)

// DefaultTTL is how long a processed message id stays suppressed.
const DefaultTTL = 60 * time.Second

// Window tracks recently processed message ids.
type Window struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewWindow returns a window with the given ttl; ttl <= 0 uses DefaultTTL.
func NewWindow(ttl time.Duration) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Window{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// IsDuplicate reports whether the id was marked within the window. Expired
// entries are purged on the way. An empty id is never a duplicate.
func (w *Window) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purgeLocked(w.now())
	_, ok := w.seen[id]
	return ok
}

// MarkProcessed records the id. Marking an id again restarts its window.
func (w *Window) MarkProcessed(id string) {
	if id == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[id] = w.now()
}

// Sweep drops expired entries and returns how many were removed.
func (w *Window) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.purgeLocked(w.now())
}

func (w *Window) purgeLocked(now time.Time) int {
	n := 0
	for id, at := range w.seen {
		if now.Sub(at) > w.ttl {
			delete(w.seen, id)
			n++
		}
	}
	return n
}
