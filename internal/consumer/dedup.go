package consumer

import "sync"

// Window is a bounded recent-id set used to suppress redundant
// reprocessing caused by at-least-once redelivery. It is defense in
// depth on top of the feed's own delivery guarantees, not a replacement
// for them: the sink upsert remains the correctness mechanism.
type Window struct {
	mu       sync.Mutex
	capacity int
	order    []string
	next     int
	seen     map[string]struct{}
}

// NewWindow creates a window remembering the last capacity event IDs.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Window{
		capacity: capacity,
		order:    make([]string, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Contains reports whether the ID was recently processed.
func (w *Window) Contains(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[id]
	return ok
}

// Add records an ID, evicting the oldest entry once at capacity.
// IDs are added only after their event reaches a terminal state, so a
// redelivery of an unfinished event is never suppressed.
func (w *Window) Add(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return
	}

	if evicted := w.order[w.next]; evicted != "" {
		delete(w.seen, evicted)
	}
	w.order[w.next] = id
	w.next = (w.next + 1) % w.capacity
	w.seen[id] = struct{}{}
}

// Len returns the number of IDs currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
