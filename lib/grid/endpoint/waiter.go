package endpoint

import (
	"sync"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Waiter
// --------------------------------------------------------------------------

// part is one peer's share of a correlated response
type part struct {
	source uuid.UUID
	keys   [][]byte
	values [][]byte
}

// waiter tracks one outstanding correlated request: the responders still
// expected, the response parts received so far and the terminal state.
// A waiter resolves exactly once — either when the expected set is complete
// (pending → resolved) or at the deadline (pending → timed-out); responses
// arriving after that are discarded.
type waiter struct {
	mu       sync.Mutex
	pending  map[uuid.UUID]struct{}
	parts    []part
	resolved bool
	done     chan struct{}
}

// newWaiter creates a waiter expecting a response from every given endpoint
func newWaiter(expected []uuid.UUID) *waiter {
	pending := make(map[uuid.UUID]struct{}, len(expected))
	for _, id := range expected {
		pending[id] = struct{}{}
	}
	return &waiter{
		pending: pending,
		done:    make(chan struct{}),
	}
}

// addPart records one peer's response. Unexpected and duplicate responders
// are ignored.
func (w *waiter) addPart(source uuid.UUID, keys, values [][]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return
	}
	if _, expected := w.pending[source]; !expected {
		return
	}
	delete(w.pending, source)
	w.parts = append(w.parts, part{source: source, keys: keys, values: values})
	if len(w.pending) == 0 {
		w.resolved = true
		close(w.done)
	}
}

// dropResponder satisfies a responder's slot with an empty part, used when
// that peer detached mid-flight.
func (w *waiter) dropResponder(source uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return
	}
	if _, expected := w.pending[source]; !expected {
		return
	}
	delete(w.pending, source)
	if len(w.pending) == 0 {
		w.resolved = true
		close(w.done)
	}
}

// expire resolves the waiter at its deadline and returns the responders
// that never answered. Returns nil when the waiter resolved in time.
func (w *waiter) expire() []uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return nil
	}
	w.resolved = true
	missing := make([]uuid.UUID, 0, len(w.pending))
	for id := range w.pending {
		missing = append(missing, id)
	}
	close(w.done)
	return missing
}

// results returns the collected parts after resolution
func (w *waiter) results() []part {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.parts
}
