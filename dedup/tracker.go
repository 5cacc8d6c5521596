package dedup

import (
	"sync"
)

// Tracker records which transaction ids have been surfaced to the application
// during the current connection epoch.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		seen: make(map[string]struct{}),
	}
}

// ShouldEmit returns true and records id the first time it is called with id,
// and false on every later call until Reset. The check and the mark happen
// under one lock, so concurrent deliveries of the same id cannot both pass.
func (t *Tracker) ShouldEmit(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	return true
}

// Forget removes id, allowing it to be emitted again.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	delete(t.seen, id)
	t.mu.Unlock()
}

// Reset clears every recorded id.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.seen = make(map[string]struct{})
	t.mu.Unlock()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.seen)
}
