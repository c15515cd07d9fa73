// Package notifytest provides a notify.Sink for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/johnivansn/timelock/internal/notify"
)

// Recorder keeps raised notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []notify.Notification
}

var _ notify.Sink = (*Recorder)(nil)

// Raise appends n.
func (r *Recorder) Raise(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of everything raised so far.
func (r *Recorder) All() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Kinds returns the kinds raised so far, in order.
func (r *Recorder) Kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.items))
	for i, n := range r.items {
		out[i] = n.Kind
	}
	return out
}

// Reset forgets everything raised.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}
