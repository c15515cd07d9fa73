package usage

import (
	"context"
	"sync"
	"time"
)

// DefaultRetention keeps one full day of transitions plus slack.
const DefaultRetention = 26 * time.Hour

// Journal records foreground changes in memory and serves them as an
// EventSource. Only one package is in the foreground at a time; an empty
// package means nothing is.
type Journal struct {
	mu        sync.Mutex
	events    []Event
	current   string
	retention time.Duration
}

// NewJournal creates a journal keeping events for the given retention.
func NewJournal(retention time.Duration) *Journal {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Journal{retention: retention}
}

// Record notes that pkg became the foreground package at t. A change from A
// to B records exit(A) then enter(B); repeating the current package is a
// no-op.
func (j *Journal) Record(pkg string, t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if pkg == j.current {
		return
	}

	// Keep the journal ordered when reports arrive late
	if n := len(j.events); n > 0 && t.Before(j.events[n-1].Time) {
		t = j.events[n-1].Time
	}

	if j.current != "" {
		j.events = append(j.events, Event{Package: j.current, Kind: EventExit, Time: t})
	}
	if pkg != "" {
		j.events = append(j.events, Event{Package: pkg, Kind: EventEnter, Time: t})
	}
	j.current = pkg

	if len(j.events) > 0 && t.Sub(j.events[0].Time) > j.retention {
		j.prune(t.Add(-j.retention))
	}
}

// Current returns the package last recorded in the foreground.
func (j *Journal) Current() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current
}

// Events returns the transitions of pkg between from and to. A session that
// was already open at from is reported as an enter at from.
func (j *Journal) Events(_ context.Context, pkg string, from, to time.Time) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Event
	openAtFrom := false
	for _, ev := range j.events {
		if ev.Package != pkg {
			continue
		}
		if ev.Time.Before(from) {
			openAtFrom = ev.Kind == EventEnter
			continue
		}
		if ev.Time.After(to) {
			break
		}
		out = append(out, ev)
	}

	if openAtFrom {
		out = append([]Event{{Package: pkg, Kind: EventEnter, Time: from}}, out...)
	}
	return out, nil
}

// Len returns the number of retained events.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// prune drops events before cutoff. The open session of the current package
// is carried over as an enter at cutoff.
func (j *Journal) prune(cutoff time.Time) {
	idx := 0
	for idx < len(j.events) && j.events[idx].Time.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return
	}

	kept := make([]Event, 0, len(j.events)-idx+1)
	if j.current != "" && !j.hasEventFrom(j.current, idx) {
		kept = append(kept, Event{Package: j.current, Kind: EventEnter, Time: cutoff})
	}
	j.events = append(kept, j.events[idx:]...)
}

func (j *Journal) hasEventFrom(pkg string, idx int) bool {
	for _, ev := range j.events[idx:] {
		if ev.Package == pkg {
			return true
		}
	}
	return false
}
