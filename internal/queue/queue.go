// Package queue provides the deduplicating event queues that sit between the
// change producers (catch-up scan, filesystem watchers) and the dispatcher.
//
// A Queue holds at most one entry per file path. A repeated signal for a
// queued path refreshes its arrival time in place. Entries keep insertion
// order so the dispatcher serves them first-come first-served.
//
// All methods are safe for concurrent use.
package queue

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsmweb/uploader/internal/schedule"
)

// Op is the filesystem operation that produced an entry.
type Op int

const (
	// OpCreate indicates a new file was created.
	OpCreate Op = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpMove indicates a file was moved or renamed to this path.
	OpMove
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	default:
		return "unknown"
	}
}

// Entry is one pending filesystem operation.
type Entry struct {
	Path  string
	Name  string
	Op    Op
	Added time.Time

	// InProgress is set once the entry has been dispatched.
	InProgress bool
	// Gated entries wait for their scheduled release time.
	Gated bool
	// Released is set once the hold on a gated entry has expired.
	Released bool
	// Held is set by the dispatcher while a gated entry waits for its
	// release time.
	Held bool
	// Failed entries stay queued but are not dispatched again until a new
	// signal arrives for the same path.
	Failed bool

	// dirty records a signal received while the entry was in flight.
	dirty bool
}

// Sizes reports queue occupancy.
type Sizes struct {
	// Pending counts entries not held back by a release time.
	Pending int
	// Held counts gated entries waiting for their release time.
	Held int
}

// Total returns Pending + Held.
func (s Sizes) Total() int { return s.Pending + s.Held }

// Queue is an insertion-ordered map from file path to Entry.
type Queue struct {
	name string

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

// New creates an empty queue. The name is used in logs and status events.
func New(name string) *Queue {
	return &Queue{
		name:    name,
		entries: make(map[string]*Entry),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Add records a signal for path. It returns true if a new entry was created,
// false if an existing entry was refreshed.
func (q *Queue) Add(path string, at time.Time, op Op) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[path]; ok {
		e.Added = at
		e.Op = op
		if e.InProgress {
			e.dirty = true
		}
		e.Failed = false
		return false
	}

	name := filepath.Base(path)
	q.entries[path] = &Entry{
		Path:  path,
		Name:  name,
		Op:    op,
		Added: at,
		Gated: schedule.IsGated(name),
	}
	q.order = append(q.order, path)
	return true
}

// Complete acknowledges a successful transfer of path. The entry is removed,
// unless a new signal arrived while it was in flight, in which case it goes
// back to pending so the newer content is sent too. It returns true if the
// entry was removed.
func (q *Queue) Complete(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[path]
	if !ok {
		return false
	}
	if e.dirty {
		e.dirty = false
		e.InProgress = false
		return false
	}
	q.removeLocked(path)
	return true
}

// Fail marks an in-flight entry as failed. It stays queued without being
// dispatched until the next Add for the same path.
func (q *Queue) Fail(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[path]; ok {
		e.InProgress = false
		if e.dirty {
			e.dirty = false
			return
		}
		e.Failed = true
	}
}

// Remove deletes the entry for path, if any.
func (q *Queue) Remove(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[path]; !ok {
		return false
	}
	q.removeLocked(path)
	return true
}

func (q *Queue) removeLocked(path string) {
	delete(q.entries, path)
	for i, p := range q.order {
		if p == path {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Clear drops every entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = make(map[string]*Entry)
	q.order = nil
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Sizes returns the pending and held counts.
func (q *Queue) Sizes() Sizes {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Sizes
	for _, e := range q.entries {
		if e.Held {
			s.Held++
		} else {
			s.Pending++
		}
	}
	return s
}

// Get returns a copy of the entry for path.
func (q *Queue) Get(path string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of all entries in insertion order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.order))
	for _, p := range q.order {
		out = append(out, *q.entries[p])
	}
	return out
}

// Scan calls fn for each entry in insertion order while holding the queue
// lock. fn may mutate the entry's flags but must not call back into q.
func (q *Queue) Scan(fn func(e *Entry)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range q.order {
		fn(q.entries[p])
	}
}
