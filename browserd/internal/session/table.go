// Package session keeps the table of live browserd sessions: lookup, touch,
// LRU eviction at the cap and the idle sweep.
package session

import (
	"sort"
	"sync"
	"time"
)

// Reasons reported with removed sessions.
const (
	ReasonDeleted = "deleted"
	ReasonIdle    = "idle"
	ReasonLRU     = "lru"
	ReasonClosed  = "shutdown"
)

// Entry is one live session. V is the owner's payload (page handle etc.).
// Mu serialises page work for the session; table bookkeeping never holds it.
type Entry[V any] struct {
	ID        string
	CreatedAt time.Time
	Value     V
	Mu        sync.Mutex

	lastActive time.Time
}

// LastActive returns the last activity time.
func (e *Entry[V]) LastActive() time.Time { return e.lastActive }

// Evicted pairs a removed entry with the reason it left the table.
type Evicted[V any] struct {
	Entry  *Entry[V]
	Reason string
}

// Table is a bounded, clock-driven session map. Safe for concurrent use.
type Table[V any] struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*Entry[V]
}

// NewTable creates a table holding at most max entries, idling out after ttl.
// now defaults to time.Now.
func NewTable[V any](max int, ttl time.Duration, now func() time.Time) *Table[V] {
	if max <= 0 {
		max = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Table[V]{max: max, ttl: ttl, now: now, entries: make(map[string]*Entry[V])}
}

// Max returns the cap.
func (t *Table[V]) Max() int { return t.max }

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Add inserts a new entry. When the table is full the least recently active
// entries are removed first and returned so the caller can release them.
// The new entry is never among the evicted.
func (t *Table[V]) Add(id string, v V) (*Entry[V], []Evicted[V]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []Evicted[V]
	for len(t.entries) >= t.max {
		oldest := t.oldestLocked()
		if oldest == nil {
			break
		}
		delete(t.entries, oldest.ID)
		evicted = append(evicted, Evicted[V]{Entry: oldest, Reason: ReasonLRU})
	}

	now := t.now()
	e := &Entry[V]{ID: id, CreatedAt: now, Value: v, lastActive: now}
	t.entries[id] = e
	return e, evicted
}

// Get returns the entry and marks it active.
func (t *Table[V]) Get(id string) (*Entry[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if ok {
		e.lastActive = t.now()
	}
	return e, ok
}

// Delete removes the entry and returns it.
func (t *Table[V]) Delete(id string) (*Entry[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// Sweep removes every entry idle for longer than the TTL.
func (t *Table[V]) Sweep() []Evicted[V] {
	if t.ttl <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []Evicted[V]
	for id, e := range t.entries {
		if now.Sub(e.lastActive) > t.ttl {
			delete(t.entries, id)
			out = append(out, Evicted[V]{Entry: e, Reason: ReasonIdle})
		}
	}
	return out
}

// Drain removes every entry.
func (t *Table[V]) Drain() []Evicted[V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Evicted[V], 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Evicted[V]{Entry: e, Reason: ReasonClosed})
	}
	t.entries = make(map[string]*Entry[V])
	return out
}

// Snapshot lists entries by creation time.
func (t *Table[V]) Snapshot() []*Entry[V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry[V], 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *Table[V]) oldestLocked() *Entry[V] {
	var oldest *Entry[V]
	for _, e := range t.entries {
		if oldest == nil || e.lastActive.Before(oldest.lastActive) ||
			(e.lastActive.Equal(oldest.lastActive) && e.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = e
		}
	}
	return oldest
}
