// Package state is the aggregate state store: the latest payload per site,
// the in-flight flags, and the immutable snapshots published to subscribers.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/profilemirror/mirror/payload"
)

// Store holds per-site payloads. All methods are safe for concurrent use;
// every mutation is applied atomically per site and republishes a snapshot.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	order       []string
	payloads    map[string]payload.SitePayload
	inFlight    map[string]bool
	refreshAll  int
	lastRefresh time.Time
	current     *payload.Snapshot
	published   map[string]payload.Freshness

	subs    map[int]chan *payload.Snapshot
	nextSub int
}

// New seeds the store. Site order in snapshots follows seeds.
func New(seeds []payload.SitePayload, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{
		now:       now,
		payloads:  make(map[string]payload.SitePayload, len(seeds)),
		inFlight:  make(map[string]bool),
		published: make(map[string]payload.Freshness),
		subs:      make(map[int]chan *payload.Snapshot),
	}
	for _, p := range seeds {
		if _, dup := s.payloads[p.SiteID]; dup {
			continue
		}
		s.order = append(s.order, p.SiteID)
		s.payloads[p.SiteID] = p.Clone()
	}
	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s
}

// Restore overlays a previously persisted payload, e.g. from the cache at
// startup. Unknown sites are ignored.
func (s *Store) Restore(p payload.SitePayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payloads[p.SiteID]; !ok {
		return false
	}
	s.payloads[p.SiteID] = p.Clone()
	s.publishLocked()
	return true
}

// Sites returns the configured site ids in order.
func (s *Store) Sites() []string {
	return append([]string(nil), s.order...)
}

// Previous returns a copy of the stored payload for id.
func (s *Store) Previous(id string) (*payload.SitePayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payloads[id]
	if !ok {
		return nil, false
	}
	c := p.Clone()
	return &c, true
}

// Begin marks id in flight. It returns false when id is unknown or already
// refreshing; the caller must then skip the cycle.
func (s *Store) Begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payloads[id]; !ok || s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	s.publishLocked()
	return true
}

// Complete merges a refresh result (nil for a failed cycle), clears the
// in-flight flag and returns the stored payload.
func (s *Store) Complete(id string, next *payload.SitePayload) payload.SitePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	prev, ok := s.payloads[id]
	if !ok {
		return payload.SitePayload{}
	}
	merged := payload.Merge(prev, next, now)
	s.payloads[id] = merged
	delete(s.inFlight, id)
	s.lastRefresh = now
	s.publishLocked()
	return merged.Clone()
}

// BeginAll raises the aggregate refresh-all flag. Calls nest.
func (s *Store) BeginAll() {
	s.mu.Lock()
	s.refreshAll++
	s.publishLocked()
	s.mu.Unlock()
}

// EndAll lowers the aggregate refresh-all flag.
func (s *Store) EndAll() {
	s.mu.Lock()
	if s.refreshAll > 0 {
		s.refreshAll--
	}
	s.publishLocked()
	s.mu.Unlock()
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Store) Snapshot() *payload.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Tick recomputes freshness and republishes when any site changed bucket.
// It reports whether a snapshot was published.
func (s *Store) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, id := range s.order {
		p := s.payloads[id]
		if payload.ComputeFreshness(p.UpdatedAt, p.SourceStatus, now) != s.published[id] {
			s.publishLocked()
			return true
		}
	}
	return false
}

// Subscribe returns a channel that receives every new snapshot, starting
// with the current one. Slow readers only ever see the latest snapshot.
// cancel releases the subscription and closes the channel.
func (s *Store) Subscribe() (<-chan *payload.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *payload.Snapshot, 1)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.current

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publishLocked() {
	now := s.now()
	snap := &payload.Snapshot{
		Sites:       make([]payload.SitePayload, 0, len(s.order)),
		LastRefresh: s.lastRefresh,
		InFlight:    s.refreshAll > 0 || len(s.inFlight) > 0,
		Refreshing:  make([]string, 0, len(s.inFlight)),
		GeneratedAt: now,
	}
	for _, id := range s.order {
		p := s.payloads[id].Clone().WithFreshness(now)
		s.published[id] = p.FreshnessStatus
		snap.Sites = append(snap.Sites, p)
	}
	for id := range s.inFlight {
		snap.Refreshing = append(snap.Refreshing, id)
	}
	sort.Strings(snap.Refreshing)
	snap.Summary = payload.Summarize(snap.Sites)
	s.current = snap

	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
