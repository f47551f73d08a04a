package state

import (
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/profilemirror/mirror/payload"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore() (*Store, *clock) {
	clk := &clock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	seeds := []payload.SitePayload{
		payload.Seed("microblog", payload.Profile{Name: "Ada (seed)"}, nil, nil, nil),
		payload.Seed("steam", payload.Profile{Name: "ada"}, nil, nil, nil),
	}
	return New(seeds, clk.now), clk
}

func TestStore_SeedsEverySite(t *testing.T) {
	s, _ := newStore()
	snap := s.Snapshot()
	if len(snap.Sites) != 2 || snap.Sites[0].SiteID != "microblog" || snap.Sites[1].SiteID != "steam" {
		t.Fatalf("sites: got %+v", snap.Sites)
	}
	if snap.InFlight || snap.Summary.Partial != 2 {
		t.Fatalf("initial snapshot: got %+v", snap)
	}
}

func TestStore_FirstRefreshFailsKeepsSeed(t *testing.T) {
	// WHAT: with no previous data, a failed first refresh keeps the seed, marked FAILED.
	// WHY: the consumer must always have something to render.
	s, _ := newStore()
	if !s.Begin("steam") {
		t.Fatal("Begin: got false")
	}
	got := s.Complete("steam", nil)
	if got.Profile.Name != "ada" || got.SourceStatus != payload.StatusFailed {
		t.Fatalf("Complete: got %+v", got)
	}
	p, ok := s.Snapshot().Site("steam")
	if !ok || p.Profile.Name != "ada" || p.FreshnessStatus != payload.FreshStatic {
		t.Fatalf("snapshot site: got %+v (ok=%v)", p, ok)
	}
	if s.Snapshot().Summary.Failed != 1 {
		t.Fatalf("summary: got %+v", s.Snapshot().Summary)
	}
}

func TestStore_BeginRejectsOverlap(t *testing.T) {
	s, _ := newStore()
	if !s.Begin("steam") {
		t.Fatal("first Begin: got false")
	}
	if s.Begin("steam") {
		t.Fatal("second Begin while in flight: got true")
	}
	if s.Begin("nope") {
		t.Fatal("Begin unknown site: got true")
	}
	snap := s.Snapshot()
	if !snap.InFlight || len(snap.Refreshing) != 1 || snap.Refreshing[0] != "steam" {
		t.Fatalf("in flight snapshot: got %+v", snap)
	}
	s.Complete("steam", nil)
	if s.Snapshot().InFlight {
		t.Fatal("InFlight after Complete")
	}
}

func TestStore_RefreshAllFlag(t *testing.T) {
	s, _ := newStore()
	s.BeginAll()
	if !s.Snapshot().InFlight {
		t.Fatal("InFlight: got false during refresh-all")
	}
	s.EndAll()
	if s.Snapshot().InFlight {
		t.Fatal("InFlight: got true after refresh-all")
	}
}

func TestStore_SnapshotsAreImmutable(t *testing.T) {
	s, _ := newStore()
	before := s.Snapshot()
	s.Begin("microblog")
	s.Complete("microblog", &payload.SitePayload{Profile: payload.Profile{Name: "Ada"}, SourceStatus: payload.StatusOK})
	if before.Sites[0].Profile.Name != "Ada (seed)" {
		t.Fatal("earlier snapshot changed")
	}
	if s.Snapshot() == before {
		t.Fatal("snapshot not rebuilt")
	}
	before.Sites[0].Profile.Name = "mutated"
	if p, _ := s.Snapshot().Site("microblog"); p.Profile.Name != "Ada" {
		t.Fatalf("store shares memory with snapshot: %q", p.Profile.Name)
	}
}

func TestStore_SubscribeLatestWins(t *testing.T) {
	s, _ := newStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	first := <-ch
	if first != s.Snapshot() {
		t.Fatal("first delivery is not the current snapshot")
	}
	s.Begin("steam")
	s.Complete("steam", &payload.SitePayload{Profile: payload.Profile{Name: "Ada"}, SourceStatus: payload.StatusOK})

	got := <-ch
	if got != s.Snapshot() {
		t.Fatal("slow reader did not get the latest snapshot")
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", extra)
	default:
	}
}

func TestStore_TickRepublishesOnBucketChange(t *testing.T) {
	s, clk := newStore()
	s.Begin("steam")
	s.Complete("steam", &payload.SitePayload{Profile: payload.Profile{Name: "Ada"}, SourceStatus: payload.StatusOK})
	if p, _ := s.Snapshot().Site("steam"); p.FreshnessStatus != payload.FreshLive {
		t.Fatalf("fresh: got %s", p.FreshnessStatus)
	}

	clk.advance(30 * time.Second)
	if s.Tick() {
		t.Fatal("Tick published without a bucket change")
	}
	clk.advance(5 * time.Minute)
	if !s.Tick() {
		t.Fatal("Tick did not publish after LIVE -> UPDATED")
	}
	if p, _ := s.Snapshot().Site("steam"); p.FreshnessStatus != payload.FreshUpdated {
		t.Fatalf("aged: got %s, want UPDATED", p.FreshnessStatus)
	}
}

func TestStore_Restore(t *testing.T) {
	s, _ := newStore()
	cached := payload.SitePayload{SiteID: "steam", Profile: payload.Profile{Name: "cached"}, SourceStatus: payload.StatusOK, UpdatedAt: time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)}
	if !s.Restore(cached) {
		t.Fatal("Restore: got false")
	}
	if s.Restore(payload.SitePayload{SiteID: "unknown"}) {
		t.Fatal("Restore unknown: got true")
	}
	p, _ := s.Snapshot().Site("steam")
	if p.Profile.Name != "cached" || p.FreshnessStatus != payload.FreshStatic {
		t.Fatalf("restored: got %+v", p)
	}
}
