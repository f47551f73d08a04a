// Package schedule runs one independent timer per site with exponential
// backoff on failure, immediate triggers and prompt shutdown.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Result is the outcome of one run.
type Result int

const (
	// Success resets the failure counter.
	Success Result = iota
	// Failure increments the failure counter and backs off.
	Failure
	// Skipped means the site was already refreshing; nothing was run.
	Skipped
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "skipped"
	}
}

// ErrUnknownSite is returned by Trigger for an unconfigured site id.
var ErrUnknownSite = errors.New("schedule: unknown site")

// ErrStopped is returned by Trigger after Stop.
var ErrStopped = errors.New("schedule: stopped")

// RunFunc refreshes one site. ctx is cancelled on Stop.
type RunFunc func(ctx context.Context, siteID string) Result

// Site is the timing of one site.
type Site struct {
	ID           string
	Interval     time.Duration // Base interval between successful runs.
	MaxBackoff   time.Duration // Cap on the failure delay. 0 = no cap beyond 64x Interval.
	InitialDelay time.Duration // Delay before the first run after Start.
}

// Timer is the subset of *time.Timer the scheduler uses.
type Timer interface {
	Stop() bool
}

// Config configures a Scheduler.
type Config struct {
	Sites  []Site
	Logger *slog.Logger
	// AfterFunc schedules f after d. Default: time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
	// Now is the clock used for NextRun. Default: time.Now.
	Now func() time.Time
	// OnSchedule observes every (re)scheduling decision.
	OnSchedule func(siteID string, delay time.Duration, failures int)
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.AfterFunc == nil {
		c.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Delay returns min(base * 2^failures, max). A zero max caps at 64x base.
func Delay(base, max time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 64 * base
	}
	d := base
	for i := 0; i < failures; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

type siteState struct {
	cfg      Site
	failures int
	running  bool
	timer    Timer
	gen      uint64
	nextRun  time.Time
}

// SiteStatus is a point-in-time view of one site's schedule.
type SiteStatus struct {
	ID       string    `json:"id"`
	Failures int       `json:"failures"`
	Running  bool      `json:"running"`
	NextRun  time.Time `json:"nextRun"`
}

// Scheduler drives RunFunc per site.
type Scheduler struct {
	cfg Config
	run RunFunc

	mu      sync.Mutex
	sites   map[string]*siteState
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Scheduler. Call Start to arm the timers.
func New(cfg Config, run RunFunc) *Scheduler {
	cfg.defaults()
	s := &Scheduler{cfg: cfg, run: run, sites: make(map[string]*siteState, len(cfg.Sites))}
	for _, site := range cfg.Sites {
		s.sites[site.ID] = &siteState{cfg: site}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start arms every site's first timer. Cancelling parent stops the scheduler.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go func() {
		select {
		case <-parent.Done():
			s.Stop()
		case <-s.ctx.Done():
		}
	}()
	for id, st := range s.sites {
		s.scheduleLocked(id, st, st.cfg.InitialDelay)
	}
	s.cfg.Logger.Info("scheduler: started", "sites", len(s.sites))
}

// Trigger cancels the site's pending timer and runs it now, in the caller's
// goroutine. If the site is already running it returns Skipped at once.
func (s *Scheduler) Trigger(siteID string) (Result, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Skipped, ErrStopped
	}
	st, ok := s.sites[siteID]
	if !ok {
		s.mu.Unlock()
		return Skipped, fmt.Errorf("%w: %q", ErrUnknownSite, siteID)
	}
	if st.running {
		s.mu.Unlock()
		return Skipped, nil
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
	s.mu.Unlock()

	return s.execute(siteID, st), nil
}

// Stop cancels every pending timer, aborts in-flight runs through their
// context and waits for them to return. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, st := range s.sites {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.gen++
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.cfg.Logger.Info("scheduler: stopped")
}

// Status lists every site's schedule, sorted by id.
func (s *Scheduler) Status() []SiteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SiteStatus, 0, len(s.sites))
	for id, st := range s.sites {
		out = append(out, SiteStatus{ID: id, Failures: st.failures, Running: st.running, NextRun: st.nextRun})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) fire(siteID string, gen uint64) {
	s.mu.Lock()
	st := s.sites[siteID]
	if s.stopped || st == nil || st.gen != gen {
		s.mu.Unlock()
		return
	}
	st.timer = nil
	if st.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.execute(siteID, st)
}

// execute runs the site once and schedules its next tick.
func (s *Scheduler) execute(siteID string, st *siteState) Result {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Skipped
	}
	if st.running {
		s.mu.Unlock()
		return Skipped
	}
	st.running = true
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	defer s.wg.Done()

	res := s.safeRun(ctx, siteID)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.running = false
	if s.stopped {
		return res
	}

	var delay time.Duration
	switch res {
	case Success:
		st.failures = 0
		delay = st.cfg.Interval
	case Failure:
		st.failures++
		delay = Delay(st.cfg.Interval, st.cfg.MaxBackoff, st.failures)
		s.cfg.Logger.Warn("scheduler: backoff", "site", siteID, "failures", st.failures, "delay", delay)
	default:
		delay = st.cfg.Interval
	}
	s.scheduleLocked(siteID, st, delay)
	return res
}

func (s *Scheduler) safeRun(ctx context.Context, siteID string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error("scheduler: run panicked", "site", siteID, "panic", r)
			res = Failure
		}
	}()
	return s.run(ctx, siteID)
}

func (s *Scheduler) scheduleLocked(siteID string, st *siteState, delay time.Duration) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.nextRun = s.cfg.Now().Add(delay)
	st.timer = s.cfg.AfterFunc(delay, func() { s.fire(siteID, gen) })
	if s.cfg.OnSchedule != nil {
		s.cfg.OnSchedule(siteID, delay, st.failures)
	}
}
