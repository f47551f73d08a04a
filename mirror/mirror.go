// Package mirror is the client daemon: it drives one site adapter per
// configured site on a schedule, merges results into the state store,
// persists them, and serves the read-only snapshot over HTTP, a websocket
// stream and MCP.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/idgen"
	"github.com/hazyhaar/profilemirror/kit"
	"github.com/hazyhaar/profilemirror/mirror/internal/cache"
	"github.com/hazyhaar/profilemirror/mirror/internal/schedule"
	"github.com/hazyhaar/profilemirror/mirror/internal/state"
	"github.com/hazyhaar/profilemirror/mirror/payload"
	"github.com/hazyhaar/profilemirror/mirror/sites"
)

// ErrUnknownSite is returned for site ids that are not configured.
var ErrUnknownSite = errors.New("mirror: unknown site")

// Refresh outcomes, as reported in RefreshResult and metrics.
const (
	outcomeOK      = "ok"
	outcomePartial = "partial"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// RefreshResult reports one manual refresh.
type RefreshResult struct {
	Site    string `json:"site"`
	Outcome string `json:"outcome"`
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(m *Mirror) { m.logger = l } }

// WithClock sets the clock. Default: time.Now.
func WithClock(now func() time.Time) Option { return func(m *Mirror) { m.now = now } }

// WithMetrics records refresh metrics.
func WithMetrics(mt *Metrics) Option { return func(m *Mirror) { m.metrics = mt } }

// WithCache persists merged payloads and refresh runs.
func WithCache(c *cache.Cache) Option { return func(m *Mirror) { m.cache = c } }

// OpenCache opens (creating if needed) the SQLite cache at path.
func OpenCache(ctx context.Context, path string) (*cache.Cache, error) {
	return cache.Open(ctx, path)
}

// WithAfterFunc replaces time.AfterFunc for the scheduler timers.
func WithAfterFunc(f func(time.Duration, func()) schedule.Timer) Option {
	return func(m *Mirror) { m.afterFunc = f }
}

// Mirror wires adapters, scheduler, store and cache.
type Mirror struct {
	cfg       Config
	adapters  map[string]sites.Adapter
	timeouts  map[string]time.Duration
	logger    *slog.Logger
	now       func() time.Time
	metrics   *Metrics
	cache     *cache.Cache
	afterFunc func(time.Duration, func()) schedule.Timer

	store *state.Store
	sched *schedule.Scheduler

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewAdapters builds one adapter per configured site, sharing an extraction
// client for browserd and a rate-limited API client.
func NewAdapters(cfg *Config, logger *slog.Logger) (map[string]sites.Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deps := sites.Deps{
		Extractor: extract.NewClient(extract.ClientConfig{
			BaseURL: cfg.BrowserdURL,
			Timeout: cfg.ExtractTimeout,
			Logger:  logger,
		}),
		API:    sites.NewAPIClient(sites.APIConfig{PerHost: rate.Limit(cfg.APIRate), Logger: logger}),
		Logger: logger,
	}
	out := make(map[string]sites.Adapter, len(cfg.Sites))
	for _, s := range cfg.Sites {
		a, err := sites.New(s.SiteConfig, deps)
		if err != nil {
			return nil, fmt.Errorf("mirror: site %s: %w", s.ID, err)
		}
		out[s.ID] = a
	}
	return out, nil
}

// New creates a Mirror. Every configured site needs an adapter.
func New(cfg *Config, adapters map[string]sites.Adapter, opts ...Option) (*Mirror, error) {
	m := &Mirror{
		cfg:      *cfg,
		adapters: adapters,
		timeouts: make(map[string]time.Duration, len(cfg.Sites)),
		logger:   slog.Default(),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.cfg.Sites = append([]Site(nil), cfg.Sites...)
	m.cfg.applyDefaults()

	seeds := make([]payload.SitePayload, 0, len(m.cfg.Sites))
	timing := make([]schedule.Site, 0, len(m.cfg.Sites))
	for i, s := range m.cfg.Sites {
		if adapters[s.ID] == nil {
			return nil, fmt.Errorf("%w: no adapter for %q", ErrUnknownSite, s.ID)
		}
		seeds = append(seeds, s.Seed.Payload(s.ID))
		timing = append(timing, schedule.Site{
			ID:           s.ID,
			Interval:     s.Interval,
			MaxBackoff:   s.MaxBackoff,
			InitialDelay: time.Duration(i) * m.cfg.Stagger,
		})
		m.timeouts[s.ID] = s.Timeout
	}

	m.store = state.New(seeds, m.now)
	m.sched = schedule.New(schedule.Config{
		Sites:      timing,
		Logger:     m.logger,
		AfterFunc:  m.afterFunc,
		Now:        m.now,
		OnSchedule: m.metrics.scheduled,
	}, m.run)
	return m, nil
}

// Start restores cached payloads, arms the schedule and the freshness tick.
// Cancelling ctx stops the scheduler; call Close to wait for shutdown.
func (m *Mirror) Start(ctx context.Context) {
	m.restore(ctx)
	m.sched.Start(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(m.cfg.FreshnessTick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-t.C:
				if m.store.Tick() {
					m.logger.Debug("mirror: freshness changed")
				}
			}
		}
	}()
}

func (m *Mirror) restore(ctx context.Context) {
	if m.cache == nil {
		return
	}
	cached, err := m.cache.LoadAll(ctx)
	if err != nil {
		m.logger.Warn("mirror: cache load", "error", err)
	}
	restored := 0
	for _, p := range cached {
		if m.store.Restore(p) {
			restored++
		}
	}
	if n, err := m.cache.Prune(ctx, m.cfg.KeepRuns); err != nil {
		m.logger.Warn("mirror: prune runs", "error", err)
	} else if n > 0 {
		m.logger.Debug("mirror: pruned runs", "deleted", n)
	}
	m.logger.Info("mirror: restored from cache", "sites", restored)
}

// Close stops the scheduler, aborting in-flight refreshes, and the tick loop.
func (m *Mirror) Close() {
	m.sched.Stop()
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Snapshot returns the current aggregate snapshot.
func (m *Mirror) Snapshot() *payload.Snapshot { return m.store.Snapshot() }

// Subscribe streams snapshots; see state.Store.Subscribe.
func (m *Mirror) Subscribe() (<-chan *payload.Snapshot, func()) { return m.store.Subscribe() }

// Status returns the per-site schedule.
func (m *Mirror) Status() []schedule.SiteStatus { return m.sched.Status() }

// Runs returns recent refresh runs of a site, newest first. Empty without a cache.
func (m *Mirror) Runs(ctx context.Context, siteID string, limit int) ([]cache.Run, error) {
	if _, ok := m.timeouts[siteID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, siteID)
	}
	if m.cache == nil {
		return []cache.Run{}, nil
	}
	return m.cache.Runs(ctx, siteID, limit)
}

// RefreshSite runs one site now, cancelling its pending timer. A site that
// is already refreshing is not run twice; the result is then "skipped".
func (m *Mirror) RefreshSite(ctx context.Context, siteID string) (RefreshResult, error) {
	if _, ok := m.timeouts[siteID]; !ok {
		return RefreshResult{}, fmt.Errorf("%w: %q", ErrUnknownSite, siteID)
	}
	if err := ctx.Err(); err != nil {
		return RefreshResult{}, err
	}
	res, err := m.sched.Trigger(siteID)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("mirror: refresh %s: %w", siteID, err)
	}
	return RefreshResult{Site: siteID, Outcome: m.outcome(siteID, res)}, nil
}

// RefreshAll refreshes every site concurrently. The snapshot's in-flight
// flag stays raised until every site has finished.
func (m *Mirror) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.store.BeginAll()
	defer m.store.EndAll()

	ids := m.store.Sites()
	out := make([]RefreshResult, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			res, err := m.sched.Trigger(id)
			if err != nil {
				return fmt.Errorf("mirror: refresh %s: %w", id, err)
			}
			out[i] = RefreshResult{Site: id, Outcome: m.outcome(id, res)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// outcome turns a scheduler result into the stored status of the site.
func (m *Mirror) outcome(siteID string, res schedule.Result) string {
	switch res {
	case schedule.Skipped:
		return outcomeSkipped
	case schedule.Failure:
		return outcomeFailed
	}
	if p, ok := m.store.Snapshot().Site(siteID); ok && p.SourceStatus == payload.StatusPartial {
		return outcomePartial
	}
	return outcomeOK
}

// run is the scheduler's RunFunc: one adapter call merged into the store.
func (m *Mirror) run(ctx context.Context, siteID string) schedule.Result {
	if !m.store.Begin(siteID) {
		m.metrics.refreshed(siteID, outcomeSkipped, 0)
		return schedule.Skipped
	}
	prev, _ := m.store.Previous(siteID)
	start := m.now()
	runID := idgen.RunID()
	log := m.logger.With("site", siteID, "run", runID)

	ctx = kit.WithTraceID(kit.WithSiteID(ctx, siteID), runID)
	ctx, cancel := context.WithTimeout(ctx, m.timeouts[siteID])
	next, err := m.fetch(ctx, siteID, payload.Input{SiteID: siteID, Now: start, Previous: prev})
	cancel()

	merged := m.store.Complete(siteID, next)
	elapsed := m.now().Sub(start)

	outcome := outcomeOK
	switch {
	case next == nil:
		outcome = outcomeFailed
		log.Warn("mirror: refresh failed", "error", err, "duration", elapsed)
	case next.SourceStatus != payload.StatusOK:
		outcome = outcomePartial
		log.Info("mirror: refresh partial", "duration", elapsed)
	default:
		log.Debug("mirror: refreshed", "duration", elapsed)
	}
	m.metrics.refreshed(siteID, outcome, elapsed)
	m.persist(siteID, merged, cache.Run{
		ID:        runID,
		SiteID:    siteID,
		Outcome:   outcome,
		StartedAt: start,
		Duration:  elapsed,
		Error:     errString(err),
	})

	if next == nil {
		return schedule.Failure
	}
	return schedule.Success
}

// fetch calls the adapter, converting panics into errors. A result with an
// error, or one that does not carry a usable status, counts as no result.
func (m *Mirror) fetch(ctx context.Context, siteID string, in payload.Input) (next *payload.SitePayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("adapter panic: %v", r)
		}
	}()
	next, err = m.adapters[siteID].Fetch(ctx, in)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, sites.ErrNoData
	}
	if next.SourceStatus != payload.StatusOK && next.SourceStatus != payload.StatusPartial {
		return nil, fmt.Errorf("adapter returned status %q", next.SourceStatus)
	}
	return next, nil
}

// persist writes the merged payload and the run record. Cache errors are
// logged only; the in-memory state stays authoritative.
func (m *Mirror) persist(siteID string, merged payload.SitePayload, run cache.Run) {
	if m.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cache.Record(ctx, merged, run, m.now()); err != nil {
		m.logger.Warn("mirror: cache record", "site", siteID, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
