package browserd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/profilemirror/browserd/internal/browser"
	"github.com/hazyhaar/profilemirror/browserd/internal/dom"
	"github.com/hazyhaar/profilemirror/browserd/internal/session"
	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/horosafe"
	"github.com/hazyhaar/profilemirror/idgen"
)

// SnapshotRequest is the body of POST /snapshot.
type SnapshotRequest struct {
	URL     string `json:"url"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	WaitMs  int    `json:"waitMs,omitempty"`
	Format  string `json:"format,omitempty"` // jpeg (default) | png
	Quality int    `json:"quality,omitempty"`
	extract.Mutations
}

// Image is a captured frame.
type Image struct {
	Bytes       []byte
	ContentType string
}

// StartRequest is the body of POST /session/start.
type StartRequest struct {
	URL             string   `json:"url"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	RemoveSelectors []string `json:"removeSelectors,omitempty"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	SessionID       string    `json:"sessionId"`
	URL             string    `json:"url"`
	Viewport        Viewport  `json:"viewport"`
	RemoveSelectors []string  `json:"removeSelectors"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Health is the body of GET /health.
type Health struct {
	OK          bool `json:"ok"`
	Sessions    int  `json:"sessions"`
	MaxSessions int  `json:"maxSessions"`
}

type sessionState struct {
	page     Page
	url      string
	viewport Viewport
	remove   []string
	closed   bool
}

type sessionEntry = session.Entry[*sessionState]

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides time.Now for session bookkeeping.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithStaticEngine overrides the engine used for engine "http" extraction.
func WithStaticEngine(e *extract.StaticEngine) Option { return func(s *Service) { s.static = e } }

// WithPipeline overrides the DOM-mutation pass count and pause.
func WithPipeline(p dom.Pipeline) Option { return func(s *Service) { s.pipeline = p } }

// Service owns the browser engine and the session table.
type Service struct {
	cfg      Config
	engine   Engine
	allow    *horosafe.AllowList
	static   *extract.StaticEngine
	pipeline dom.Pipeline
	sessions *session.Table[*sessionState]
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    idgen.Generator

	closed   atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Service around engine. Call Start to run the idle sweep.
func New(cfg Config, engine Engine, opts ...Option) *Service {
	cfg.applyDefaults()
	s := &Service{
		cfg:    cfg,
		engine: engine,
		allow:  horosafe.NewAllowList(cfg.AllowedHosts...),
		now:    time.Now,
		newID:  idgen.SessionToken,
		stop:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.static == nil {
		s.static = extract.NewStaticEngine(extract.StaticConfig{Timeout: cfg.NavTimeout, Check: s.allow.Check})
	}
	s.sessions = session.NewTable[*sessionState](cfg.MaxSessions, cfg.SessionTTL, s.now)
	if r, ok := engine.(interface{ OnRecycle(func()) }); ok {
		r.OnRecycle(s.dropAll)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Start launches the idle-session sweep. It stops on Close or when ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep closes sessions idle for longer than the TTL.
func (s *Service) Sweep() int {
	evicted := s.sessions.Sweep()
	for _, ev := range evicted {
		s.release(ev.Entry, ev.Reason)
	}
	s.metrics.setSessions(s.sessions.Len())
	return len(evicted)
}

// Close stops the sweep, closes every session and the engine.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.dropAll()
	return s.engine.Close()
}

// Health reports the session count.
func (s *Service) Health() Health {
	return Health{OK: !s.closed.Load(), Sessions: s.sessions.Len(), MaxSessions: s.sessions.Max()}
}

// Snapshot loads req.URL in a fresh context, applies the mutation pipeline and
// returns one frame. The context is closed whatever the outcome.
func (s *Service) Snapshot(ctx context.Context, req SnapshotRequest) (img *Image, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("snapshot", start, err) }()

	target, err := s.allow.Check(req.URL)
	if err != nil {
		return nil, err
	}
	format, ctype, err := imageFormat(req.Format)
	if err != nil {
		return nil, err
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	w, h := extract.ClampViewport(req.Width, req.Height, s.cfg.DefaultWidth, s.cfg.DefaultHeight)
	wait := time.Duration(min(max(req.WaitMs, 0), extract.MaxWaitMs)) * time.Millisecond

	page, err := s.engine.NewPage(ctx, Viewport{Width: w, Height: h})
	if err != nil {
		return nil, fmt.Errorf("browserd: snapshot: %w", err)
	}
	defer s.closePage(page)

	if err := s.navigate(ctx, page, target.String()); err != nil {
		return nil, err
	}
	if err := dom.Sleep(ctx, wait); err != nil {
		return nil, err
	}
	if err := s.pipeline.Apply(ctx, page, req.Mutations); err != nil {
		return nil, fmt.Errorf("browserd: snapshot: %w", err)
	}
	b, err := page.Screenshot(ctx, format, extract.ClampQuality(req.Quality))
	if err != nil {
		return nil, fmt.Errorf("browserd: snapshot: %w", err)
	}
	return &Image{Bytes: b, ContentType: ctype}, nil
}

// Extract evaluates req.Fields against req.URL. Browser extraction can run
// several scroll passes; engine "http" reads the raw document once.
func (s *Service) Extract(ctx context.Context, req extract.Request) (res *extract.Result, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("extract", start, err) }()

	target, err := s.allow.Check(req.URL)
	if err != nil {
		return nil, err
	}
	if err := req.Normalize(s.cfg.DefaultWidth, s.cfg.DefaultHeight); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := s.open(); err != nil {
		return nil, err
	}

	if req.Engine == extract.EngineHTTP {
		res, err := s.static.Extract(ctx, req)
		if err != nil {
			if errors.Is(err, ErrInvalidTarget) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrNavigation, err)
		}
		return res, nil
	}

	page, err := s.engine.NewPage(ctx, Viewport{Width: req.Width, Height: req.Height})
	if err != nil {
		return nil, fmt.Errorf("browserd: extract: %w", err)
	}
	defer s.closePage(page)

	if err := s.navigate(ctx, page, target.String()); err != nil {
		return nil, err
	}
	if err := dom.Sleep(ctx, req.Wait()); err != nil {
		return nil, err
	}
	if err := s.pipeline.Apply(ctx, page, req.Mutations); err != nil {
		return nil, fmt.Errorf("browserd: extract: %w", err)
	}
	data, err := dom.Extract(ctx, page, req)
	if err != nil {
		return nil, fmt.Errorf("browserd: extract: %w", err)
	}
	finalURL := page.URL()
	if finalURL == "" {
		finalURL = target.String()
	}
	return &extract.Result{OK: true, URL: finalURL, CapturedAt: s.now().UTC(), Data: data}, nil
}

// StartSession opens a long-lived page. When the table is full the least
// recently active session is closed to make room.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (info *SessionInfo, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("session_start", start, err) }()

	target, err := s.allow.Check(req.URL)
	if err != nil {
		return nil, err
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	w, h := extract.ClampViewport(req.Width, req.Height, s.cfg.DefaultWidth, s.cfg.DefaultHeight)
	vp := Viewport{Width: w, Height: h}

	page, err := s.engine.NewPage(ctx, vp)
	if err != nil {
		return nil, fmt.Errorf("browserd: session start: %w", err)
	}

	// Only a loaded page joins the table: an id is never evicted before it
	// has been returned.
	st := &sessionState{page: page, viewport: vp, remove: cleanSelectors(req.RemoveSelectors)}
	if err := s.navigate(ctx, page, target.String()); err != nil {
		s.closePage(page)
		return nil, err
	}
	if len(st.remove) > 0 {
		if err := s.pipeline.Apply(ctx, page, extract.Mutations{RemoveSelectors: st.remove}); err != nil {
			s.logger.Warn("browserd: session start cleanup", "url", target.String(), "error", err)
		}
	}
	st.url = pageURL(page, target.String())

	entry, evicted := s.sessions.Add(s.newID(), st)
	for _, ev := range evicted {
		s.logger.Info("browserd: session evicted", "session", ev.Entry.ID, "reason", ev.Reason)
		go s.release(ev.Entry, ev.Reason)
	}
	if s.closed.Load() {
		// Close drained the table while this page was loading.
		if e, ok := s.sessions.Delete(entry.ID); ok {
			s.release(e, session.ReasonClosed)
		}
		s.metrics.setSessions(s.sessions.Len())
		return nil, ErrClosed
	}
	s.metrics.setSessions(s.sessions.Len())

	s.logger.Info("browserd: session started", "session", entry.ID, "url", st.url)
	return &SessionInfo{
		SessionID:       entry.ID,
		URL:             st.url,
		Viewport:        vp,
		RemoveSelectors: append([]string{}, st.remove...),
		CreatedAt:       entry.CreatedAt,
	}, nil
}

// Frame re-applies the session's removal rules and captures the viewport.
func (s *Service) Frame(ctx context.Context, id, format string, quality int) (img *Image, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("frame", start, err) }()

	f, ctype, err := imageFormat(format)
	if err != nil {
		return nil, err
	}
	err = s.withSession(id, func(st *sessionState) error {
		if len(st.remove) > 0 {
			if aerr := s.pipeline.Apply(ctx, st.page, extract.Mutations{RemoveSelectors: st.remove}); aerr != nil {
				s.logger.Debug("browserd: frame cleanup", "session", id, "error", aerr)
			}
		}
		b, serr := st.page.Screenshot(ctx, f, extract.ClampQuality(quality))
		if serr != nil {
			return fmt.Errorf("browserd: frame: %w", serr)
		}
		img = &Image{Bytes: b, ContentType: ctype}
		return nil
	})
	return img, err
}

// Navigate points a session at a new allow-listed URL and returns the loaded URL.
func (s *Service) Navigate(ctx context.Context, id, rawURL string) (loaded string, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("navigate", start, err) }()

	target, err := s.allow.Check(rawURL)
	if err != nil {
		return "", err
	}
	err = s.withSession(id, func(st *sessionState) error {
		if nerr := s.navigate(ctx, st.page, target.String()); nerr != nil {
			return nerr
		}
		st.url = pageURL(st.page, target.String())
		loaded = st.url
		return nil
	})
	return loaded, err
}

// SetViewport resizes a session page; dimensions are clamped.
func (s *Service) SetViewport(ctx context.Context, id string, vp Viewport) (out Viewport, err error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return Viewport{}, fmt.Errorf("%w: width and height required", ErrBadRequest)
	}
	w, h := extract.ClampViewport(vp.Width, vp.Height, s.cfg.DefaultWidth, s.cfg.DefaultHeight)
	vp = Viewport{Width: w, Height: h}
	err = s.withSession(id, func(st *sessionState) error {
		if verr := st.page.SetViewport(ctx, vp); verr != nil {
			return fmt.Errorf("browserd: viewport: %w", verr)
		}
		st.viewport = vp
		out = vp
		return nil
	})
	return out, err
}

// Input forwards a click, move, wheel, key or type event to a session page.
func (s *Service) Input(ctx context.Context, id string, ev InputEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return s.withSession(id, func(st *sessionState) error {
		if err := st.page.Input(ctx, ev); err != nil {
			if errors.Is(err, browser.ErrBadInput) {
				return fmt.Errorf("%w: %w", ErrBadRequest, err)
			}
			return fmt.Errorf("browserd: input: %w", err)
		}
		return nil
	})
}

// DeleteSession closes a session.
func (s *Service) DeleteSession(id string) error {
	e, ok := s.sessions.Delete(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.release(e, session.ReasonDeleted)
	s.metrics.setSessions(s.sessions.Len())
	s.logger.Info("browserd: session deleted", "session", id)
	return nil
}

// Sessions lists live sessions by creation time.
func (s *Service) Sessions() []SessionInfo {
	entries := s.sessions.Snapshot()
	out := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		e.Mu.Lock()
		out = append(out, SessionInfo{
			SessionID:       e.ID,
			URL:             e.Value.url,
			Viewport:        e.Value.viewport,
			RemoveSelectors: append([]string{}, e.Value.remove...),
			CreatedAt:       e.CreatedAt,
		})
		e.Mu.Unlock()
	}
	return out
}

func (s *Service) withSession(id string, fn func(*sessionState) error) error {
	if err := s.open(); err != nil {
		return err
	}
	e, ok := s.sessions.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	e.Mu.Lock()
	defer e.Mu.Unlock()
	if e.Value.closed {
		return ErrSessionNotFound
	}
	return fn(e.Value)
}

func (s *Service) navigate(ctx context.Context, p Page, target string) error {
	nctx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := p.Navigate(nctx, target); err != nil {
		if ctx.Err() == nil && errors.Is(nctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: timeout after %s: %w", ErrNavigation, s.cfg.NavTimeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	return nil
}

func (s *Service) open() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// release closes a session that has already left the table.
func (s *Service) release(e *sessionEntry, reason string) {
	e.Mu.Lock()
	defer e.Mu.Unlock()
	s.closeLocked(e, reason)
}

func (s *Service) closeLocked(e *sessionEntry, reason string) {
	if e.Value.closed {
		return
	}
	e.Value.closed = true
	if err := e.Value.page.Close(); err != nil {
		s.logger.Debug("browserd: close session page", "session", e.ID, "error", err)
	}
	s.metrics.sessionClosed(reason)
}

func (s *Service) dropAll() {
	for _, ev := range s.sessions.Drain() {
		s.release(ev.Entry, ev.Reason)
	}
	s.metrics.setSessions(0)
}

func (s *Service) closePage(p Page) {
	if err := p.Close(); err != nil {
		s.logger.Debug("browserd: close page", "error", err)
	}
}

func pageURL(p Page, fallback string) string {
	if u := p.URL(); u != "" {
		return u
	}
	return fallback
}

func imageFormat(f string) (format, contentType string, err error) {
	switch strings.ToLower(f) {
	case "", "jpeg", "jpg":
		return "jpeg", "image/jpeg", nil
	case "png":
		return "png", "image/png", nil
	}
	return "", "", fmt.Errorf("%w: unsupported format %q", ErrBadRequest, f)
}

func cleanSelectors(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
