package browserd

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/profilemirror/browserd/internal/browser"
	"github.com/hazyhaar/profilemirror/horosafe"
)

// RodEngine is the production Engine backed by a Rod-managed Chrome.
type RodEngine struct {
	mgr *browser.Manager
}

// StartRodEngine launches (or connects to) Chrome with cfg.Browser. Pages
// refuse document loads outside cfg.AllowedHosts. The recycle monitor runs
// until ctx is cancelled.
func StartRodEngine(ctx context.Context, cfg Config, logger *slog.Logger) (*RodEngine, error) {
	cfg.applyDefaults()
	allow := horosafe.NewAllowList(cfg.AllowedHosts...)
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Bin:              cfg.Browser.Bin,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		CheckDocument: func(rawURL string) error {
			_, err := allow.Check(rawURL)
			return err
		},
		Logger: logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	return &RodEngine{mgr: mgr}, nil
}

// NewPage opens a stealth page in a fresh incognito context.
func (e *RodEngine) NewPage(ctx context.Context, vp Viewport) (Page, error) {
	p, err := e.mgr.NewPage(ctx, vp)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OnRecycle registers fn to run before Chrome is restarted.
func (e *RodEngine) OnRecycle(fn func()) {
	e.mgr.SetRecycleCallback(&browser.RecycleCallback{BeforeRecycle: fn})
}

// Close shuts Chrome down.
func (e *RodEngine) Close() error {
	return e.mgr.Close()
}
