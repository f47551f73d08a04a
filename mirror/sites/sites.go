// Package sites holds one adapter per external service. An adapter turns
// extraction results and direct API reads into a payload.SitePayload.
//
// Adapters never invent data: every field is optional and falls back to the
// previous payload. They return (nil, err) when nothing usable came back,
// a PARTIAL payload for a degraded read and an OK payload, stamped with the
// refresh time, for a complete one.
package sites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

var (
	// ErrNoData means the refresh produced nothing usable.
	ErrNoData = errors.New("sites: no data")
	// ErrUnknownKind is returned by New for unregistered kinds.
	ErrUnknownKind = errors.New("sites: unknown kind")
	// ErrConfig is returned by New for incomplete site configuration.
	ErrConfig = errors.New("sites: invalid config")
)

// Adapter fetches one site.
type Adapter interface {
	Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, in payload.Input) (*payload.SitePayload, error)

// Fetch calls f.
func (f AdapterFunc) Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error) {
	return f(ctx, in)
}

// Extractor runs an extraction against browserd. *extract.Client satisfies
// it; a nil result means no signal this cycle.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) *extract.Result
}

// SiteConfig is the per-site section of the mirrord config.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`
	Handle   string `yaml:"handle"`
	UserID   string `yaml:"user_id"`
	Playlist string `yaml:"playlist"`
	APIKey   string `yaml:"api_key"`
	// Limit caps list items (posts, tracks, videos). 0 uses the adapter default.
	Limit int `yaml:"limit"`
	// ScrollSteps overrides the adapter's default scroll count.
	ScrollSteps int `yaml:"scroll_steps"`
	// Endpoint overrides the adapter's API base URL.
	Endpoint string `yaml:"endpoint"`
}

// Deps are the shared collaborators adapters are built with.
type Deps struct {
	Extractor Extractor
	API       *APIClient
	Logger    *slog.Logger
}

// Factory builds an adapter for one configured site.
type Factory func(cfg SiteConfig, deps Deps) (Adapter, error)

var registry = map[string]Factory{
	"microblog": newMicroblog,
	"steam":     newSteam,
	"discord":   newDiscord,
	"lastfm":    newLastFM,
	"youtube":   newYouTube,
	"spotify":   newSpotify,
}

// Kinds returns the registered adapter kinds.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the adapter registered for cfg.Kind.
func New(cfg SiteConfig, deps Deps) (Adapter, error) {
	f, ok := registry[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.API == nil {
		deps.API = NewAPIClient(APIConfig{Logger: deps.Logger})
	}
	return f(cfg, deps)
}

// grade maps the two quality signals every adapter computes onto a status.
// complete means the adapter's OK rule held; some means at least one field
// came back. Neither yields ErrNoData.
func grade(p *payload.SitePayload, now time.Time, complete, some bool) (*payload.SitePayload, error) {
	switch {
	case complete:
		p.SourceStatus = payload.StatusOK
		p.UpdatedAt = now
	case some:
		p.SourceStatus = payload.StatusPartial
	default:
		return nil, ErrNoData
	}
	*p = p.WithFreshness(now)
	return p, nil
}

// base starts a payload from the previous one so missing fields fall back.
func base(in payload.Input) *payload.SitePayload {
	p := in.Prev().Clone()
	p.SiteID = in.SiteID
	if p.Stats == nil {
		p.Stats = []payload.Stat{}
	}
	if p.Items == nil {
		p.Items = []payload.Item{}
	}
	return &p
}

func requireURL(cfg SiteConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("%w: %s: url is required", ErrConfig, cfg.ID)
	}
	return nil
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > extract.MaxLimit {
		return extract.MaxLimit
	}
	return n
}
