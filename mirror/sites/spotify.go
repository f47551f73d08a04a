package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

const (
	spotifyOEmbed = "https://open.spotify.com/oembed"
	spotifyTracks = 20
	spotifySteps  = 4
)

var (
	spotifyMedia = NewMediaHosts("i.scdn.co", "*.scdn.co", "*.spotifycdn.com")
	spotifyEmbed = NewMediaHosts("open.spotify.com")
)

var spotifyOverlays = []string{
	"#onetrust-banner-sdk",
	"#onetrust-consent-sdk",
	`[data-testid="signup-bar"]`,
	`xpath://div[contains(@class,"encore-announcement-set")]`,
}

type spotify struct {
	cfg      SiteConfig
	ex       Extractor
	api      *APIClient
	logger   *slog.Logger
	kind     string // playlist | album
	id       string
	page     string
	endpoint string
}

func newSpotify(cfg SiteConfig, deps Deps) (Adapter, error) {
	kind, id := "playlist", cfg.Playlist
	if id == "" && cfg.URL != "" {
		kind, id = spotifyRef(cfg.URL)
	}
	if err := requirePlaylist(cfg, id); err != nil {
		return nil, err
	}
	page := or(cfg.URL, "https://open.spotify.com/"+kind+"/"+url.PathEscape(id))
	return &spotify{
		cfg:      cfg,
		ex:       deps.Extractor,
		api:      deps.API,
		logger:   deps.Logger,
		kind:     kind,
		id:       id,
		page:     page,
		endpoint: or(cfg.Endpoint, spotifyOEmbed),
	}, nil
}

// spotifyRef splits https://open.spotify.com/playlist/<id> (optionally with
// an intl-xx prefix) into kind and id.
func spotifyRef(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 {
		return "", ""
	}
	switch parts[0] {
	case "playlist", "album":
		return parts[0], parts[1]
	}
	return "", ""
}

func (a *spotify) request() extract.Request {
	return extract.Request{
		URL:         a.page,
		Engine:      extract.EngineBrowser,
		WaitMs:      2000,
		ScrollSteps: limitOr(a.cfg.ScrollSteps, spotifySteps),
		Mutations:   extract.Mutations{RemoveSelectors: spotifyOverlays},
		Fields: []extract.Field{
			{Key: "title", Selector: `meta[property="og:title"]`, Attr: "content"},
			{Key: "description", Selector: `meta[property="og:description"]`, Attr: "content"},
			{Key: "image", Selector: `meta[property="og:image"]`, Attr: "content"},
			{Key: "owner", Selector: `[data-testid="playlist-page"] a[href*="/user/"], [data-testid="creator-link"]`},
			{Key: "tracks", Selector: `[data-testid="tracklist-row"]`, Property: "outerHTML", All: true, Limit: limitOr(a.cfg.Limit, spotifyTracks)},
		},
	}
}

func (a *spotify) Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error) {
	r := readPlaylist(ctx, a.api, a.endpoint, a.page, a.ex, a.request())
	if r.oembedErr != nil {
		a.logger.Debug("spotify: oembed failed", "site", in.SiteID, "error", r.oembedErr)
	}
	if r.oembed == nil && r.page == nil {
		return nil, fmt.Errorf("%s: %w", in.SiteID, ErrNoData)
	}

	p := base(in)
	var title, cover, owner, desc string
	if oe := r.oembed; oe != nil {
		title = CleanText(oe.Title)
		cover = spotifyMedia.Clean(oe.ThumbnailURL)
	}
	var tracks []payload.Item
	if res := r.page; res != nil {
		title = or(title, CleanText(res.String("title")))
		cover = or(cover, spotifyMedia.Clean(res.String("image")))
		owner = CleanText(res.String("owner"))
		desc = CleanText(res.String("description"))
		for _, s := range splitMeta(desc) {
			p.Stats = stat(p.Stats, s.Label, s.Value)
		}
		tracks = a.tracks(res.Strings("tracks"))
	}

	p.Profile.Name = or(title, p.Profile.Name)
	p.Profile.Handle = or(owner, p.Profile.Handle)
	p.Profile.URL = a.page
	p.Profile.Avatar = or(cover, p.Profile.Avatar)
	p.Profile.Bio = or(desc, p.Profile.Bio)
	p.Embeds = []payload.Embed{{
		Kind: a.kind,
		URL:  or(embedFromOEmbed(r.oembed, spotifyEmbed), "https://open.spotify.com/embed/"+a.kind+"/"+url.PathEscape(a.id)),
	}}
	return playlistGrade(p, in, title, tracks)
}

func (a *spotify) tracks(rows []string) []payload.Item {
	var out []payload.Item
	for _, markup := range rows {
		row, ok := parseRow(markup)
		if !ok {
			continue
		}
		link := row.Find(`a[href*="/track/"]`).First()
		title := extract.CollapseSpace(link.Text())
		if title == "" {
			continue
		}
		href, _ := link.Attr("href")
		var artists []string
		row.Find(`a[href*="/artist/"]`).Each(func(_ int, s *goquery.Selection) {
			if name := extract.CollapseSpace(s.Text()); name != "" {
				artists = append(artists, name)
			}
		})
		out = append(out, payload.Item{
			Title: title,
			Meta:  strings.Join(artists, ", "),
			Media: spotifyMedia.Clean(rowAttr(row, "img", "src")),
			Link:  resolve(a.page, href),
		})
	}
	return out
}
