package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

const (
	youtubeOEmbed = "https://www.youtube.com/oembed"
	youtubeVideos = 12
	youtubeSteps  = 4
)

var (
	youtubeMedia = NewMediaHosts("i.ytimg.com", "*.ytimg.com", "*.ggpht.com")
	youtubeEmbed = NewMediaHosts("www.youtube.com", "youtube.com", "www.youtube-nocookie.com")
)

var youtubeOverlays = []string{
	"ytd-consent-bump-v2-lightbox",
	"tp-yt-iron-overlay-backdrop",
	"ytd-mealbar-promo-renderer",
	"#masthead-container",
}

type youtube struct {
	cfg      SiteConfig
	ex       Extractor
	api      *APIClient
	logger   *slog.Logger
	list     string
	page     string
	endpoint string
}

func newYouTube(cfg SiteConfig, deps Deps) (Adapter, error) {
	list := or(cfg.Playlist, queryParam(cfg.URL, "list"))
	if err := requirePlaylist(cfg, list); err != nil {
		return nil, err
	}
	page := or(cfg.URL, "https://www.youtube.com/playlist?list="+url.QueryEscape(list))
	return &youtube{
		cfg:      cfg,
		ex:       deps.Extractor,
		api:      deps.API,
		logger:   deps.Logger,
		list:     list,
		page:     page,
		endpoint: or(cfg.Endpoint, youtubeOEmbed),
	}, nil
}

func (a *youtube) request() extract.Request {
	return extract.Request{
		URL:         a.page,
		Engine:      extract.EngineBrowser,
		WaitMs:      2000,
		ScrollSteps: limitOr(a.cfg.ScrollSteps, youtubeSteps),
		Mutations:   extract.Mutations{RemoveSelectors: youtubeOverlays},
		Fields: []extract.Field{
			{Key: "title", Selector: `meta[property="og:title"]`, Attr: "content"},
			{Key: "description", Selector: `meta[property="og:description"]`, Attr: "content"},
			{Key: "image", Selector: `meta[property="og:image"]`, Attr: "content"},
			{Key: "byline", Selector: "ytd-playlist-byline-renderer .byline-item, .metadata-stats yt-formatted-string", All: true, Limit: 4},
			{Key: "videos", Selector: "ytd-playlist-video-renderer", Property: "outerHTML", All: true, Limit: limitOr(a.cfg.Limit, youtubeVideos)},
		},
	}
}

func (a *youtube) Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error) {
	r := readPlaylist(ctx, a.api, a.endpoint, a.page, a.ex, a.request())
	if r.oembedErr != nil {
		a.logger.Debug("youtube: oembed failed", "site", in.SiteID, "error", r.oembedErr)
	}
	if r.oembed == nil && r.page == nil {
		return nil, fmt.Errorf("%s: %w", in.SiteID, ErrNoData)
	}

	p := base(in)
	var title, channel, thumb, desc string
	if oe := r.oembed; oe != nil {
		title = CleanText(oe.Title)
		channel = CleanText(oe.AuthorName)
		thumb = youtubeMedia.Clean(oe.ThumbnailURL)
	}
	var videos []payload.Item
	if res := r.page; res != nil {
		title = or(title, CleanText(res.String("title")))
		thumb = or(thumb, youtubeMedia.Clean(res.String("image")))
		desc = CleanText(res.String("description"))
		for _, b := range res.Strings("byline") {
			label := bylineLabel(b)
			if label == "" {
				continue
			}
			if n, ok := ParseCount(b); ok {
				p.Stats = stat(p.Stats, label, FormatCount(n))
			}
		}
		videos = a.videos(res.Strings("videos"))
	}

	p.Profile.Name = or(title, p.Profile.Name)
	p.Profile.Handle = or(channel, p.Profile.Handle)
	p.Profile.URL = a.page
	p.Profile.Avatar = or(thumb, p.Profile.Avatar)
	p.Profile.Bio = or(desc, p.Profile.Bio)
	p.Embeds = []payload.Embed{{
		Kind: "playlist",
		URL:  or(embedFromOEmbed(r.oembed, youtubeEmbed), "https://www.youtube.com/embed/videoseries?list="+url.QueryEscape(a.list)),
	}}
	return playlistGrade(p, in, title, videos)
}

func (a *youtube) videos(rows []string) []payload.Item {
	var out []payload.Item
	for _, markup := range rows {
		row, ok := parseRow(markup)
		if !ok {
			continue
		}
		title := or(rowAttr(row, "#video-title", "title"), rowText(row, "#video-title"))
		href := rowAttr(row, "a#video-title, a#thumbnail", "href")
		if title == "" || href == "" {
			continue
		}
		link := resolve(a.page, href)
		id := queryParam(link, "v")
		thumb := youtubeMedia.Clean(rowAttr(row, "img", "src"))
		if thumb == "" && id != "" {
			thumb = "https://i.ytimg.com/vi/" + url.PathEscape(id) + "/hqdefault.jpg"
		}
		meta := joinMeta(
			rowText(row, "ytd-channel-name a"),
			rowText(row, "ytd-thumbnail-overlay-time-status-renderer, .badge-shape-wiz__text"),
		)
		out = append(out, payload.Item{Title: CleanText(title), Meta: meta, Media: thumb, Link: link})
	}
	return out
}

// bylineLabel names the playlist byline entries worth a stat. Others, such
// as "Last updated on Jan 5, 2024", return "".
func bylineLabel(b string) string {
	switch {
	case containsFold(b, "video"):
		return "Videos"
	case containsFold(b, "view"):
		return "Views"
	}
	return ""
}
