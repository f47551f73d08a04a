package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

const (
	lastfmEndpoint = "https://ws.audioscrobbler.com/2.0/"
	lastfmTracks   = 10
)

var lastfmMedia = NewMediaHosts("lastfm.freetls.fastly.net", "*.fastly.net", "*.last.fm", "*.lst.fm")

type lastfmImage struct {
	URL  string `json:"#text"`
	Size string `json:"size"`
}

type lastfmText struct {
	Text string `json:"#text"`
}

type lastfmUser struct {
	Name        string        `json:"name"`
	RealName    string        `json:"realname"`
	URL         string        `json:"url"`
	Country     string        `json:"country"`
	Playcount   string        `json:"playcount"`
	ArtistCount string        `json:"artist_count"`
	TrackCount  string        `json:"track_count"`
	Image       []lastfmImage `json:"image"`
}

type lastfmTrack struct {
	Name   string        `json:"name"`
	URL    string        `json:"url"`
	Artist lastfmText    `json:"artist"`
	Album  lastfmText    `json:"album"`
	Image  []lastfmImage `json:"image"`
	Date   *struct {
		Text string `json:"#text"`
	} `json:"date"`
	Attr *struct {
		NowPlaying string `json:"nowplaying"`
	} `json:"@attr"`
}

// lastfmTrackList decodes the API's "track" member, which is an object rather
// than an array when the user has a single scrobble.
type lastfmTrackList []lastfmTrack

func (l *lastfmTrackList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var one lastfmTrack
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*l = lastfmTrackList{one}
		return nil
	}
	var many []lastfmTrack
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type lastfmError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

// lastfm reads the API when an api_key is configured and the public user
// page otherwise, or when the API fails.
type lastfm struct {
	cfg      SiteConfig
	ex       Extractor
	api      *APIClient
	logger   *slog.Logger
	user     string
	page     string
	endpoint string
}

func newLastFM(cfg SiteConfig, deps Deps) (Adapter, error) {
	user := cfg.Handle
	if user == "" && cfg.URL != "" {
		if u, err := url.Parse(cfg.URL); err == nil {
			user = lastSegment(u.Path)
		}
	}
	if user == "" {
		return nil, fmt.Errorf("%w: %s: handle or url is required", ErrConfig, cfg.ID)
	}
	if cfg.APIKey == "" && deps.Extractor == nil {
		return nil, fmt.Errorf("%w: %s: api_key or extractor is required", ErrConfig, cfg.ID)
	}
	page := or(cfg.URL, "https://www.last.fm/user/"+url.PathEscape(user))
	return &lastfm{
		cfg:      cfg,
		ex:       deps.Extractor,
		api:      deps.API,
		logger:   deps.Logger,
		user:     user,
		page:     page,
		endpoint: or(cfg.Endpoint, lastfmEndpoint),
	}, nil
}

// lastfmRead is what either source produced.
type lastfmRead struct {
	name, realName, avatar, country string
	stats                           []payload.Stat
	tracks                          []payload.Item
	nowPlaying                      *payload.Item
}

func (r *lastfmRead) hasProfile() bool { return r.name != "" }

func (a *lastfm) Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error) {
	var read *lastfmRead
	if a.cfg.APIKey != "" {
		r, err := a.fromAPI(ctx)
		switch {
		case err == nil:
			read = r
		case a.ex == nil:
			return nil, fmt.Errorf("%s: %w", in.SiteID, err)
		default:
			a.logger.Warn("lastfm: api failed, reading page", "site", in.SiteID, "error", err)
		}
	}
	if a.ex != nil && (read == nil || !read.hasProfile() || len(read.tracks) == 0) {
		page := a.fromPage(ctx)
		read = mergeLastfm(read, page)
	}
	if read == nil {
		return nil, fmt.Errorf("%s: %w", in.SiteID, ErrNoData)
	}

	p := base(in)
	p.Profile.Name = or(read.name, p.Profile.Name)
	p.Profile.Handle = or(p.Profile.Handle, a.user)
	p.Profile.URL = a.page
	p.Profile.Avatar = or(read.avatar, p.Profile.Avatar)
	if read.realName != "" || read.country != "" || read.nowPlaying != nil || p.Profile.Extra != nil {
		if p.Profile.Extra == nil {
			p.Profile.Extra = &payload.ProfileExtra{}
		}
		ex := p.Profile.Extra
		ex.RealName = or(read.realName, ex.RealName)
		ex.Location = or(read.country, ex.Location)
		if len(read.tracks) > 0 || read.nowPlaying != nil {
			// Now-playing is current state; a fresh track list without it means nothing is playing.
			ex.NowPlaying = read.nowPlaying
			ex.StatusText = ""
			if read.nowPlaying != nil {
				ex.StatusText = "Scrobbling now"
			}
		}
	}
	for _, s := range read.stats {
		p.Stats = stat(p.Stats, s.Label, s.Value)
	}
	if len(read.tracks) > 0 {
		p.Items = read.tracks
	}

	complete := read.hasProfile() && len(read.tracks) > 0
	some := read.hasProfile() || len(read.tracks) > 0 || read.nowPlaying != nil
	return grade(p, in.Now, complete, some)
}

func (a *lastfm) call(ctx context.Context, method string, extra url.Values, out any) error {
	q := url.Values{
		"method":  {method},
		"user":    {a.user},
		"api_key": {a.cfg.APIKey},
		"format":  {"json"},
	}
	for k, v := range extra {
		q[k] = v
	}
	var raw json.RawMessage
	if err := a.api.GetJSON(ctx, a.endpoint+"?"+q.Encode(), &raw); err != nil {
		return err
	}
	var apiErr lastfmError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Code != 0 {
		return fmt.Errorf("lastfm: %s: error %d: %s", method, apiErr.Code, apiErr.Message)
	}
	return json.Unmarshal(raw, out)
}

func (a *lastfm) fromAPI(ctx context.Context) (*lastfmRead, error) {
	var (
		info struct {
			User lastfmUser `json:"user"`
		}
		recent struct {
			RecentTracks struct {
				Track lastfmTrackList `json:"track"`
			} `json:"recenttracks"`
		}
	)
	infoErr := a.call(ctx, "user.getinfo", nil, &info)
	limit := limitOr(a.cfg.Limit, lastfmTracks)
	tracksErr := a.call(ctx, "user.getrecenttracks", url.Values{"limit": {fmt.Sprint(limit)}}, &recent)
	if infoErr != nil && tracksErr != nil {
		return nil, errors.Join(infoErr, tracksErr)
	}

	r := &lastfmRead{}
	if infoErr == nil {
		u := info.User
		r.name = CleanText(u.Name)
		r.realName = CleanText(u.RealName)
		r.avatar = lastfmMedia.Clean(largestImage(u.Image))
		if u.Country != "" && u.Country != "None" {
			r.country = CleanText(u.Country)
		}
		r.stats = appendCount(r.stats, "Scrobbles", u.Playcount)
		r.stats = appendCount(r.stats, "Artists", u.ArtistCount)
		r.stats = appendCount(r.stats, "Tracks", u.TrackCount)
	}
	if tracksErr == nil {
		for _, t := range recent.RecentTracks.Track {
			item := payload.Item{
				Title: CleanText(t.Name),
				Meta:  CleanText(t.Artist.Text),
				Media: lastfmMedia.Clean(largestImage(t.Image)),
				Link:  t.URL,
			}
			if item.Title == "" {
				continue
			}
			if t.Attr != nil && t.Attr.NowPlaying == "true" {
				np := item
				r.nowPlaying = &np
				continue
			}
			if t.Date != nil && t.Date.Text != "" {
				item.Meta = joinMeta(item.Meta, t.Date.Text)
			}
			if len(r.tracks) < limit {
				r.tracks = append(r.tracks, item)
			}
		}
	}
	return r, nil
}

func (a *lastfm) fromPage(ctx context.Context) *lastfmRead {
	res := a.ex.Extract(ctx, extract.Request{
		URL:    a.page,
		Engine: extract.EngineHTTP,
		Fields: []extract.Field{
			{Key: "name", Selector: ".header-title"},
			{Key: "avatar", Selector: ".header-avatar img", Attr: "src"},
			{Key: "meta", Selector: ".header-metadata-item", Property: "outerHTML", All: true, Limit: 6},
			{Key: "tracks", Selector: "tr.chartlist-row", Property: "outerHTML", All: true, Limit: limitOr(a.cfg.Limit, lastfmTracks) + 1},
		},
	})
	if res == nil {
		return nil
	}
	r := &lastfmRead{
		name:   CleanText(res.String("name")),
		avatar: lastfmMedia.Clean(res.String("avatar")),
	}
	for _, markup := range res.Strings("meta") {
		row, ok := parseRow(markup)
		if !ok {
			continue
		}
		label := rowText(row, "h4")
		value := rowText(row, "p")
		if label != "" {
			r.stats = appendCount(r.stats, label, value)
		}
	}
	limit := limitOr(a.cfg.Limit, lastfmTracks)
	for _, markup := range res.Strings("tracks") {
		row, ok := parseRow(markup)
		if !ok {
			continue
		}
		item := payload.Item{
			Title: rowText(row, ".chartlist-name a"),
			Meta:  rowText(row, ".chartlist-artist a"),
			Media: lastfmMedia.Clean(rowAttr(row, ".chartlist-image img", "src")),
			Link:  resolve(a.page, rowAttr(row, ".chartlist-name a", "href")),
		}
		if item.Title == "" {
			continue
		}
		if row.HasClass("chartlist-row--now-scrobbling") {
			np := item
			r.nowPlaying = &np
			continue
		}
		if when := rowAttr(row, ".chartlist-timestamp span", "title"); when != "" {
			item.Meta = joinMeta(item.Meta, when)
		}
		if len(r.tracks) < limit {
			r.tracks = append(r.tracks, item)
		}
	}
	return r
}

// mergeLastfm fills gaps in the API read from the page read.
func mergeLastfm(api, page *lastfmRead) *lastfmRead {
	switch {
	case api == nil:
		return page
	case page == nil:
		return api
	}
	out := *api
	out.name = or(api.name, page.name)
	out.avatar = or(api.avatar, page.avatar)
	if len(out.stats) == 0 {
		out.stats = page.stats
	}
	if len(out.tracks) == 0 {
		out.tracks = page.tracks
		if out.nowPlaying == nil {
			out.nowPlaying = page.nowPlaying
		}
	}
	return &out
}

func largestImage(imgs []lastfmImage) string {
	best := ""
	rank := map[string]int{"small": 1, "medium": 2, "large": 3, "extralarge": 4, "mega": 5}
	top := -1
	for _, img := range imgs {
		if img.URL == "" {
			continue
		}
		if r := rank[img.Size]; r > top {
			top, best = r, img.URL
		}
	}
	return best
}

func appendCount(stats []payload.Stat, label, raw string) []payload.Stat {
	n, ok := ParseCount(raw)
	if !ok {
		return stats
	}
	return stat(stats, label, FormatCount(n))
}

func lastSegment(p string) string {
	p = strings.Trim(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}
