package sites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

const (
	microblogPosts = 10
	microblogSteps = 3
)

var microblogMedia = NewMediaHosts("pbs.twimg.com", "*.twimg.com", "abs.twimg.com")

// microblogOverlays are the login walls and banners the profile page pushes
// over the timeline for anonymous visitors.
var microblogOverlays = []string{
	`[data-testid="sheetDialog"]`,
	`[data-testid="BottomBar"]`,
	`[data-testid="mask"]`,
	`xpath://div[@role="dialog" and .//a[contains(@href,"/login")]]`,
}

type microblog struct {
	cfg    SiteConfig
	ex     Extractor
	logger *slog.Logger
}

func newMicroblog(cfg SiteConfig, deps Deps) (Adapter, error) {
	if err := requireURL(cfg); err != nil {
		return nil, err
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("%w: %s: extractor is required", ErrConfig, cfg.ID)
	}
	return &microblog{cfg: cfg, ex: deps.Extractor, logger: deps.Logger}, nil
}

func (a *microblog) request() extract.Request {
	return extract.Request{
		URL:         a.cfg.URL,
		Engine:      extract.EngineBrowser,
		WaitMs:      2500,
		ScrollSteps: limitOr(a.cfg.ScrollSteps, microblogSteps),
		Mutations:   extract.Mutations{RemoveSelectors: microblogOverlays},
		Fields: []extract.Field{
			{Key: "name", Selector: `[data-testid="UserName"] span`},
			{Key: "handle", Selector: `xpath://div[@data-testid="UserName"]//span[starts-with(normalize-space(.),"@")]`},
			{Key: "bio", Selector: `[data-testid="UserDescription"]`, Property: "innerText"},
			{Key: "location", Selector: `[data-testid="UserLocation"]`},
			{Key: "avatar", Selector: `a[href$="/photo"] img`, Attr: "src"},
			{Key: "banner", Selector: `a[href$="/header_photo"] img`, Attr: "src"},
			{Key: "following", Selector: `a[href$="/following"]`},
			{Key: "followers", Selector: `a[href$="/verified_followers"], a[href$="/followers"]`},
			{Key: "posts", Selector: `article[data-testid="tweet"]`, Property: "outerHTML", All: true, Limit: limitOr(a.cfg.Limit, microblogPosts)},
		},
	}
}

func (a *microblog) Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error) {
	res := a.ex.Extract(ctx, a.request())
	if res == nil {
		return nil, fmt.Errorf("%s: extraction: %w", in.SiteID, ErrNoData)
	}

	p := base(in)
	name := CleanText(res.String("name"))
	handle := normalizeHandle(res.String("handle"))
	bio := extract.RenderedText(res.String("bio"))
	avatar := microblogMedia.Clean(res.String("avatar"))
	banner := microblogMedia.Clean(res.String("banner"))
	location := CleanText(res.String("location"))

	p.Profile.Name = or(name, p.Profile.Name)
	p.Profile.Handle = or(handle, p.Profile.Handle, normalizeHandle(a.cfg.Handle))
	p.Profile.URL = a.cfg.URL
	p.Profile.Bio = or(bio, p.Profile.Bio)
	p.Profile.Avatar = or(avatar, p.Profile.Avatar)
	if banner != "" || location != "" {
		if p.Profile.Extra == nil {
			p.Profile.Extra = &payload.ProfileExtra{}
		}
		p.Profile.Extra.Banner = or(banner, p.Profile.Extra.Banner)
		p.Profile.Extra.Location = or(location, p.Profile.Extra.Location)
	}

	following := countLabel(res.String("following"))
	followers := countLabel(res.String("followers"))
	p.Stats = stat(p.Stats, "Following", following)
	p.Stats = stat(p.Stats, "Followers", followers)

	posts := a.posts(res.Strings("posts"))
	a.logger.Debug("microblog: parsed", "site", in.SiteID, "posts", len(posts), "name", name != "")
	if len(posts) > 0 {
		p.Items = posts
	}

	some := name != "" || handle != "" || bio != "" || avatar != "" || following != "" || followers != "" || len(posts) > 0
	return grade(p, in.Now, name != "" && len(posts) > 0, some)
}

func (a *microblog) posts(rows []string) []payload.Item {
	var out []payload.Item
	for _, markup := range rows {
		row, ok := parseRow(markup)
		if !ok {
			continue
		}
		// Reposts and pinned markers live in socialContext; the body is tweetText.
		text := rowText(row, `[data-testid="tweetText"]`)
		photo := microblogMedia.Clean(rowAttr(row, `[data-testid="tweetPhoto"] img`, "src"))
		when := rowAttr(row, "time", "datetime")
		link := ""
		if href, ok := row.Find("time").First().Parent().Attr("href"); ok {
			link = resolve(a.cfg.URL, href)
		}
		if text == "" && photo == "" {
			continue
		}
		if text == "" {
			text = "Photo"
		}
		out = append(out, payload.Item{Title: text, Meta: when, Media: photo, Link: link})
	}
	return out
}

// normalizeHandle returns "@name" for any of "name", "@name", " @name ".
func normalizeHandle(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "@")
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return ""
	}
	return "@" + s
}

// countLabel extracts the count from text like "1,234 Followers" and
// returns it as displayed, or "" when there is none.
func countLabel(s string) string {
	s = CleanText(s)
	if _, ok := ParseCount(s); !ok {
		return ""
	}
	return strings.TrimSpace(countRe.FindString(s))
}
