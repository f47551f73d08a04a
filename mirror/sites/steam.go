package sites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

const steamGames = 5

var steamMedia = NewMediaHosts("*.steamstatic.com", "*.akamaihd.net", "steamcdn-a.akamaihd.net")

// steam reads the server-rendered community profile with the static engine.
type steam struct {
	cfg    SiteConfig
	ex     Extractor
	logger *slog.Logger
}

func newSteam(cfg SiteConfig, deps Deps) (Adapter, error) {
	if err := requireURL(cfg); err != nil {
		return nil, err
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("%w: %s: extractor is required", ErrConfig, cfg.ID)
	}
	return &steam{cfg: cfg, ex: deps.Extractor, logger: deps.Logger}, nil
}

func (a *steam) request() extract.Request {
	return extract.Request{
		URL:    a.cfg.URL,
		Engine: extract.EngineHTTP,
		Fields: []extract.Field{
			{Key: "persona", Selector: ".actual_persona_name"},
			{Key: "realname", Selector: ".header_real_name bdi"},
			{Key: "avatar", Selector: ".playerAvatarAutoSizeInner > img:last-of-type", Attr: "src"},
			{Key: "level", Selector: ".friendPlayerLevelNum"},
			{Key: "status", Selector: ".profile_in_game_header"},
			{Key: "game", Selector: ".profile_in_game_name"},
			{Key: "summary", Selector: ".profile_summary", Property: "innerHTML"},
			{Key: "private", Selector: ".profile_private_info"},
			{Key: "counts", Selector: ".profile_count_link", Property: "outerHTML", All: true, Limit: 8},
			{Key: "games", Selector: ".recent_game", Property: "outerHTML", All: true, Limit: limitOr(a.cfg.Limit, steamGames)},
			{Key: "recent_hours", Selector: ".recentgame_quicklinks, .recent_games_header .rightblock"},
		},
	}
}

func (a *steam) Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error) {
	res := a.ex.Extract(ctx, a.request())
	if res == nil {
		return nil, fmt.Errorf("%s: extraction: %w", in.SiteID, ErrNoData)
	}

	p := base(in)
	persona := CleanText(res.String("persona"))
	realName := CleanText(res.String("realname"))
	avatar := steamMedia.Clean(res.String("avatar"))
	level := CleanText(res.String("level"))
	statusText, statusKind := steamStatus(res.String("status"), res.String("game"))
	summary := CleanBlock(res.String("summary"))

	p.Profile.Name = or(persona, p.Profile.Name)
	p.Profile.URL = a.cfg.URL
	p.Profile.Avatar = or(avatar, p.Profile.Avatar)
	p.Profile.Bio = or(summary, p.Profile.Bio)
	if p.Profile.Extra == nil {
		p.Profile.Extra = &payload.ProfileExtra{}
	}
	ex := p.Profile.Extra
	ex.RealName = or(realName, ex.RealName)
	ex.Level = or(level, ex.Level)
	if statusKind != "" {
		ex.StatusKind = statusKind
		ex.StatusText = statusText
	}

	p.Stats = stat(p.Stats, "Level", level)
	for _, markup := range res.Strings("counts") {
		row, ok := parseRow(markup)
		if !ok {
			continue
		}
		label := rowText(row, ".count_link_label")
		total := rowText(row, ".profile_count_link_total")
		if _, ok := ParseCount(total); ok && label != "" {
			p.Stats = stat(p.Stats, label, total)
		}
	}
	if hours := CleanText(res.String("recent_hours")); hours != "" {
		p.Stats = stat(p.Stats, "Recent", hours)
	}

	games := a.games(res.Strings("games"))
	if len(games) > 0 {
		p.Items = games
	}
	if res.String("private") != "" {
		a.logger.Debug("steam: profile is private", "site", in.SiteID)
	}

	some := persona != "" || avatar != "" || level != "" || statusKind != "" || len(games) > 0
	return grade(p, in.Now, persona != "" && statusKind != "", some)
}

func (a *steam) games(rows []string) []payload.Item {
	var out []payload.Item
	for _, markup := range rows {
		row, ok := parseRow(markup)
		if !ok {
			continue
		}
		name := rowText(row, ".game_name")
		if name == "" {
			continue
		}
		out = append(out, payload.Item{
			Title: name,
			Meta:  steamHours(rowText(row, ".game_info_details")),
			Media: steamMedia.Clean(rowAttr(row, ".game_capsule", "src")),
			Link:  resolve(a.cfg.URL, rowAttr(row, ".game_name a", "href")),
		})
	}
	return out
}

// steamStatus turns the in-game header ("Currently In-Game", "Currently
// Online") and game name into display text and a status kind.
func steamStatus(header, game string) (string, string) {
	header = CleanText(header)
	game = CleanText(game)
	kind := ClassifyStatus(header)
	switch {
	case kind == KindInGame && game != "":
		return "Playing " + game, kind
	case kind != "":
		return strings.TrimSpace(strings.TrimPrefix(header, "Currently")), kind
	}
	return "", ""
}

// steamHours keeps the "3.1 hrs on record" part of the details line.
func steamHours(details string) string {
	if i := strings.Index(details, "on record"); i >= 0 {
		return strings.TrimSpace(details[:i+len("on record")])
	}
	return details
}
