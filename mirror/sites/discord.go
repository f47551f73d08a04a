package sites

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/profilemirror/mirror/payload"
)

const lanyardEndpoint = "https://api.lanyard.rest/v1"

var discordMedia = NewMediaHosts("cdn.discordapp.com", "media.discordapp.net", "i.scdn.co", "*.scdn.co")

// Lanyard activity types.
const (
	activityPlaying   = 0
	activityListening = 2
	activityWatching  = 3
	activityCustom    = 4
)

type lanyardResponse struct {
	Success bool         `json:"success"`
	Data    lanyardData  `json:"data"`
	Error   *lanyardFail `json:"error,omitempty"`
}

type lanyardFail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type lanyardData struct {
	User struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		GlobalName  string `json:"global_name"`
		DisplayName string `json:"display_name"`
		Avatar      string `json:"avatar"`
	} `json:"discord_user"`
	Status     string            `json:"discord_status"`
	Activities []lanyardActivity `json:"activities"`
	Listening  bool              `json:"listening_to_spotify"`
	Spotify    *struct {
		TrackID  string `json:"track_id"`
		Song     string `json:"song"`
		Artist   string `json:"artist"`
		Album    string `json:"album"`
		AlbumArt string `json:"album_art_url"`
	} `json:"spotify"`
}

type lanyardActivity struct {
	Type    int    `json:"type"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Details string `json:"details"`
	Emoji   *struct {
		Name string `json:"name"`
	} `json:"emoji"`
}

// discord reads presence from the Lanyard API. There is no page to extract.
type discord struct {
	cfg      SiteConfig
	api      *APIClient
	endpoint string
}

func newDiscord(cfg SiteConfig, deps Deps) (Adapter, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("%w: %s: user_id is required", ErrConfig, cfg.ID)
	}
	return &discord{cfg: cfg, api: deps.API, endpoint: strings.TrimRight(or(cfg.Endpoint, lanyardEndpoint), "/")}, nil
}

func (a *discord) Fetch(ctx context.Context, in payload.Input) (*payload.SitePayload, error) {
	var resp lanyardResponse
	if err := a.api.GetJSON(ctx, a.endpoint+"/users/"+url.PathEscape(a.cfg.UserID), &resp); err != nil {
		return nil, fmt.Errorf("%s: lanyard: %w", in.SiteID, err)
	}
	if !resp.Success || resp.Data.User.ID == "" {
		msg := "no user"
		if resp.Error != nil {
			msg = resp.Error.Code
		}
		return nil, fmt.Errorf("%s: lanyard: %s: %w", in.SiteID, msg, ErrNoData)
	}

	d := resp.Data
	p := base(in)
	p.Profile.Name = or(d.User.GlobalName, d.User.DisplayName, d.User.Username, p.Profile.Name)
	p.Profile.Handle = or(normalizeHandle(d.User.Username), p.Profile.Handle)
	p.Profile.URL = or(a.cfg.URL, "https://discord.com/users/"+d.User.ID)
	p.Profile.Avatar = or(discordAvatar(d.User.ID, d.User.Avatar), p.Profile.Avatar)

	extra := &payload.ProfileExtra{StatusKind: discordStatus(d.Status)}
	var items []payload.Item
	for _, act := range d.Activities {
		switch act.Type {
		case activityCustom:
			text := CleanText(act.State)
			if act.Emoji != nil && act.Emoji.Name != "" && !strings.HasPrefix(act.Emoji.Name, ":") {
				text = strings.TrimSpace(act.Emoji.Name + " " + text)
			}
			extra.StatusText = text
		case activityPlaying, activityWatching:
			verb := "Playing "
			if act.Type == activityWatching {
				verb = "Watching "
			}
			items = append(items, payload.Item{
				Title: verb + CleanText(act.Name),
				Meta:  joinMeta(CleanText(act.Details), CleanText(act.State)),
			})
		case activityListening:
			if act.Name == "Spotify" {
				continue
			}
			items = append(items, payload.Item{Title: "Listening to " + CleanText(act.Name), Meta: CleanText(act.Details)})
		}
	}
	if extra.StatusText == "" && len(items) > 0 {
		extra.StatusText = items[0].Title
	}
	if d.Listening && d.Spotify != nil && d.Spotify.Song != "" {
		np := &payload.Item{
			Title: CleanText(d.Spotify.Song),
			Meta:  CleanText(strings.ReplaceAll(d.Spotify.Artist, ";", ",")),
			Media: discordMedia.Clean(d.Spotify.AlbumArt),
		}
		if d.Spotify.TrackID != "" {
			np.Link = "https://open.spotify.com/track/" + url.PathEscape(d.Spotify.TrackID)
		}
		extra.NowPlaying = np
	}
	if prev := p.Profile.Extra; prev != nil {
		extra.Banner = prev.Banner
		extra.Location = prev.Location
	}
	p.Profile.Extra = extra
	if items == nil {
		items = []payload.Item{}
	}
	// Presence is point-in-time: an empty activity list is current data.
	p.Items = items
	p.Stats = stat(p.Stats, "Status", statusLabel(extra.StatusKind))

	return grade(p, in.Now, true, true)
}

func discordAvatar(userID, hash string) string {
	if userID == "" || hash == "" {
		return ""
	}
	ext := "png"
	if strings.HasPrefix(hash, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.%s?size=256", url.PathEscape(userID), url.PathEscape(hash), ext)
}

func discordStatus(s string) string {
	switch s {
	case "online":
		return KindOnline
	case "idle":
		return KindIdle
	case "dnd":
		return KindDND
	default:
		return KindOffline
	}
}

func statusLabel(kind string) string {
	switch kind {
	case KindOnline:
		return "Online"
	case KindIdle:
		return "Idle"
	case KindDND:
		return "Do Not Disturb"
	case KindInGame:
		return "In-Game"
	case KindAway:
		return "Away"
	case KindOffline:
		return "Offline"
	}
	return ""
}
