// Package payload defines the canonical per-site record the mirror daemon
// publishes, how its freshness is derived and how refresh results merge
// into it.
package payload

import (
	"time"
)

// SourceStatus is the outcome of the last refresh cycle.
type SourceStatus string

const (
	StatusOK      SourceStatus = "OK"
	StatusPartial SourceStatus = "PARTIAL"
	StatusFailed  SourceStatus = "FAILED"
)

// Freshness classifies how stale a payload is.
type Freshness string

const (
	FreshLive    Freshness = "LIVE"
	FreshUpdated Freshness = "UPDATED"
	FreshCached  Freshness = "CACHED"
	FreshStatic  Freshness = "STATIC"
)

// Freshness thresholds.
const (
	LiveWindow    = 60 * time.Second
	UpdatedWindow = 10 * time.Minute
	CachedWindow  = 60 * time.Minute
)

// Profile is the identity block of a site.
type Profile struct {
	Name   string        `json:"name"`
	Handle string        `json:"handle,omitempty"`
	URL    string        `json:"url,omitempty"`
	Avatar string        `json:"avatar,omitempty"`
	Bio    string        `json:"bio,omitempty"`
	Extra  *ProfileExtra `json:"extra,omitempty"`
}

// ProfileExtra carries the service-specific optional fields.
type ProfileExtra struct {
	StatusText string `json:"statusText,omitempty"` // "Online", "Playing Portal 2", custom status
	StatusKind string `json:"statusKind,omitempty"` // online | idle | dnd | offline | ingame | away
	Banner     string `json:"banner,omitempty"`
	RealName   string `json:"realName,omitempty"`
	Location   string `json:"location,omitempty"`
	Level      string `json:"level,omitempty"`
	NowPlaying *Item  `json:"nowPlaying,omitempty"`
}

// Stat is one label/value pair ("Followers", "1.2K").
type Stat struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Item is one activity entry.
type Item struct {
	Title string `json:"title"`
	Meta  string `json:"meta,omitempty"`
	Media string `json:"media,omitempty"`
	Link  string `json:"link,omitempty"`
}

// Section is a named sub-list for richer sites.
type Section struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Embed is a pre-built third-party embed URL.
type Embed struct {
	Kind string `json:"kind"` // playlist | video | track
	URL  string `json:"url"`
}

// SitePayload is the normalized record for one external site.
type SitePayload struct {
	SiteID          string       `json:"siteId"`
	Profile         Profile      `json:"profile"`
	Stats           []Stat       `json:"stats"`
	Items           []Item       `json:"items"`
	Embeds          []Embed      `json:"embeds,omitempty"`
	Sections        []Section    `json:"sections,omitempty"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	SourceStatus    SourceStatus `json:"sourceStatus"`
	FreshnessStatus Freshness    `json:"freshnessStatus"`
}

// ComputeFreshness derives freshness from the age of updatedAt and the last
// source status. A payload that never loaded (zero updatedAt) is STATIC.
func ComputeFreshness(updatedAt time.Time, status SourceStatus, now time.Time) Freshness {
	if status == StatusFailed || updatedAt.IsZero() {
		return FreshStatic
	}
	age := now.Sub(updatedAt)
	if age < 0 {
		age = 0
	}
	switch {
	case age <= LiveWindow:
		return FreshLive
	case age <= UpdatedWindow:
		return FreshUpdated
	case age <= CachedWindow:
		return FreshCached
	default:
		return FreshStatic
	}
}

// WithFreshness returns a copy of p with FreshnessStatus recomputed for now.
func (p SitePayload) WithFreshness(now time.Time) SitePayload {
	p.FreshnessStatus = ComputeFreshness(p.UpdatedAt, p.SourceStatus, now)
	return p
}

// Clone returns a deep copy.
func (p SitePayload) Clone() SitePayload {
	out := p
	if p.Profile.Extra != nil {
		extra := *p.Profile.Extra
		if extra.NowPlaying != nil {
			np := *extra.NowPlaying
			extra.NowPlaying = &np
		}
		out.Profile.Extra = &extra
	}
	out.Stats = cloneSlice(p.Stats)
	out.Items = cloneSlice(p.Items)
	out.Embeds = cloneSlice(p.Embeds)
	if p.Sections != nil {
		out.Sections = make([]Section, len(p.Sections))
		for i, s := range p.Sections {
			out.Sections[i] = Section{Name: s.Name, Items: cloneSlice(s.Items)}
		}
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Seed builds the static fallback shown before any refresh has succeeded.
func Seed(siteID string, profile Profile, stats []Stat, items []Item, embeds []Embed) SitePayload {
	p := SitePayload{
		SiteID:       siteID,
		Profile:      profile,
		Stats:        stats,
		Items:        items,
		Embeds:       embeds,
		SourceStatus: StatusPartial,
	}
	if p.Stats == nil {
		p.Stats = []Stat{}
	}
	if p.Items == nil {
		p.Items = []Item{}
	}
	p.FreshnessStatus = FreshStatic
	return p.Clone()
}
