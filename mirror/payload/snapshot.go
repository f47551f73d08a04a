package payload

import "time"

// Summary counts sites by source status.
type Summary struct {
	OK      int `json:"ok"`
	Partial int `json:"partial"`
	Failed  int `json:"failed"`
}

// Snapshot is the read-only aggregate view. Consumers must not mutate it;
// a new Snapshot is built for every state change.
type Snapshot struct {
	Sites       []SitePayload `json:"sites"`
	LastRefresh time.Time     `json:"lastRefresh"`
	InFlight    bool          `json:"inFlight"`
	Refreshing  []string      `json:"refreshing"`
	Summary     Summary       `json:"summary"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

// Summarize counts statuses across sites.
func Summarize(sites []SitePayload) Summary {
	var s Summary
	for _, p := range sites {
		switch p.SourceStatus {
		case StatusOK:
			s.OK++
		case StatusPartial:
			s.Partial++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Site returns the payload for id.
func (s *Snapshot) Site(id string) (SitePayload, bool) {
	for _, p := range s.Sites {
		if p.SiteID == id {
			return p, true
		}
	}
	return SitePayload{}, false
}

// Input is what an adapter receives for one refresh. Cancellation travels
// on the context passed alongside it.
type Input struct {
	SiteID   string
	Now      time.Time
	Previous *SitePayload
}

// Prev returns the previous payload or a zero one, so adapters can read
// fallbacks without nil checks.
func (in Input) Prev() SitePayload {
	if in.Previous == nil {
		return SitePayload{SiteID: in.SiteID}
	}
	return *in.Previous
}
