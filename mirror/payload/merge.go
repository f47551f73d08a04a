package payload

import "time"

// Merge folds a refresh result into the stored payload.
//
// An OK result replaces the stored payload wholesale; its UpdatedAt is kept
// if set, otherwise stamped with now. Anything else (a PARTIAL result, or nil
// for a failed cycle) carries prev forward with only the status fields
// changed. Freshness is always recomputed.
func Merge(prev SitePayload, next *SitePayload, now time.Time) SitePayload {
	if next != nil && next.SourceStatus == StatusOK {
		out := next.Clone()
		out.SiteID = prev.SiteID
		if out.UpdatedAt.IsZero() {
			out.UpdatedAt = now
		}
		if out.Stats == nil {
			out.Stats = []Stat{}
		}
		if out.Items == nil {
			out.Items = []Item{}
		}
		return out.WithFreshness(now)
	}

	status := StatusFailed
	if next != nil {
		status = StatusPartial
	}
	return CarryForward(prev, status, now)
}

// CarryForward keeps prev's data and UpdatedAt and only changes the status fields.
func CarryForward(prev SitePayload, status SourceStatus, now time.Time) SitePayload {
	out := prev.Clone()
	out.SourceStatus = status
	return out.WithFreshness(now)
}
