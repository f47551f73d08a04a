package extract

import (
	"fmt"
	"strings"
	"time"
)

// Engines accepted in Request.Engine.
const (
	EngineBrowser = "browser"
	EngineHTTP    = "http"
)

// Clamps applied by Normalize.
const (
	MinWidth            = 200
	MaxWidth            = 3840
	MinHeight           = 200
	MaxHeight           = 2160
	MaxWaitMs           = 15000
	MaxScrollSteps      = 20
	MaxScrollWaitMs     = 5000
	DefaultScrollWaitMs = 400
)

// StylePatch forces inline !important styles on every match of Selector.
type StylePatch struct {
	Selector string            `json:"selector"`
	Styles   map[string]string `json:"styles"`
}

// TextPatch replaces the textContent of every match of Selector.
type TextPatch struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// Mutations is the DOM-mutation pipeline configuration applied before a capture.
type Mutations struct {
	RemoveSelectors []string     `json:"removeSelectors,omitempty"`
	StylePatches    []StylePatch `json:"stylePatches,omitempty"`
	TextPatches     []TextPatch  `json:"textPatches,omitempty"`
}

// Empty reports whether there is nothing to apply.
func (m Mutations) Empty() bool {
	return len(m.RemoveSelectors) == 0 && len(m.StylePatches) == 0 && len(m.TextPatches) == 0
}

// Request is the body of POST /extract.
type Request struct {
	URL          string `json:"url"`
	Engine       string `json:"engine,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	WaitMs       int    `json:"waitMs,omitempty"`
	ScrollSteps  int    `json:"scrollSteps,omitempty"`
	ScrollBy     int    `json:"scrollBy,omitempty"`
	ScrollWaitMs int    `json:"scrollWaitMs,omitempty"`
	Mutations
	Fields []Field `json:"fields"`
}

// Normalize validates the field list and clamps every numeric option.
// defWidth and defHeight fill an unset viewport.
func (r *Request) Normalize(defWidth, defHeight int) error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: missing url", ErrInvalidField)
	}
	switch r.Engine {
	case "":
		r.Engine = EngineBrowser
	case EngineBrowser, EngineHTTP:
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidField, r.Engine)
	}
	if err := ValidateFields(r.Fields); err != nil {
		return err
	}
	r.Width, r.Height = ClampViewport(r.Width, r.Height, defWidth, defHeight)
	r.WaitMs = clamp(r.WaitMs, 0, MaxWaitMs)
	r.ScrollSteps = clamp(r.ScrollSteps, 0, MaxScrollSteps)
	if r.ScrollWaitMs <= 0 {
		r.ScrollWaitMs = DefaultScrollWaitMs
	}
	r.ScrollWaitMs = clamp(r.ScrollWaitMs, 0, MaxScrollWaitMs)
	if r.ScrollBy <= 0 {
		r.ScrollBy = r.Height
	}
	return nil
}

// Wait returns the settle delay.
func (r *Request) Wait() time.Duration { return time.Duration(r.WaitMs) * time.Millisecond }

// ScrollWait returns the pause between scroll passes.
func (r *Request) ScrollWait() time.Duration {
	return time.Duration(r.ScrollWaitMs) * time.Millisecond
}

// ClampViewport fills zero dimensions with the defaults and bounds the rest.
func ClampViewport(w, h, defW, defH int) (int, int) {
	if w <= 0 {
		w = defW
	}
	if h <= 0 {
		h = defH
	}
	return clamp(w, MinWidth, MaxWidth), clamp(h, MinHeight, MaxHeight)
}

// ClampQuality bounds a JPEG quality, 80 when unset.
func ClampQuality(q int) int {
	if q <= 0 {
		return 80
	}
	return clamp(q, 1, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Result is the body returned by POST /extract.
type Result struct {
	OK         bool             `json:"ok"`
	URL        string           `json:"url"`
	CapturedAt time.Time        `json:"capturedAt"`
	Data       map[string]Value `json:"data"`
}

// Get returns the value for key and whether the key was present.
func (r *Result) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.Data[key]
	return v, ok
}

// String returns the scalar value for key, or "".
func (r *Result) String(key string) string {
	v, _ := r.Get(key)
	return v.String()
}

// Strings returns the list value for key, or nil.
func (r *Result) Strings(key string) []string {
	v, _ := r.Get(key)
	return v.Strings()
}
