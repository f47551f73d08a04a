// Package extract is the request/response contract between the site
// adapters and browserd's extraction endpoint.
//
// Callers describe what to read with Field descriptors; browserd evaluates
// them against the live page (or, for the "http" engine, against the raw
// document) and returns normalized strings keyed by Field.Key. DOM handles
// never cross the boundary.
package extract

import (
	"errors"
	"fmt"
	"strings"
)

// Mode distinguishes how a selector is resolved.
type Mode string

const (
	ModeCSS   Mode = "css"
	ModeXPath Mode = "xpath"
)

// ReadMode is how the text of a matched node is read.
type ReadMode string

const (
	ReadPlain    ReadMode = "plain"    // textContent, whitespace collapsed
	ReadRendered ReadMode = "rendered" // innerText, line structure kept
	ReadMarkup   ReadMode = "markup"   // innerHTML / outerHTML, trimmed
)

// Limits applied to every request.
const (
	MaxFields    = 64
	MaxLimit     = 200
	DefaultLimit = 50
)

// ErrInvalidField is returned by Validate for unusable descriptors.
var ErrInvalidField = errors.New("extract: invalid field")

// Field declares one value to read from the page.
//
// Selector is CSS unless it carries an "xpath:" prefix or starts with "/" or
// "(". A "css:" prefix is accepted and stripped. Property picks the read mode:
// "textContent" (default), "innerText", "innerHTML" or "outerHTML". When Attr
// is set the attribute value is read instead; href and src are resolved to
// absolute URLs.
type Field struct {
	Key           string `json:"key"`
	Selector      string `json:"selector"`
	Attr          string `json:"attr,omitempty"`
	Property      string `json:"property,omitempty"`
	All           bool   `json:"all,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	PreserveEmpty bool   `json:"preserveEmpty,omitempty"`
}

// Target splits the selector into its resolution mode and expression.
func (f Field) Target() (Mode, string) {
	return ParseSelector(f.Selector)
}

// ParseSelector splits a selector string into mode and expression.
func ParseSelector(sel string) (Mode, string) {
	s := strings.TrimSpace(sel)
	if rest, ok := strings.CutPrefix(s, "xpath:"); ok {
		return ModeXPath, strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(s, "css:"); ok {
		return ModeCSS, strings.TrimSpace(rest)
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return ModeXPath, s
	}
	return ModeCSS, s
}

// ReadMode maps Property onto a ReadMode.
func (f Field) ReadMode() ReadMode {
	switch strings.ToLower(f.Property) {
	case "innertext", "rendered":
		return ReadRendered
	case "innerhtml", "outerhtml", "html":
		return ReadMarkup
	default:
		return ReadPlain
	}
}

// Outer reports whether markup reads should include the node itself.
func (f Field) Outer() bool {
	return strings.EqualFold(f.Property, "outerHTML")
}

// EffectiveLimit is the cap on collected values: 1 for single fields,
// Limit clamped to [1, MaxLimit] (DefaultLimit when unset) for list fields.
func (f Field) EffectiveLimit() int {
	if !f.All {
		return 1
	}
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Validate checks a descriptor before it is sent to a page.
func (f Field) Validate() error {
	if strings.TrimSpace(f.Key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidField)
	}
	if _, expr := f.Target(); expr == "" {
		return fmt.Errorf("%w: %q has no selector", ErrInvalidField, f.Key)
	}
	return nil
}

// ValidateFields checks a whole descriptor list: non-empty, bounded, keys unique.
func ValidateFields(fields []Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidField)
	}
	if len(fields) > MaxFields {
		return fmt.Errorf("%w: %d fields (max %d)", ErrInvalidField, len(fields), MaxFields)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.Key] {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidField, f.Key)
		}
		seen[f.Key] = true
	}
	return nil
}
