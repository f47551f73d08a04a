// Package dom runs the DOM-mutation pipeline and extraction passes inside a
// live page.
package dom

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/profilemirror/extract"
)

// Evaluator evaluates a function expression in a page and decodes its result.
type Evaluator interface {
	Eval(ctx context.Context, js string, out any, args ...any) error
}

// Defaults for Pipeline.
const (
	DefaultRemovePasses = 3
	DefaultPassPause    = 150 * time.Millisecond
)

type target struct {
	Mode extract.Mode `json:"mode"`
	Expr string       `json:"expr"`
}

type stylePatch struct {
	target
	Styles map[string]string `json:"styles"`
}

type textPatch struct {
	target
	Text string `json:"text"`
}

type field struct {
	target
	Key           string           `json:"key"`
	Attr          string           `json:"attr,omitempty"`
	Read          extract.ReadMode `json:"read"`
	Outer         bool             `json:"outer"`
	Limit         int              `json:"limit"`
	PreserveEmpty bool             `json:"preserveEmpty"`
}

func toTarget(sel string) target {
	mode, expr := extract.ParseSelector(sel)
	return target{Mode: mode, Expr: expr}
}

// Pipeline applies mutations: removal in several passes with pauses between
// them, then style patches, then text patches.
type Pipeline struct {
	Passes int           // Default: 3.
	Pause  time.Duration // Default: 150ms.
}

func (p Pipeline) passes() int {
	if p.Passes <= 0 {
		return DefaultRemovePasses
	}
	return p.Passes
}

func (p Pipeline) pause() time.Duration {
	if p.Pause <= 0 {
		return DefaultPassPause
	}
	return p.Pause
}

// Apply runs the pipeline. Selector failures are swallowed in page; an
// error means the page itself could not be reached or ctx ended.
func (p Pipeline) Apply(ctx context.Context, ev Evaluator, m extract.Mutations) error {
	if len(m.RemoveSelectors) > 0 {
		targets := make([]target, 0, len(m.RemoveSelectors))
		for _, s := range m.RemoveSelectors {
			if t := toTarget(s); t.Expr != "" {
				targets = append(targets, t)
			}
		}
		for i := 0; i < p.passes(); i++ {
			if i > 0 {
				if err := Sleep(ctx, p.pause()); err != nil {
					return err
				}
			}
			var n int
			if err := ev.Eval(ctx, removeScript, &n, targets); err != nil {
				return fmt.Errorf("dom: remove pass %d: %w", i+1, err)
			}
		}
	}

	if len(m.StylePatches) > 0 {
		patches := make([]stylePatch, 0, len(m.StylePatches))
		for _, sp := range m.StylePatches {
			patches = append(patches, stylePatch{target: toTarget(sp.Selector), Styles: sp.Styles})
		}
		var n int
		if err := ev.Eval(ctx, styleScript, &n, patches); err != nil {
			return fmt.Errorf("dom: style patches: %w", err)
		}
	}

	if len(m.TextPatches) > 0 {
		patches := make([]textPatch, 0, len(m.TextPatches))
		for _, tp := range m.TextPatches {
			patches = append(patches, textPatch{target: toTarget(tp.Selector), Text: tp.Text})
		}
		var n int
		if err := ev.Eval(ctx, textScript, &n, patches); err != nil {
			return fmt.Errorf("dom: text patches: %w", err)
		}
	}
	return nil
}

// Pass evaluates every field once against the current page state.
func Pass(ctx context.Context, ev Evaluator, fields []extract.Field) (map[string][]string, error) {
	js := make([]field, 0, len(fields))
	for _, f := range fields {
		js = append(js, field{
			target:        toTarget(f.Selector),
			Key:           f.Key,
			Attr:          f.Attr,
			Read:          f.ReadMode(),
			Outer:         f.Outer(),
			Limit:         f.EffectiveLimit(),
			PreserveEmpty: f.PreserveEmpty,
		})
	}
	out := map[string][]string{}
	if err := ev.Eval(ctx, extractScript, &out, js); err != nil {
		return nil, fmt.Errorf("dom: extract pass: %w", err)
	}
	return out, nil
}

// Scroll scrolls the window by dy pixels and reports whether the bottom was reached.
func Scroll(ctx context.Context, ev Evaluator, dy int) (bool, error) {
	var bottom bool
	if err := ev.Eval(ctx, scrollScript, &bottom, dy); err != nil {
		return false, fmt.Errorf("dom: scroll: %w", err)
	}
	return bottom, nil
}

// Extract runs the first pass, then up to req.ScrollSteps rounds of scroll,
// wait and pass, folding every pass into one accumulator. It stops early once
// every field is full or two consecutive scrolls ended at the bottom (the page
// stopped growing).
func Extract(ctx context.Context, ev Evaluator, req extract.Request) (map[string]extract.Value, error) {
	acc := extract.NewAccumulator(req.Fields)
	pass, err := Pass(ctx, ev, req.Fields)
	if err != nil {
		return nil, err
	}
	acc.Add(pass)

	atBottom := false
	for i := 0; i < req.ScrollSteps && !acc.Full(); i++ {
		bottom, err := Scroll(ctx, ev, req.ScrollBy)
		if err != nil {
			return nil, err
		}
		if err := Sleep(ctx, req.ScrollWait()); err != nil {
			return nil, err
		}
		pass, err := Pass(ctx, ev, req.Fields)
		if err != nil {
			return nil, err
		}
		acc.Add(pass)
		if bottom && atBottom {
			break
		}
		atBottom = bottom
	}
	return acc.Data(), nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
