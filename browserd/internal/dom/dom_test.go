package dom

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hazyhaar/profilemirror/extract"
)

// fakePage answers scripts by identity and records what it was asked.
type fakePage struct {
	calls   []string
	args    [][]any
	passes  []map[string][]string // returned by successive extract passes
	bottom  []bool                // returned by successive scrolls
	failOn  string
	removed int
}

func (f *fakePage) Eval(_ context.Context, js string, out any, args ...any) error {
	name := scriptName(js)
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	if name == f.failOn {
		return errors.New("target closed")
	}
	var v any
	switch name {
	case "remove":
		f.removed++
		v = 1
	case "style", "text":
		v = 1
	case "extract":
		if len(f.passes) == 0 {
			v = map[string][]string{}
			break
		}
		v, f.passes = f.passes[0], f.passes[1:]
	case "scroll":
		b := false
		if len(f.bottom) > 0 {
			b, f.bottom = f.bottom[0], f.bottom[1:]
		}
		v = b
	}
	raw, _ := json.Marshal(v)
	return json.Unmarshal(raw, out)
}

func scriptName(js string) string {
	switch js {
	case removeScript:
		return "remove"
	case styleScript:
		return "style"
	case textScript:
		return "text"
	case extractScript:
		return "extract"
	case scrollScript:
		return "scroll"
	}
	return "unknown"
}

func TestPipelineApply_Order(t *testing.T) {
	// WHAT: removal runs three times, then style patches, then text patches.
	// WHY: ad and overlay scripts re-insert nodes after the first removal.
	fp := &fakePage{}
	m := extract.Mutations{
		RemoveSelectors: []string{".ad", "xpath://div[@id='cookie']"},
		StylePatches:    []extract.StylePatch{{Selector: "body", Styles: map[string]string{"overflow": "auto"}}},
		TextPatches:     []extract.TextPatch{{Selector: "h1", Text: "x"}},
	}
	if err := (Pipeline{Pause: time.Millisecond}).Apply(context.Background(), fp, m); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []string{"remove", "remove", "remove", "style", "text"}
	if !reflect.DeepEqual(fp.calls, want) {
		t.Fatalf("calls: got %v, want %v", fp.calls, want)
	}
	targets := fp.args[0][0].([]target)
	if targets[0].Mode != extract.ModeCSS || targets[1].Mode != extract.ModeXPath || targets[1].Expr != "//div[@id='cookie']" {
		t.Fatalf("targets: got %+v", targets)
	}
}

func TestPipelineApply_Empty(t *testing.T) {
	fp := &fakePage{}
	if err := (Pipeline{}).Apply(context.Background(), fp, extract.Mutations{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(fp.calls) != 0 {
		t.Fatalf("calls: got %v, want none", fp.calls)
	}
}

func TestPipelineApply_PageGone(t *testing.T) {
	fp := &fakePage{failOn: "remove"}
	m := extract.Mutations{RemoveSelectors: []string{".ad"}}
	if err := (Pipeline{Pause: time.Millisecond}).Apply(context.Background(), fp, m); err == nil {
		t.Fatal("Apply: got nil error for dead page")
	}
}

func TestPipelineApply_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fp := &fakePage{}
	m := extract.Mutations{RemoveSelectors: []string{".ad"}}
	err := (Pipeline{Pause: time.Hour}).Apply(ctx, fp, m)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Apply: got %v, want context.Canceled", err)
	}
}

func TestExtract_ScrollAccumulates(t *testing.T) {
	fp := &fakePage{passes: []map[string][]string{
		{"name": {"Ada"}, "posts": {"p1", "p2"}},
		{"name": {"Ada"}, "posts": {"p2", "p3"}},
		{"name": {"Ada"}, "posts": {"p3", "p4", "p5"}},
	}}
	req := extract.Request{
		ScrollSteps: 5,
		ScrollBy:    800,
		Fields: []extract.Field{
			{Key: "name", Selector: "h1"},
			{Key: "posts", Selector: "article", All: true, Limit: 4},
		},
	}
	data, err := Extract(context.Background(), fp, req)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := data["posts"].Strings(); !reflect.DeepEqual(got, []string{"p1", "p2", "p3", "p4"}) {
		t.Fatalf("posts: got %v", got)
	}
	// WHAT: the loop stops once every field is full, before ScrollSteps is used up.
	want := []string{"extract", "scroll", "extract", "scroll", "extract"}
	if !reflect.DeepEqual(fp.calls, want) {
		t.Fatalf("calls: got %v, want %v", fp.calls, want)
	}
}

func TestExtract_StopsAtBottom(t *testing.T) {
	fp := &fakePage{bottom: []bool{true, true, true}}
	req := extract.Request{
		ScrollSteps: 10,
		Fields:      []extract.Field{{Key: "rows", Selector: "li", All: true}},
	}
	if _, err := Extract(context.Background(), fp, req); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	scrolls := 0
	for _, c := range fp.calls {
		if c == "scroll" {
			scrolls++
		}
	}
	if scrolls != 2 {
		t.Fatalf("scrolls: got %d, want 2", scrolls)
	}
}

func TestPass_FieldEncoding(t *testing.T) {
	fp := &fakePage{}
	fields := []extract.Field{
		{Key: "bio", Selector: "css:.bio", Property: "innerText"},
		{Key: "links", Selector: "//a", Attr: "href", All: true, Limit: 500},
	}
	if _, err := Pass(context.Background(), fp, fields); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	got := fp.args[0][0].([]field)
	if got[0].Read != extract.ReadRendered || got[0].Expr != ".bio" || got[0].Limit != 1 {
		t.Fatalf("bio: got %+v", got[0])
	}
	if got[1].Mode != extract.ModeXPath || got[1].Limit != extract.MaxLimit {
		t.Fatalf("links: got %+v", got[1])
	}
}
