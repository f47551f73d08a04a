package extract

import (
	"errors"
	"testing"
)

func TestParseSelector(t *testing.T) {
	cases := []struct {
		in       string
		wantMode Mode
		wantExpr string
	}{
		{".name", ModeCSS, ".name"},
		{"css: div > a", ModeCSS, "div > a"},
		{"xpath://div[@id='x']", ModeXPath, "//div[@id='x']"},
		{"//span", ModeXPath, "//span"},
		{"(//li)[1]", ModeXPath, "(//li)[1]"},
		{"  a[href] ", ModeCSS, "a[href]"},
	}
	for _, c := range cases {
		mode, expr := ParseSelector(c.in)
		if mode != c.wantMode || expr != c.wantExpr {
			t.Fatalf("ParseSelector(%q): got (%s, %q), want (%s, %q)", c.in, mode, expr, c.wantMode, c.wantExpr)
		}
	}
}

func TestReadMode(t *testing.T) {
	cases := map[string]ReadMode{
		"":            ReadPlain,
		"textContent": ReadPlain,
		"text":        ReadPlain,
		"innerText":   ReadRendered,
		"innerHTML":   ReadMarkup,
		"outerHTML":   ReadMarkup,
	}
	for prop, want := range cases {
		if got := (Field{Property: prop}).ReadMode(); got != want {
			t.Fatalf("ReadMode(%q): got %s, want %s", prop, got, want)
		}
	}
}

func TestEffectiveLimit(t *testing.T) {
	cases := []struct {
		f    Field
		want int
	}{
		{Field{}, 1},
		{Field{Limit: 9}, 1},
		{Field{All: true}, DefaultLimit},
		{Field{All: true, Limit: 3}, 3},
		{Field{All: true, Limit: 5000}, MaxLimit},
	}
	for _, c := range cases {
		if got := c.f.EffectiveLimit(); got != c.want {
			t.Fatalf("EffectiveLimit(%+v): got %d, want %d", c.f, got, c.want)
		}
	}
}

func TestValidateFields(t *testing.T) {
	if err := ValidateFields(nil); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("empty list: got %v, want ErrInvalidField", err)
	}
	dup := []Field{{Key: "a", Selector: "p"}, {Key: "a", Selector: "div"}}
	if err := ValidateFields(dup); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("duplicate key: got %v, want ErrInvalidField", err)
	}
	if err := ValidateFields([]Field{{Key: "a", Selector: "xpath:"}}); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("empty xpath: got %v, want ErrInvalidField", err)
	}
	many := make([]Field, MaxFields+1)
	for i := range many {
		many[i] = Field{Key: string(rune('a'+i%26)) + string(rune('a'+i/26)), Selector: "p"}
	}
	if err := ValidateFields(many); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("too many fields: got %v, want ErrInvalidField", err)
	}
	if err := ValidateFields([]Field{{Key: "a", Selector: "p"}}); err != nil {
		t.Fatalf("valid list: %v", err)
	}
}

func TestRequestNormalize(t *testing.T) {
	r := Request{
		URL:          "https://example.com",
		Width:        99999,
		WaitMs:       60000,
		ScrollSteps:  100,
		ScrollWaitMs: -1,
		Fields:       []Field{{Key: "t", Selector: "title"}},
	}
	if err := r.Normalize(1280, 800); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Width != MaxWidth || r.Height != 800 {
		t.Fatalf("viewport: got %dx%d, want %dx800", r.Width, r.Height, MaxWidth)
	}
	if r.WaitMs != MaxWaitMs || r.ScrollSteps != MaxScrollSteps {
		t.Fatalf("clamps: got wait=%d steps=%d", r.WaitMs, r.ScrollSteps)
	}
	if r.ScrollWaitMs != DefaultScrollWaitMs {
		t.Fatalf("scrollWaitMs: got %d, want %d", r.ScrollWaitMs, DefaultScrollWaitMs)
	}
	// WHAT: scrollBy defaults to the viewport height.
	if r.ScrollBy != 800 {
		t.Fatalf("scrollBy: got %d, want 800", r.ScrollBy)
	}
	if r.Engine != EngineBrowser {
		t.Fatalf("engine: got %q, want %q", r.Engine, EngineBrowser)
	}

	bad := Request{URL: "https://example.com", Engine: "ftp", Fields: []Field{{Key: "t", Selector: "title"}}}
	if err := bad.Normalize(1280, 800); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("unknown engine: got %v, want ErrInvalidField", err)
	}
}

func TestClampQuality(t *testing.T) {
	for in, want := range map[int]int{0: 80, -5: 80, 50: 50, 300: 100} {
		if got := ClampQuality(in); got != want {
			t.Fatalf("ClampQuality(%d): got %d, want %d", in, got, want)
		}
	}
}
