package sites

import (
	"testing"
)

func TestParseCount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,234", 1234, true},
		{"1,234 Followers", 1234, true},
		{"12 345", 12345, true},
		{"1.2K", 1200, true},
		{"1.2K Followers", 1200, true},
		{"3,4 M", 3400000, true},
		{"2B", 2000000000, true},
		{"Level 42", 42, true},
		{"12 Beers", 12, true},
		{"Last updated on Jan 5, 2024", 5, true},
		{"1.500", 1500, true},
		{"1 500 000 views", 1500000, true},
		{"1.5", 2, true},
		{"2,4", 2, true},
		{"no digits", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseCount(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseCount(%q): got %d,%v, want %d,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestFormatCount(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4500: "-4,500"}
	for in, want := range cases {
		if got := FormatCount(in); got != want {
			t.Errorf("FormatCount(%d): got %q, want %q", in, got, want)
		}
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("  <b>Hello</b>&nbsp;&amp; <script>alert(1)</script>\n world ")
	if got != "Hello & world" {
		t.Fatalf("CleanText: got %q", got)
	}
}

func TestCleanBlockKeepsLines(t *testing.T) {
	got := CleanBlock("first line<br>second <i>line</i><p>third</p>")
	want := "first line\nsecond line\nthird"
	if got != want {
		t.Fatalf("CleanBlock: got %q, want %q", got, want)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[string]string{
		"Currently Online":       KindOnline,
		"Currently In-Game":      KindInGame,
		"Currently Offline":      KindOffline,
		"Last Online 3 days ago": KindOffline,
		"Snooze":                 KindAway,
		"Do Not Disturb":         KindDND,
		"Idle":                   KindIdle,
		"":                       "",
		"something else":         "",
	}
	for in, want := range cases {
		if got := ClassifyStatus(in); got != want {
			t.Errorf("ClassifyStatus(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestMediaHostsClean(t *testing.T) {
	// WHAT: Only https URLs on the site's asset hosts survive.
	// WHY: Media URLs come from scraped markup and end up in the UI.
	m := NewMediaHosts("*.twimg.com")
	cases := map[string]string{
		"https://pbs.twimg.com/a.jpg":  "https://pbs.twimg.com/a.jpg",
		"//pbs.twimg.com/a.jpg":        "https://pbs.twimg.com/a.jpg",
		"http://pbs.twimg.com/a.jpg":   "",
		"https://evil.example/a.jpg":   "",
		"javascript:alert(1)":          "",
		"https://twimg.com.evil/a.jpg": "",
		"":                             "",
	}
	for in, want := range cases {
		if got := m.Clean(in); got != want {
			t.Errorf("Clean(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestParseRowTableRow(t *testing.T) {
	row, ok := parseRow(`<tr class="chartlist-row"><td class="chartlist-name"><a href="/music/x">Song</a></td></tr>`)
	if !ok {
		t.Fatal("parseRow: table row dropped")
	}
	if !row.HasClass("chartlist-row") {
		t.Fatalf("parseRow: got %v, want the tr", row.Nodes[0].Data)
	}
	if got := rowText(row, ".chartlist-name a"); got != "Song" {
		t.Fatalf("rowText: got %q", got)
	}
}

func TestSplitMeta(t *testing.T) {
	got := splitMeta("Playlist · Someone · 50 items · 1.2K saves")
	if len(got) != 2 {
		t.Fatalf("splitMeta: got %+v", got)
	}
	if got[0].Label != "Items" || got[0].Value != "50" || got[1].Label != "Saves" || got[1].Value != "1.2K" {
		t.Fatalf("splitMeta: got %+v", got)
	}
}

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{"jack": "@jack", " @jack ": "@jack", "": "", "two words": ""}
	for in, want := range cases {
		if got := normalizeHandle(in); got != want {
			t.Errorf("normalizeHandle(%q): got %q, want %q", in, got, want)
		}
	}
}
