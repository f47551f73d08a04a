package sites

import (
	"html"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/horosafe"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

var strict = bluemonday.StrictPolicy()

// CleanText strips markup, decodes entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return extract.CollapseSpace(html.UnescapeString(strict.Sanitize(s)))
}

// CleanBlock is CleanText for multi-line text: <br> and block tags become
// newlines and each line is collapsed on its own.
func CleanBlock(s string) string {
	if s == "" {
		return ""
	}
	s = brRe.ReplaceAllString(s, "\n")
	s = blockRe.ReplaceAllString(s, "\n")
	s = html.UnescapeString(strict.Sanitize(s))
	return extract.RenderedText(s)
}

var (
	brRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockRe = regexp.MustCompile(`(?i)</?(p|div|li|h[1-6])\b[^>]*>`)
	// Either a thousands-grouped integer or a plain number with at most one
	// decimal mark, then an optional K/M/B suffix.
	countRe = regexp.MustCompile(`(\d{1,3}(?:[,. \x{00a0}\x{202f}]\d{3})+|\d+(?:[.,]\d+)?)(?:[ \x{00a0}]?([kKmMbB])\b)?`)
)

// ParseCount reads the first count in s: "1,234", "12 345", "1.2K",
// "3,4 M followers". Separators only group thousands when every group has
// three digits, so "Jan 5, 2024" reads as 5. Without a suffix a single
// decimal mark is a decimal and the value is rounded: "1.5" is 2, "1.500"
// is 1500. The bool is false when s holds no number.
func ParseCount(s string) (int64, bool) {
	m := countRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	num := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\u202f' {
			return -1
		}
		return r
	}, m[1])

	mult := 1.0
	switch strings.ToLower(m[2]) {
	case "k":
		mult = 1e3
	case "m":
		mult = 1e6
	case "b":
		mult = 1e9
	}

	if mult == 1 && groupedRe.MatchString(m[1]) {
		n, err := strconv.ParseInt(strings.NewReplacer(",", "", ".", "").Replace(num), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}

	// One decimal mark at most; ',' and '.' are equivalent.
	num = strings.ReplaceAll(num, ",", ".")
	if strings.Count(num, ".") > 1 {
		return 0, false
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(f * mult)), true
}

var groupedRe = regexp.MustCompile(`^\d{1,3}(?:[,. \x{00a0}\x{202f}]\d{3})+$`)

// FormatCount renders n with comma thousands separators.
func FormatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Status kinds shared by presence-style sites.
const (
	KindOnline  = "online"
	KindIdle    = "idle"
	KindDND     = "dnd"
	KindOffline = "offline"
	KindInGame  = "ingame"
	KindAway    = "away"
)

// ClassifyStatus maps free-form presence text to a status kind, or "" when
// the text says nothing recognisable.
func ClassifyStatus(text string) string {
	t := strings.ToLower(CleanText(text))
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "in-game"), strings.Contains(t, "in game"), strings.HasPrefix(t, "playing"):
		return KindInGame
	case strings.Contains(t, "do not disturb"), t == "dnd", strings.Contains(t, "busy"):
		return KindDND
	case strings.Contains(t, "snooze"), strings.Contains(t, "away"):
		return KindAway
	case t == "idle", strings.Contains(t, "idle"):
		return KindIdle
	case strings.Contains(t, "offline"), strings.Contains(t, "last online"), strings.Contains(t, "invisible"):
		return KindOffline
	case strings.Contains(t, "online"):
		return KindOnline
	}
	return ""
}

// MediaHosts validates media URLs against the asset hosts a site is known
// to serve from.
type MediaHosts struct {
	al *horosafe.AllowList
}

// NewMediaHosts builds a validator. Entries use the allow-list syntax:
// exact hosts or "*.suffix".
func NewMediaHosts(hosts ...string) MediaHosts {
	return MediaHosts{al: horosafe.NewAllowList(hosts...)}
}

// Clean returns raw as an absolute https URL when its host is known, or "".
// Protocol-relative URLs are upgraded to https.
func (m MediaHosts) Clean(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := m.al.Check(raw)
	if err != nil || u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// resolve makes ref absolute against base. Unparseable input yields "".
func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

// or returns the first non-empty value.
func or(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseRow parses one row of outer markup returned by an extraction with
// property outerHTML. Table rows are parsed inside a table so the parser
// keeps them.
func parseRow(markup string) (*goquery.Selection, bool) {
	markup = strings.TrimSpace(markup)
	lower := strings.ToLower(markup)
	if strings.HasPrefix(lower, "<tr") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader("<table><tbody>" + markup + "</tbody></table>"))
		if err != nil {
			return nil, false
		}
		row := doc.Find("tr").First()
		return row, row.Length() > 0
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, false
	}
	body := doc.Find("body")
	if body.Children().Length() == 0 {
		return nil, false
	}
	return body.Children().First(), true
}

// rowText reads the collapsed text of the first match of sel within row.
// An empty sel reads the row itself.
func rowText(row *goquery.Selection, sel string) string {
	if sel != "" {
		row = row.Find(sel).First()
	}
	return extract.CollapseSpace(row.Text())
}

// rowAttr reads attr of the first match of sel within row.
func rowAttr(row *goquery.Selection, sel, attr string) string {
	if sel != "" {
		row = row.Find(sel).First()
	}
	v, _ := row.Attr(attr)
	return strings.TrimSpace(v)
}

// iframeSrc pulls the src of the first iframe in an oEmbed html fragment.
func iframeSrc(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("iframe").First().Attr("src")
	return strings.TrimSpace(src)
}

// stat appends a label/value pair when value is non-empty, replacing an
// existing entry with the same label so order stays stable across refreshes.
func stat(stats []payload.Stat, label, value string) []payload.Stat {
	if value == "" {
		return stats
	}
	for i := range stats {
		if stats[i].Label == label {
			stats[i].Value = value
			return stats
		}
	}
	return append(stats, payload.Stat{Label: label, Value: value})
}

func nonEmpty(vals ...string) []string {
	out := vals[:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// joinMeta joins the non-empty parts with a middle dot.
func joinMeta(parts ...string) string {
	return strings.Join(nonEmpty(parts...), " · ")
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
