package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Evaluate runs one extraction pass over a parsed document. base resolves
// relative href/src attributes. A field whose selector fails is absent from
// the returned map; the other fields are still evaluated.
func Evaluate(root *html.Node, base *url.URL, fields []Field) map[string][]string {
	doc := goquery.NewDocumentFromNode(root)
	out := make(map[string][]string, len(fields))
	for _, f := range fields {
		vals, err := evalField(doc, root, base, f)
		if err != nil {
			continue
		}
		out[f.Key] = vals
	}
	return out
}

// EvaluateHTML parses body and runs one pass over it.
func EvaluateHTML(body []byte, base *url.URL, fields []Field) (map[string][]string, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	return Evaluate(root, base, fields), nil
}

func evalField(doc *goquery.Document, root *html.Node, base *url.URL, f Field) (vals []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract: field %q: %v", f.Key, r)
		}
	}()

	mode, expr := f.Target()
	var sel *goquery.Selection
	switch mode {
	case ModeXPath:
		nodes, qerr := htmlquery.QueryAll(root, expr)
		if qerr != nil {
			return nil, fmt.Errorf("extract: field %q: %w", f.Key, qerr)
		}
		sel = doc.FindNodes(nodes...)
	default:
		sel = doc.Find(expr)
	}

	limit := f.EffectiveLimit()
	vals = []string{}
	seen := make(map[string]bool)
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v := readNode(s, base, f)
		switch {
		case v == "" && !f.PreserveEmpty:
		case v != "" && seen[v]:
		default:
			seen[v] = true
			vals = append(vals, v)
		}
		return len(vals) < limit
	})
	return vals, nil
}

func readNode(s *goquery.Selection, base *url.URL, f Field) string {
	if f.Attr != "" {
		v, _ := s.Attr(f.Attr)
		v = strings.TrimSpace(v)
		if v != "" && base != nil && (strings.EqualFold(f.Attr, "href") || strings.EqualFold(f.Attr, "src")) {
			if u, err := base.Parse(v); err == nil {
				v = u.String()
			}
		}
		return v
	}
	switch f.ReadMode() {
	case ReadMarkup:
		var v string
		if f.Outer() {
			v, _ = goquery.OuterHtml(s)
		} else {
			v, _ = s.Html()
		}
		return strings.TrimSpace(v)
	case ReadRendered:
		var b strings.Builder
		for _, n := range s.Nodes {
			renderText(&b, n)
		}
		return RenderedText(b.String())
	default:
		return CollapseSpace(s.Text())
	}
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "div": true,
	"dl": true, "dt": true, "dd": true, "figcaption": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "tr": true, "ul": true,
}

// renderText approximates innerText: block elements and <br> break lines,
// script and style are skipped.
func renderText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		case "br":
			b.WriteByte('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}

// StaticConfig configures a StaticEngine.
type StaticConfig struct {
	Timeout   time.Duration // Default: 20s.
	MaxBytes  int64         // Default: 4MB.
	UserAgent string
	// Check validates the initial URL and every redirect target.
	Check func(rawURL string) (*url.URL, error)
	// Client overrides the HTTP client. Its CheckRedirect is replaced.
	Client *http.Client
}

func (c *StaticConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 4 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if c.Check == nil {
		c.Check = url.Parse
	}
}

// StaticEngine serves engine "http" requests: plain GET, then one pass.
type StaticEngine struct {
	client *http.Client
	cfg    StaticConfig
}

// NewStaticEngine builds a StaticEngine that validates redirects with cfg.Check.
func NewStaticEngine(cfg StaticConfig) *StaticEngine {
	cfg.defaults()
	c := &http.Client{Timeout: cfg.Timeout}
	if cfg.Client != nil {
		cp := *cfg.Client
		c = &cp
	}
	check := cfg.Check
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("extract: too many redirects (%d)", len(via))
		}
		if _, err := check(req.URL.String()); err != nil {
			return fmt.Errorf("extract: redirect blocked: %w", err)
		}
		return nil
	}
	return &StaticEngine{client: c, cfg: cfg}
}

// Extract fetches req.URL and evaluates req.Fields once. Scroll options are ignored.
func (e *StaticEngine) Extract(ctx context.Context, req Request) (*Result, error) {
	target, err := e.cfg.Check(req.URL)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("extract: new request: %w", err)
	}
	hreq.Header.Set("User-Agent", e.cfg.UserAgent)
	hreq.Header.Set("Accept", "text/html,application/xhtml+xml")
	hreq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("extract: http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extract: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("extract: read body: %w", err)
	}

	pass, err := EvaluateHTML(body, resp.Request.URL, req.Fields)
	if err != nil {
		return nil, err
	}
	acc := NewAccumulator(req.Fields)
	acc.Add(pass)
	return &Result{
		OK:         true,
		URL:        resp.Request.URL.String(),
		CapturedAt: time.Now().UTC(),
		Data:       acc.Data(),
	}, nil
}
