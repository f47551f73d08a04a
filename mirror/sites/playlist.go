package sites

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/profilemirror/extract"
	"github.com/hazyhaar/profilemirror/mirror/payload"
)

// playlistRead is the raw material of the two playlist sites: an oEmbed
// answer and a page extraction, either of which may be missing.
type playlistRead struct {
	oembed    *OEmbed
	oembedErr error
	page      *extract.Result
}

// readPlaylist runs the oEmbed call and the extraction concurrently.
func readPlaylist(ctx context.Context, api *APIClient, endpoint, target string, ex Extractor, req extract.Request) playlistRead {
	var (
		r playlistRead
		g errgroup.Group
	)
	g.Go(func() error {
		r.oembed, r.oembedErr = api.OEmbed(ctx, endpoint, target)
		return nil
	})
	if ex != nil {
		g.Go(func() error {
			r.page = ex.Extract(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return r
}

// playlistGrade applies the shared status rule: OK needs a title and at
// least one row, PARTIAL needs either.
func playlistGrade(p *payload.SitePayload, in payload.Input, title string, rows []payload.Item) (*payload.SitePayload, error) {
	if len(rows) > 0 {
		p.Items = rows
	}
	return grade(p, in.Now, title != "" && len(rows) > 0, title != "" || len(rows) > 0)
}

// embedFromOEmbed returns the iframe src of an oEmbed answer when it points
// at one of hosts, or "".
func embedFromOEmbed(oe *OEmbed, hosts MediaHosts) string {
	if oe == nil || oe.HTML == "" {
		return ""
	}
	return hosts.Clean(iframeSrc(oe.HTML))
}

// splitMeta parses og:description style summaries ("Playlist · Name · 50
// items · 1.2K saves") into stats for every part that carries a count.
func splitMeta(desc string) []payload.Stat {
	var out []payload.Stat
	for _, part := range strings.Split(CleanText(desc), "·") {
		part = strings.TrimSpace(part)
		if _, ok := ParseCount(part); !ok {
			continue
		}
		loc := countRe.FindStringIndex(part)
		if loc == nil || loc[0] != 0 {
			continue
		}
		value := strings.TrimSpace(part[:loc[1]])
		label := strings.TrimSpace(part[loc[1]:])
		if label == "" {
			continue
		}
		out = stat(out, strings.ToUpper(label[:1])+label[1:], value)
	}
	return out
}

func queryParam(raw, key string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

func requirePlaylist(cfg SiteConfig, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s: playlist id or url is required", ErrConfig, cfg.ID)
	}
	return nil
}
