package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// requestFilter decides which requests a page may make.
type requestFilter struct {
	blocked map[string]bool
	// checkDocument vets every document request, including redirects and
	// frames. nil allows all.
	checkDocument func(rawURL string) error
}

func newRequestFilter(types []string, checkDocument func(string) error) *requestFilter {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		blocked[strings.TrimSuffix(strings.ToLower(strings.TrimSpace(t)), "s")] = true
	}
	return &requestFilter{blocked: blocked, checkDocument: checkDocument}
}

func (f *requestFilter) active() bool {
	return len(f.blocked) > 0 || f.checkDocument != nil
}

// allow reports whether a request of CDP resource type resType to rawURL
// may proceed. Config names may be plural ("images") or CDP type names.
func (f *requestFilter) allow(resType, rawURL string) bool {
	typ := strings.ToLower(resType)
	if typ == "document" {
		return f.checkDocument == nil || f.checkDocument(rawURL) == nil
	}
	return !f.blocked[strings.TrimSuffix(typ, "s")]
}

// hijack installs f on page. The returned router must be stopped on close.
func (f *requestFilter) hijack(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if !f.allow(string(h.Request.Type()), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
