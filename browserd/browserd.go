// Package browserd is the remote browser automation service: it loads
// allow-listed pages in a shared headless Chrome and returns either pixels
// or declaratively extracted fields.
//
// Stateless calls (Snapshot, Extract) run in a fresh isolated context that is
// always closed afterwards. Stateful sessions keep one page alive between
// calls and are bounded by an LRU cap and an idle TTL.
package browserd

import (
	"context"
	"errors"

	"github.com/hazyhaar/profilemirror/browserd/internal/browser"
	"github.com/hazyhaar/profilemirror/horosafe"
)

// Viewport is a page size in CSS pixels.
type Viewport = browser.Viewport

// InputEvent is a user interaction forwarded to a session page.
type InputEvent = browser.InputEvent

var (
	// ErrInvalidTarget: URL malformed, not http(s), or host not allow-listed.
	ErrInvalidTarget = horosafe.ErrInvalidTarget
	// ErrSessionNotFound: unknown or expired session id.
	ErrSessionNotFound = errors.New("browserd: session not found")
	// ErrBadRequest: request body or parameters unusable.
	ErrBadRequest = errors.New("browserd: bad request")
	// ErrNavigation: the page could not be loaded in time.
	ErrNavigation = errors.New("browserd: navigation failed")
	// ErrClosed: the service is shutting down.
	ErrClosed = errors.New("browserd: service closed")
)

// Page is one isolated browser page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	SetViewport(ctx context.Context, vp Viewport) error
	Eval(ctx context.Context, js string, out any, args ...any) error
	Screenshot(ctx context.Context, format string, quality int) ([]byte, error)
	Input(ctx context.Context, ev InputEvent) error
	URL() string
	Close() error
}

// Engine opens isolated pages on a shared browser.
type Engine interface {
	NewPage(ctx context.Context, vp Viewport) (Page, error)
	Close() error
}
