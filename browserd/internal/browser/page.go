package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrBadInput marks an input event the page cannot dispatch.
var ErrBadInput = errors.New("browser: bad input event")

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Page is one stealth page living in its own incognito browser context.
type Page struct {
	ctxBrowser *rod.Browser
	page       *rod.Page
	router     *rod.HijackRouter
}

// NewPage opens an isolated page sized to vp. The returned page owns its
// browser context; Close disposes both.
func (m *Manager) NewPage(ctx context.Context, vp Viewport) (*Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, ErrClosed
	}

	inc, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	page, err := stealth.Page(inc)
	if err != nil {
		inc.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	p := &Page{ctxBrowser: inc, page: page}
	if f := newRequestFilter(m.cfg.ResourceBlocking, m.cfg.CheckDocument); f.active() {
		p.router = f.hijack(page)
	}
	if err := p.SetViewport(ctx, vp); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Navigate loads url and waits for the load event. A load-wait failure after
// a successful navigation is not an error; the page is usable as-is.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil && ctx.Err() != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, ctx.Err())
	}
	return nil
}

// SetViewport resizes the emulated device.
func (p *Page) SetViewport(ctx context.Context, vp Viewport) error {
	err := p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	return nil
}

// Eval runs js (a function expression) with args and decodes its JSON-able
// return value into out. out may be nil.
func (p *Page) Eval(ctx context.Context, js string, out any, args ...any) error {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("browser: eval result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("browser: decode eval result: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as "png" or "jpeg".
func (p *Page) Screenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if strings.EqualFold(format, "jpeg") || strings.EqualFold(format, "jpg") {
		q := quality
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		req.Quality = &q
	}
	img, err := p.page.Context(ctx).Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return img, nil
}

// URL returns the current document URL, "" if the page is gone.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close closes the page and disposes its browser context.
func (p *Page) Close() error {
	if p.router != nil {
		p.router.Stop()
	}
	perr := p.page.Close()
	if err := p.ctxBrowser.Close(); err != nil {
		return fmt.Errorf("browser: dispose context: %w", err)
	}
	return perr
}
