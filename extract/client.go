package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/profilemirror/horosafe"
	"github.com/hazyhaar/profilemirror/kit"
)

// ErrNotOK is returned by Client.Do when browserd answered without ok=true.
var ErrNotOK = errors.New("extract: extraction not ok")

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string        // browserd base URL, e.g. http://127.0.0.1:8790.
	Timeout    time.Duration // Per-request timeout. Default: 60s.
	MaxBytes   int64         // Max response body. Default: 4MB.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *ClientConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 4 << 20
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Client calls browserd's POST /extract.
type Client struct {
	cfg ClientConfig
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// Do sends req and returns the decoded result or an error.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("extract: encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: new request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if id := kit.GetTraceID(ctx); id != "" {
		hreq.Header.Set(kit.TraceHeader, id)
	}

	resp, err := c.cfg.HTTPClient.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("extract: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, c.cfg.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("extract: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return nil, fmt.Errorf("extract: browserd %d: %s", resp.StatusCode, e.Error)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("extract: decode response: %w", err)
	}
	if !res.OK {
		return nil, ErrNotOK
	}
	if res.Data == nil {
		res.Data = map[string]Value{}
	}
	return &res, nil
}

// Extract is Do with failures folded into a nil result. A nil result means
// no signal this cycle, not empty values.
func (c *Client) Extract(ctx context.Context, req Request) *Result {
	res, err := c.Do(ctx, req)
	if err != nil {
		c.cfg.Logger.Warn("extract: request failed", append(kit.LogAttrs(ctx), "url", req.URL, "error", err)...)
		return nil
	}
	return res
}
