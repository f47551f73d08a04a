package sites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/profilemirror/horosafe"
)

// ErrHTTPStatus is wrapped by GetJSON for non-2xx answers.
var ErrHTTPStatus = errors.New("sites: unexpected http status")

// APIConfig configures an APIClient.
type APIConfig struct {
	Timeout   time.Duration // per request. Default: 15s.
	MaxBytes  int64         // response cap. Default: 2MB.
	UserAgent string
	// PerHost is the steady request rate allowed per host. Default: 1/s.
	PerHost rate.Limit
	Burst   int // Default: 2.
	Client  *http.Client
	Logger  *slog.Logger
}

func (c *APIConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 2 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "profilemirror/1.0"
	}
	if c.PerHost <= 0 {
		c.PerHost = rate.Limit(1)
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// APIClient makes the direct JSON calls adapters use besides extraction.
// Requests to the same host share a token bucket so scheduled refreshes and
// manual triggers cannot hammer a third-party API.
type APIClient struct {
	cfg APIConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAPIClient creates an APIClient.
func NewAPIClient(cfg APIConfig) *APIClient {
	cfg.defaults()
	return &APIClient{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (c *APIClient) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.cfg.PerHost, c.cfg.Burst)
		c.limiters[host] = l
	}
	return l
}

// GetJSON fetches rawURL and decodes the body into out.
func (c *APIClient) GetJSON(ctx context.Context, rawURL string, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("sites: api: bad url %q", rawURL)
	}
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return fmt.Errorf("sites: api: rate wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("sites: api: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	start := time.Now()
	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sites: api: %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %d", ErrHTTPStatus, u.Host, resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, c.cfg.MaxBytes)
	if err != nil {
		return fmt.Errorf("sites: api: read %s: %w", u.Host, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("sites: api: decode %s: %w", u.Host, err)
	}
	c.cfg.Logger.Debug("sites: api call", "host", u.Host, "path", u.Path, "duration", time.Since(start))
	return nil
}

// OEmbed is the subset of an oEmbed response the adapters read.
type OEmbed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	HTML         string `json:"html"`
	ProviderName string `json:"provider_name"`
}

// OEmbed queries an oEmbed endpoint for target.
func (c *APIClient) OEmbed(ctx context.Context, endpoint, target string) (*OEmbed, error) {
	q := url.Values{"url": {target}, "format": {"json"}}
	var out OEmbed
	if err := c.GetJSON(ctx, endpoint+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
