package mirror

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/profilemirror/horosafe"
	"github.com/hazyhaar/profilemirror/mirror/payload"
	"github.com/hazyhaar/profilemirror/mirror/sites"
)

// Config is the mirrord configuration file.
type Config struct {
	Listen         string        `yaml:"listen"`
	BrowserdURL    string        `yaml:"browserd_url"`
	DBPath         string        `yaml:"db_path"`
	FreshnessTick  time.Duration `yaml:"freshness_tick"`
	Stagger        time.Duration `yaml:"stagger"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
	// APIRate is the request rate allowed per third-party API host.
	APIRate float64 `yaml:"api_rate"`
	// KeepRuns is how many refresh runs per site the cache keeps.
	KeepRuns int    `yaml:"keep_runs"`
	Sites    []Site `yaml:"sites"`
}

// Site is one configured external site: adapter settings, timing and the
// static seed shown until a refresh succeeds.
type Site struct {
	sites.SiteConfig `yaml:",inline"`

	Interval   time.Duration `yaml:"interval"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	Timeout    time.Duration `yaml:"timeout"`
	Seed       Seed          `yaml:"seed"`
}

// Seed is the static fallback payload of a site.
type Seed struct {
	Profile payload.Profile `yaml:"profile"`
	Stats   []payload.Stat  `yaml:"stats"`
	Items   []payload.Item  `yaml:"items"`
	Embeds  []payload.Embed `yaml:"embeds"`
}

// Payload builds the seed payload for site id.
func (s Seed) Payload(id string) payload.SitePayload {
	return payload.Seed(id, s.Profile, s.Stats, s.Items, s.Embeds)
}

// LoadConfig reads a YAML configuration file, applies defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mirror: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mirror: parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8791"
	}
	if c.BrowserdURL == "" {
		c.BrowserdURL = "http://127.0.0.1:8790"
	}
	if c.DBPath == "" {
		c.DBPath = "data/mirror.db"
	}
	if c.FreshnessTick <= 0 {
		c.FreshnessTick = 15 * time.Second
	}
	if c.Stagger < 0 {
		c.Stagger = 0
	} else if c.Stagger == 0 {
		c.Stagger = 2 * time.Second
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 60 * time.Second
	}
	if c.APIRate <= 0 {
		c.APIRate = 1
	}
	if c.KeepRuns <= 0 {
		c.KeepRuns = 50
	}
	for i := range c.Sites {
		s := &c.Sites[i]
		if s.Interval <= 0 {
			s.Interval = defaultInterval(s.Kind)
		}
		if s.MaxBackoff <= 0 {
			s.MaxBackoff = time.Hour
		}
		if s.MaxBackoff < s.Interval {
			s.MaxBackoff = s.Interval
		}
		if s.Timeout <= 0 {
			s.Timeout = 90 * time.Second
		}
	}
}

// defaultInterval refreshes presence often and scraped pages rarely.
func defaultInterval(kind string) time.Duration {
	switch kind {
	case "discord":
		return time.Minute
	case "lastfm":
		return 2 * time.Minute
	case "microblog", "youtube", "spotify":
		return 15 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// Validate checks site ids and kinds.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Sites))
	kinds := make(map[string]bool)
	for _, k := range sites.Kinds() {
		kinds[k] = true
	}
	for i, s := range c.Sites {
		if err := horosafe.ValidateIdentifier(s.ID); err != nil {
			errs = append(errs, fmt.Errorf("sites[%d]: %w", i, err))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("sites[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
		if !kinds[s.Kind] {
			errs = append(errs, fmt.Errorf("sites[%d] %s: unknown kind %q", i, s.ID, s.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("mirror: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
