package browserd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAllowedHosts covers the profile sites the mirror daemon reads.
var DefaultAllowedHosts = []string{
	"x.com", "*.x.com", "twitter.com", "*.twitter.com",
	"steamcommunity.com", "*.steamcommunity.com", "store.steampowered.com",
	"last.fm", "*.last.fm",
	"youtube.com", "*.youtube.com",
	"open.spotify.com",
}

// Config configures a browserd Service.
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	NavTimeout      time.Duration `yaml:"nav_timeout"`
	DefaultWidth    int           `yaml:"default_width"`
	DefaultHeight   int           `yaml:"default_height"`
	AllowedHosts    []string      `yaml:"allowed_hosts"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	Browser         BrowserConfig `yaml:"browser"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browserd: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("browserd: parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 8790
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 4
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 10 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 25 * time.Second
	}
	if c.DefaultWidth <= 0 {
		c.DefaultWidth = 1280
	}
	if c.DefaultHeight <= 0 {
		c.DefaultHeight = 800
	}
	if len(c.AllowedHosts) == 0 {
		c.AllowedHosts = append([]string(nil), DefaultAllowedHosts...)
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ApplyEnv overrides fields from environment variables read through getenv
// (os.Getenv in production). Unset variables leave the field alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	num64 := func(key string, dst *int64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = d
		}
	}
	list := func(key string, dst *[]string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = splitList(v)
		}
	}

	str("BROWSERD_HOST", &c.Host)
	num("BROWSERD_PORT", &c.Port)
	num("MAX_SESSIONS", &c.MaxSessions)
	dur("SESSION_TTL", &c.SessionTTL)
	dur("CLEANUP_INTERVAL", &c.CleanupInterval)
	dur("NAV_TIMEOUT", &c.NavTimeout)
	num("DEFAULT_WIDTH", &c.DefaultWidth)
	num("DEFAULT_HEIGHT", &c.DefaultHeight)
	list("ALLOWED_HOSTS", &c.AllowedHosts)
	num64("MAX_BODY_BYTES", &c.MaxBodyBytes)
	num("RATE_LIMIT_BURST", &c.RateLimitBurst)
	if v := strings.TrimSpace(getenv("RATE_LIMIT_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, "RATE_LIMIT_RPS")
		} else {
			c.RateLimitRPS = f
		}
	}
	str("BROWSER_REMOTE", &c.Browser.Remote)
	str("BROWSER_BIN", &c.Browser.Bin)
	num64("BROWSER_MEMORY_LIMIT", &c.Browser.MemoryLimit)
	dur("BROWSER_RECYCLE_INTERVAL", &c.Browser.RecycleInterval)
	list("RESOURCE_BLOCKING", &c.Browser.ResourceBlocking)

	c.applyDefaults()
	if len(errs) > 0 {
		return fmt.Errorf("browserd: invalid env %s", strings.Join(errs, ", "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
