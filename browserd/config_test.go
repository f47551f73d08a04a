package browserd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	if c.Addr() != "127.0.0.1:8790" {
		t.Fatalf("Addr: got %q", c.Addr())
	}
	if got := New(Config{Port: 9000}, nil).Config().Addr(); got != "127.0.0.1:9000" {
		t.Fatalf("Config().Addr: got %q", got)
	}
	if c.MaxSessions != 4 || c.SessionTTL != 10*time.Minute || c.CleanupInterval != 30*time.Second {
		t.Fatalf("session defaults: got %+v", c)
	}
	if c.NavTimeout != 25*time.Second || c.DefaultWidth != 1280 || c.DefaultHeight != 800 {
		t.Fatalf("page defaults: got %+v", c)
	}
	if c.MaxBodyBytes != 1<<20 || len(c.AllowedHosts) == 0 {
		t.Fatalf("limits: got %+v", c)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BROWSERD_PORT":     "9000",
		"MAX_SESSIONS":      "2",
		"SESSION_TTL":       "90s",
		"ALLOWED_HOSTS":     "x.com, *.x.com",
		"RESOURCE_BLOCKING": "images,fonts",
		"RATE_LIMIT_RPS":    "2.5",
	}
	var c Config
	if err := c.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if c.Port != 9000 || c.MaxSessions != 2 || c.SessionTTL != 90*time.Second {
		t.Fatalf("overrides: got %+v", c)
	}
	if len(c.AllowedHosts) != 2 || c.AllowedHosts[1] != "*.x.com" {
		t.Fatalf("AllowedHosts: got %v", c.AllowedHosts)
	}
	if len(c.Browser.ResourceBlocking) != 2 || c.RateLimitRPS != 2.5 {
		t.Fatalf("browser/rate: got %+v", c)
	}

	var bad Config
	err := bad.ApplyEnv(func(k string) string {
		if k == "NAV_TIMEOUT" {
			return "soon"
		}
		return ""
	})
	if err == nil {
		t.Fatal("ApplyEnv: got nil error for bad duration")
	}
	if bad.NavTimeout != 25*time.Second {
		t.Fatalf("NavTimeout after bad env: got %s, want default", bad.NavTimeout)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "browserd.yaml")
	data := []byte("port: 8800\nsession_ttl: 2m\nallowed_hosts: [example.com]\nbrowser:\n  resource_blocking: [media]\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if c.Port != 8800 || c.SessionTTL != 2*time.Minute || c.AllowedHosts[0] != "example.com" {
		t.Fatalf("config: got %+v", c)
	}
	if c.Browser.ResourceBlocking[0] != "media" || c.Host != "127.0.0.1" {
		t.Fatalf("config: got %+v", c)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := newTestService(t, &fakeEngine{}, Config{MaxSessions: 1}, WithMetrics(m))
	ctx := context.Background()

	a, _ := s.StartSession(ctx, StartRequest{URL: "https://example.com/a"})
	s.StartSession(ctx, StartRequest{URL: "https://example.com/b"})
	s.StartSession(ctx, StartRequest{URL: "https://evil.test/"})
	if err := s.DeleteSession(a.SessionID); err == nil {
		t.Fatal("DeleteSession of evicted session: got nil error")
	}

	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Fatalf("sessions_active: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("session_start", "ok")); got != 2 {
		t.Fatalf("requests ok: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("session_start", "invalid_target")); got != 1 {
		t.Fatalf("requests invalid_target: got %v, want 1", got)
	}
}
