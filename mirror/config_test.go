package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/profilemirror/mirror/payload"
)

const sampleConfig = `
listen: 127.0.0.1:9000
stagger: -1s
sites:
  - id: presence
    kind: discord
    user_id: "94490510688792576"
    seed:
      profile:
        name: Ada
      items:
        - title: Portal 2
  - id: music
    kind: lastfm
    handle: ada
    api_key: k
    interval: 30s
    max_backoff: 10s
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.BrowserdURL != "http://127.0.0.1:8790" {
		t.Fatalf("addresses: got %q %q", cfg.Listen, cfg.BrowserdURL)
	}
	if cfg.Stagger != 0 {
		t.Fatalf("negative stagger: got %s, want 0", cfg.Stagger)
	}
	if len(cfg.Sites) != 2 {
		t.Fatalf("sites: got %d, want 2", len(cfg.Sites))
	}

	presence := cfg.Sites[0]
	if presence.UserID != "94490510688792576" || presence.Interval != time.Minute || presence.Timeout != 90*time.Second {
		t.Fatalf("presence: got %+v", presence)
	}
	seed := presence.Seed.Payload(presence.ID)
	if seed.Profile.Name != "Ada" || seed.SourceStatus != payload.StatusPartial || !seed.UpdatedAt.IsZero() {
		t.Fatalf("seed: got %+v", seed)
	}

	// WHAT: max_backoff below the interval is raised to the interval.
	// WHY: Backoff must never refresh faster than a healthy site.
	music := cfg.Sites[1]
	if music.Interval != 30*time.Second || music.MaxBackoff != 30*time.Second {
		t.Fatalf("music timing: got %s/%s", music.Interval, music.MaxBackoff)
	}
}

func TestValidate(t *testing.T) {
	bad := `
sites:
  - id: a
    kind: discord
  - id: a
    kind: discord
  - id: b
    kind: myspace
  - id: "../etc"
    kind: steam
`
	_, err := ParseConfig([]byte(bad))
	if err == nil {
		t.Fatal("ParseConfig: got nil error")
	}
	for _, want := range []string{"duplicate id", "unknown kind", "sites[3]"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q: missing %q", err, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	adapters, err := NewAdapters(cfg, nil)
	if err != nil {
		t.Fatalf("NewAdapters: %v", err)
	}
	if len(adapters) != 2 || adapters["presence"] == nil || adapters["music"] == nil {
		t.Fatalf("adapters: got %v", adapters)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file: got nil error")
	}
}
