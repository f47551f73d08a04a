package shield

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/profilemirror/kit"
)

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/extract", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rec.Code)
	}
	if called {
		t.Fatal("preflight must not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin: got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	base := DefaultHeaders()
	custom := base.With(Headers{"Cache-Control": "max-age=5", "X-Frame-Options": ""})
	if base["X-Frame-Options"] != "DENY" {
		t.Fatal("With must not modify the receiver")
	}

	h := SecurityHeaders(custom)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	if got := rec.Header().Get("Cache-Control"); got != "max-age=5" {
		t.Fatalf("cache-control: got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "" {
		t.Fatalf("removed header: got %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("nosniff: got %q", got)
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			if !IsBodyTooLarge(err) {
				t.Errorf("expected MaxBytesError, got %v", err)
			}
			WriteBodyTooLarge(w)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	if rec.Code != http.StatusOK {
		t.Fatalf("small body: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large body: got %d, want 413", rec.Code)
	}
	if rec.Header().Get("Connection") != "close" {
		t.Fatal("oversized body must close the connection")
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected JSON error body")
	}
}

func TestTraceID(t *testing.T) {
	var seen string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetLogger(r.Context()) == nil {
			t.Error("missing request logger")
		}
		seen = kit.GetTraceID(r.Context())
	}))

	cases := []struct {
		name, header string
		keep         bool
	}{
		{"fresh", "", false},
		{"forwarded run id", "0192f5c4-7a10-7c3e-9b1f-3c2d7e5a9b10", true},
		{"rejected", "a b<script>", false},
		{"too long", strings.Repeat("a", 65), false},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		if c.header != "" {
			req.Header.Set(kit.TraceHeader, c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get(kit.TraceHeader); got != seen {
			t.Fatalf("%s: header %q, context %q", c.name, got, seen)
		}
		if c.keep && seen != c.header {
			t.Fatalf("%s: got %q, want %q", c.name, seen, c.header)
		}
		if !c.keep && len(seen) != 12 {
			t.Fatalf("%s: got %q, want a fresh 12-char id", c.name, seen)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, "/health")
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/snapshot", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes: got %v, want [200 200 429]", codes)
	}

	// Excluded prefix is never limited.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("excluded path limited: %d", rec.Code)
		}
	}

	rl.gc(time.Now().Add(time.Hour))
	if len(rl.buckets) != 0 {
		t.Fatalf("gc: %d buckets left", len(rl.buckets))
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	if got := ExtractIP(req); got != "198.51.100.1" {
		t.Fatalf("xff: got %q", got)
	}
}
