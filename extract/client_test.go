package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/profilemirror/horosafe"
	"github.com/hazyhaar/profilemirror/kit"
)

func TestClient_Do(t *testing.T) {
	var got Request
	var trace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/extract" {
			t.Errorf("request: got %s %s", r.Method, r.URL.Path)
		}
		trace = r.Header.Get(kit.TraceHeader)
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"url":"https://x.com/ada","capturedAt":"2026-01-02T03:04:05Z","data":{"name":"Ada","posts":["p1","p2"]}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL + "/"})
	ctx := kit.WithTraceID(context.Background(), "run-1")
	res, err := c.Do(ctx, Request{
		URL:         "https://x.com/ada",
		ScrollSteps: 3,
		Fields:      []Field{{Key: "name", Selector: "h1"}, {Key: "posts", Selector: "article", All: true}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if trace != "run-1" {
		t.Fatalf("trace header: got %q, want run-1", trace)
	}
	if got.ScrollSteps != 3 || len(got.Fields) != 2 || !got.Fields[1].All {
		t.Fatalf("sent request: got %+v", got)
	}
	if res.String("name") != "Ada" || len(res.Strings("posts")) != 2 {
		t.Fatalf("result: got %+v", res.Data)
	}
}

func TestClient_ExtractNilOnFailure(t *testing.T) {
	// WHAT: any failure yields nil, never a partial result.
	// WHY: callers read nil as "no signal this cycle".
	cases := map[string]http.HandlerFunc{
		"500": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"navigation failed"}`))
		},
		"not ok": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false,"data":{"name":"half"}}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		},
	}
	for name, h := range cases {
		srv := httptest.NewServer(h)
		c := NewClient(ClientConfig{BaseURL: srv.URL})
		if res := c.Extract(context.Background(), Request{URL: "https://x.com"}); res != nil {
			t.Fatalf("%s: got %+v, want nil", name, res)
		}
		srv.Close()
	}
}

func TestClient_DoNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()
	_, err := NewClient(ClientConfig{BaseURL: srv.URL}).Do(context.Background(), Request{URL: "https://x.com"})
	if !errors.Is(err, ErrNotOK) {
		t.Fatalf("Do: got %v, want ErrNotOK", err)
	}
}

func TestClient_DoOversizedBody(t *testing.T) {
	// WHAT: a response over MaxBytes is an error, not a truncated decode.
	// WHY: a cut body can still parse when the cut lands on a boundary.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"data":{"name":"Ada"}}` + strings.Repeat(" ", 256)))
	}))
	defer srv.Close()
	_, err := NewClient(ClientConfig{BaseURL: srv.URL, MaxBytes: 64}).Do(context.Background(), Request{URL: "https://x.com"})
	if !errors.Is(err, horosafe.ErrResponseTooLarge) {
		t.Fatalf("Do: got %v, want ErrResponseTooLarge", err)
	}
}
