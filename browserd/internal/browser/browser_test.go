package browser

import (
	"errors"
	"strings"
	"testing"
)

func TestRequestFilter(t *testing.T) {
	f := newRequestFilter([]string{"images", "Font", " xhr "}, nil)
	cases := map[string]bool{
		"Image":      false,
		"Font":       false,
		"XHR":        false,
		"Stylesheet": true,
		"Document":   true,
		"Script":     true,
	}
	for typ, want := range cases {
		if got := f.allow(typ, "https://x.com/ada"); got != want {
			t.Fatalf("allow(%q): got %v, want %v", typ, got, want)
		}
	}
	// WHAT: documents are never blocked by type.
	if !newRequestFilter([]string{"document"}, nil).allow("Document", "https://x.com/") {
		t.Fatal("document blocked by type")
	}
	if newRequestFilter(nil, nil).active() {
		t.Fatal("empty filter must not hijack")
	}
}

func TestRequestFilter_DocumentCheck(t *testing.T) {
	// WHAT: A redirect or frame to a host outside the allow-list is refused.
	// WHY: The allow-list gates every page load, not only the first URL.
	check := func(u string) error {
		if strings.HasPrefix(u, "https://steamcommunity.com/") {
			return nil
		}
		return errors.New("not allowed")
	}
	f := newRequestFilter(nil, check)
	if !f.active() {
		t.Fatal("filter with a document check must hijack")
	}
	if !f.allow("Document", "https://steamcommunity.com/id/gabe") {
		t.Fatal("allowed host refused")
	}
	if f.allow("Document", "http://169.254.169.254/latest/meta-data") {
		t.Fatal("disallowed host loaded")
	}
	if !f.allow("Image", "https://cdn.example/a.png") {
		t.Fatal("sub-resources are not host-checked")
	}
}

func TestInputEventValidate(t *testing.T) {
	ok := []InputEvent{
		{Type: "click", X: 10, Y: 20},
		{Type: "click", Button: "right"},
		{Type: "move", X: 1, Y: 1},
		{Type: "wheel", DeltaY: 120},
		{Type: "key", Key: "Enter"},
		{Type: "key", Key: "a"},
		{Type: "type", Text: "hello"},
	}
	for _, ev := range ok {
		if err := ev.Validate(); err != nil {
			t.Fatalf("Validate(%+v): %v", ev, err)
		}
	}
	bad := []InputEvent{
		{Type: "drag"},
		{Type: "click", Button: "fourth"},
		{Type: "key", Key: "Hyper"},
		{Type: "type"},
	}
	for _, ev := range bad {
		if err := ev.Validate(); !errors.Is(err, ErrBadInput) {
			t.Fatalf("Validate(%+v): got %v, want ErrBadInput", ev, err)
		}
	}
}

func TestManagerClosed(t *testing.T) {
	m := NewManager(Config{})
	m.Close()
	if err := m.Start(t.Context()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close: got %v, want ErrClosed", err)
	}
	if _, err := m.NewPage(t.Context(), Viewport{Width: 800, Height: 600}); !errors.Is(err, ErrClosed) {
		t.Fatalf("NewPage without browser: got %v, want ErrClosed", err)
	}
}
