package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

const page = `<html><head><title> Profile </title></head><body>
<div class="card">
  <h1 class="name">  Ada   Lovelace </h1>
  <p class="bio">Line one<br>Line   two</p>
  <img class="avatar" src="/img/a.png">
</div>
<ul>
  <li class="game"><a href="/app/1">Alpha</a></li>
  <li class="game"><a href="/app/2">Beta</a></li>
  <li class="game"><a href="/app/2">Beta</a></li>
  <li class="game"></li>
  <li class="game"><a href="https://cdn.example.com/app/3">Gamma</a></li>
</ul>
</body></html>`

func TestEvaluateHTML(t *testing.T) {
	base, _ := url.Parse("https://steamcommunity.com/id/ada/")
	fields := []Field{
		{Key: "name", Selector: ".name"},
		{Key: "bio", Selector: ".bio", Property: "innerText"},
		{Key: "avatar", Selector: "img.avatar", Attr: "src"},
		{Key: "games", Selector: "li.game", All: true},
		{Key: "links", Selector: "xpath://li[@class='game']/a", Attr: "href", All: true, Limit: 2},
		{Key: "title", Selector: "//title"},
		{Key: "markup", Selector: "h1", Property: "outerHTML"},
		{Key: "missing", Selector: ".nope"},
		{Key: "broken", Selector: "xpath://li[@class="},
	}
	got, err := EvaluateHTML([]byte(page), base, fields)
	if err != nil {
		t.Fatalf("EvaluateHTML: %v", err)
	}

	if v := got["name"]; !reflect.DeepEqual(v, []string{"Ada Lovelace"}) {
		t.Fatalf("name: got %q", v)
	}
	if v := got["bio"]; !reflect.DeepEqual(v, []string{"Line one\nLine two"}) {
		t.Fatalf("bio: got %q", v)
	}
	if v := got["avatar"]; !reflect.DeepEqual(v, []string{"https://steamcommunity.com/img/a.png"}) {
		t.Fatalf("avatar: got %q", v)
	}
	if v := got["games"]; !reflect.DeepEqual(v, []string{"Alpha", "Beta", "Gamma"}) {
		t.Fatalf("games: got %q", v)
	}
	want := []string{"https://steamcommunity.com/app/1", "https://steamcommunity.com/app/2"}
	if v := got["links"]; !reflect.DeepEqual(v, want) {
		t.Fatalf("links: got %q, want %q", v, want)
	}
	if v := got["title"]; !reflect.DeepEqual(v, []string{"Profile"}) {
		t.Fatalf("title: got %q", v)
	}
	if v := got["markup"]; len(v) != 1 || !strings.HasPrefix(v[0], `<h1 class="name">`) {
		t.Fatalf("markup: got %q", v)
	}
	if v, ok := got["missing"]; !ok || len(v) != 0 {
		t.Fatalf("missing: got %q (present=%v), want empty list", v, ok)
	}
	// WHAT: a malformed selector drops only its own key.
	if _, ok := got["broken"]; ok {
		t.Fatal("broken: present, want absent")
	}
}

func TestStaticEngine_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	eng := NewStaticEngine(StaticConfig{})
	res, err := eng.Extract(context.Background(), Request{
		URL:    srv.URL,
		Fields: []Field{{Key: "name", Selector: ".name"}, {Key: "games", Selector: "li.game", All: true, Limit: 2}},
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.OK || res.String("name") != "Ada Lovelace" {
		t.Fatalf("result: got %+v", res)
	}
	if got := res.Strings("games"); len(got) != 2 {
		t.Fatalf("games: got %v, want 2 entries", got)
	}
}

func TestStaticEngine_RedirectChecked(t *testing.T) {
	// WHAT: a redirect to a refused host aborts the fetch.
	// WHY: the allow-list must hold after the first hop, not only on the input URL.
	errBlocked := errors.New("blocked")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		w.Write([]byte(page))
	}))
	defer srv.Close()

	eng := NewStaticEngine(StaticConfig{Check: func(raw string) (*url.URL, error) {
		if strings.Contains(raw, "elsewhere") {
			return nil, errBlocked
		}
		return url.Parse(raw)
	}})
	_, err := eng.Extract(context.Background(), Request{URL: srv.URL + "/", Fields: []Field{{Key: "n", Selector: "h1"}}})
	if !errors.Is(err, errBlocked) {
		t.Fatalf("redirect: got %v, want errBlocked", err)
	}
}

func TestRenderedText(t *testing.T) {
	got := RenderedText("  a  b \n\n\t c\r\n   \n d ")
	if got != "a b\nc\nd" {
		t.Fatalf("RenderedText: got %q", got)
	}
}
