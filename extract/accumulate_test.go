package extract

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestAccumulator_DedupeAcrossPasses(t *testing.T) {
	// WHAT: list entries seen in an earlier scroll pass are not repeated.
	// WHY: consecutive viewports overlap, so the same rows come back twice.
	fields := []Field{{Key: "posts", Selector: "article", All: true, Limit: 10}}
	acc := NewAccumulator(fields)
	acc.Add(map[string][]string{"posts": {"a", "b", "c"}})
	acc.Add(map[string][]string{"posts": {"b", "c", "d"}})

	got := acc.Data()["posts"].Strings()
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("posts: got %v, want %v", got, want)
	}
}

func TestAccumulator_LimitStopsList(t *testing.T) {
	fields := []Field{{Key: "rows", Selector: "li", All: true, Limit: 3}}
	acc := NewAccumulator(fields)
	acc.Add(map[string][]string{"rows": {"1", "2"}})
	if acc.Full() {
		t.Fatal("Full after 2/3 rows")
	}
	acc.Add(map[string][]string{"rows": {"3", "4", "5"}})
	got := acc.Data()["rows"].Strings()
	if len(got) != 3 {
		t.Fatalf("len: got %d, want 3 (%v)", len(got), got)
	}
	if !acc.Full() {
		t.Fatal("Full: got false after limit reached")
	}
}

func TestAccumulator_PreserveEmpty(t *testing.T) {
	fields := []Field{
		{Key: "keep", Selector: "td", All: true, PreserveEmpty: true},
		{Key: "drop", Selector: "td", All: true},
	}
	acc := NewAccumulator(fields)
	acc.Add(map[string][]string{"keep": {"x", "", ""}, "drop": {"x", "", ""}})

	data := acc.Data()
	if got := data["keep"].Strings(); !reflect.DeepEqual(got, []string{"x", "", ""}) {
		t.Fatalf("keep: got %q", got)
	}
	if got := data["drop"].Strings(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("drop: got %q", got)
	}
}

func TestAccumulator_SingleKeepsFirstNonEmpty(t *testing.T) {
	fields := []Field{{Key: "name", Selector: "h1"}}
	acc := NewAccumulator(fields)
	acc.Add(map[string][]string{"name": {""}})
	acc.Add(map[string][]string{"name": {"Ada"}})
	acc.Add(map[string][]string{"name": {"Grace"}})
	if got := acc.Data()["name"]; got.IsList() || got.String() != "Ada" {
		t.Fatalf("name: got %v, want single Ada", got)
	}
}

func TestAccumulator_FailedFieldAbsent(t *testing.T) {
	// WHAT: a field missing from every pass is missing from the result.
	// WHY: per-field failures must read as "no value", never as an empty value.
	fields := []Field{{Key: "ok", Selector: "p"}, {Key: "broken", Selector: "p[", All: true}}
	acc := NewAccumulator(fields)
	acc.Add(map[string][]string{"ok": {"hi"}})
	data := acc.Data()
	if _, ok := data["broken"]; ok {
		t.Fatal("broken: present, want absent")
	}
	if data["ok"].String() != "hi" {
		t.Fatalf("ok: got %q", data["ok"].String())
	}
}

func TestValueJSON(t *testing.T) {
	data := map[string]Value{"a": Single("x"), "b": List([]string{"1", "2"}), "c": List(nil)}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"a":"x","b":["1","2"],"c":[]}` {
		t.Fatalf("json: got %s", raw)
	}
	var back map[string]Value
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["a"].IsList() || !back["b"].IsList() || len(back["b"].Strings()) != 2 {
		t.Fatalf("roundtrip shape: got %+v", back)
	}
}
