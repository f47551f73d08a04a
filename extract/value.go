package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is a field result: a single string or an ordered list of strings.
// On the wire it is a JSON string or a JSON array of strings.
type Value struct {
	single string
	list   []string
	isList bool
}

// Single builds a scalar Value.
func Single(s string) Value { return Value{single: s} }

// List builds a list Value. The slice is copied.
func List(items []string) Value {
	return Value{list: append([]string(nil), items...), isList: true}
}

// IsList reports whether the value came from an All field.
func (v Value) IsList() bool { return v.isList }

// String returns the scalar, or the first list item.
func (v Value) String() string {
	if v.isList {
		if len(v.list) == 0 {
			return ""
		}
		return v.list[0]
	}
	return v.single
}

// Strings returns the list, or the scalar as a one-element list when non-empty.
func (v Value) Strings() []string {
	if v.isList {
		return append([]string(nil), v.list...)
	}
	if v.single == "" {
		return nil
	}
	return []string{v.single}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.isList {
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return json.Marshal(v.single)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Value{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("extract: decode list value: %w", err)
		}
		*v = Value{list: items, isList: true}
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("extract: decode value: %w", err)
		}
		*v = Value{single: s}
		return nil
	}
}
