package extract

// Accumulator merges extraction passes.
//
// Single fields keep the first non-empty value seen. List fields append new
// values in pass order, drop duplicates by value, drop empties unless the
// field preserves them, and stop at the field's effective limit.
type Accumulator struct {
	fields []Field
	single map[string]string
	lists  map[string][]string
	seen   map[string]map[string]bool
}

// NewAccumulator prepares an accumulator for fields.
func NewAccumulator(fields []Field) *Accumulator {
	a := &Accumulator{
		fields: fields,
		single: make(map[string]string),
		lists:  make(map[string][]string),
		seen:   make(map[string]map[string]bool),
	}
	return a
}

// Add folds one pass into the accumulator. A key missing from pass means the
// field failed during that pass and is left untouched.
func (a *Accumulator) Add(pass map[string][]string) {
	for _, f := range a.fields {
		vals, ok := pass[f.Key]
		if !ok {
			continue
		}
		if f.All {
			a.addList(f, vals)
			continue
		}
		a.addSingle(f, vals)
	}
}

func (a *Accumulator) addSingle(f Field, vals []string) {
	if cur, ok := a.single[f.Key]; ok && cur != "" {
		return
	}
	for _, v := range vals {
		if v != "" {
			a.single[f.Key] = v
			return
		}
	}
	if f.PreserveEmpty && len(vals) > 0 {
		a.single[f.Key] = ""
	}
}

func (a *Accumulator) addList(f Field, vals []string) {
	list, ok := a.lists[f.Key]
	if !ok {
		list = []string{}
	}
	seen := a.seen[f.Key]
	if seen == nil {
		seen = make(map[string]bool)
		a.seen[f.Key] = seen
	}
	limit := f.EffectiveLimit()
	for _, v := range vals {
		if len(list) >= limit {
			break
		}
		if v == "" {
			if f.PreserveEmpty {
				list = append(list, v)
			}
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		list = append(list, v)
	}
	a.lists[f.Key] = list
}

// Full reports whether further passes cannot change the result: every single
// field has a non-empty value and every list field reached its limit.
func (a *Accumulator) Full() bool {
	for _, f := range a.fields {
		if f.All {
			if len(a.lists[f.Key]) < f.EffectiveLimit() {
				return false
			}
			continue
		}
		if a.single[f.Key] == "" {
			return false
		}
	}
	return true
}

// Data returns the accumulated values. Fields that never produced a value are absent.
func (a *Accumulator) Data() map[string]Value {
	out := make(map[string]Value, len(a.fields))
	for _, f := range a.fields {
		if f.All {
			if list, ok := a.lists[f.Key]; ok {
				out[f.Key] = List(list)
			}
			continue
		}
		if v, ok := a.single[f.Key]; ok {
			out[f.Key] = Single(v)
		}
	}
	return out
}
