package model

import (
	"strconv"
	"strings"
)

// Entity is a schemaless document from the graph store. Attrs may be
// arbitrarily nested.
type Entity struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs"`
}

// Document flattens the entity into the map form templates render against.
func (e Entity) Document() map[string]any {
	return map[string]any{
		"id":    e.ID,
		"type":  e.Type,
		"attrs": e.Attrs,
	}
}

// ResolvePath resolves a predicate/template path against the entity.
// A path is either a top-level field ("id", "type") or an "attrs."-prefixed
// dotted path into the nested attrs document. The second return value is
// false when any segment is missing.
func ResolvePath(e Entity, path string) (any, bool) {
	switch path {
	case "id":
		return e.ID, true
	case "type":
		return e.Type, true
	}
	if rest, ok := strings.CutPrefix(path, "attrs."); ok {
		return resolveDotted(e.Attrs, rest)
	}
	// top-level attrs key without prefix is also accepted for group-by fields
	if v, ok := e.Attrs[path]; ok {
		return v, true
	}
	return nil, false
}

func resolveDotted(doc map[string]any, path string) (any, bool) {
	cur := any(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// EqualValue compares a resolved entity value with an expected config value.
// JSON decoding yields float64 for every number, so numeric values are
// compared after widening.
func EqualValue(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
		return false
	}
	switch g := got.(type) {
	case string:
		w, ok := want.(string)
		return ok && g == w
	case bool:
		w, ok := want.(bool)
		return ok && g == w
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// Stringify renders a resolved value for group keys and templates.
func Stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
