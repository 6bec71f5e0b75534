package contexttpl

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	indexKey  = "@index"
	numberKey = "@number"
	valueKey  = "@value"
)

// Render evaluates the program against data. data is expected in the shape
// produced by encoding/json (map[string]any, []any, string, float64, bool,
// nil). Missing values render as the empty string; objects and lists
// interpolate as JSON.
func (p *Program) Render(data any) (string, error) {
	out, err := p.tmpl.Render(view(data))
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// view rewrites decoded JSON into types the mustache engine prints the way
// prompts need: numbers without exponents, containers as JSON, and list
// elements carrying their position.
func view(v any) any {
	switch t := v.(type) {
	case nil:
		return null{}
	case float64:
		return number(t)
	case map[string]any:
		o := make(object, len(t))
		for k, x := range t {
			o[k] = view(x)
		}
		return o
	case []any:
		l := make(list, len(t))
		for i, x := range t {
			it := item{indexKey: number(i), numberKey: number(i + 1)}
			if m, ok := x.(map[string]any); ok {
				for k, y := range m {
					it[k] = view(y)
				}
			} else {
				it[valueKey] = view(x)
			}
			l[i] = it
		}
		return l
	}
	return v
}

type number float64

func (n number) String() string { return strconv.FormatFloat(float64(n), 'f', -1, 64) }

// null is falsy in sections and prints nothing.
type null struct{}

func (null) String() string               { return "" }
func (null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

type object map[string]any

func (o object) String() string { return jsonText(o) }

type list []any

func (l list) String() string { return jsonText(l) }

// item is one list element inside a section. Scalar elements sit under
// valueKey so {{.}} still prints the scalar itself.
type item map[string]any

func (it item) String() string {
	if v, ok := it[valueKey]; ok {
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		if s, ok := v.(string); ok {
			return s
		}
		return jsonText(v)
	}
	return jsonText(it)
}

func (it item) MarshalJSON() ([]byte, error) {
	if v, ok := it[valueKey]; ok {
		return json.Marshal(v)
	}
	plain := make(map[string]any, len(it))
	for k, v := range it {
		if k != indexKey && k != numberKey {
			plain[k] = v
		}
	}
	return json.Marshal(plain)
}

func jsonText(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}

// Normalize converts arbitrary Go values (structs, typed slices) into the
// generic shape Render understands by round-tripping through JSON.
func Normalize(data any) (any, error) {
	switch data.(type) {
	case nil, string, float64, bool:
		return data, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
