package contexttpl

import (
	"strings"
	"testing"
)

func render(t *testing.T, src string, data any) string {
	t.Helper()
	p, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	norm, err := Normalize(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	out, err := p.Render(norm)
	if err != nil {
		t.Fatalf("render %q: %v", src, err)
	}
	return out
}

func TestRender(t *testing.T) {
	data := map[string]any{
		"name":    "Dana",
		"age":     34,
		"weight":  72.5,
		"active":  true,
		"goals":   []string{"strength", "endurance"},
		"empty":   []string{},
		"profile": map[string]any{"level": "beginner", "notes": ""},
		"quote":   `<b>"fast"</b> & easy`,
		"big":     1500000,
		"week": []map[string]any{
			{"day": "Mon", "focus": "legs"},
			{"day": "Tue", "focus": "rest"},
		},
	}
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"interpolation", "Hi {{name}}, age {{ age }}", "Hi Dana, age 34"},
		{"float", "{{weight}}kg", "72.5kg"},
		{"missing renders empty", "[{{nope}}][{{profile.nope}}]", "[][]"},
		{"dot path", "{{profile.level}}", "beginner"},
		{"truthy section", "{{#active}}on{{/active}}", "on"},
		{"falsy section", "{{#profile.notes}}x{{/profile.notes}}", ""},
		{"inverted", "{{^empty}}none{{/empty}}{{^goals}}never{{/goals}}", "none"},
		{"iteration", "{{#goals}}{{@number}}. {{.}}\n{{/goals}}", "1. strength\n2. endurance\n"},
		{"iteration over objects", "{{#week}}{{@index}}:{{day}}={{focus}};{{/week}}", "0:Mon=legs;1:Tue=rest;"},
		{"outer lookup inside section", "{{#week}}{{name}}{{/week}}", "DanaDana"},
		{"object section", "{{#profile}}{{level}}{{/profile}}", "beginner"},
		{"object as json", "{{profile}}", `{"level":"beginner","notes":""}`},
		{"list as json", "{{goals}} {{week}}", `["strength","endurance"] [{"day":"Mon","focus":"legs"},{"day":"Tue","focus":"rest"}]`},
		{"no html escaping", "{{quote}}", `<b>"fast"</b> & easy`},
		{"large number", "{{big}}", "1500000"},
		{"standalone section lines", "{{#goals}}\n- {{.}}\n{{/goals}}\n", "- strength\n- endurance\n"},
		{"comment", "a{{! ignored }}b", "ab"},
		{"index outside list", "[{{@index}}]", "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, tt.src, data); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_NilData(t *testing.T) {
	if got := render(t, "x{{a}}{{#b}}y{{/b}}z", nil); got != "xz" {
		t.Errorf("got %q", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"{{#a}}x", "no closing tag"},
		{"x{{/a}}", "unmatched close tag"},
		{"{{#a}}{{/b}}", "interleaved closing tag"},
		{"{{a", "unmatched open tag"},
		{"{{}}", "empty tag"},
		{"{{#}}{{/}}", "without a name"},
		{"{{#a}}{{> header}}{{/a}}", "partial"},
	}
	for _, tt := range tests {
		_, err := Parse(tt.src)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Parse(%q) = %v, want error containing %q", tt.src, err, tt.want)
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustParse("{{#open}}")
}

func TestVariantOrDefault(t *testing.T) {
	if VariantOrDefault("") != DefaultVariant || VariantOrDefault("short") != "short" {
		t.Error("unexpected variant mapping")
	}
}
