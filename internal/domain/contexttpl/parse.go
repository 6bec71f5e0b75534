package contexttpl

import (
	"errors"
	"fmt"

	"github.com/cbroglie/mustache"
)

// Program is a parsed template, safe for concurrent rendering.
type Program struct {
	tmpl *mustache.Template
}

// Parse compiles src as a mustache template. Output is never HTML-escaped.
// Besides the standard tags, list sections expose {{@index}} (0-based) and
// {{@number}} (1-based) for the current element. Partials are rejected:
// stored templates must not pull in other files.
func Parse(src string) (*Program, error) {
	t, err := mustache.ParseStringPartialsRaw(src, &mustache.StaticProvider{}, true)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := checkTags(t.Tags()); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Program{tmpl: t}, nil
}

// MustParse is Parse for templates known at compile time.
func MustParse(src string) *Program {
	p, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return p
}

func checkTags(tags []mustache.Tag) error {
	for _, t := range tags {
		switch t.Type() {
		case mustache.Partial:
			return fmt.Errorf("partial {{>%s}} is not supported", t.Name())
		case mustache.Section, mustache.InvertedSection:
			if t.Name() == "" {
				return errors.New("section without a name")
			}
			if err := checkTags(t.Tags()); err != nil {
				return err
			}
		}
	}
	return nil
}
