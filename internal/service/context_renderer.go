package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
	"github.com/Strob0t/CoachForge/internal/port/database"
)

const maxCompiledTemplates = 512

// ContextRenderer renders context payloads through the latest stored
// template for a (context type, variant) pair.
type ContextRenderer struct {
	store database.TemplateStore

	mu       sync.Mutex
	compiled map[string]*contexttpl.Program // by template version id
}

// NewContextRenderer creates a renderer.
func NewContextRenderer(store database.TemplateStore) *ContextRenderer {
	return &ContextRenderer{store: store, compiled: make(map[string]*contexttpl.Program)}
}

// Render fetches the latest template for contextType/variant and renders data
// through it. An empty variant selects "default".
func (r *ContextRenderer) Render(ctx context.Context, contextType, variant string, data any) (string, error) {
	tpl, err := r.store.LatestTemplate(ctx, contextType, contexttpl.VariantOrDefault(variant))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("context template %s/%s: %w", contextType, contexttpl.VariantOrDefault(variant), domain.ErrConfigurationNotFound)
		}
		return "", fmt.Errorf("load context template %s: %w", contextType, err)
	}
	prog, err := r.program(tpl)
	if err != nil {
		return "", fmt.Errorf("context template %s version %s: %w", contextType, tpl.VersionID, err)
	}
	norm, err := contexttpl.Normalize(data)
	if err != nil {
		return "", fmt.Errorf("context %s payload: %w", contextType, err)
	}
	out, err := prog.Render(norm)
	if err != nil {
		return "", fmt.Errorf("context template %s version %s: %w", contextType, tpl.VersionID, err)
	}
	return out, nil
}

// program returns the compiled form of tpl. Rows are immutable, so the
// version id is a safe cache key.
func (r *ContextRenderer) program(tpl *contexttpl.Template) (*contexttpl.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.compiled[tpl.VersionID]; ok {
		return p, nil
	}
	p, err := contexttpl.Parse(tpl.Body)
	if err != nil {
		return nil, err
	}
	if len(r.compiled) >= maxCompiledTemplates {
		r.compiled = make(map[string]*contexttpl.Program)
	}
	r.compiled[tpl.VersionID] = p
	return p, nil
}
