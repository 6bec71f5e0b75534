package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
)

// --- Agent definitions ---

func (s *Store) InsertDefinition(_ context.Context, d *agentdef.Definition) (*agentdef.Definition, error) {
	row := d.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	row.VersionID = uuid.NewString()
	row.Seq, row.CreatedAt = s.stamp()
	s.definitions = append(s.definitions, row)
	return row.Clone(), nil
}

func (s *Store) LatestDefinition(_ context.Context, agentID string, activeOnly bool) (*agentdef.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := domain.Latest(s.definitions, func(d *agentdef.Definition) bool {
		return d.AgentID == agentID && (!activeOnly || d.IsActive)
	})
	if !ok {
		return nil, fmt.Errorf("definition %s: %w", agentID, domain.ErrNotFound)
	}
	return best.Clone(), nil
}

func (s *Store) GetDefinitionVersion(_ context.Context, versionID string) (*agentdef.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.definitions {
		if d.VersionID == versionID {
			return d.Clone(), nil
		}
	}
	return nil, fmt.Errorf("definition version %s: %w", versionID, domain.ErrNotFound)
}

func (s *Store) DefinitionHistory(_ context.Context, agentID string) ([]agentdef.Definition, error) {
	s.mu.RLock()
	var rows []*agentdef.Definition
	for _, d := range s.definitions {
		if d.AgentID == agentID {
			rows = append(rows, d.Clone())
		}
	}
	s.mu.RUnlock()
	newestFirst(rows)
	out := make([]agentdef.Definition, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

func (s *Store) ListAgentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	ids := []string{}
	for _, d := range s.definitions {
		if _, ok := seen[d.AgentID]; !ok {
			seen[d.AgentID] = struct{}{}
			ids = append(ids, d.AgentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Agent extensions ---

func (s *Store) InsertExtension(_ context.Context, e *agentdef.Extension) (*agentdef.Extension, error) {
	row := e.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	row.VersionID = uuid.NewString()
	row.Seq, row.CreatedAt = s.stamp()
	s.extensions = append(s.extensions, row)
	return row.Clone(), nil
}

func (s *Store) LatestExtension(_ context.Context, agentID, extType, extKey string) (*agentdef.Extension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := domain.Latest(s.extensions, func(e *agentdef.Extension) bool {
		return e.AgentID == agentID && e.ExtensionType == extType && e.ExtensionKey == extKey
	})
	if !ok {
		return nil, fmt.Errorf("extension %s/%s/%s: %w", agentID, extType, extKey, domain.ErrNotFound)
	}
	return best.Clone(), nil
}

func (s *Store) GetExtensionVersion(_ context.Context, versionID string) (*agentdef.Extension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.extensions {
		if e.VersionID == versionID {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("extension version %s: %w", versionID, domain.ErrNotFound)
}

func (s *Store) ExtensionHistory(_ context.Context, agentID, extType, extKey string) ([]agentdef.Extension, error) {
	s.mu.RLock()
	var rows []*agentdef.Extension
	for _, e := range s.extensions {
		if e.AgentID == agentID && e.ExtensionType == extType && e.ExtensionKey == extKey {
			rows = append(rows, e.Clone())
		}
	}
	s.mu.RUnlock()
	newestFirst(rows)
	out := make([]agentdef.Extension, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

// --- Context templates ---

func (s *Store) InsertTemplate(_ context.Context, t *contexttpl.Template) (*contexttpl.Template, error) {
	row := *t
	row.Variant = contexttpl.VariantOrDefault(row.Variant)
	s.mu.Lock()
	defer s.mu.Unlock()
	row.VersionID = uuid.NewString()
	row.Seq, row.CreatedAt = s.stamp()
	s.templates = append(s.templates, &row)
	out := row
	return &out, nil
}

func (s *Store) LatestTemplate(_ context.Context, contextType, variant string) (*contexttpl.Template, error) {
	variant = contexttpl.VariantOrDefault(variant)
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := domain.Latest(s.templates, func(t *contexttpl.Template) bool {
		return t.ContextType == contextType && t.Variant == variant
	})
	if !ok {
		return nil, fmt.Errorf("template %s/%s: %w", contextType, variant, domain.ErrNotFound)
	}
	out := *best
	return &out, nil
}

func (s *Store) TemplateHistory(_ context.Context, contextType, variant string) ([]contexttpl.Template, error) {
	variant = contexttpl.VariantOrDefault(variant)
	s.mu.RLock()
	var rows []*contexttpl.Template
	for _, t := range s.templates {
		if t.ContextType == contextType && t.Variant == variant {
			c := *t
			rows = append(rows, &c)
		}
	}
	s.mu.RUnlock()
	newestFirst(rows)
	out := make([]contexttpl.Template, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}
