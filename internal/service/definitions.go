package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/port/cache"
	"github.com/Strob0t/CoachForge/internal/port/database"
)

const definitionCachePrefix = "agentdef:latest:"

// DefinitionService reads and writes versioned agent definitions and
// extensions. Every write inserts a new row; nothing is updated in place.
type DefinitionService struct {
	defs  database.DefinitionStore
	exts  database.ExtensionStore
	cache cache.Cache
	ttl   time.Duration
}

// NewDefinitionService creates a definition service. A nil cache or a zero
// ttl disables the latest-definition read cache.
func NewDefinitionService(defs database.DefinitionStore, exts database.ExtensionStore, c cache.Cache, ttl time.Duration) *DefinitionService {
	return &DefinitionService{defs: defs, exts: exts, cache: c, ttl: ttl}
}

func (s *DefinitionService) cacheEnabled() bool { return s.cache != nil && s.ttl > 0 }

// Latest returns the active configuration for agentID: the newest row with
// is_active set. Reads may be served from the cache for up to ttl.
func (s *DefinitionService) Latest(ctx context.Context, agentID string) (*agentdef.Definition, error) {
	key := definitionCachePrefix + agentID
	if s.cacheEnabled() {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var d agentdef.Definition
			if err := json.Unmarshal(raw, &d); err == nil {
				return &d, nil
			}
		} else if err != nil {
			slog.WarnContext(ctx, "definition cache read failed", "agent_id", agentID, "error", err)
		}
	}

	d, err := s.defs.LatestDefinition(ctx, agentID, true)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrConfigurationNotFound)
		}
		return nil, fmt.Errorf("load definition %s: %w", agentID, err)
	}

	if s.cacheEnabled() {
		if raw, err := json.Marshal(d); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				slog.WarnContext(ctx, "definition cache write failed", "agent_id", agentID, "error", err)
			}
		}
	}
	return d, nil
}

// LatestAny returns the newest row regardless of is_active. Admin reads use
// this so an inactive head is visible.
func (s *DefinitionService) LatestAny(ctx context.Context, agentID string) (*agentdef.Definition, error) {
	return s.defs.LatestDefinition(ctx, agentID, false)
}

// Create inserts d as a new version.
func (s *DefinitionService) Create(ctx context.Context, d *agentdef.Definition) (*agentdef.Definition, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("create definition: %w", err)
	}
	row, err := s.defs.InsertDefinition(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("insert definition %s: %w", d.AgentID, err)
	}
	s.invalidate(ctx, d.AgentID)
	slog.InfoContext(ctx, "definition version created", "agent_id", row.AgentID, "version_id", row.VersionID)
	return row, nil
}

// Update applies patch on top of the newest row and inserts the result.
// Fields absent from the patch are copied from the previous version.
func (s *DefinitionService) Update(ctx context.Context, agentID string, patch *agentdef.Patch) (*agentdef.Definition, error) {
	if patch.IsEmpty() {
		return nil, errors.New("update definition: empty patch")
	}
	base, err := s.defs.LatestDefinition(ctx, agentID, false)
	if err != nil {
		return nil, fmt.Errorf("update definition %s: %w", agentID, err)
	}
	return s.Create(ctx, patch.Apply(base))
}

// History lists every version of agentID, newest first.
func (s *DefinitionService) History(ctx context.Context, agentID string) ([]agentdef.Definition, error) {
	return s.defs.DefinitionHistory(ctx, agentID)
}

// Rollback re-inserts a copy of versionID as the newest row. History is
// never rewritten.
func (s *DefinitionService) Rollback(ctx context.Context, agentID, versionID string) (*agentdef.Definition, error) {
	old, err := s.defs.GetDefinitionVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("rollback %s: %w", agentID, err)
	}
	if old.AgentID != agentID {
		return nil, fmt.Errorf("rollback %s: version %s belongs to %s: %w", agentID, versionID, old.AgentID, domain.ErrNotFound)
	}
	return s.Create(ctx, (&agentdef.Patch{}).Apply(old))
}

// AgentIDs lists every agent with at least one stored definition.
func (s *DefinitionService) AgentIDs(ctx context.Context) ([]string, error) {
	return s.defs.ListAgentIDs(ctx)
}

func (s *DefinitionService) invalidate(ctx context.Context, agentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, definitionCachePrefix+agentID); err != nil {
		slog.WarnContext(ctx, "definition cache invalidation failed", "agent_id", agentID, "error", err)
	}
}

// --- Extensions ---

// CreateExtension inserts e as a new version of its (agent, type, key) triple.
func (s *DefinitionService) CreateExtension(ctx context.Context, e *agentdef.Extension) (*agentdef.Extension, error) {
	if e.AgentID == "" || e.ExtensionType == "" || e.ExtensionKey == "" {
		return nil, errors.New("create extension: agent_id, extension_type and extension_key are required")
	}
	row, err := s.exts.InsertExtension(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("insert extension %s/%s/%s: %w", e.AgentID, e.ExtensionType, e.ExtensionKey, err)
	}
	return row, nil
}

// ExtensionHistory lists every version of one extension, newest first.
func (s *DefinitionService) ExtensionHistory(ctx context.Context, agentID, extType, extKey string) ([]agentdef.Extension, error) {
	return s.exts.ExtensionHistory(ctx, agentID, extType, extKey)
}

// RollbackExtension re-inserts a copy of an older extension version.
func (s *DefinitionService) RollbackExtension(ctx context.Context, versionID string) (*agentdef.Extension, error) {
	old, err := s.exts.GetExtensionVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("rollback extension: %w", err)
	}
	c := old.Clone()
	c.VersionID, c.Seq, c.CreatedAt = "", 0, time.Time{}
	return s.CreateExtension(ctx, c)
}
