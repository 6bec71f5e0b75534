package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/port/database"
)

// DefinitionWriter is the subset of the definition service the applier
// needs. Writes go through the service so its read cache is invalidated.
type DefinitionWriter interface {
	LatestAny(ctx context.Context, agentID string) (*agentdef.Definition, error)
	Create(ctx context.Context, d *agentdef.Definition) (*agentdef.Definition, error)
	CreateExtension(ctx context.Context, e *agentdef.Extension) (*agentdef.Extension, error)
}

// Change is one row the applier inserted, or would insert in a dry run.
type Change struct {
	Kind      string `json:"kind"` // agent | extension | template
	Key       string `json:"key"`
	VersionID string `json:"version_id,omitempty"`
}

// Report summarises one Apply call.
type Report struct {
	Changes   []Change `json:"changes"`
	Unchanged int      `json:"unchanged"`
	DryRun    bool     `json:"dry_run"`
}

// Applier writes seed files into the versioned stores.
type Applier struct {
	defs      DefinitionWriter
	exts      database.ExtensionStore
	templates database.TemplateStore
}

// NewApplier creates an applier.
func NewApplier(defs DefinitionWriter, exts database.ExtensionStore, templates database.TemplateStore) *Applier {
	return &Applier{defs: defs, exts: exts, templates: templates}
}

// Apply inserts a new version for every entry whose content differs from
// the newest stored row. With dryRun set nothing is written and the report
// lists what would change.
func (a *Applier) Apply(ctx context.Context, f *File, dryRun bool) (*Report, error) {
	rep := &Report{DryRun: dryRun}

	// Templates first: a definition that declares a context type is only
	// usable once its template exists.
	for i := range f.Templates {
		if err := a.applyTemplate(ctx, &f.Templates[i], rep); err != nil {
			return rep, err
		}
	}
	for i := range f.Extensions {
		if err := a.applyExtension(ctx, &f.Extensions[i], rep); err != nil {
			return rep, err
		}
	}
	for i := range f.Agents {
		if err := a.applyAgent(ctx, &f.Agents[i], rep); err != nil {
			return rep, err
		}
	}

	slog.InfoContext(ctx, "seed applied", "changes", len(rep.Changes), "unchanged", rep.Unchanged, "dry_run", dryRun)
	return rep, nil
}

func (a *Applier) applyAgent(ctx context.Context, s *Agent, rep *Report) error {
	want, err := s.Definition()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	cur, err := a.defs.LatestAny(ctx, s.ID)
	switch {
	case err == nil:
		if normalize(cur).SameContent(normalize(want)) {
			rep.Unchanged++
			return nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("load definition %s: %w", s.ID, err)
	}

	change := Change{Kind: "agent", Key: s.ID}
	if !rep.DryRun {
		row, err := a.defs.Create(ctx, want)
		if err != nil {
			return err
		}
		change.VersionID = row.VersionID
	}
	rep.Changes = append(rep.Changes, change)
	return nil
}

func (a *Applier) applyExtension(ctx context.Context, s *Extension, rep *Report) error {
	want := s.Row()
	cur, err := a.exts.LatestExtension(ctx, s.AgentID, s.Type, s.Key)
	switch {
	case err == nil:
		if cur.SameContent(want) {
			rep.Unchanged++
			return nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("load extension %s: %w", s.key(), err)
	}

	change := Change{Kind: "extension", Key: s.key()}
	if !rep.DryRun {
		row, err := a.defs.CreateExtension(ctx, want)
		if err != nil {
			return err
		}
		change.VersionID = row.VersionID
	}
	rep.Changes = append(rep.Changes, change)
	return nil
}

func (a *Applier) applyTemplate(ctx context.Context, s *Template, rep *Report) error {
	want := s.Row()
	cur, err := a.templates.LatestTemplate(ctx, want.ContextType, want.Variant)
	switch {
	case err == nil:
		if cur.Body == want.Body && cur.Description == want.Description {
			rep.Unchanged++
			return nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("load template %s: %w", s.key(), err)
	}

	change := Change{Kind: "template", Key: s.key()}
	if !rep.DryRun {
		row, err := a.templates.InsertTemplate(ctx, want)
		if err != nil {
			return fmt.Errorf("insert template %s: %w", s.key(), err)
		}
		change.VersionID = row.VersionID
	}
	rep.Changes = append(rep.Changes, change)
	return nil
}

// normalize maps empty collections to nil so a row read back from a store
// compares equal to the seed entry it was written from.
func normalize(d *agentdef.Definition) *agentdef.Definition {
	c := d.Clone()
	if len(c.ToolIDs) == 0 {
		c.ToolIDs = nil
	}
	if len(c.ContextTypes) == 0 {
		c.ContextTypes = nil
	}
	if len(c.ValidationRules) == 0 {
		c.ValidationRules = nil
	}
	if len(c.Examples) == 0 {
		c.Examples = nil
	}
	if len(c.SubAgents) == 0 {
		c.SubAgents = nil
	}
	if len(c.DefaultExtensions) == 0 {
		c.DefaultExtensions = nil
	}
	if !c.HasOutputSchema() {
		c.OutputSchema = nil
	}
	return c
}
