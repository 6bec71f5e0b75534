package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
	"github.com/Strob0t/CoachForge/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Agent definitions ---

const definitionColumns = `version_id::text, seq, agent_id, system_prompt, user_prompt_template, model,
	temperature, max_tokens, max_iterations, max_retries, description, is_active,
	tool_ids, context_types, output_schema, validation_rules, examples, sub_agents,
	eval_prompt, eval_model, default_extensions, created_at`

func (s *Store) InsertDefinition(ctx context.Context, d *agentdef.Definition) (*agentdef.Definition, error) {
	rules, err := jsonColumn(d.ValidationRules, d.ValidationRules == nil, "[]")
	if err != nil {
		return nil, fmt.Errorf("marshal validation rules: %w", err)
	}
	examples, err := jsonColumn(d.Examples, d.Examples == nil, "[]")
	if err != nil {
		return nil, fmt.Errorf("marshal examples: %w", err)
	}
	subAgents, err := jsonColumn(d.SubAgents, d.SubAgents == nil, "[]")
	if err != nil {
		return nil, fmt.Errorf("marshal sub agents: %w", err)
	}
	defaults, err := jsonColumn(d.DefaultExtensions, d.DefaultExtensions == nil, "{}")
	if err != nil {
		return nil, fmt.Errorf("marshal default extensions: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agent_definitions (agent_id, system_prompt, user_prompt_template, model,
			temperature, max_tokens, max_iterations, max_retries, description, is_active,
			tool_ids, context_types, output_schema, validation_rules, examples, sub_agents,
			eval_prompt, eval_model, default_extensions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING `+definitionColumns,
		d.AgentID, d.SystemPrompt, d.UserPromptTemplate, d.Model,
		d.Temperature, d.MaxTokens, d.MaxIterations, d.MaxRetries, d.Description, d.IsActive,
		pgTextArray(d.ToolIDs), pgTextArray(d.ContextTypes), nullJSON(d.OutputSchema), rules, examples, subAgents,
		d.EvalPrompt, d.EvalModel, defaults)

	out, err := scanDefinition(row)
	if err != nil {
		return nil, fmt.Errorf("insert definition %s: %w", d.AgentID, err)
	}
	return &out, nil
}

func (s *Store) LatestDefinition(ctx context.Context, agentID string, activeOnly bool) (*agentdef.Definition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM agent_definitions
		 WHERE agent_id = $1 AND (NOT $2 OR is_active)
		 ORDER BY created_at DESC, seq DESC LIMIT 1`, agentID, activeOnly)
	d, err := scanDefinition(row)
	if err != nil {
		return nil, notFoundWrap(err, "definition %s", agentID)
	}
	return &d, nil
}

func (s *Store) GetDefinitionVersion(ctx context.Context, versionID string) (*agentdef.Definition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM agent_definitions WHERE version_id::text = $1`, versionID)
	d, err := scanDefinition(row)
	if err != nil {
		return nil, notFoundWrap(err, "definition version %s", versionID)
	}
	return &d, nil
}

func (s *Store) DefinitionHistory(ctx context.Context, agentID string) ([]agentdef.Definition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+definitionColumns+` FROM agent_definitions
		 WHERE agent_id = $1 ORDER BY created_at DESC, seq DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("definition history %s: %w", agentID, err)
	}
	return collect(rows, scanDefinition)
}

func (s *Store) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT agent_id FROM agent_definitions ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}
	return collect(rows, func(r scannable) (string, error) {
		var id string
		err := r.Scan(&id)
		return id, err
	})
}

func scanDefinition(row scannable) (agentdef.Definition, error) {
	var (
		d                                     agentdef.Definition
		schema, rules, examples, sub, extDefs []byte
	)
	err := row.Scan(&d.VersionID, &d.Seq, &d.AgentID, &d.SystemPrompt, &d.UserPromptTemplate, &d.Model,
		&d.Temperature, &d.MaxTokens, &d.MaxIterations, &d.MaxRetries, &d.Description, &d.IsActive,
		&d.ToolIDs, &d.ContextTypes, &schema, &rules, &examples, &sub,
		&d.EvalPrompt, &d.EvalModel, &extDefs, &d.CreatedAt)
	if err != nil {
		return d, err
	}
	if len(schema) > 0 {
		d.OutputSchema = json.RawMessage(schema)
	}
	if err := json.Unmarshal(rules, &d.ValidationRules); err != nil {
		return d, fmt.Errorf("unmarshal validation rules: %w", err)
	}
	if err := json.Unmarshal(examples, &d.Examples); err != nil {
		return d, fmt.Errorf("unmarshal examples: %w", err)
	}
	if err := json.Unmarshal(sub, &d.SubAgents); err != nil {
		return d, fmt.Errorf("unmarshal sub agents: %w", err)
	}
	if err := json.Unmarshal(extDefs, &d.DefaultExtensions); err != nil {
		return d, fmt.Errorf("unmarshal default extensions: %w", err)
	}
	return d, nil
}

// --- Agent extensions ---

const extensionColumns = `version_id::text, seq, agent_id, extension_type, extension_key,
	system_prompt, description, metadata, created_at`

func (s *Store) InsertExtension(ctx context.Context, e *agentdef.Extension) (*agentdef.Extension, error) {
	meta, err := jsonColumn(e.Metadata, e.Metadata == nil, "{}")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agent_extensions (agent_id, extension_type, extension_key, system_prompt, description, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+extensionColumns,
		e.AgentID, e.ExtensionType, e.ExtensionKey, e.SystemPrompt, e.Description, meta)
	out, err := scanExtension(row)
	if err != nil {
		return nil, fmt.Errorf("insert extension %s/%s/%s: %w", e.AgentID, e.ExtensionType, e.ExtensionKey, err)
	}
	return &out, nil
}

func (s *Store) LatestExtension(ctx context.Context, agentID, extType, extKey string) (*agentdef.Extension, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+extensionColumns+` FROM agent_extensions
		 WHERE agent_id = $1 AND extension_type = $2 AND extension_key = $3
		 ORDER BY created_at DESC, seq DESC LIMIT 1`, agentID, extType, extKey)
	e, err := scanExtension(row)
	if err != nil {
		return nil, notFoundWrap(err, "extension %s/%s/%s", agentID, extType, extKey)
	}
	return &e, nil
}

func (s *Store) GetExtensionVersion(ctx context.Context, versionID string) (*agentdef.Extension, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+extensionColumns+` FROM agent_extensions WHERE version_id::text = $1`, versionID)
	e, err := scanExtension(row)
	if err != nil {
		return nil, notFoundWrap(err, "extension version %s", versionID)
	}
	return &e, nil
}

func (s *Store) ExtensionHistory(ctx context.Context, agentID, extType, extKey string) ([]agentdef.Extension, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+extensionColumns+` FROM agent_extensions
		 WHERE agent_id = $1 AND extension_type = $2 AND extension_key = $3
		 ORDER BY created_at DESC, seq DESC`, agentID, extType, extKey)
	if err != nil {
		return nil, fmt.Errorf("extension history %s/%s/%s: %w", agentID, extType, extKey, err)
	}
	return collect(rows, scanExtension)
}

func scanExtension(row scannable) (agentdef.Extension, error) {
	var (
		e    agentdef.Extension
		meta []byte
	)
	if err := row.Scan(&e.VersionID, &e.Seq, &e.AgentID, &e.ExtensionType, &e.ExtensionKey,
		&e.SystemPrompt, &e.Description, &meta, &e.CreatedAt); err != nil {
		return e, err
	}
	if err := json.Unmarshal(meta, &e.Metadata); err != nil {
		return e, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(e.Metadata) == 0 {
		e.Metadata = nil
	}
	return e, nil
}

// --- Context templates ---

const templateColumns = `version_id::text, seq, context_type, variant, template, description, created_at`

func (s *Store) InsertTemplate(ctx context.Context, t *contexttpl.Template) (*contexttpl.Template, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO context_templates (context_type, variant, template, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+templateColumns,
		t.ContextType, contexttpl.VariantOrDefault(t.Variant), t.Body, t.Description)
	out, err := scanTemplate(row)
	if err != nil {
		return nil, fmt.Errorf("insert template %s/%s: %w", t.ContextType, t.Variant, err)
	}
	return &out, nil
}

func (s *Store) LatestTemplate(ctx context.Context, contextType, variant string) (*contexttpl.Template, error) {
	variant = contexttpl.VariantOrDefault(variant)
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM context_templates
		 WHERE context_type = $1 AND variant = $2
		 ORDER BY created_at DESC, seq DESC LIMIT 1`, contextType, variant)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, notFoundWrap(err, "template %s/%s", contextType, variant)
	}
	return &t, nil
}

func (s *Store) TemplateHistory(ctx context.Context, contextType, variant string) ([]contexttpl.Template, error) {
	variant = contexttpl.VariantOrDefault(variant)
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM context_templates
		 WHERE context_type = $1 AND variant = $2
		 ORDER BY created_at DESC, seq DESC`, contextType, variant)
	if err != nil {
		return nil, fmt.Errorf("template history %s/%s: %w", contextType, variant, err)
	}
	return collect(rows, scanTemplate)
}

func scanTemplate(row scannable) (contexttpl.Template, error) {
	var t contexttpl.Template
	err := row.Scan(&t.VersionID, &t.Seq, &t.ContextType, &t.Variant, &t.Body, &t.Description, &t.CreatedAt)
	return t, err
}
