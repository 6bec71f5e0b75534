// Package database defines the persistence ports of the engine.
package database

import (
	"context"

	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
	"github.com/Strob0t/CoachForge/internal/domain/fitness"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
)

// DefinitionStore is the append-only agent definition table.
// Insert assigns VersionID, Seq and CreatedAt and returns the stored row.
// Latest reads order by (created_at DESC, seq DESC).
type DefinitionStore interface {
	InsertDefinition(ctx context.Context, d *agentdef.Definition) (*agentdef.Definition, error)
	LatestDefinition(ctx context.Context, agentID string, activeOnly bool) (*agentdef.Definition, error)
	GetDefinitionVersion(ctx context.Context, versionID string) (*agentdef.Definition, error)
	DefinitionHistory(ctx context.Context, agentID string) ([]agentdef.Definition, error)
	ListAgentIDs(ctx context.Context) ([]string, error)
}

// ExtensionStore is the append-only agent extension table keyed by
// (agent, extension type, extension key).
type ExtensionStore interface {
	InsertExtension(ctx context.Context, e *agentdef.Extension) (*agentdef.Extension, error)
	LatestExtension(ctx context.Context, agentID, extType, extKey string) (*agentdef.Extension, error)
	GetExtensionVersion(ctx context.Context, versionID string) (*agentdef.Extension, error)
	ExtensionHistory(ctx context.Context, agentID, extType, extKey string) ([]agentdef.Extension, error)
}

// TemplateStore is the append-only context template table keyed by
// (context type, variant).
type TemplateStore interface {
	InsertTemplate(ctx context.Context, t *contexttpl.Template) (*contexttpl.Template, error)
	LatestTemplate(ctx context.Context, contextType, variant string) (*contexttpl.Template, error)
	TemplateHistory(ctx context.Context, contextType, variant string) ([]contexttpl.Template, error)
}

// WorkflowStore persists onboarding instances and their step-result cache.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, userID string) (*onboarding.Record, error)
	// CreateWorkflow returns domain.ErrConflict when the user already has a record.
	CreateWorkflow(ctx context.Context, r *onboarding.Record) error
	// StartWorkflowRun replaces the run identity of an existing record and
	// resets progress, attempts and the send-once flag.
	StartWorkflowRun(ctx context.Context, r *onboarding.Record) error
	// SaveWorkflowProgress writes status, step index, error message, attempts
	// and signup data. It returns domain.ErrConflict when r.RunID is no longer
	// the record's current run. The send-once flag is never written here.
	SaveWorkflowProgress(ctx context.Context, r *onboarding.Record) error
	// ClaimMessagesSent atomically flips the send-once flag from false to true
	// for the given run and reports whether this call performed the flip.
	ClaimMessagesSent(ctx context.Context, userID, runID string) (bool, error)
	// ReleaseMessagesSent resets the flag after a failed delivery and records
	// how many messages of the run went out, so a retry resumes after them.
	ReleaseMessagesSent(ctx context.Context, userID, runID string, delivered int) error
	ListWorkflows(ctx context.Context, status onboarding.Status, limit int) ([]onboarding.Record, error)

	SaveStepResult(ctx context.Context, res *onboarding.StepResult) error
	GetStepResult(ctx context.Context, runID, step string) (*onboarding.StepResult, error)
	ListStepResults(ctx context.Context, runID string) ([]onboarding.StepResult, error)
}

// FitnessStore persists the append-only coaching entities.
type FitnessStore interface {
	InsertProfile(ctx context.Context, p *fitness.Profile) (*fitness.Profile, error)
	LatestProfile(ctx context.Context, userID string) (*fitness.Profile, error)
	InsertPlan(ctx context.Context, p *fitness.Plan) (*fitness.Plan, error)
	LatestPlan(ctx context.Context, userID string) (*fitness.Plan, error)
	InsertMicrocycle(ctx context.Context, m *fitness.Microcycle) (*fitness.Microcycle, error)
	LatestMicrocycle(ctx context.Context, userID string) (*fitness.Microcycle, error)
	InsertWorkout(ctx context.Context, w *fitness.Workout) (*fitness.Workout, error)
	LatestWorkout(ctx context.Context, userID string) (*fitness.Workout, error)
	RecentWorkouts(ctx context.Context, userID string, limit int) ([]fitness.Workout, error)
}

// UserDirectory reads users owned by the surrounding product.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*fitness.User, error)
}

// Store aggregates every persistence port.
type Store interface {
	DefinitionStore
	ExtensionStore
	TemplateStore
	WorkflowStore
	FitnessStore
	UserDirectory
}
