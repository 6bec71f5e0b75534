package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
)

// --- Onboarding workflows ---

const workflowColumns = `user_id, run_id, last_event_id, force_create, status, signup_data,
	current_step_index, error_message, program_messages_sent, messages_delivered, attempts, created_at, updated_at`

func (s *Store) GetWorkflow(ctx context.Context, userID string) (*onboarding.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM onboarding_workflows WHERE user_id = $1`, userID)
	r, err := scanWorkflow(row)
	if err != nil {
		return nil, notFoundWrap(err, "workflow %s", userID)
	}
	return &r, nil
}

func (s *Store) CreateWorkflow(ctx context.Context, r *onboarding.Record) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO onboarding_workflows (user_id, run_id, last_event_id, force_create, status, signup_data,
			current_step_index, error_message, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		r.UserID, r.RunID, r.LastEventID, r.ForceCreate, string(r.Status), nullJSON(r.SignupData),
		r.CurrentStepIndex, r.ErrorMessage, r.Attempts,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create workflow %s: %w", r.UserID, domain.ErrConflict)
		}
		return fmt.Errorf("create workflow %s: %w", r.UserID, err)
	}
	return nil
}

func (s *Store) StartWorkflowRun(ctx context.Context, r *onboarding.Record) error {
	row := s.pool.QueryRow(ctx,
		`UPDATE onboarding_workflows
		 SET run_id = $2, last_event_id = $3, force_create = $4, signup_data = $5,
		     status = 'pending', current_step_index = 0, error_message = '', attempts = 0,
		     program_messages_sent = FALSE, messages_delivered = 0, updated_at = now()
		 WHERE user_id = $1
		 RETURNING `+workflowColumns,
		r.UserID, r.RunID, r.LastEventID, r.ForceCreate, nullJSON(r.SignupData))
	cur, err := scanWorkflow(row)
	if err != nil {
		return notFoundWrap(err, "start workflow run %s", r.UserID)
	}
	*r = cur
	return nil
}

func (s *Store) SaveWorkflowProgress(ctx context.Context, r *onboarding.Record) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE onboarding_workflows
		 SET status = $3, current_step_index = $4, error_message = $5, attempts = $6,
		     signup_data = $7, updated_at = now()
		 WHERE user_id = $1 AND run_id = $2
		 RETURNING updated_at, program_messages_sent, messages_delivered`,
		r.UserID, r.RunID, string(r.Status), r.CurrentStepIndex, r.ErrorMessage, r.Attempts, nullJSON(r.SignupData),
	).Scan(&r.UpdatedAt, &r.ProgramMessagesSent, &r.MessagesDelivered)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("save workflow %s: %w", r.UserID, err)
	}
	// Distinguish a missing record from a superseded run.
	if _, getErr := s.GetWorkflow(ctx, r.UserID); getErr != nil {
		return fmt.Errorf("save workflow %s: %w", r.UserID, getErr)
	}
	return fmt.Errorf("save workflow %s run %s: %w", r.UserID, r.RunID, domain.ErrConflict)
}

func (s *Store) ClaimMessagesSent(ctx context.Context, userID, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE onboarding_workflows SET program_messages_sent = TRUE, updated_at = now()
		 WHERE user_id = $1 AND run_id = $2 AND NOT program_messages_sent`, userID, runID)
	if err != nil {
		return false, fmt.Errorf("claim messages %s: %w", userID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetWorkflow(ctx, userID); err != nil {
		return false, fmt.Errorf("claim messages: %w", err)
	}
	return false, nil
}

func (s *Store) ReleaseMessagesSent(ctx context.Context, userID, runID string, delivered int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE onboarding_workflows
		 SET program_messages_sent = FALSE, messages_delivered = GREATEST(messages_delivered, $3), updated_at = now()
		 WHERE user_id = $1 AND run_id = $2`, userID, runID, delivered)
	return execExpectOne(tag, err, "release messages %s run %s", userID, runID)
}

func (s *Store) ListWorkflows(ctx context.Context, status onboarding.Status, limit int) ([]onboarding.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+workflowColumns+` FROM onboarding_workflows
		 WHERE $1 = '' OR status = $1
		 ORDER BY updated_at DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return collect(rows, scanWorkflow)
}

func scanWorkflow(row scannable) (onboarding.Record, error) {
	var (
		r      onboarding.Record
		status string
		signup []byte
	)
	err := row.Scan(&r.UserID, &r.RunID, &r.LastEventID, &r.ForceCreate, &status, &signup,
		&r.CurrentStepIndex, &r.ErrorMessage, &r.ProgramMessagesSent, &r.MessagesDelivered, &r.Attempts,
		&r.CreatedAt, &r.UpdatedAt)
	r.Status = onboarding.Status(status)
	if len(signup) > 0 {
		r.SignupData = signup
	}
	return r, err
}

// --- Step results ---

func (s *Store) SaveStepResult(ctx context.Context, res *onboarding.StepResult) error {
	output := nullJSON(res.Output)
	if output == nil {
		output = []byte("null")
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO onboarding_step_results (run_id, step, output)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, step) DO UPDATE SET output = EXCLUDED.output, created_at = now()
		 RETURNING created_at`,
		res.RunID, res.Step, output,
	).Scan(&res.CreatedAt)
	if err != nil {
		return fmt.Errorf("save step result %s/%s: %w", res.RunID, res.Step, err)
	}
	return nil
}

func (s *Store) GetStepResult(ctx context.Context, runID, step string) (*onboarding.StepResult, error) {
	res := onboarding.StepResult{RunID: runID, Step: step}
	var output []byte
	err := s.pool.QueryRow(ctx,
		`SELECT output, created_at FROM onboarding_step_results WHERE run_id = $1 AND step = $2`,
		runID, step,
	).Scan(&output, &res.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "step result %s/%s", runID, step)
	}
	res.Output = output
	return &res, nil
}

func (s *Store) ListStepResults(ctx context.Context, runID string) ([]onboarding.StepResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, step, output, created_at FROM onboarding_step_results
		 WHERE run_id = $1 ORDER BY created_at, step`, runID)
	if err != nil {
		return nil, fmt.Errorf("list step results %s: %w", runID, err)
	}
	out, err := collect(rows, func(r scannable) (onboarding.StepResult, error) {
		var (
			res    onboarding.StepResult
			output []byte
		)
		err := r.Scan(&res.RunID, &res.Step, &output, &res.CreatedAt)
		res.Output = output
		return res, err
	})
	if err != nil {
		return nil, err
	}
	sortSteps(out)
	return out, nil
}

// sortSteps orders results by their position in the step catalog.
func sortSteps(results []onboarding.StepResult) {
	slices.SortStableFunc(results, func(a, b onboarding.StepResult) int {
		return onboarding.StepIndex(a.Step) - onboarding.StepIndex(b.Step)
	})
}
