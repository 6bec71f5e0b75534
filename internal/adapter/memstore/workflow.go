package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
)

func cloneRecord(r *onboarding.Record) *onboarding.Record {
	c := *r
	c.SignupData = append([]byte(nil), r.SignupData...)
	return &c
}

func (s *Store) GetWorkflow(_ context.Context, userID string) (*onboarding.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.workflows[userID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", userID, domain.ErrNotFound)
	}
	return cloneRecord(r), nil
}

func (s *Store) CreateWorkflow(_ context.Context, r *onboarding.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[r.UserID]; exists {
		return fmt.Errorf("create workflow %s: %w", r.UserID, domain.ErrConflict)
	}
	now := s.now().UTC()
	c := cloneRecord(r)
	c.CreatedAt, c.UpdatedAt = now, now
	s.workflows[r.UserID] = c
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

func (s *Store) StartWorkflowRun(_ context.Context, r *onboarding.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workflows[r.UserID]
	if !ok {
		return fmt.Errorf("start workflow run %s: %w", r.UserID, domain.ErrNotFound)
	}
	cur.RunID = r.RunID
	cur.LastEventID = r.LastEventID
	cur.ForceCreate = r.ForceCreate
	cur.SignupData = append([]byte(nil), r.SignupData...)
	cur.Status = onboarding.StatusPending
	cur.CurrentStepIndex = 0
	cur.ErrorMessage = ""
	cur.Attempts = 0
	cur.ProgramMessagesSent = false
	cur.MessagesDelivered = 0
	cur.UpdatedAt = s.now().UTC()
	*r = *cloneRecord(cur)
	return nil
}

func (s *Store) SaveWorkflowProgress(_ context.Context, r *onboarding.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workflows[r.UserID]
	if !ok {
		return fmt.Errorf("save workflow %s: %w", r.UserID, domain.ErrNotFound)
	}
	if cur.RunID != r.RunID {
		return fmt.Errorf("save workflow %s run %s: %w", r.UserID, r.RunID, domain.ErrConflict)
	}
	cur.Status = r.Status
	cur.CurrentStepIndex = r.CurrentStepIndex
	cur.ErrorMessage = r.ErrorMessage
	cur.Attempts = r.Attempts
	cur.SignupData = append([]byte(nil), r.SignupData...)
	cur.UpdatedAt = s.now().UTC()
	r.UpdatedAt = cur.UpdatedAt
	r.ProgramMessagesSent = cur.ProgramMessagesSent
	r.MessagesDelivered = cur.MessagesDelivered
	return nil
}

func (s *Store) ClaimMessagesSent(_ context.Context, userID, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workflows[userID]
	if !ok {
		return false, fmt.Errorf("claim messages %s: %w", userID, domain.ErrNotFound)
	}
	if cur.RunID != runID || cur.ProgramMessagesSent {
		return false, nil
	}
	cur.ProgramMessagesSent = true
	cur.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *Store) ReleaseMessagesSent(_ context.Context, userID, runID string, delivered int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workflows[userID]
	if !ok || cur.RunID != runID {
		return fmt.Errorf("release messages %s run %s: %w", userID, runID, domain.ErrNotFound)
	}
	cur.ProgramMessagesSent = false
	cur.MessagesDelivered = max(cur.MessagesDelivered, delivered)
	cur.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ListWorkflows(_ context.Context, status onboarding.Status, limit int) ([]onboarding.Record, error) {
	s.mu.RLock()
	out := []onboarding.Record{}
	for _, r := range s.workflows {
		if status == "" || r.Status == status {
			out = append(out, *cloneRecord(r))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Step results ---

func (s *Store) SaveStepResult(_ context.Context, res *onboarding.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStep, ok := s.stepResults[res.RunID]
	if !ok {
		byStep = make(map[string]*onboarding.StepResult)
		s.stepResults[res.RunID] = byStep
	}
	c := *res
	c.Output = append([]byte(nil), res.Output...)
	c.CreatedAt = s.now().UTC()
	byStep[res.Step] = &c
	return nil
}

func (s *Store) GetStepResult(_ context.Context, runID, step string) (*onboarding.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.stepResults[runID][step]
	if !ok {
		return nil, fmt.Errorf("step result %s/%s: %w", runID, step, domain.ErrNotFound)
	}
	c := *res
	c.Output = append([]byte(nil), res.Output...)
	return &c, nil
}

func (s *Store) ListStepResults(_ context.Context, runID string) ([]onboarding.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []onboarding.StepResult{}
	for _, res := range s.stepResults[runID] {
		c := *res
		c.Output = append([]byte(nil), res.Output...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return onboarding.StepIndex(out[i].Step) < onboarding.StepIndex(out[j].Step)
	})
	return out, nil
}
