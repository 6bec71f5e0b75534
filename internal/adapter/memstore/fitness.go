package memstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/fitness"
)

func (s *Store) GetUser(_ context.Context, id string) (*fitness.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	c := *u
	return &c, nil
}

// --- Profiles ---

func (s *Store) InsertProfile(_ context.Context, p *fitness.Profile) (*fitness.Profile, error) {
	row := *p
	row.Data = append([]byte(nil), p.Data...)
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = uuid.NewString()
	row.Seq, row.CreatedAt = s.stamp()
	s.profiles = append(s.profiles, &row)
	out := row
	return &out, nil
}

func (s *Store) LatestProfile(_ context.Context, userID string) (*fitness.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := domain.Latest(s.profiles, func(p *fitness.Profile) bool { return p.UserID == userID })
	if !ok {
		return nil, fmt.Errorf("profile for %s: %w", userID, domain.ErrNotFound)
	}
	out := *best
	return &out, nil
}

// --- Plans ---

func (s *Store) InsertPlan(_ context.Context, p *fitness.Plan) (*fitness.Plan, error) {
	row := *p
	row.Structure = append([]byte(nil), p.Structure...)
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = uuid.NewString()
	row.Seq, row.CreatedAt = s.stamp()
	s.plans = append(s.plans, &row)
	out := row
	return &out, nil
}

func (s *Store) LatestPlan(_ context.Context, userID string) (*fitness.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := domain.Latest(s.plans, func(p *fitness.Plan) bool { return p.UserID == userID })
	if !ok {
		return nil, fmt.Errorf("plan for %s: %w", userID, domain.ErrNotFound)
	}
	out := *best
	return &out, nil
}

// --- Microcycles ---

func (s *Store) InsertMicrocycle(_ context.Context, m *fitness.Microcycle) (*fitness.Microcycle, error) {
	row := *m
	row.Days = append([]string(nil), m.Days...)
	row.Details = append([]byte(nil), m.Details...)
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = uuid.NewString()
	row.Seq, row.CreatedAt = s.stamp()
	s.microcycles = append(s.microcycles, &row)
	out := row
	return &out, nil
}

func (s *Store) LatestMicrocycle(_ context.Context, userID string) (*fitness.Microcycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := domain.Latest(s.microcycles, func(m *fitness.Microcycle) bool { return m.UserID == userID })
	if !ok {
		return nil, fmt.Errorf("microcycle for %s: %w", userID, domain.ErrNotFound)
	}
	out := *best
	out.Days = append([]string(nil), best.Days...)
	return &out, nil
}

// --- Workouts ---

func (s *Store) InsertWorkout(_ context.Context, w *fitness.Workout) (*fitness.Workout, error) {
	row := *w
	row.Details = append([]byte(nil), w.Details...)
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = uuid.NewString()
	row.Seq, row.CreatedAt = s.stamp()
	s.workouts = append(s.workouts, &row)
	out := row
	return &out, nil
}

func (s *Store) LatestWorkout(_ context.Context, userID string) (*fitness.Workout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := domain.Latest(s.workouts, func(w *fitness.Workout) bool { return w.UserID == userID })
	if !ok {
		return nil, fmt.Errorf("workout for %s: %w", userID, domain.ErrNotFound)
	}
	out := *best
	return &out, nil
}

func (s *Store) RecentWorkouts(_ context.Context, userID string, limit int) ([]fitness.Workout, error) {
	s.mu.RLock()
	var rows []*fitness.Workout
	for _, w := range s.workouts {
		if w.UserID == userID {
			c := *w
			rows = append(rows, &c)
		}
	}
	s.mu.RUnlock()
	newestFirst(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]fitness.Workout, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

// Counts reports how many rows of each fitness entity exist for a user.
func (s *Store) Counts(userID string) (profiles, plans, microcycles, workouts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.UserID == userID {
			profiles++
		}
	}
	for _, p := range s.plans {
		if p.UserID == userID {
			plans++
		}
	}
	for _, m := range s.microcycles {
		if m.UserID == userID {
			microcycles++
		}
	}
	for _, w := range s.workouts {
		if w.UserID == userID {
			workouts++
		}
	}
	return profiles, plans, microcycles, workouts
}
