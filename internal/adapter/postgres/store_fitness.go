package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/CoachForge/internal/domain/fitness"
)

// --- Users ---

func (s *Store) GetUser(ctx context.Context, id string) (*fitness.User, error) {
	var u fitness.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, phone, timezone, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Phone, &u.Timezone, &u.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "user %s", id)
	}
	return &u, nil
}

// UpsertUser writes a user row. The product normally owns this table; the
// admin CLI and integration tests use it to provision users.
func (s *Store) UpsertUser(ctx context.Context, u *fitness.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, first_name, last_name, phone, timezone)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
		     phone = EXCLUDED.phone, timezone = EXCLUDED.timezone`,
		u.ID, u.FirstName, u.LastName, u.Phone, u.Timezone)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// --- Profiles ---

const profileColumns = `id::text, seq, user_id, run_id, summary, data, created_at`

func (s *Store) InsertProfile(ctx context.Context, p *fitness.Profile) (*fitness.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO fitness_profiles (user_id, run_id, summary, data)
		 VALUES ($1, $2, $3, $4) RETURNING `+profileColumns,
		p.UserID, p.RunID, p.Summary, nullJSON(p.Data))
	out, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("insert profile %s: %w", p.UserID, err)
	}
	return &out, nil
}

func (s *Store) LatestProfile(ctx context.Context, userID string) (*fitness.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM fitness_profiles
		 WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, notFoundWrap(err, "profile for %s", userID)
	}
	return &p, nil
}

func scanProfile(row scannable) (fitness.Profile, error) {
	var (
		p    fitness.Profile
		data []byte
	)
	err := row.Scan(&p.ID, &p.Seq, &p.UserID, &p.RunID, &p.Summary, &data, &p.CreatedAt)
	if len(data) > 0 {
		p.Data = data
	}
	return p, err
}

// --- Plans ---

const planColumns = `id::text, seq, user_id, run_id, name, description, structure, start_date, created_at`

func (s *Store) InsertPlan(ctx context.Context, p *fitness.Plan) (*fitness.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO fitness_plans (user_id, run_id, name, description, structure, start_date)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+planColumns,
		p.UserID, p.RunID, p.Name, p.Description, nullJSON(p.Structure), p.StartDate)
	out, err := scanPlan(row)
	if err != nil {
		return nil, fmt.Errorf("insert plan %s: %w", p.UserID, err)
	}
	return &out, nil
}

func (s *Store) LatestPlan(ctx context.Context, userID string) (*fitness.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM fitness_plans
		 WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, userID)
	p, err := scanPlan(row)
	if err != nil {
		return nil, notFoundWrap(err, "plan for %s", userID)
	}
	return &p, nil
}

func scanPlan(row scannable) (fitness.Plan, error) {
	var (
		p         fitness.Plan
		structure []byte
	)
	err := row.Scan(&p.ID, &p.Seq, &p.UserID, &p.RunID, &p.Name, &p.Description, &structure, &p.StartDate, &p.CreatedAt)
	if len(structure) > 0 {
		p.Structure = structure
	}
	return p, err
}

// --- Microcycles ---

const microcycleColumns = `id::text, seq, user_id, plan_id::text, run_id, week_number, start_date,
	days, summary, details, created_at`

func (s *Store) InsertMicrocycle(ctx context.Context, m *fitness.Microcycle) (*fitness.Microcycle, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO microcycles (user_id, plan_id, run_id, week_number, start_date, days, summary, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+microcycleColumns,
		m.UserID, m.PlanID, m.RunID, m.WeekNumber, m.StartDate, pgTextArray(m.Days), m.Summary, nullJSON(m.Details))
	out, err := scanMicrocycle(row)
	if err != nil {
		return nil, fmt.Errorf("insert microcycle %s: %w", m.UserID, err)
	}
	return &out, nil
}

func (s *Store) LatestMicrocycle(ctx context.Context, userID string) (*fitness.Microcycle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+microcycleColumns+` FROM microcycles
		 WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, userID)
	m, err := scanMicrocycle(row)
	if err != nil {
		return nil, notFoundWrap(err, "microcycle for %s", userID)
	}
	return &m, nil
}

func scanMicrocycle(row scannable) (fitness.Microcycle, error) {
	var (
		m       fitness.Microcycle
		details []byte
	)
	err := row.Scan(&m.ID, &m.Seq, &m.UserID, &m.PlanID, &m.RunID, &m.WeekNumber, &m.StartDate,
		&m.Days, &m.Summary, &details, &m.CreatedAt)
	if len(details) > 0 {
		m.Details = details
	}
	return m, err
}

// --- Workouts ---

const workoutColumns = `id::text, seq, user_id, microcycle_id::text, run_id, date, title, message, details, created_at`

func (s *Store) InsertWorkout(ctx context.Context, w *fitness.Workout) (*fitness.Workout, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO workouts (user_id, microcycle_id, run_id, date, title, message, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+workoutColumns,
		w.UserID, w.MicrocycleID, w.RunID, w.Date, w.Title, w.Message, nullJSON(w.Details))
	out, err := scanWorkout(row)
	if err != nil {
		return nil, fmt.Errorf("insert workout %s: %w", w.UserID, err)
	}
	return &out, nil
}

func (s *Store) LatestWorkout(ctx context.Context, userID string) (*fitness.Workout, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workoutColumns+` FROM workouts
		 WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, userID)
	w, err := scanWorkout(row)
	if err != nil {
		return nil, notFoundWrap(err, "workout for %s", userID)
	}
	return &w, nil
}

func (s *Store) RecentWorkouts(ctx context.Context, userID string, limit int) ([]fitness.Workout, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+workoutColumns+` FROM workouts
		 WHERE user_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent workouts %s: %w", userID, err)
	}
	return collect(rows, scanWorkout)
}

func scanWorkout(row scannable) (fitness.Workout, error) {
	var (
		w       fitness.Workout
		details []byte
	)
	err := row.Scan(&w.ID, &w.Seq, &w.UserID, &w.MicrocycleID, &w.RunID, &w.Date, &w.Title, &w.Message, &details, &w.CreatedAt)
	if len(details) > 0 {
		w.Details = details
	}
	return w, err
}
