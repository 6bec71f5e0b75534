// Package memstore implements every database port in process memory. It backs
// the "memory" store driver for local development and the service tests.
// Data is lost when the process exits. All reads return copies.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/domain/contexttpl"
	"github.com/Strob0t/CoachForge/internal/domain/fitness"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
	"github.com/Strob0t/CoachForge/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store is a thread-safe in-memory implementation of database.Store.
type Store struct {
	mu  sync.RWMutex
	seq int64
	now func() time.Time

	definitions []*agentdef.Definition
	extensions  []*agentdef.Extension
	templates   []*contexttpl.Template

	workflows   map[string]*onboarding.Record
	stepResults map[string]map[string]*onboarding.StepResult // runID -> step

	users       map[string]*fitness.User
	profiles    []*fitness.Profile
	plans       []*fitness.Plan
	microcycles []*fitness.Microcycle
	workouts    []*fitness.Workout
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for inserted rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		workflows:   make(map[string]*onboarding.Record),
		stepResults: make(map[string]map[string]*onboarding.StepResult),
		users:       make(map[string]*fitness.User),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PutUser adds or replaces a user. Users are owned by the surrounding product;
// this is the in-memory stand-in for its user table.
func (s *Store) PutUser(u fitness.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	s.users[u.ID] = &u
}

// Reset clears all data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
	s.definitions, s.extensions, s.templates = nil, nil, nil
	s.workflows = make(map[string]*onboarding.Record)
	s.stepResults = make(map[string]map[string]*onboarding.StepResult)
	s.users = make(map[string]*fitness.User)
	s.profiles, s.plans, s.microcycles, s.workouts = nil, nil, nil, nil
}

// stamp returns the next (seq, created_at) pair. Callers hold mu.
func (s *Store) stamp() (int64, time.Time) {
	s.seq++
	return s.seq, s.now().UTC()
}

// newestFirst sorts rows by (created_at DESC, seq DESC).
func newestFirst[T domain.Versioned](rows []T) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].VersionStamp().After(rows[j].VersionStamp()) })
}
