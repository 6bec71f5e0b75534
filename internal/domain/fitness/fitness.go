// Package fitness holds the coaching entities written by onboarding steps.
// Every entity is append-only per user: a forced re-creation inserts a new
// row and the newest row is the user's current one.
package fitness

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
)

// User is read-only to the engine.
type User struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the structured fitness profile distilled from signup answers.
type Profile struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	UserID    string          `json:"user_id"`
	RunID     string          `json:"run_id,omitempty"`
	Summary   string          `json:"summary"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Plan is the long-range training plan.
type Plan struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	UserID      string          `json:"user_id"`
	RunID       string          `json:"run_id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Structure   json.RawMessage `json:"structure,omitempty"`
	StartDate   time.Time       `json:"start_date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Microcycle is one training week of a plan. Days always has seven entries,
// Monday first.
type Microcycle struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	UserID     string          `json:"user_id"`
	PlanID     string          `json:"plan_id"`
	RunID      string          `json:"run_id,omitempty"`
	WeekNumber int             `json:"week_number"`
	StartDate  time.Time       `json:"start_date"`
	Days       []string        `json:"days"`
	Summary    string          `json:"summary"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Workout is a single session scheduled for a date.
type Workout struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq"`
	UserID       string          `json:"user_id"`
	MicrocycleID string          `json:"microcycle_id"`
	RunID        string          `json:"run_id,omitempty"`
	Date         time.Time       `json:"date"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// VersionStamp implements domain.Versioned.
func (p *Profile) VersionStamp() domain.Stamp { return domain.Stamp{CreatedAt: p.CreatedAt, Seq: p.Seq} }

// VersionStamp implements domain.Versioned.
func (p *Plan) VersionStamp() domain.Stamp { return domain.Stamp{CreatedAt: p.CreatedAt, Seq: p.Seq} }

// VersionStamp implements domain.Versioned.
func (m *Microcycle) VersionStamp() domain.Stamp { return domain.Stamp{CreatedAt: m.CreatedAt, Seq: m.Seq} }

// VersionStamp implements domain.Versioned.
func (w *Workout) VersionStamp() domain.Stamp { return domain.Stamp{CreatedAt: w.CreatedAt, Seq: w.Seq} }

// WeekStart returns local midnight of the Monday on or before t.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// DayIndex returns 0 for Monday through 6 for Sunday.
func DayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
