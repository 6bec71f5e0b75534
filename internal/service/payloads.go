package service

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain/fitness"
)

// Context payloads are plain maps so templates address fields by their
// camelCase names.

const dateLayout = "2006-01-02"

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func userPayload(u *fitness.User, now time.Time, signup map[string]any) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"timezone":  now.Location().String(),
		"today":     now.Format("Monday, January 2, 2006"),
		"date":      now.Format(dateLayout),
		"weekday":   weekdayNames[fitness.DayIndex(now)],
		"signup":    signup,
	}
}

func profilePayload(p *fitness.Profile) map[string]any {
	return map[string]any{
		"summary": p.Summary,
		"data":    decodeRaw(p.Data),
	}
}

func planPayload(p *fitness.Plan) map[string]any {
	return map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"structure":   decodeRaw(p.Structure),
		"startDate":   p.StartDate.Format(dateLayout),
	}
}

func microcyclePayload(m *fitness.Microcycle) map[string]any {
	days := make([]any, len(m.Days))
	for i, focus := range m.Days {
		days[i] = map[string]any{"name": weekdayNames[i%7], "focus": focus}
	}
	return map[string]any{
		"weekNumber": m.WeekNumber,
		"startDate":  m.StartDate.Format(dateLayout),
		"summary":    m.Summary,
		"days":       days,
	}
}

func workoutPayload(w *fitness.Workout) map[string]any {
	return map[string]any{
		"date":    w.Date.Format(dateLayout),
		"title":   w.Title,
		"message": w.Message,
		"details": decodeRaw(w.Details),
	}
}

func recentWorkoutsPayload(ws []fitness.Workout) map[string]any {
	items := make([]any, len(ws))
	for i := range ws {
		items[i] = workoutPayload(&ws[i])
	}
	return map[string]any{"workouts": items, "count": len(items)}
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
