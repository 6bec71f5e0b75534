package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/registry"
)

const (
	defaultRecentWorkouts = 5
	maxRecentWorkouts     = 20
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func tools(deps Deps) []registry.ToolDefinition {
	return []registry.ToolDefinition{
		{
			Name:        ToolCurrentDatetime,
			Description: "Current date and time in the user's timezone.",
			InputSchema: emptyObjectSchema,
			Priority:    0,
			Execute:     currentDatetime,
		},
		{
			Name:        ToolUserProfile,
			Description: "The user's name, timezone and latest fitness profile.",
			InputSchema: emptyObjectSchema,
			Priority:    10,
			Execute:     userProfile(deps),
		},
		{
			Name:        ToolRecentWorkouts,
			Description: "The user's most recent workouts, newest first.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":20}}}`),
			Priority:    20,
			Execute:     recentWorkouts(deps),
		},
	}
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func currentDatetime(_ context.Context, tc registry.ToolContext, _ json.RawMessage) (string, error) {
	now := tc.Clock()
	return toJSON(map[string]string{
		"datetime": now.Format(time.RFC3339),
		"date":     now.Format(time.DateOnly),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	})
}

type profileView struct {
	FirstName string          `json:"first_name"`
	Timezone  string          `json:"timezone,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Profile   json.RawMessage `json:"profile,omitempty"`
}

func userProfile(deps Deps) registry.ToolFunc {
	return func(ctx context.Context, tc registry.ToolContext, _ json.RawMessage) (string, error) {
		u, err := deps.Users.GetUser(ctx, tc.UserID)
		if err != nil {
			return "", fmt.Errorf("user %s: %w", tc.UserID, err)
		}
		view := profileView{FirstName: u.FirstName, Timezone: u.Timezone}
		p, err := deps.Fitness.LatestProfile(ctx, tc.UserID)
		switch {
		case err == nil:
			view.Summary = p.Summary
			view.Profile = p.Data
		case !errors.Is(err, domain.ErrNotFound):
			return "", fmt.Errorf("profile %s: %w", tc.UserID, err)
		}
		return toJSON(view)
	}
}

type workoutView struct {
	Date    string `json:"date"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

func recentWorkouts(deps Deps) registry.ToolFunc {
	return func(ctx context.Context, tc registry.ToolContext, input json.RawMessage) (string, error) {
		var args struct {
			Limit int `json:"limit"`
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
		}
		limit := args.Limit
		if limit <= 0 {
			limit = defaultRecentWorkouts
		}
		limit = min(limit, maxRecentWorkouts)

		ws, err := deps.Fitness.RecentWorkouts(ctx, tc.UserID, limit)
		if err != nil {
			return "", fmt.Errorf("recent workouts %s: %w", tc.UserID, err)
		}
		out := make([]workoutView, 0, len(ws))
		for i := range ws {
			out = append(out, workoutView{
				Date:    ws[i].Date.Format(time.DateOnly),
				Title:   ws[i].Title,
				Message: ws[i].Message,
			})
		}
		return toJSON(out)
	}
}
