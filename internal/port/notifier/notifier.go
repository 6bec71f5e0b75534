// Package notifier defines the operator alert port. Alerts go to the team
// running the engine, never to end users.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier lacks its destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level grades an alert.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Alert is one operator notification.
type Alert struct {
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Level   Level             `json:"level"`
	Source  string            `json:"source"`           // e.g. "agent.failed", "onboarding.dead_lettered"
	Fields  map[string]string `json:"fields,omitempty"` // rendered as key/value pairs
}

// Notifier delivers alerts to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}
