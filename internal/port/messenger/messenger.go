// Package messenger defines the outbound user notification port.
package messenger

import (
	"context"
	"time"

	"github.com/Strob0t/CoachForge/internal/domain/fitness"
)

// Receipt acknowledges that a message was accepted for delivery. Final
// delivery status arrives out of band.
type Receipt struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Messenger sends a text message to a user.
type Messenger interface {
	Send(ctx context.Context, user *fitness.User, content string) (*Receipt, error)
}
