// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"errors"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
// Returning an error asks for redelivery; wrap ErrPermanent to skip retries.
type Handler func(ctx context.Context, subject string, data []byte) error

// ErrPermanent marks a handler failure that redelivery cannot fix.
var ErrPermanent = errors.New("permanent message failure")

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject roots captured by the engine stream.
const (
	SubjectOnboardingTrigger = "onboarding.trigger"
	SubjectSMSRequest        = "notifications.sms"
	DLQSuffix                = ".dlq"
)
