package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
	"github.com/Strob0t/CoachForge/internal/port/messagequeue"
)

// OnboardingDriver runs the workflow for one trigger.
type OnboardingDriver interface {
	Drive(ctx context.Context, trig onboarding.Trigger) (*onboarding.Record, error)
}

// TriggerConsumer feeds onboarding trigger events from the queue into the
// executor. Delivery is at-least-once; the executor makes redelivery safe.
type TriggerConsumer struct {
	queue   messagequeue.Queue
	driver  OnboardingDriver
	subject string
}

// NewTriggerConsumer creates a consumer for subject.
func NewTriggerConsumer(q messagequeue.Queue, d OnboardingDriver, subject string) *TriggerConsumer {
	if subject == "" {
		subject = messagequeue.SubjectOnboardingTrigger
	}
	return &TriggerConsumer{queue: q, driver: d, subject: subject}
}

// Start subscribes and returns the cancel function of the subscription.
func (c *TriggerConsumer) Start(ctx context.Context) (func(), error) {
	cancel, err := c.queue.Subscribe(ctx, c.subject, c.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	slog.InfoContext(ctx, "onboarding trigger consumer started", "subject", c.subject)
	return cancel, nil
}

// Handle processes one trigger message. Malformed payloads and failures a
// redelivery cannot fix are marked permanent; everything else is retried.
func (c *TriggerConsumer) Handle(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("%w: %w", messagequeue.ErrPermanent, err)
	}
	var trig onboarding.Trigger
	if err := json.Unmarshal(data, &trig); err != nil {
		return fmt.Errorf("%w: %w", messagequeue.ErrPermanent, err)
	}

	rec, err := c.driver.Drive(ctx, trig)
	if err != nil {
		if permanentTriggerFailure(err) {
			return fmt.Errorf("%w: %w", messagequeue.ErrPermanent, err)
		}
		return err
	}
	slog.InfoContext(ctx, "onboarding trigger handled", "user_id", rec.UserID, "run_id", rec.RunID, "status", rec.Status)
	return nil
}

// Publish enqueues a trigger.
func (c *TriggerConsumer) Publish(ctx context.Context, trig onboarding.Trigger) error {
	if err := trig.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(trig)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	return c.queue.Publish(ctx, c.subject, data)
}

// permanentTriggerFailure reports errors a redelivery cannot fix: unknown
// users, missing configuration and unregistered capabilities.
func permanentTriggerFailure(err error) bool {
	if domain.IsRetryable(err) {
		return false
	}
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrConfigurationNotFound) ||
		errors.Is(err, domain.ErrUnknownCapability)
}
