// Package smsqueue delivers user messages by publishing SMS requests to the
// message queue, where a delivery worker hands them to the SMS gateway.
package smsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/CoachForge/internal/domain/fitness"
	"github.com/Strob0t/CoachForge/internal/port/messagequeue"
	"github.com/Strob0t/CoachForge/internal/port/messenger"
)

const channelSMS = "sms"

// ErrNoPhone is returned for users without a phone number.
var ErrNoPhone = errors.New("user has no phone number")

// Messenger publishes one SMS request per message.
type Messenger struct {
	queue   messagequeue.Queue
	subject string
	now     func() time.Time
}

var _ messenger.Messenger = (*Messenger)(nil)

// New creates a queue-backed messenger. An empty subject uses the default
// SMS request subject.
func New(q messagequeue.Queue, subject string) *Messenger {
	if subject == "" {
		subject = messagequeue.SubjectSMSRequest
	}
	return &Messenger{queue: q, subject: subject, now: time.Now}
}

// Send enqueues content for user. The receipt ID doubles as the SMS message ID.
func (m *Messenger) Send(ctx context.Context, user *fitness.User, content string) (*messenger.Receipt, error) {
	if user == nil || user.Phone == "" {
		return nil, ErrNoPhone
	}
	p := messagequeue.SMSRequestPayload{
		MessageID: uuid.NewString(),
		UserID:    user.ID,
		Phone:     user.Phone,
		Body:      content,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal sms request: %w", err)
	}
	if err := messagequeue.Validate(m.subject, data); err != nil {
		return nil, err
	}
	if err := m.queue.Publish(ctx, m.subject, data); err != nil {
		return nil, fmt.Errorf("publish sms request: %w", err)
	}
	slog.InfoContext(ctx, "sms request queued", "message_id", p.MessageID, "user_id", user.ID)
	return &messenger.Receipt{ID: p.MessageID, Channel: channelSMS, AcceptedAt: m.now()}, nil
}

// LogMessenger writes messages to the log instead of sending them. It backs
// local runs without a queue.
type LogMessenger struct{}

var _ messenger.Messenger = LogMessenger{}

// Send logs content and returns a synthetic receipt.
func (LogMessenger) Send(ctx context.Context, user *fitness.User, content string) (*messenger.Receipt, error) {
	if user == nil {
		return nil, errors.New("user is required")
	}
	id := uuid.NewString()
	slog.InfoContext(ctx, "message (not sent)", "message_id", id, "user_id", user.ID, "body", content)
	return &messenger.Receipt{ID: id, Channel: "log", AcceptedAt: time.Now()}, nil
}
