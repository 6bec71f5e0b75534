package messagequeue

import "github.com/Strob0t/CoachForge/internal/domain/onboarding"

// TriggerPayload is the schema for onboarding trigger messages.
type TriggerPayload = onboarding.Trigger

// SMSRequestPayload is the schema for outbound SMS requests picked up by the
// delivery worker.
type SMSRequestPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Phone     string `json:"phone"`
	Body      string `json:"body"`
}

// DeadLetterPayload wraps a message moved to a DLQ subject.
type DeadLetterPayload struct {
	Subject    string `json:"subject"`
	Data       []byte `json:"data"`
	Error      string `json:"error"`
	Deliveries uint64 `json:"deliveries"`
}
