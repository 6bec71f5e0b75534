package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasSuffix(subject, DLQSuffix):
		return nil
	case subject == SubjectOnboardingTrigger || strings.HasPrefix(subject, SubjectOnboardingTrigger+"."):
		var p TriggerPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	case subject == SubjectSMSRequest || strings.HasPrefix(subject, SubjectSMSRequest+"."):
		var p SMSRequestPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Phone == "" || p.Body == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("phone and body are required"))
		}
	}
	return nil
}
