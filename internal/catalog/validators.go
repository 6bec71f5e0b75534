package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// smsMaxChars is the length of three concatenated GSM-7 segments.
const smsMaxChars = 459

func decodeObject(output json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(output) == 0 {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(output, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func weekHasSevenDays(output json.RawMessage, _ string) []string {
	obj, ok := decodeObject(output)
	if !ok {
		return []string{"week output must be a JSON object"}
	}
	var days []string
	if err := json.Unmarshal(obj["days"], &days); err != nil {
		return []string{"days must be a list of strings"}
	}
	if len(days) != 7 {
		return []string{fmt.Sprintf("days must list 7 entries, got %d", len(days))}
	}
	var problems []string
	for i, d := range days {
		if strings.TrimSpace(d) == "" {
			problems = append(problems, fmt.Sprintf("day %d has no focus", i+1))
		}
	}
	return problems
}

func planHasPhases(output json.RawMessage, _ string) []string {
	obj, ok := decodeObject(output)
	if !ok {
		return []string{"plan output must be a JSON object"}
	}
	var structure struct {
		Phases []json.RawMessage `json:"phases"`
	}
	if raw, present := obj["structure"]; present {
		if err := json.Unmarshal(raw, &structure); err != nil {
			return []string{"structure must be an object"}
		}
	}
	if len(structure.Phases) == 0 {
		return []string{"plan structure must contain at least one phase"}
	}
	return nil
}

func workoutHasMessage(output json.RawMessage, _ string) []string {
	obj, ok := decodeObject(output)
	if !ok {
		return []string{"workout output must be a JSON object"}
	}
	var msg string
	_ = json.Unmarshal(obj["message"], &msg)
	if strings.TrimSpace(msg) == "" {
		return []string{"workout message must not be empty"}
	}
	if n := utf8.RuneCountInString(msg); n > smsMaxChars {
		return []string{fmt.Sprintf("workout message has %d characters, limit is %d", n, smsMaxChars)}
	}
	return nil
}

func fitsSMS(_ json.RawMessage, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{"overview must not be empty"}
	}
	if n := utf8.RuneCountInString(text); n > smsMaxChars {
		return []string{fmt.Sprintf("overview has %d characters, limit is %d", n, smsMaxChars)}
	}
	return nil
}
