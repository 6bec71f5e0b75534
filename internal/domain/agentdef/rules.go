package agentdef

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rule names accepted in ValidationRule.Rule.
const (
	RuleRequired = "required"
	RuleNonEmpty = "non_empty"
	RuleMinItems = "min_items"
	RuleMaxItems = "max_items"
	RuleEnum     = "enum"
)

// CheckRules applies declarative rules to a structured output and returns one
// problem string per violated rule. An output that is not a JSON object fails
// every rule that names a field.
func CheckRules(rules []ValidationRule, output json.RawMessage) []string {
	if len(rules) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(output, &doc); err != nil {
		return []string{fmt.Sprintf("output is not valid JSON: %v", err)}
	}
	var problems []string
	for _, r := range rules {
		if p := checkRule(r, doc); p != "" {
			problems = append(problems, p)
		}
	}
	return problems
}

func checkRule(r ValidationRule, doc any) string {
	v, ok := lookupPath(doc, r.Field)
	switch r.Rule {
	case RuleRequired:
		if !ok || v == nil {
			return r.Field + ": required"
		}
	case RuleNonEmpty:
		if !ok || isEmpty(v) {
			return r.Field + ": must not be empty"
		}
	case RuleMinItems, RuleMaxItems:
		n, isNum := toInt(r.Value)
		if !isNum {
			return fmt.Sprintf("%s: %s needs a numeric value", r.Field, r.Rule)
		}
		items, isList := v.([]any)
		if !ok || !isList {
			return r.Field + ": expected a list"
		}
		if r.Rule == RuleMinItems && len(items) < n {
			return fmt.Sprintf("%s: has %d items, want at least %d", r.Field, len(items), n)
		}
		if r.Rule == RuleMaxItems && len(items) > n {
			return fmt.Sprintf("%s: has %d items, want at most %d", r.Field, len(items), n)
		}
	case RuleEnum:
		allowed, isList := r.Value.([]any)
		if !isList {
			return r.Field + ": enum needs a list value"
		}
		if !ok {
			return r.Field + ": required"
		}
		for _, a := range allowed {
			if fmt.Sprint(a) == fmt.Sprint(v) {
				return ""
			}
		}
		return fmt.Sprintf("%s: %v is not one of %v", r.Field, v, allowed)
	default:
		return fmt.Sprintf("%s: unknown rule %q", r.Field, r.Rule)
	}
	return ""
}

// lookupPath walks a dot-separated path through nested objects.
// An empty path addresses the document itself.
func lookupPath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
