// Package slack posts operator alerts to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/Strob0t/CoachForge/internal/port/notifier"
)

const (
	providerName   = "slack"
	requestTimeout = 10 * time.Second
	maxErrorBody   = 512
)

var _ notifier.Notifier = (*Notifier)(nil)

// Notifier sends alerts as Block Kit messages.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier for webhookURL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (n *Notifier) Name() string { return providerName }

type message struct {
	Text   string  `json:"text"` // fallback for notifications
	Blocks []block `json:"blocks"`
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Fields   []text `json:"fields,omitempty"`
	Elements []text `json:"elements,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notify posts the alert. Slack answers non-2xx with a short plain-text
// reason, which is included in the error.
func (n *Notifier) Notify(ctx context.Context, a notifier.Alert) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(render(a))
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("slack webhook %d: %s", resp.StatusCode, bytes.TrimSpace(reason))
	}
	return nil
}

func render(a notifier.Alert) message {
	header := fmt.Sprintf("%s %s", levelTag(a.Level), a.Title)
	msg := message{
		Text: header,
		Blocks: []block{
			{Type: "header", Text: &text{Type: "plain_text", Text: header}},
		},
	}
	if a.Message != "" {
		msg.Blocks = append(msg.Blocks, block{Type: "section", Text: &text{Type: "mrkdwn", Text: a.Message}})
	}
	if len(a.Fields) > 0 {
		keys := make([]string, 0, len(a.Fields))
		for k := range a.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]text, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, text{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", k, a.Fields[k])})
		}
		msg.Blocks = append(msg.Blocks, block{Type: "section", Fields: fields})
	}
	if a.Source != "" {
		msg.Blocks = append(msg.Blocks, block{
			Type:     "context",
			Elements: []text{{Type: "mrkdwn", Text: "_source: " + a.Source + "_"}},
		})
	}
	return msg
}

func levelTag(l notifier.Level) string {
	switch l {
	case notifier.LevelError:
		return "[ERROR]"
	case notifier.LevelWarning:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
