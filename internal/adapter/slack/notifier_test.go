package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/CoachForge/internal/port/notifier"
)

func TestNotifyNotConfigured(t *testing.T) {
	err := NewNotifier("").Notify(context.Background(), notifier.Alert{Title: "test"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNotifyPostsBlocks(t *testing.T) {
	var got message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("body is not JSON: %v", err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Notify(context.Background(), notifier.Alert{
		Title:   "Agent failed",
		Message: "plan:generate gave up after 3 attempts",
		Level:   notifier.LevelError,
		Source:  "agent.failed",
		Fields:  map[string]string{"user_id": "u1", "agent_id": "plan:generate"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Text != "[ERROR] Agent failed" {
		t.Errorf("fallback text = %q", got.Text)
	}
	if len(got.Blocks) != 4 {
		t.Fatalf("expected header, section, fields and context blocks, got %d", len(got.Blocks))
	}
	fields := got.Blocks[2].Fields
	if len(fields) != 2 || !strings.HasPrefix(fields[0].Text, "*agent_id*") {
		t.Errorf("fields should be sorted by key: %+v", fields)
	}
	if got.Blocks[3].Elements[0].Text != "_source: agent.failed_" {
		t.Errorf("context block = %+v", got.Blocks[3])
	}
}

func TestNotifyWebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service\n"))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Notify(context.Background(), notifier.Alert{Title: "x", Level: notifier.LevelInfo})
	if err == nil || !strings.Contains(err.Error(), "404: no_service") {
		t.Fatalf("expected webhook status and reason, got %v", err)
	}
}

func TestRegisteredFactory(t *testing.T) {
	if _, err := notifier.New("slack", nil); !errors.Is(err, notifier.ErrNotConfigured) {
		t.Errorf("missing webhook_url should be ErrNotConfigured, got %v", err)
	}
	n, err := notifier.New("slack", map[string]string{"webhook_url": "https://hooks.example.com/x"})
	if err != nil {
		t.Fatal(err)
	}
	if n.Name() != "slack" {
		t.Errorf("Name = %q", n.Name())
	}
}
