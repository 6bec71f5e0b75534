package notifier

import (
	"context"
	"strings"
	"testing"
)

type stubNotifier struct{ url string }

func (s stubNotifier) Name() string                        { return "stub" }
func (s stubNotifier) Notify(context.Context, Alert) error { return nil }

func TestRegistry(t *testing.T) {
	Register("stub-test", func(settings map[string]string) (Notifier, error) {
		return stubNotifier{url: settings["webhook_url"]}, nil
	})

	n, err := New("stub-test", map[string]string{"webhook_url": "https://example.test"})
	if err != nil {
		t.Fatal(err)
	}
	if n.(stubNotifier).url != "https://example.test" {
		t.Errorf("settings not passed to the factory: %+v", n)
	}

	_, err = New("pager", nil)
	if err == nil || !strings.Contains(err.Error(), "stub-test") {
		t.Errorf("unknown provider error should list available ones, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should panic")
		}
	}()
	Register("stub-test", nil)
}
