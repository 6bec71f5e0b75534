package registry

import (
	"context"
	"errors"
	"testing"
)

func recorder(calls *[]string, name string, err error) CallbackDefinition {
	return CallbackDefinition{
		Name: name,
		Run: func(context.Context, CallbackEvent) error {
			*calls = append(*calls, name)
			return err
		},
	}
}

func TestExecuteCallbacks_FailureOnlyRunsOnFailure(t *testing.T) {
	var calls []string
	r := NewCallbackRegistry()
	r.MustRegister(recorder(&calls, "notify", nil))
	r.MustRegister(recorder(&calls, "alert", nil))

	report := r.ExecuteCallbacks(context.Background(), []CallbackBinding{
		{Name: "notify", When: OnSuccess},
		{Name: "alert", When: OnFailure},
	}, CallbackEvent{AgentID: "a"}, false)

	if len(calls) != 1 || calls[0] != "alert" {
		t.Fatalf("expected only alert, got %v", calls)
	}
	if len(report.Fired) != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestExecuteCallbacks_FailureDoesNotAbort(t *testing.T) {
	var calls []string
	r := NewCallbackRegistry()
	r.MustRegister(recorder(&calls, "send_sms", errors.New("twilio down")))
	r.MustRegister(recorder(&calls, "log_event", nil))
	r.MustRegister(CallbackDefinition{Name: "boom", Run: func(context.Context, CallbackEvent) error { panic("bad") }})

	report := r.ExecuteCallbacks(context.Background(), []CallbackBinding{
		{Name: "send_sms"},
		{Name: "boom"},
		{Name: "unregistered"},
		{Name: "log_event", When: Always},
	}, CallbackEvent{}, true)

	if len(calls) != 2 || calls[0] != "send_sms" || calls[1] != "log_event" {
		t.Fatalf("expected sequential [send_sms log_event], got %v", calls)
	}
	if len(report.Failed) != 2 || len(report.Unknown) != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestExecuteCallbacks_DefaultTrigger(t *testing.T) {
	var calls []string
	r := NewCallbackRegistry()
	def := recorder(&calls, "cleanup", nil)
	def.DefaultTrigger = Always
	r.MustRegister(def)
	r.MustRegister(recorder(&calls, "plain", nil))

	r.ExecuteCallbacks(context.Background(), []CallbackBinding{{Name: "cleanup"}, {Name: "plain"}}, CallbackEvent{}, false)
	if len(calls) != 1 || calls[0] != "cleanup" {
		t.Fatalf("expected only cleanup on failure, got %v", calls)
	}
}

func TestTriggerFires(t *testing.T) {
	tests := []struct {
		trigger   Trigger
		succeeded bool
		want      bool
	}{
		{OnSuccess, true, true},
		{OnSuccess, false, false},
		{OnFailure, true, false},
		{OnFailure, false, true},
		{Always, true, true},
		{Always, false, true},
		{"", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := tt.trigger.Fires(tt.succeeded); got != tt.want {
			t.Errorf("%q.Fires(%v) = %v, want %v", tt.trigger, tt.succeeded, got, tt.want)
		}
	}
}

func TestCallbackRegister_Errors(t *testing.T) {
	var calls []string
	r := NewCallbackRegistry()
	r.MustRegister(recorder(&calls, "x", nil))
	if err := r.Register(recorder(&calls, "x", nil)); err == nil {
		t.Error("expected duplicate error")
	}
	bad := recorder(&calls, "y", nil)
	bad.DefaultTrigger = "sometimes"
	if err := r.Register(bad); err == nil {
		t.Error("expected invalid trigger error")
	}
}
