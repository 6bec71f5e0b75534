package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/CoachForge/internal/port/notifier"
	"github.com/Strob0t/CoachForge/internal/registry"
)

func callbacks(deps Deps) []registry.CallbackDefinition {
	return []registry.CallbackDefinition{
		{
			Name:           CallbackLogEvent,
			Description:    "Writes one structured log record per agent run.",
			DefaultTrigger: registry.Always,
			Run:            logEvent,
		},
		{
			Name:           CallbackRecordFailure,
			Description:    "Logs the failure cause of an agent run and alerts operators when configured.",
			DefaultTrigger: registry.OnFailure,
			Run:            recordFailure(deps.Alerts),
		},
		{
			Name:           CallbackSendSMS,
			Description:    "Texts the agent's answer to the user.",
			DefaultTrigger: registry.OnSuccess,
			Run:            sendSMS(deps),
		},
	}
}

func logEvent(ctx context.Context, ev registry.CallbackEvent) error {
	slog.InfoContext(ctx, "agent run finished",
		"agent_id", ev.AgentID,
		"version_id", ev.VersionID,
		"user_id", ev.UserID,
		"succeeded", ev.Succeeded,
	)
	return nil
}

func recordFailure(alerts notifier.Notifier) registry.CallbackFunc {
	return func(ctx context.Context, ev registry.CallbackEvent) error {
		if ev.Err == nil {
			return nil
		}
		slog.ErrorContext(ctx, "agent run failed",
			"agent_id", ev.AgentID,
			"version_id", ev.VersionID,
			"user_id", ev.UserID,
			"error", ev.Err,
		)
		if alerts == nil {
			return nil
		}
		return alerts.Notify(ctx, notifier.Alert{
			Title:   "Agent run failed: " + ev.AgentID,
			Message: ev.Err.Error(),
			Level:   notifier.LevelError,
			Source:  "agent.failed",
			Fields: map[string]string{
				"agent_id":   ev.AgentID,
				"version_id": ev.VersionID,
				"run_id":     ev.RunID,
				"user_id":    ev.UserID,
			},
		})
	}
}

func sendSMS(deps Deps) registry.CallbackFunc {
	return func(ctx context.Context, ev registry.CallbackEvent) error {
		if ev.Text == "" {
			return fmt.Errorf("agent %s produced no text to send", ev.AgentID)
		}
		u, err := deps.Users.GetUser(ctx, ev.UserID)
		if err != nil {
			return fmt.Errorf("user %s: %w", ev.UserID, err)
		}
		if _, err := deps.Messenger.Send(ctx, u, ev.Text); err != nil {
			return fmt.Errorf("send sms: %w", err)
		}
		return nil
	}
}
