package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/domain"
	"github.com/Strob0t/CoachForge/internal/domain/agentdef"
	"github.com/Strob0t/CoachForge/internal/port/database"
)

// PromptSnippet is one resolved extension overlay.
type PromptSnippet struct {
	Type      string `json:"type"`
	Key       string `json:"key"`
	VersionID string `json:"version_id"`
	Text      string `json:"text"`
}

// ExtensionResolver merges a definition's default extensions with caller
// overrides and resolves each pair against the extension store.
type ExtensionResolver struct {
	store   database.ExtensionStore
	metrics *cfotel.Metrics
}

// NewExtensionResolver creates a resolver. metrics may be nil.
func NewExtensionResolver(store database.ExtensionStore, metrics *cfotel.Metrics) *ExtensionResolver {
	return &ExtensionResolver{store: store, metrics: metrics}
}

// Resolve returns snippets in the order extension types were declared on the
// definition, followed by caller-only types in name order. A pair without a
// stored row is skipped with a warning.
func (r *ExtensionResolver) Resolve(ctx context.Context, def *agentdef.Definition, caller map[string]string) ([]PromptSnippet, error) {
	order := make([]string, 0, len(caller))
	for typ := range caller {
		order = append(order, typ)
	}
	sort.Strings(order)
	bindings := def.DefaultExtensions.Merge(caller, order)

	snippets := make([]PromptSnippet, 0, len(bindings))
	for _, b := range bindings {
		if b.Key == "" {
			continue
		}
		ext, err := r.store.LatestExtension(ctx, def.AgentID, b.Type, b.Key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				slog.WarnContext(ctx, "extension not found",
					"agent_id", def.AgentID, "extension_type", b.Type, "extension_key", b.Key)
				if r.metrics != nil {
					r.metrics.ExtensionMisses.Add(ctx, 1, metric.WithAttributes(
						attribute.String("agent.id", def.AgentID),
						attribute.String("extension.type", b.Type),
					))
				}
				continue
			}
			return nil, fmt.Errorf("resolve extension %s/%s: %w", b.Type, b.Key, err)
		}
		snippets = append(snippets, PromptSnippet{
			Type:      b.Type,
			Key:       b.Key,
			VersionID: ext.VersionID,
			Text:      ext.SystemPrompt,
		})
	}
	return snippets, nil
}
