package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "coachforge"

// StartAgentSpan starts a span for one agent run.
func StartAgentSpan(ctx context.Context, agentID, runID string, depth int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("run.id", runID),
			attribute.Int("agent.depth", depth),
		),
	)
}

// StartModelSpan starts a span for one model invocation.
func StartModelSpan(ctx context.Context, model string, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model.invoke",
		trace.WithAttributes(
			attribute.String("model.name", model),
			attribute.Int("model.iteration", iteration),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within an agent run.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartStepSpan starts a span for one onboarding workflow step.
func StartStepSpan(ctx context.Context, userID, runID, step string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("run.id", runID),
			attribute.String("workflow.step", step),
		),
	)
}
