package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "coachforge"

// Metrics holds all CoachForge metric instruments.
type Metrics struct {
	AgentRuns        metric.Int64Counter
	AgentFailures    metric.Int64Counter
	ToolCalls        metric.Int64Counter
	CallbackFailures metric.Int64Counter
	ExtensionMisses  metric.Int64Counter
	StepsExecuted    metric.Int64Counter
	StepsSkipped     metric.Int64Counter
	WorkflowsFailed  metric.Int64Counter
	MessagesSent     metric.Int64Counter
	DeadLetters      metric.Int64Counter
	BreakerRejects   metric.Int64Counter
	AgentDuration    metric.Float64Histogram
	StepDuration     metric.Float64Histogram
	TokensUsed       metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.AgentRuns, "coachforge.agent.runs", "Number of agent runs started"},
		{&m.AgentFailures, "coachforge.agent.failures", "Number of agent runs that ended in the failed state"},
		{&m.ToolCalls, "coachforge.agent.toolcalls", "Number of tool calls executed for agents"},
		{&m.CallbackFailures, "coachforge.callbacks.failed", "Number of callbacks that failed or were not registered"},
		{&m.ExtensionMisses, "coachforge.extensions.missing", "Number of declared extensions without a stored row"},
		{&m.StepsExecuted, "coachforge.workflow.steps.executed", "Number of workflow steps executed"},
		{&m.StepsSkipped, "coachforge.workflow.steps.skipped", "Number of workflow steps served from the step-result cache"},
		{&m.WorkflowsFailed, "coachforge.workflow.failed", "Number of workflow drives that ended failed"},
		{&m.MessagesSent, "coachforge.workflow.messages.sent", "Number of program messages dispatched"},
		{&m.DeadLetters, "coachforge.queue.deadlettered", "Number of queue messages moved to a dead-letter subject"},
		{&m.BreakerRejects, "coachforge.llm.breaker.rejected", "Number of model calls rejected by an open circuit breaker"},
		{&m.TokensUsed, "coachforge.llm.tokens", "Model tokens consumed"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.AgentDuration, err = meter.Float64Histogram("coachforge.agent.duration_seconds",
		metric.WithDescription("Agent run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("coachforge.workflow.step.duration_seconds",
		metric.WithDescription("Workflow step duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
