package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("session-metrics")

// SessionMetrics provides metrics collection for assistant sessions
type SessionMetrics struct {
	turnsStartedCounter   metric.Int64Counter
	turnsCompletedCounter metric.Int64Counter
	turnsFailedCounter    metric.Int64Counter
	turnDurationHistogram metric.Float64Histogram
	sessionsActiveGauge   metric.Int64UpDownCounter
	toolCallsCounter      metric.Int64Counter
	inputTokensCounter    metric.Int64Counter
	outputTokensCounter   metric.Int64Counter
}

// NewSessionMetrics creates a new session metrics collector
func NewSessionMetrics() (*SessionMetrics, error) {
	turnsStartedCounter, err := meter.Int64Counter(
		"quickmart.assistant.turns.started",
		metric.WithDescription("Total number of assistant turns started"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, err
	}

	turnsCompletedCounter, err := meter.Int64Counter(
		"quickmart.assistant.turns.completed",
		metric.WithDescription("Total number of assistant turns completed successfully"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, err
	}

	turnsFailedCounter, err := meter.Int64Counter(
		"quickmart.assistant.turns.failed",
		metric.WithDescription("Total number of assistant turns that failed"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, err
	}

	turnDurationHistogram, err := meter.Float64Histogram(
		"quickmart.assistant.turn.duration",
		metric.WithDescription("Duration of assistant turns in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sessionsActiveGauge, err := meter.Int64UpDownCounter(
		"quickmart.assistant.sessions.active",
		metric.WithDescription("Number of currently active assistant sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	toolCallsCounter, err := meter.Int64Counter(
		"quickmart.assistant.tool_calls",
		metric.WithDescription("Total number of tool invocations by the assistant"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	inputTokensCounter, err := meter.Int64Counter(
		"quickmart.assistant.llm.input_tokens",
		metric.WithDescription("Total LLM input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	outputTokensCounter, err := meter.Int64Counter(
		"quickmart.assistant.llm.output_tokens",
		metric.WithDescription("Total LLM output tokens produced"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		turnsStartedCounter:   turnsStartedCounter,
		turnsCompletedCounter: turnsCompletedCounter,
		turnsFailedCounter:    turnsFailedCounter,
		turnDurationHistogram: turnDurationHistogram,
		sessionsActiveGauge:   sessionsActiveGauge,
		toolCallsCounter:      toolCallsCounter,
		inputTokensCounter:    inputTokensCounter,
		outputTokensCounter:   outputTokensCounter,
	}, nil
}

// RecordSessionStarted records a new session
func (sm *SessionMetrics) RecordSessionStarted(ctx context.Context, sessionID string) {
	sm.sessionsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
		),
	)
}

// RecordSessionClosed records a session ending
func (sm *SessionMetrics) RecordSessionClosed(ctx context.Context, sessionID string) {
	sm.sessionsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
		),
	)
}

// RecordTurnStarted records a new assistant turn
func (sm *SessionMetrics) RecordTurnStarted(ctx context.Context, sessionID string) {
	sm.turnsStartedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
		),
	)
}

// RecordTurnCompleted records a successful turn
func (sm *SessionMetrics) RecordTurnCompleted(ctx context.Context, sessionID string, duration time.Duration) {
	sm.turnsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("status", "completed"),
		),
	)
	sm.turnDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("status", "completed"),
		),
	)
}

// RecordTurnFailed records a failed turn
func (sm *SessionMetrics) RecordTurnFailed(ctx context.Context, sessionID, errorType string, duration time.Duration) {
	sm.turnsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("status", "failed"),
			attribute.String("error.type", errorType),
		),
	)
	sm.turnDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("status", "failed"),
		),
	)
}

// RecordToolCall records a tool invocation
func (sm *SessionMetrics) RecordToolCall(ctx context.Context, sessionID, tool string) {
	sm.toolCallsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("tool.name", tool),
		),
	)
}

// RecordTokenUsage records LLM token consumption for a turn
func (sm *SessionMetrics) RecordTokenUsage(ctx context.Context, sessionID string, inputTokens, outputTokens int64) {
	attrs := metric.WithAttributes(
		attribute.String("session.id", sessionID),
	)
	if inputTokens > 0 {
		sm.inputTokensCounter.Add(ctx, inputTokens, attrs)
	}
	if outputTokens > 0 {
		sm.outputTokensCounter.Add(ctx, outputTokens, attrs)
	}
}
