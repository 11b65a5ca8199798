package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the four pillars behind one handle. Components are always
// non-nil; disabled ones degrade to no-ops.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds all four components.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext embeds the telemetry handle (and its logger) in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the handle embedded in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown stops the event publisher, then the tracer. The metrics endpoint
// keeps serving; scrapes may arrive until the very end of the process.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush exports pending spans immediately.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

type fetchSpanKey struct{}
type fetchTimerKey struct{}

// WithFetchContext opens the span covering one plan retrieval and records the
// start in metrics and events. Close it with EndFetchContext.
func WithFetchContext(ctx context.Context, workspaceID, runID string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartFetchSpan(ctx, workspaceID, runID)
	spanCtx = tel.Logger.WithWorkspaceID(workspaceID).WithRunID(runID).WithContext(spanCtx)

	tel.Metrics.RecordFetchStarted()
	_ = tel.Events.PublishFetchStarted(workspaceID, runID)

	spanCtx = context.WithValue(spanCtx, fetchSpanKey{}, span)
	return context.WithValue(spanCtx, fetchTimerKey{}, NewTimer())
}

// EndFetchContext closes the retrieval span and records duration, outcome
// metrics, and the completion or failure event.
func EndFetchContext(ctx context.Context, workspaceID, runID, operation, category string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(fetchSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	timer, _ := ctx.Value(fetchTimerKey{}).(*Timer)

	status := "success"
	if err != nil {
		status = "failure"
	}
	if timer != nil {
		tel.Metrics.RecordFetchCompleted(status, timer.Duration())
	}

	if err != nil {
		_ = tel.Events.PublishFetchFailed(workspaceID, runID, operation, category)
	} else if timer != nil {
		_ = tel.Events.PublishFetchCompleted(workspaceID, runID, timer.Duration())
	}
}
