package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
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

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes spans and exports metrics.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := t.Metrics.Export(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := FromContext(ctx).WithField("operation", operation)

	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// runStateKey is the context key for the in-flight run state.
type runStateKey struct{}

type runState struct {
	span  trace.Span
	timer *Timer
	mode  string
}

// WithRunContext creates a context enriched with run-specific telemetry:
// a run span, a run-scoped logger and a started-run metric.
func WithRunContext(ctx context.Context, runID, mode string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return FromContext(ctx).WithRunID(runID).WithContext(ctx)
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, mode)

	logger := tel.Logger.WithRunID(runID).WithField("mode", mode)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(mode)

	return context.WithValue(spanCtx, runStateKey{}, &runState{
		span:  span,
		timer: NewTimer(),
		mode:  mode,
	})
}

// EndRunContext completes the run context, recording its exit code and duration.
func EndRunContext(ctx context.Context, exitCode int, err error) {
	tel := FromTelemetryContext(ctx)
	state, ok := ctx.Value(runStateKey{}).(*runState)
	if tel == nil || !ok {
		return
	}

	state.span.SetAttributes(AttrRunExitCode.Int(exitCode))
	if err != nil {
		RecordError(state.span, err)
	} else {
		RecordSuccess(state.span)
	}
	state.span.End()

	tel.Metrics.RecordRunCompleted(state.mode, exitCode, state.timer.Duration())
}
