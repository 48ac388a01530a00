// ABOUTME: OpenTelemetry tracer and meter providers exported over OTLP/HTTP.
// ABOUTME: Tool-call spans, call counters and duration histograms for snow-mcp.

package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/2389/snow-mcp/internal/telemetry"

// Attribute keys for tool spans and metrics.
var (
	AttrToolName    = attribute.Key("tool.name")
	AttrToolStatus  = attribute.Key("tool.status")
	AttrToolSubject = attribute.Key("tool.subject")
)

// Tool call outcomes.
const (
	StatusOK        = "ok"
	StatusToolError = "tool_error"
	StatusError     = "error"
)

// Instruments holds the tracer and instruments used by tool handlers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	ToolExecutions metric.Int64Counter
	ToolDuration   metric.Float64Histogram
	TokensIssued   metric.Int64Counter
}

// ShutdownFunc flushes and stops the providers.
type ShutdownFunc func(context.Context) error

// Init installs OTLP trace and metric providers as the globals and returns
// instruments bound to them.
func Init(ctx context.Context, serviceName, version string) (*Instruments, ShutdownFunc, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := NewInstruments(tp, mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

// Noop returns instruments bound to the current global providers, which are
// no-ops unless something installed real ones.
func Noop() *Instruments {
	inst, err := NewInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		// Instrument creation on the global providers does not fail.
		panic(err)
	}
	return inst
}

// NewInstruments creates the tool instruments on the given providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)

	toolExecutions, err := meter.Int64Counter("tool.executions",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("tool.duration",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	tokensIssued, err := meter.Int64Counter("jwt.tokens.issued",
		metric.WithDescription("JWTs issued by type"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         tp.Tracer(scopeName),
		Meter:          meter,
		ToolExecutions: toolExecutions,
		ToolDuration:   toolDuration,
		TokensIssued:   tokensIssued,
	}, nil
}

// ToolCall tracks one tool execution from StartTool to End.
type ToolCall struct {
	inst  *Instruments
	name  string
	span  trace.Span
	start time.Time
}

// StartTool opens a "tool.execute" span for the named tool.
func (i *Instruments) StartTool(ctx context.Context, name, subject string) (context.Context, *ToolCall) {
	attrs := []attribute.KeyValue{AttrToolName.String(name)}
	if subject != "" {
		attrs = append(attrs, AttrToolSubject.String(subject))
	}
	ctx, span := i.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(attrs...))
	return ctx, &ToolCall{inst: i, name: name, span: span, start: time.Now()}
}

// End records the outcome, closes the span and returns the elapsed time.
// errMsg is the message reported to the caller when the tool failed; err is
// set only for failures outside the tool's own error envelope.
func (c *ToolCall) End(ctx context.Context, errMsg string, err error) time.Duration {
	elapsed := time.Since(c.start)

	status := StatusOK
	if errMsg != "" {
		status = StatusToolError
		c.span.SetStatus(codes.Error, errMsg)
	}
	if err != nil {
		status = StatusError
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	c.span.SetAttributes(AttrToolStatus.String(status))
	c.span.End()

	c.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(c.name),
		attribute.String("status", status),
	))
	c.inst.ToolDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		AttrToolName.String(c.name),
	))
	return elapsed
}

// RecordTokenIssued counts an issued JWT.
func (i *Instruments) RecordTokenIssued(ctx context.Context, tokenType string) {
	i.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("token.type", tokenType)))
}
