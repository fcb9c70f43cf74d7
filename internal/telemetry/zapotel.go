package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ZapLogger adapts a *zap.Logger to the Logger port.
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger wraps z as a Logger.
func NewZapLogger(z *zap.Logger) Logger {
	return &ZapLogger{z: z}
}

func (l *ZapLogger) Debug(_ context.Context, msg string, kv ...any) {
	l.z.Sugar().Debugw(msg, kv...)
}

func (l *ZapLogger) Info(_ context.Context, msg string, kv ...any) {
	l.z.Sugar().Infow(msg, kv...)
}

func (l *ZapLogger) Warn(_ context.Context, msg string, kv ...any) {
	l.z.Sugar().Warnw(msg, kv...)
}

func (l *ZapLogger) Error(_ context.Context, msg string, kv ...any) {
	l.z.Sugar().Errorw(msg, kv...)
}

// OtelMetrics adapts an OpenTelemetry meter to the Metrics port. Counters and
// timers are created lazily and cached by name since OTel instruments are
// meant to be long-lived.
type OtelMetrics struct {
	meter    metric.Meter
	counters map[string]metric.Float64Counter
	timers   map[string]metric.Float64Histogram
}

// NewOtelMetrics constructs a Metrics recorder backed by the global OTel
// meter provider under the given instrumentation name.
func NewOtelMetrics(instrumentationName string) *OtelMetrics {
	return &OtelMetrics{
		meter:    otel.Meter(instrumentationName),
		counters: make(map[string]metric.Float64Counter),
		timers:   make(map[string]metric.Float64Histogram),
	}
}

func (m *OtelMetrics) IncCounter(name string, value float64, labels ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(labelAttrs(labels)...))
}

func (m *OtelMetrics) RecordTimer(name string, d time.Duration, labels ...string) {
	h, ok := m.timers[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			return
		}
		m.timers[name] = h
	}
	h.Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(labelAttrs(labels)...))
}

func labelAttrs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}

// OtelTracer adapts an OpenTelemetry tracer to the Tracer port.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer constructs a Tracer backed by the global OTel tracer
// provider under the given instrumentation name.
func NewOtelTracer(instrumentationName string) *OtelTracer {
	return &OtelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *OtelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(otelcodes.Error, err.Error())
}

func (s *otelSpan) SetAttr(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmtAny(v)))
	}
}

func fmtAny(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}
