package otel

import (
	"context"
	"fmt"
	"log"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpy/intelXv2-sub001/internal/audit/domain"
)

const instrumentationName = "intellx.audit"

// RecordEmitter is the subset of otellog.Logger used by AuditSink.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// AuditSink mirrors audit entries as OTel log records, counts them, and annotates the active span.
// It implements audit.Sink.
type AuditSink struct {
	emitter RecordEmitter
	entries otelmetric.Int64Counter
}

// NewAuditSink returns a sink emitting through loggers and meters from the given providers.
// Either provider may be nil, which disables that signal.
func NewAuditSink(loggers otellog.LoggerProvider, meters otelmetric.MeterProvider) *AuditSink {
	var emitter RecordEmitter
	if loggers != nil {
		emitter = loggers.Logger(instrumentationName)
	}
	return newAuditSink(emitter, meters)
}

// NewAuditSinkWithEmitter returns a sink writing log records to emitter, without metrics.
func NewAuditSinkWithEmitter(emitter RecordEmitter) *AuditSink {
	return newAuditSink(emitter, nil)
}

func newAuditSink(emitter RecordEmitter, meters otelmetric.MeterProvider) *AuditSink {
	s := &AuditSink{emitter: emitter}
	if meters != nil {
		counter, err := meters.Meter(instrumentationName).Int64Counter(
			"intellx.audit.entries",
			otelmetric.WithDescription("Audit entries recorded, by action and outcome."),
		)
		if err != nil {
			log.Printf("telemetry: audit counter: %v", err)
		} else {
			s.entries = counter
		}
	}
	return s
}

// Export implements audit.Sink.
func (s *AuditSink) Export(ctx context.Context, e domain.Entry) {
	if s.entries != nil {
		s.entries.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("action", e.Action),
			attribute.Bool("success", e.Success),
		))
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("audit", trace.WithAttributes(
			attribute.String("audit.action", e.Action),
			attribute.String("audit.resource", e.Resource),
			attribute.Bool("audit.success", e.Success),
		))
	}
	if s.emitter != nil {
		s.emitter.Emit(ctx, entryRecord(e))
	}
}

func entryRecord(e domain.Entry) otellog.Record {
	var rec otellog.Record
	rec.SetTimestamp(e.Timestamp)
	rec.SetObservedTimestamp(e.Timestamp)
	if e.Success {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	} else {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}
	rec.SetBody(otellog.StringValue(e.Action))
	rec.AddAttributes(
		otellog.String("audit.id", e.ID),
		otellog.String("audit.action", e.Action),
		otellog.String("audit.resource", e.Resource),
		otellog.Bool("audit.success", e.Success),
	)
	if e.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.UserID))
	}
	if e.IP != "" {
		rec.AddAttributes(otellog.String("client.address", e.IP))
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.AddAttributes(otellog.KeyValue{Key: "audit.detail." + k, Value: logValue(e.Details[k])})
	}
	return rec
}

func logValue(v any) otellog.Value {
	switch t := v.(type) {
	case string:
		return otellog.StringValue(t)
	case bool:
		return otellog.BoolValue(t)
	case int:
		return otellog.IntValue(t)
	case int64:
		return otellog.Int64Value(t)
	case float64:
		return otellog.Float64Value(t)
	case nil:
		return otellog.Value{}
	default:
		return otellog.StringValue(fmt.Sprintf("%v", t))
	}
}
