package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sweetpy/intelXv2-sub001/internal/audit"
	"github.com/sweetpy/intelXv2-sub001/internal/audit/domain"
)

// recordCapture stores every Record passed to Emit.
type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func attrs(rec otellog.Record) map[string]otellog.Value {
	out := make(map[string]otellog.Value)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

var _ audit.Sink = (*AuditSink)(nil)

func TestAuditSink_RecordMapping(t *testing.T) {
	c := &recordCapture{}
	sink := NewAuditSinkWithEmitter(c)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	sink.Export(context.Background(), domain.Entry{
		ID:        "entry-1",
		Timestamp: ts,
		UserID:    "user-1",
		Action:    audit.ActionLoginSuccess,
		Resource:  audit.ResourceAuth,
		Success:   true,
		IP:        "10.0.0.1",
		Details:   map[string]any{"email": "a@example.com", "attempts": 2, "remember": true, "other": []int{1}},
	})
	if len(c.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(c.recs))
	}
	rec := c.recs[0]
	if !rec.Timestamp().Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp(), ts)
	}
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("Severity = %v, want Info", rec.Severity())
	}
	if rec.Body().AsString() != audit.ActionLoginSuccess {
		t.Errorf("Body = %q", rec.Body().AsString())
	}

	got := attrs(rec)
	wantStrings := map[string]string{
		"audit.id":           "entry-1",
		"audit.action":       audit.ActionLoginSuccess,
		"audit.resource":     audit.ResourceAuth,
		"user_id":            "user-1",
		"client.address":     "10.0.0.1",
		"audit.detail.email": "a@example.com",
		"audit.detail.other": "[1]",
	}
	for k, want := range wantStrings {
		if got[k].AsString() != want {
			t.Errorf("%s = %q, want %q", k, got[k].AsString(), want)
		}
	}
	if !got["audit.success"].AsBool() || !got["audit.detail.remember"].AsBool() {
		t.Error("bool attributes should be true")
	}
	if got["audit.detail.attempts"].AsInt64() != 2 {
		t.Errorf("audit.detail.attempts = %v, want 2", got["audit.detail.attempts"])
	}
}

func TestAuditSink_FailureIsWarnAndOmitsEmptyFields(t *testing.T) {
	c := &recordCapture{}
	NewAuditSinkWithEmitter(c).Export(context.Background(), domain.Entry{
		Action:   audit.ActionLoginFailed,
		Resource: audit.ResourceAuth,
	})
	rec := c.recs[0]
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("Severity = %v, want Warn", rec.Severity())
	}
	got := attrs(rec)
	if _, ok := got["user_id"]; ok {
		t.Error("user_id should be omitted when empty")
	}
	if _, ok := got["client.address"]; ok {
		t.Error("client.address should be omitted when empty")
	}
}

func TestAuditSink_NilProviders(t *testing.T) {
	sink := NewAuditSink(nil, nil)
	sink.Export(context.Background(), domain.Entry{Action: audit.ActionLogout})
}

func TestAuditSink_SDKProviders(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	meters := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	loggers := sdklog.NewLoggerProvider()
	defer func() { _ = loggers.Shutdown(ctx) }()

	logger := audit.NewLogger(10, NewAuditSink(loggers, meters), nil)
	logger.LogEvent(ctx, "user-1", audit.ActionLoginSuccess, audit.ResourceAuth, true, nil)
	logger.LogEvent(ctx, "", audit.ActionLoginFailed, audit.ResourceAuth, false, nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "intellx.audit.entries" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("Data = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Errorf("audit entries counted = %d, want 2", total)
	}
}
