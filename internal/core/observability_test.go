package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

func TestServiceObservabilityHooks(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	tracer := NewJSONTracer(nil)
	var logBuf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&logBuf, nil)))

	svc := NewInMemoryService(nil, WithLogger(logger), WithMetricsRecorder(metrics), WithTracer(tracer))
	ctx := context.Background()

	if _, _, err := svc.AddDoctor(ctx, Doctor{CRM: "1/SP", Name: "A"}); err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	if _, _, err := svc.AddDoctor(ctx, Doctor{}); err == nil {
		t.Fatal("invalid doctor accepted")
	}

	if !metrics.has("add_doctor", true) || !metrics.has("add_doctor", false) {
		t.Fatalf("metrics calls = %+v", metrics.calls)
	}
	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "success" || entries[1].Status != "error" {
		t.Fatalf("trace entries = %+v", entries)
	}
	if !strings.Contains(logBuf.String(), "operation failed") {
		t.Fatalf("failure not logged: %q", logBuf.String())
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "add_certificate", true, 5*time.Millisecond)
	rec.Observe(ctx, "add_certificate", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond) // ignored

	snap := rec.Snapshot()
	op := snap.Operations["add_certificate"]
	if op.Calls != 2 || op.Errors != 1 {
		t.Fatalf("operations = %+v", snap.Operations)
	}
	if op.TotalMS != 8 {
		t.Fatalf("total ms = %v", op.TotalMS)
	}
	if snap.RecordBase != nil {
		t.Fatalf("unbound record base = %+v", snap.RecordBase)
	}
	if rec.Name() == "" {
		t.Fatal("generated name empty")
	}
}

func TestExpvarRecorderPublishesRecordBaseGauges(t *testing.T) {
	svc := NewInMemoryService(nil)
	rec := NewExpvarMetricsRecorder("")
	rec.BindRecordBase(svc.RecordBaseGauges)

	doctor := seedDoctor(t, svc, "100/SP", "Dra. Ana")
	employee := seedEmployee(t, svc, "1", "Carlos", "TI")
	seedCertificate(t, svc, doctor.ID, employee.ID, "2024-01-05", "F41", 7)

	snap := rec.Snapshot()
	if snap.RecordBase == nil {
		t.Fatal("record base gauges missing")
	}
	gauges := *snap.RecordBase
	if gauges.Doctors != 1 || gauges.Employees != 1 || gauges.Certificates != 1 {
		t.Fatalf("gauges = %+v", gauges)
	}
	if gauges.RiskCertificates != 1 || gauges.Attendances != 1 || gauges.DaysOff != 7 {
		t.Fatalf("gauges = %+v", gauges)
	}
	if gauges.LastUpdate.IsZero() {
		t.Fatalf("last update = %v", gauges.LastUpdate)
	}
}

func TestJSONTracerEncodesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)

	_, span := tracer.Start(context.Background(), "stats")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "stats")
	span.End(errors.New("boom"))

	if got := len(tracer.Entries()); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"error":"boom"`) {
		t.Fatalf("encoded lines = %q", lines)
	}
}
