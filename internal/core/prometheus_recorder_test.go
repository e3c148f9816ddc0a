package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	ctx := context.Background()

	rec.Observe(ctx, "add_doctor", true, 10*time.Millisecond)
	rec.Observe(ctx, "add_doctor", true, 20*time.Millisecond)
	rec.Observe(ctx, "add_doctor", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond) // ignored

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := map[string]bool{}
	for _, mf := range families {
		byName[mf.GetName()] = true
		if mf.GetName() == "certcore_operations_total" {
			var total float64
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			if total != 3 {
				t.Fatalf("operations total = %v, want 3", total)
			}
		}
	}
	if !byName["certcore_operations_total"] || !byName["certcore_operation_duration_seconds"] {
		t.Fatalf("metric families = %v", byName)
	}
}
