package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// RecordBaseGauges reports the current size of the record base. The expvar
// recorder publishes them next to the operation counters so a scrape shows
// both traffic and the state it produced.
type RecordBaseGauges struct {
	Doctors          int       `json:"doctors"`
	Employees        int       `json:"employees"`
	Certificates     int       `json:"certificates"`
	RiskCertificates int       `json:"risk_certificates"`
	Attendances      int       `json:"attendances"`
	DaysOff          int       `json:"days_off"`
	LastUpdate       time.Time `json:"last_update"`
}

// RecordBaseFunc supplies the gauges at snapshot time.
type RecordBaseFunc func() RecordBaseGauges

// RecordBaseGauges derives the exportable gauges from the read projections.
func (s *Service) RecordBaseGauges() RecordBaseGauges {
	stats := s.Statistics()
	return RecordBaseGauges{
		Doctors:          stats.TotalDoctors,
		Employees:        stats.TotalEmployees,
		Certificates:     stats.TotalCertificates,
		RiskCertificates: stats.RiskCertificates,
		Attendances:      stats.TotalAttendances,
		DaysOff:          stats.TotalDaysOff,
		LastUpdate:       s.LastUpdate(),
	}
}

// OperationMetrics aggregates the outcomes of one service operation.
type OperationMetrics struct {
	Calls   int64   `json:"calls"`
	Errors  int64   `json:"errors"`
	TotalMS float64 `json:"total_ms"`
}

// ExpvarMetricsSnapshot is the read-only view published under the expvar name.
type ExpvarMetricsSnapshot struct {
	Operations map[string]OperationMetrics `json:"operations"`
	RecordBase *RecordBaseGauges           `json:"record_base,omitempty"`
	RecordedAt time.Time                   `json:"recorded_at"`
}

// ExpvarMetricsRecorder publishes operation counters, and record-base gauges
// when bound, via expvar. It fulfills MetricsRecorder for deployments that
// prefer process-local metrics without an external scrape target.
type ExpvarMetricsRecorder struct {
	name       string
	mu         sync.Mutex
	operations map[string]OperationMetrics
	recordBase RecordBaseFunc
}

// NewExpvarMetricsRecorder constructs a recorder and publishes it under the
// supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("certcore_service_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:       name,
		operations: make(map[string]OperationMetrics),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// BindRecordBase attaches a gauge source, normally Service.RecordBaseGauges.
// Snapshots taken before binding omit the record_base section.
func (r *ExpvarMetricsRecorder) BindRecordBase(fn RecordBaseFunc) {
	r.mu.Lock()
	r.recordBase = fn
	r.mu.Unlock()
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	operations := make(map[string]OperationMetrics, len(r.operations))
	for op, m := range r.operations {
		operations[op] = m
	}
	gaugeFn := r.recordBase
	r.mu.Unlock()

	snap := ExpvarMetricsSnapshot{
		Operations: operations,
		RecordedAt: time.Now().UTC(),
	}
	// The gauge source reads the store, so it runs outside the recorder lock.
	if gaugeFn != nil {
		gauges := gaugeFn()
		snap.RecordBase = &gauges
	}
	return snap
}

// Observe records a service operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	m := r.operations[operation]
	m.Calls++
	if !success {
		m.Errors++
	}
	m.TotalMS += float64(duration) / float64(time.Millisecond)
	r.operations[operation] = m
	r.mu.Unlock()
}

// JSONTraceEntry is one completed span as serialized by JSONTraceTracer.
type JSONTraceEntry struct {
	Seq        uint64    `json:"seq"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer serializes spans to a writer as JSON lines and retains them
// for inspection. Entries carry a process-local sequence so interleaved
// operations stay ordered in the output.
type JSONTraceTracer struct {
	mu      sync.Mutex
	seq     uint64
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer over the writer. A nil writer retains
// spans without encoding them.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements the Tracer interface.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{
		tracer:    t,
		operation: operation,
		started:   time.Now().UTC(),
	}
}

func (t *JSONTraceTracer) emit(entry JSONTraceEntry) {
	t.mu.Lock()
	t.seq++
	entry.Seq = t.seq
	t.entries = append(t.entries, entry)
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
	t.mu.Unlock()
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.tracer.emit(entry)
}
