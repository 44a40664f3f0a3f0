package observability

import (
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/routilux/routilux-go/internal/jobctx"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	mp := metric.NewMeterProvider()
	mon, err := NewMonitor(mp)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return mon
}

func TestIngestPairsRoutineStartAndEndIntoDuration(t *testing.T) {
	jc := jobctx.New("job-1", "worker-1", "flow-1", 100)
	start := time.Now()
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineStart, Timestamp: start, RoutineID: "r1"})
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineEnd, Timestamp: start.Add(50 * time.Millisecond), RoutineID: "r1"})

	mon := newTestMonitor(t)
	metrics := mon.Ingest(jc)

	stats, ok := metrics.RoutineMetrics["r1"]
	if !ok {
		t.Fatalf("expected routine r1 in rollup, got %+v", metrics.RoutineMetrics)
	}
	if stats.ExecutionCount != 1 {
		t.Fatalf("expected execution count 1, got %d", stats.ExecutionCount)
	}
	if stats.TotalDuration < 50*time.Millisecond {
		t.Fatalf("expected duration >= 50ms, got %s", stats.TotalDuration)
	}
	if metrics.TotalEvents != 1 {
		t.Fatalf("expected total events 1, got %d", metrics.TotalEvents)
	}
}

func TestIngestCountsSlotCallsAndEventEmits(t *testing.T) {
	jc := jobctx.New("job-1", "worker-1", "flow-1", 100)
	now := time.Now()
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordSlotReceive, Timestamp: now, RoutineID: "r1", SlotName: "in"})
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordEventEmit, Timestamp: now, RoutineID: "r1", EventName: "out"})
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordEventEmit, Timestamp: now, RoutineID: "r1", EventName: "out"})

	mon := newTestMonitor(t)
	metrics := mon.Ingest(jc)

	if metrics.TotalSlotCalls != 1 {
		t.Fatalf("expected 1 slot call, got %d", metrics.TotalSlotCalls)
	}
	if metrics.TotalEventEmits != 2 {
		t.Fatalf("expected 2 event emits, got %d", metrics.TotalEventEmits)
	}
}

func TestIngestCollectsErrorsAndCumulativeErrorCount(t *testing.T) {
	jc := jobctx.New("job-1", "worker-1", "flow-1", 100)
	now := time.Now()
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordError, Timestamp: now, RoutineID: "r1", Payload: errors.New("boom")})

	mon := newTestMonitor(t)
	metrics := mon.Ingest(jc)

	if len(metrics.Errors) != 1 || metrics.Errors[0].Message != "boom" {
		t.Fatalf("expected one error with message boom, got %+v", metrics.Errors)
	}
	stats, ok := mon.RoutineMetrics("r1")
	if !ok || stats.ErrorCount != 1 {
		t.Fatalf("expected cumulative error count 1, got %+v ok=%v", stats, ok)
	}
}

func TestIngestAccumulatesAcrossMultipleJobs(t *testing.T) {
	mon := newTestMonitor(t)
	now := time.Now()

	jc1 := jobctx.New("job-1", "worker-1", "flow-1", 100)
	jc1.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineStart, Timestamp: now, RoutineID: "r1"})
	jc1.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineEnd, Timestamp: now.Add(10 * time.Millisecond), RoutineID: "r1"})
	mon.Ingest(jc1)

	jc2 := jobctx.New("job-2", "worker-1", "flow-1", 100)
	jc2.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineStart, Timestamp: now, RoutineID: "r1"})
	jc2.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineEnd, Timestamp: now.Add(20 * time.Millisecond), RoutineID: "r1"})
	mon.Ingest(jc2)

	stats, ok := mon.RoutineMetrics("r1")
	if !ok {
		t.Fatal("expected cumulative stats for r1")
	}
	if stats.ExecutionCount != 2 {
		t.Fatalf("expected cumulative execution count 2 across jobs, got %d", stats.ExecutionCount)
	}
}

func TestAllRoutineMetricsReturnsSnapshotCopy(t *testing.T) {
	mon := newTestMonitor(t)
	jc := jobctx.New("job-1", "worker-1", "flow-1", 100)
	now := time.Now()
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineStart, Timestamp: now, RoutineID: "r1"})
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineEnd, Timestamp: now, RoutineID: "r1"})
	mon.Ingest(jc)

	snap := mon.AllRoutineMetrics()
	if len(snap) != 1 {
		t.Fatalf("expected 1 routine in snapshot, got %d", len(snap))
	}
	s := snap["r1"]
	s.ExecutionCount = 999
	fresh, _ := mon.RoutineMetrics("r1")
	if fresh.ExecutionCount == 999 {
		t.Fatal("expected snapshot mutation not to affect monitor state")
	}
}

func TestExecutionMetricsDurationUsesStartAndEndTimestamps(t *testing.T) {
	jc := jobctx.New("job-1", "worker-1", "flow-1", 100)
	start := time.Now()
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineStart, Timestamp: start, RoutineID: "r1"})
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineEnd, Timestamp: start.Add(100 * time.Millisecond), RoutineID: "r1"})

	mon := newTestMonitor(t)
	metrics := mon.Ingest(jc)
	if metrics.Duration() < 100*time.Millisecond {
		t.Fatalf("expected job duration >= 100ms, got %s", metrics.Duration())
	}
}
