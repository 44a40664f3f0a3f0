package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/routilux/routilux-go/internal/jobctx"
)

func routineAttr(routineID string) attribute.KeyValue {
	return attribute.String("routilux.routine_id", routineID)
}

// RoutineStats is the Go form of original_source's RoutineMetricsResponse:
// cumulative execution counters for one routine_id across every job a
// Monitor has ingested.
type RoutineStats struct {
	RoutineID      string
	ExecutionCount int
	TotalDuration  time.Duration
	MinDuration    time.Duration
	MaxDuration    time.Duration
	ErrorCount     int
	LastExecution  time.Time
}

func (s RoutineStats) AvgDuration() time.Duration {
	if s.ExecutionCount == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.ExecutionCount)
}

// ExecutionError mirrors one entry of ExecutionMetricsResponse.errors.
type ExecutionError struct {
	RoutineID string
	Timestamp time.Time
	Message   string
}

// ExecutionMetrics is the Go form of original_source's
// ExecutionMetricsResponse: a per-job rollup derived from its history.
type ExecutionMetrics struct {
	JobID           string
	FlowID          string
	StartTime       time.Time
	EndTime         time.Time
	RoutineMetrics  map[string]RoutineStats
	TotalEvents     int
	TotalSlotCalls  int
	TotalEventEmits int
	Errors          []ExecutionError
}

func (m ExecutionMetrics) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// Monitor derives ExecutionMetrics from a JobContext's history and keeps a
// cumulative, cross-job RoutineStats table, while also emitting the same
// facts as OpenTelemetry metric instruments for external scraping. It holds
// no reference to the scheduler: it observes after the fact, the same way
// the teacher's Metrics type observes HTTP/worker activity after the fact
// rather than being threaded through the call stack.
type Monitor struct {
	routineExec  metric.Int64Counter
	routineDur   metric.Float64Histogram
	routineErr   metric.Int64Counter
	jobEvents    metric.Int64Counter
	backpressure metric.Int64Counter

	mu       sync.Mutex
	routines map[string]*RoutineStats
}

// NewMonitor builds a Monitor against the given MeterProvider. Passing nil
// uses the otel global provider (a no-op until InitMetrics is called).
func NewMonitor(mp metric.MeterProvider) (*Monitor, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("github.com/routilux/routilux-go")

	routineExec, err := meter.Int64Counter("routilux.routine.executions",
		metric.WithDescription("Routine firings by routine_id."))
	if err != nil {
		return nil, err
	}
	routineDur, err := meter.Float64Histogram("routilux.routine.duration",
		metric.WithDescription("Routine firing duration in seconds."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	routineErr, err := meter.Int64Counter("routilux.routine.errors",
		metric.WithDescription("Routine firings that recorded an error."))
	if err != nil {
		return nil, err
	}
	jobEvents, err := meter.Int64Counter("routilux.job.history_events",
		metric.WithDescription("Job history records ingested, by kind."))
	if err != nil {
		return nil, err
	}
	backpressure, err := meter.Int64Counter("routilux.slot.backpressure",
		metric.WithDescription("Backpressure rejections observed in job history."))
	if err != nil {
		return nil, err
	}

	return &Monitor{
		routineExec:  routineExec,
		routineDur:   routineDur,
		routineErr:   routineErr,
		jobEvents:    jobEvents,
		backpressure: backpressure,
		routines:     make(map[string]*RoutineStats),
	}, nil
}

// InitMetrics installs a global MeterProvider exporting to stdout on a
// periodic reader, mirroring InitTracing's stdout-only posture.
func InitMetrics(ctx context.Context, interval time.Duration) (func(context.Context) error, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Ingest walks jc's history to compute its ExecutionMetrics rollup, same as
// Compute, but additionally folds every routine's stats into the Monitor's
// cumulative table and records the same facts as metric instrument data
// points. Call this exactly once per job, when it reaches a terminal or
// quiescent outcome — calling it more than once double-counts the
// cumulative table.
func (m *Monitor) Ingest(jc *jobctx.JobContext) ExecutionMetrics {
	return m.compute(jc, true)
}

// Compute derives a job's ExecutionMetrics rollup from its current history
// without mutating any Monitor state. Safe to call any number of times,
// including against a still-running job, e.g. for a metrics-polling
// endpoint.
func (m *Monitor) Compute(jc *jobctx.JobContext) ExecutionMetrics {
	return m.compute(jc, false)
}

func (m *Monitor) compute(jc *jobctx.JobContext, fold bool) ExecutionMetrics {
	hist := jc.History()
	out := ExecutionMetrics{
		JobID:          jc.JobID,
		FlowID:         jc.FlowID,
		RoutineMetrics: make(map[string]RoutineStats),
	}

	openStart := make(map[string][]time.Time)
	ctx := context.Background()

	for _, rec := range hist {
		if out.StartTime.IsZero() || rec.Timestamp.Before(out.StartTime) {
			out.StartTime = rec.Timestamp
		}
		if rec.Timestamp.After(out.EndTime) {
			out.EndTime = rec.Timestamp
		}
		if fold {
			m.jobEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("routilux.record_kind", string(rec.Kind))))
		}

		switch rec.Kind {
		case jobctx.RecordRoutineStart:
			out.TotalEvents++
			openStart[rec.RoutineID] = append(openStart[rec.RoutineID], rec.Timestamp)

		case jobctx.RecordRoutineEnd:
			var dur time.Duration
			if starts := openStart[rec.RoutineID]; len(starts) > 0 {
				start := starts[len(starts)-1]
				openStart[rec.RoutineID] = starts[:len(starts)-1]
				dur = rec.Timestamp.Sub(start)
			}
			stats := out.RoutineMetrics[rec.RoutineID]
			stats.RoutineID = rec.RoutineID
			stats.ExecutionCount++
			stats.TotalDuration += dur
			if stats.MinDuration == 0 || dur < stats.MinDuration {
				stats.MinDuration = dur
			}
			if dur > stats.MaxDuration {
				stats.MaxDuration = dur
			}
			stats.LastExecution = rec.Timestamp
			out.RoutineMetrics[rec.RoutineID] = stats

			if fold {
				m.routineExec.Add(ctx, 1, metric.WithAttributes(routineAttr(rec.RoutineID)))
				m.routineDur.Record(ctx, dur.Seconds(), metric.WithAttributes(routineAttr(rec.RoutineID)))
				m.foldCumulative(rec.RoutineID, dur, false)
			}

		case jobctx.RecordSlotReceive:
			out.TotalSlotCalls++

		case jobctx.RecordEventEmit:
			out.TotalEventEmits++

		case jobctx.RecordBreakpointHit:
			// Not counted toward execution metrics; visible via history.

		case jobctx.RecordError:
			msg := ""
			if err, ok := rec.Payload.(error); ok {
				msg = err.Error()
			} else if s, ok := rec.Payload.(string); ok {
				msg = s
			}
			out.Errors = append(out.Errors, ExecutionError{RoutineID: rec.RoutineID, Timestamp: rec.Timestamp, Message: msg})
			if fold {
				m.routineErr.Add(ctx, 1, metric.WithAttributes(routineAttr(rec.RoutineID)))
				m.foldCumulative(rec.RoutineID, 0, true)
				if isBackpressure(msg) {
					m.backpressure.Add(ctx, 1, metric.WithAttributes(routineAttr(rec.RoutineID)))
				}
			}
		}
	}
	return out
}

func (m *Monitor) foldCumulative(routineID string, dur time.Duration, isError bool) {
	if routineID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.routines[routineID]
	if !ok {
		s = &RoutineStats{RoutineID: routineID}
		m.routines[routineID] = s
	}
	if isError {
		s.ErrorCount++
		return
	}
	s.ExecutionCount++
	s.TotalDuration += dur
	if s.MinDuration == 0 || dur < s.MinDuration {
		s.MinDuration = dur
	}
	if dur > s.MaxDuration {
		s.MaxDuration = dur
	}
	s.LastExecution = time.Now()
}

// RoutineMetrics returns the cumulative, cross-job stats for one routine_id.
func (m *Monitor) RoutineMetrics(routineID string) (RoutineStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.routines[routineID]
	if !ok {
		return RoutineStats{}, false
	}
	return *s, true
}

// AllRoutineMetrics returns a snapshot of every routine_id the Monitor has
// cumulative stats for.
func (m *Monitor) AllRoutineMetrics() map[string]RoutineStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]RoutineStats, len(m.routines))
	for k, v := range m.routines {
		out[k] = *v
	}
	return out
}

func isBackpressure(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "backpressure")
}
