package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/routilux/routilux-go/internal/breakpoint"
	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/jobctx"
)

func newDeps(f *flow.Flow) Deps {
	return Deps{Flow: f, Breakpoints: breakpoint.NewRegistry(), Pending: NewPendingStore()}
}

// passthrough builds a routine that immediately re-emits whatever it
// receives on "in" through event "out", carrying the same param names.
func passthrough(id string, params []string) *flow.Routine {
	r := flow.NewRoutine(id, "passthrough")
	r.AddSlot("in", 0)
	r.AddEvent("out", params)
	r.SetActivationPolicy(flow.Immediate())
	r.SetLogic(func(lc *flow.LogicContext, data map[string][]any) error {
		for _, item := range data["in"] {
			kv, _ := item.(map[string]any)
			if err := lc.Emit("out", kv); err != nil {
				return err
			}
		}
		return nil
	})
	return r
}

func sink(id string) *flow.Routine {
	r := flow.NewRoutine(id, "sink")
	r.AddSlot("in", 0)
	r.SetActivationPolicy(flow.Immediate())
	r.SetLogic(func(lc *flow.LogicContext, data map[string][]any) error {
		var received []map[string]any
		for _, item := range data["in"] {
			kv, _ := item.(map[string]any)
			received = append(received, kv)
		}
		lc.SetJobData("received", received)
		return nil
	})
	return r
}

// TestLinearPipeline covers scenario 1: echo -> delay -> printer (delay here
// is a passthrough; the scheduler core does not model wall-clock delay
// routines itself, that belongs to the routine library).
func TestLinearPipeline(t *testing.T) {
	f := flow.New("", "linear")
	echo := passthrough("echo", []string{"data"})
	mid := passthrough("mid", []string{"data"})
	out := sink("printer")
	_ = f.AddRoutine(echo)
	_ = f.AddRoutine(mid)
	_ = f.AddRoutine(out)
	if _, err := f.Connect("echo", "out", "mid", "in", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Connect("mid", "out", "printer", "in", nil); err != nil {
		t.Fatal(err)
	}

	jc := jobctx.New("job-1", "worker-1", f.ID, 100)
	deps := newDeps(f)
	if paused, err := Inject(jc, deps, "echo", "in", map[string]any{"data": "hello"}); err != nil || paused {
		t.Fatalf("inject failed: paused=%v err=%v", paused, err)
	}
	outcome := RunLoop(context.Background(), jc, deps)
	if outcome != OutcomeQuiescent {
		t.Fatalf("expected quiescent, got %s", outcome)
	}

	printer, _ := f.GetRoutine("printer")
	received, _ := jc.GetRoutineData(printer.ID, "received")
	list, _ := received.([]map[string]any)
	if len(list) != 1 || list[0]["data"] != "hello" {
		t.Fatalf("printer did not receive expected payload: %v", list)
	}
}

// TestBatchCollection covers scenario 2: three payloads collected by a
// batch_size(3) policy and emitted as one ordered list.
func TestBatchCollection(t *testing.T) {
	f := flow.New("", "batch")
	src := flow.NewRoutine("src", "source")
	src.AddSlot("trigger", 0)
	src.AddEvent("out", []string{"data"})
	src.SetActivationPolicy(flow.Immediate())
	src.SetLogic(func(lc *flow.LogicContext, data map[string][]any) error {
		for _, item := range data["trigger"] {
			if err := lc.Emit("out", item.(map[string]any)); err != nil {
				return err
			}
		}
		return nil
	})

	batcher := flow.NewRoutine("batcher", "batch")
	batcher.AddSlot("in", 0)
	batcher.AddEvent("out", []string{"items"})
	batcher.SetActivationPolicy(flow.BatchSize("in", 3))
	batcher.SetLogic(func(lc *flow.LogicContext, data map[string][]any) error {
		var items []any
		for _, item := range data["in"] {
			kv := item.(map[string]any)
			items = append(items, kv["data"])
		}
		return lc.Emit("out", map[string]any{"items": items})
	})

	printer := flow.NewRoutine("printer", "sink")
	printer.AddSlot("in", 0)
	printer.SetActivationPolicy(flow.Immediate())
	var fireCount int
	var lastPayload map[string]any
	printer.SetLogic(func(lc *flow.LogicContext, data map[string][]any) error {
		fireCount++
		for _, item := range data["in"] {
			lastPayload = item.(map[string]any)
		}
		return nil
	})

	_ = f.AddRoutine(src)
	_ = f.AddRoutine(batcher)
	_ = f.AddRoutine(printer)
	if _, err := f.Connect("src", "out", "batcher", "in", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Connect("batcher", "out", "printer", "in", nil); err != nil {
		t.Fatal(err)
	}

	jc := jobctx.New("job-1", "worker-1", f.ID, 100)
	deps := newDeps(f)
	for _, v := range []string{"i1", "i2", "i3"} {
		if paused, err := Inject(jc, deps, "src", "trigger", map[string]any{"data": v}); err != nil || paused {
			t.Fatalf("inject %v failed: %v %v", v, paused, err)
		}
	}
	outcome := RunLoop(context.Background(), jc, deps)
	if outcome != OutcomeQuiescent {
		t.Fatalf("expected quiescent, got %s", outcome)
	}
	if fireCount != 1 {
		t.Fatalf("expected batcher to fire exactly once into printer, printer fired %d times", fireCount)
	}
	items, _ := lastPayload["items"].([]any)
	if len(items) != 3 || items[0] != "i1" || items[1] != "i2" || items[2] != "i3" {
		t.Fatalf("expected ordered batch [i1 i2 i3], got %v", items)
	}
}

// TestBackpressure covers scenario 4: a slot with max_queue=2 rejects a
// third delivery with backpressure, and no data is silently dropped (the
// failure is recorded in job history).
func TestBackpressure(t *testing.T) {
	f := flow.New("", "backpressure")
	delay := flow.NewRoutine("delay", "delay")
	delay.AddSlot("input", 2)
	_ = f.AddRoutine(delay)

	jc := jobctx.New("job-1", "worker-1", f.ID, 100)
	deps := newDeps(f)

	var rejected int
	for i := 0; i < 5; i++ {
		// deliver is the scheduler's internal delivery path; exercised
		// directly here to isolate the backpressure invariant from any
		// routine logic's own error-strategy handling.
		if paused, err := deliver(jc, deps, "echo", "out", "delay", "input", map[string]any{"data": i}); err != nil {
			rejected++
		} else if paused {
			t.Fatalf("unexpected pause on injection %d", i)
		}
	}
	if rejected == 0 {
		t.Fatal("expected at least one backpressure rejection across 5 rapid triggers into a max_queue=2 slot")
	}

	foundError := false
	for _, rec := range jc.History() {
		if rec.Kind == jobctx.RecordError {
			foundError = true
		}
	}
	if !foundError {
		t.Fatal("expected backpressure failures to be recorded in job history")
	}
}

// TestRunLoopTimeoutCancelsNotFails covers §5/§7: a deadline exceeded
// context must move the job to cancelled (reason timeout), never failed.
func TestRunLoopTimeoutCancelsNotFails(t *testing.T) {
	f := flow.New("", "timeout")
	echo := passthrough("echo", []string{"data"})
	_ = f.AddRoutine(echo)

	jc := jobctx.New("job-1", "worker-1", f.ID, 100)
	deps := newDeps(f)
	if paused, err := Inject(jc, deps, "echo", "in", map[string]any{"data": "x"}); err != nil || paused {
		t.Fatalf("inject failed: %v %v", paused, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Microsecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	outcome := RunLoop(ctx, jc, deps)
	if outcome != OutcomeTerminal {
		t.Fatalf("expected terminal outcome, got %s", outcome)
	}
	if jc.Status() != jobctx.StatusCancelled {
		t.Fatalf("expected status cancelled on timeout, got %s", jc.Status())
	}

	sawTimeout := false
	for _, rec := range jc.History() {
		if rec.Kind == jobctx.RecordError && rec.Payload == "job_timeout" {
			sawTimeout = true
		}
	}
	if !sawTimeout {
		t.Fatal("expected a job_timeout error record in history")
	}
}

// TestRunLoopPlainCancellationCancelsWithoutTimeoutRecord covers the other
// half: ordinary context cancellation (e.g. Worker.Stop's cancelAll) must
// also cancel, not fail, but must not be mislabeled as a timeout.
func TestRunLoopPlainCancellationCancelsWithoutTimeoutRecord(t *testing.T) {
	f := flow.New("", "cancel")
	echo := passthrough("echo", []string{"data"})
	_ = f.AddRoutine(echo)

	jc := jobctx.New("job-1", "worker-1", f.ID, 100)
	deps := newDeps(f)
	if paused, err := Inject(jc, deps, "echo", "in", map[string]any{"data": "x"}); err != nil || paused {
		t.Fatalf("inject failed: %v %v", paused, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := RunLoop(ctx, jc, deps)
	if outcome != OutcomeTerminal {
		t.Fatalf("expected terminal outcome, got %s", outcome)
	}
	if jc.Status() != jobctx.StatusCancelled {
		t.Fatalf("expected status cancelled, got %s", jc.Status())
	}
	for _, rec := range jc.History() {
		if rec.Kind == jobctx.RecordError && rec.Payload == "job_timeout" {
			t.Fatal("plain cancellation must not be recorded as job_timeout")
		}
	}
}

// TestBreakpointSuspendsRoutineAndResumeRestores covers scenario 5: a
// routine breakpoint blocks firing, then removing it restores the original
// policy so the routine fires once resumed.
func TestBreakpointSuspendsRoutineAndResumeRestores(t *testing.T) {
	f := flow.New("", "bp")
	echo := passthrough("echo", []string{"data"})
	proc := passthrough("processor", []string{"data"})
	out := sink("printer")
	_ = f.AddRoutine(echo)
	_ = f.AddRoutine(proc)
	_ = f.AddRoutine(out)
	_, _ = f.Connect("echo", "out", "processor", "in", nil)
	_, _ = f.Connect("processor", "out", "printer", "in", nil)

	reg := breakpoint.NewRegistry()
	jc := jobctx.New("job-1", "worker-1", f.ID, 100)
	deps := Deps{Flow: f, Breakpoints: reg, Pending: NewPendingStore()}

	bp, err := reg.Create(breakpoint.Spec{
		JobID: jc.JobID, Kind: breakpoint.KindRoutine,
		Target: breakpoint.Target{RoutineID: "processor"}, Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = jc.SetStatus(jobctx.StatusRunning)
	if paused, err := Inject(jc, deps, "echo", "in", map[string]any{"data": "x"}); err != nil || paused {
		t.Fatalf("inject failed: %v %v", paused, err)
	}
	outcome := RunLoop(context.Background(), jc, deps)
	if outcome != OutcomePaused {
		t.Fatalf("expected paused outcome while breakpoint active, got %s", outcome)
	}
	if jc.Status() != jobctx.StatusPaused {
		t.Fatalf("expected job status paused, got %s", jc.Status())
	}
	sawHit := false
	for _, rec := range jc.History() {
		if rec.Kind == jobctx.RecordBreakpointHit {
			sawHit = true
		}
	}
	if !sawHit {
		t.Fatal("expected breakpoint_hit in history")
	}

	if err := reg.Delete(bp.ID); err != nil {
		t.Fatal(err)
	}
	if err := jc.SetStatus(jobctx.StatusRunning); err != nil {
		t.Fatal(err)
	}
	outcome = RunLoop(context.Background(), jc, deps)
	if outcome != OutcomeQuiescent {
		t.Fatalf("expected quiescent after breakpoint removed, got %s", outcome)
	}
	printer, _ := f.GetRoutine("printer")
	received, _ := jc.GetRoutineData(printer.ID, "received")
	list, _ := received.([]map[string]any)
	if len(list) != 1 {
		t.Fatalf("expected printer to receive exactly one payload after resume, got %v", list)
	}
}
