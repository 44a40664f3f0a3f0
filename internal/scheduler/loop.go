package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/jobctx"
)

// Inject delivers the job's entry-point data into (entryRoutineID,
// entrySlotName). It is the synthetic event mentioned in the spec's job
// lifecycle: there is no source event, so a slot breakpoint is the only
// kind that can intercept it.
func Inject(jc *jobctx.JobContext, d Deps, entryRoutineID, entrySlotName string, data map[string]any) (paused bool, err error) {
	return deliver(jc, d, "", "", entryRoutineID, entrySlotName, data)
}

// ReplayPending retries the single stashed delivery for this job, if any.
// Called by the worker immediately after a resume, before restarting the
// scan loop. If the replay itself pauses again (the breakpoint is still
// enabled), it returns paused=true and the worker must not restart the
// loop.
func ReplayPending(jc *jobctx.JobContext, d Deps) (paused bool, err error) {
	pending := d.Pending.get(jc.JobID)
	if pending == nil {
		return false, nil
	}
	d.Pending.clear(jc.JobID)

	if pending.targetRoutine == "" {
		// The whole emission was blocked by an event breakpoint; redo it.
		return emit(jc, d, pending.sourceRoutine, pending.sourceEvent, pending.payload, isStrict(d, pending.sourceRoutine))
	}
	return deliver(jc, d, pending.sourceRoutine, pending.sourceEvent, pending.targetRoutine, pending.targetSlot, pending.payload)
}

func isStrict(d Deps, routineID string) bool {
	r, ok := d.Flow.GetRoutine(routineID)
	if !ok {
		return false
	}
	v, _ := r.GetConfig("strict_event_schema", false).(bool)
	return v
}

// LoopOutcome tells the worker why RunLoop returned.
type LoopOutcome string

const (
	OutcomeQuiescent LoopOutcome = "quiescent"
	OutcomePaused    LoopOutcome = "paused"
	OutcomeTerminal  LoopOutcome = "terminal"
)

// RunLoop repeatedly scans every routine in the flow, firing whichever
// ones their activation policy approves, until a full pass fires nothing
// (quiescent), a breakpoint pauses the job, or the job reaches a terminal
// status. It never fires more than one routine at a time for this job —
// the per-(job,routine) mutual exclusion the spec requires falls out of
// simply not running any of this concurrently with itself.
func RunLoop(ctx context.Context, jc *jobctx.JobContext, d Deps) LoopOutcome {
	for {
		if jc.Status().Terminal() {
			return OutcomeTerminal
		}
		if jc.Status() == jobctx.StatusPaused {
			return OutcomePaused
		}
		select {
		case <-ctx.Done():
			// §5/§7: a timeout cancels the job, it never fails it — and
			// ordinary shutdown cancellation (Worker.Stop's cancelAll) must
			// not be mislabeled as a timeout either.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordError, Payload: "job_timeout"})
			}
			_ = jc.Cancel()
			return OutcomeTerminal
		default:
		}

		fired := false
		for _, r := range d.Flow.Routines() {
			if jc.Status().Terminal() {
				return OutcomeTerminal
			}
			if jc.Status() == jobctx.StatusPaused {
				return OutcomePaused
			}

			slotsView := make(map[string][]any, len(r.SlotNames()))
			hasAny := false
			for _, name := range r.SlotNames() {
				slot, _ := r.Slot(name)
				items := slot.PeekNew(jc.JobID)
				slotsView[name] = items
				if len(items) > 0 {
					hasAny = true
				}
			}

			suspended := breakpointSuspends(d, jc.JobID, r.ID)
			if suspended {
				if hasAny {
					recordRoutineBreakpointHit(jc, r.ID)
					return OutcomePaused
				}
				continue
			}

			policy := r.ActivationPolicy()
			if policy == nil {
				continue
			}
			decision := policy.Evaluate(flow.ActivationContext{
				JobID:     jc.JobID,
				RoutineID: r.ID,
				Slots:     slotsView,
				Now:       time.Now(),
				State:     jc.RoutineStateSnapshot(r.ID),
			})
			if len(decision.StateUpdates) > 0 {
				jc.MergeRoutineState(r.ID, decision.StateUpdates)
			}
			if !decision.ShouldFire {
				continue
			}

			data := make(map[string][]any, len(decision.Consume))
			for name, n := range decision.Consume {
				slot, ok := r.Slot(name)
				if !ok {
					continue
				}
				data[name] = slot.ConsumeN(jc.JobID, n)
			}

			paused := fireRoutine(ctx, jc, d, r, data)
			fired = true
			if paused {
				return OutcomePaused
			}
			if jc.Status().Terminal() {
				return OutcomeTerminal
			}
		}

		if !fired {
			return OutcomeQuiescent
		}
	}
}

func breakpointSuspends(d Deps, jobID, routineID string) bool {
	if d.Breakpoints == nil {
		return false
	}
	return len(d.Breakpoints.RoutineBreakpoints(jobID, routineID)) > 0
}

func recordRoutineBreakpointHit(jc *jobctx.JobContext, routineID string) {
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordBreakpointHit, RoutineID: routineID})
	_ = jc.SetStatus(jobctx.StatusPaused)
}

// fireRoutine opens one logic-execution frame: binds routed stdout, runs
// logic (retrying per the routine's ErrorStrategy on failure), and records
// routine_start/routine_end. It returns true if an emission made during
// this firing paused the job.
func fireRoutine(ctx context.Context, jc *jobctx.JobContext, d Deps, r *flow.Routine, data map[string][]any) (paused bool) {
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineStart, RoutineID: r.ID, Payload: data})

	logic := r.Logic()
	strategy := r.ErrorStrategy()
	if strategy.Kind == "" {
		strategy = flow.DefaultErrorStrategy()
	}

	var pausedDuringEmit bool
	emitFn := func(eventName string, kwargs map[string]any) error {
		p, err := emit(jc, d, r.ID, eventName, kwargs, isStrict(d, r.ID))
		if p {
			pausedDuringEmit = true
		}
		return err
	}

	lc := &flow.LogicContext{
		Ctx:       ctx,
		JobID:     jc.JobID,
		RoutineID: r.ID,
		Emit:      emitFn,
		GetJobData: func(key string) (any, bool) { return jc.GetRoutineData(r.ID, key) },
		SetJobData: func(key string, val any) { jc.SetRoutineData(r.ID, key, val) },
		Config:    r.ConfigSnapshot(),
	}

	maxAttempts := 1
	if flow.ErrorStrategyKind(strategy.Kind) == flow.ErrorRetry {
		maxAttempts = strategy.MaxAttempts
		if maxAttempts < 1 {
			maxAttempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if d.Stdout != nil {
			d.Stdout.Bind(jc.JobID)
		}
		lastErr = runLogicSafely(logic, lc, data)
		if d.Stdout != nil {
			d.Stdout.Unbind()
		}
		if lastErr == nil {
			break
		}
		if pausedDuringEmit {
			// The job is already paused from an emission inside this
			// firing; stop retrying and let the caller return paused.
			break
		}
		if attempt < maxAttempts {
			jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordError, RoutineID: r.ID, Payload: lastErr.Error()})
			time.Sleep(strategy.Delay(attempt, rand.Float64))
		}
	}

	if lastErr != nil && !pausedDuringEmit {
		jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordError, RoutineID: r.ID, Payload: lastErr.Error()})
		effective := flow.ErrorStrategyKind(strategy.Kind)
		if effective == flow.ErrorRetry {
			effective = flow.ErrorStrategyKind(strategy.Fallback)
			if effective == "" {
				effective = flow.ErrorStop
			}
		}
		if effective == flow.ErrorStop {
			_ = jc.Fail(lastErr)
		}
		// ErrorContinue: already recorded, scheduling carries on.
	}

	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordRoutineEnd, RoutineID: r.ID, Payload: errString(lastErr)})
	return pausedDuringEmit
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// runLogicSafely invokes logic and converts a panic into an error so one
// misbehaving routine cannot take down the worker's scheduler goroutine.
func runLogicSafely(logic flow.LogicFunc, lc *flow.LogicContext, data map[string][]any) (err error) {
	if logic == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError{rec}
		}
	}()
	return logic(lc, data)
}

type panicError struct{ rec any }

func (p panicError) Error() string { return "routine logic panicked" }
