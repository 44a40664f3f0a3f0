package scheduler

import (
	"github.com/routilux/routilux-go/internal/apierr"
	"github.com/routilux/routilux-go/internal/breakpoint"
	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/jobctx"
)

// Deps bundles what the scheduler needs beyond the job's own state: the
// per-worker routine graph instance, the shared breakpoint registry, and
// the routed-stdout sink to bind before invoking logic.
type Deps struct {
	Flow        *flow.Flow
	Breakpoints *breakpoint.Registry
	Stdout      stdoutBinder
	Pending     *PendingStore
}

// stdoutBinder is the slice of *stdoutrouter.Router the scheduler needs;
// kept as an interface so tests can run without installing a real sink.
type stdoutBinder interface {
	Bind(jobID string)
	Unbind()
}

// deliver attempts one item's worth of delivery into (targetRoutine,
// targetSlot), checking the connection breakpoint (when sourceEvent != "",
// i.e. this delivery came from an emit rather than the entry injection)
// and the slot breakpoint, in that order, before calling Slot.Receive.
//
// If either check intercepts, the job is paused and the pending action is
// stashed for exactly one replay; deliver returns paused=true and a nil
// error (pausing is not itself an error).
func deliver(jc *jobctx.JobContext, d Deps, sourceRoutine, sourceEvent, targetRoutine, targetSlot string, payload map[string]any) (paused bool, err error) {
	if jc.Status().Terminal() {
		return false, nil
	}
	if sourceEvent != "" {
		if breakpoint.InterceptConnection(d.Breakpoints, jc, sourceRoutine, sourceEvent, targetRoutine, targetSlot) {
			d.Pending.set(jc.JobID, &pendingAction{
				sourceRoutine: sourceRoutine, sourceEvent: sourceEvent,
				targetRoutine: targetRoutine, targetSlot: targetSlot, payload: payload,
			})
			return true, nil
		}
	}
	if breakpoint.InterceptSlot(d.Breakpoints, jc, targetRoutine, targetSlot) {
		d.Pending.set(jc.JobID, &pendingAction{
			sourceRoutine: sourceRoutine, sourceEvent: sourceEvent,
			targetRoutine: targetRoutine, targetSlot: targetSlot, payload: payload,
		})
		return true, nil
	}

	tr, ok := d.Flow.GetRoutine(targetRoutine)
	if !ok {
		return false, apierr.NotFound(apierr.CodeRoutineNotFound, errNotFound("routine", targetRoutine))
	}
	slot, ok := tr.Slot(targetSlot)
	if !ok {
		return false, apierr.NotFound(apierr.CodeSlotNotFound, errNotFound("slot", targetSlot))
	}

	var item any = payload
	if err := slot.Receive(jc.JobID, item); err != nil {
		jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordError, RoutineID: targetRoutine, SlotName: targetSlot, Payload: err.Error()})
		return false, err
	}
	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordSlotReceive, RoutineID: targetRoutine, SlotName: targetSlot, Payload: payload})
	return false, nil
}

// emit validates kwargs against the event's declared parameters, checks the
// event breakpoint once for the whole emission, then walks connections in
// registration order delivering to each target. It stops at the first
// delivery that pauses the job (so only one pendingAction is ever
// outstanding) and otherwise keeps going even if an individual delivery
// fails with backpressure, matching "no data is silently dropped" — the
// failure is recorded and the remaining connections still get a chance.
func emit(jc *jobctx.JobContext, d Deps, routineID, eventName string, kwargs map[string]any, strict bool) (paused bool, err error) {
	r, ok := d.Flow.GetRoutine(routineID)
	if !ok {
		return false, apierr.NotFound(apierr.CodeRoutineNotFound, errNotFound("routine", routineID))
	}
	evt, ok := r.Event(eventName)
	if !ok {
		return false, apierr.NotFound(apierr.CodeEventNotFound, errNotFound("event", eventName))
	}
	validated, verr := evt.Validate(kwargs, strict)
	if verr != nil {
		jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordError, RoutineID: routineID, EventName: eventName, Payload: verr.Error()})
		return false, verr
	}

	jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordEventEmit, RoutineID: routineID, EventName: eventName, Payload: validated})

	if breakpoint.InterceptEvent(d.Breakpoints, jc, routineID, eventName) {
		// The whole emission is blocked; nothing has been delivered yet,
		// so there is nothing concrete to replay beyond re-attempting the
		// same emit call. Store a sentinel pending action with no target;
		// the worker's replay path recognizes it and re-issues the emit.
		d.Pending.set(jc.JobID, &pendingAction{sourceRoutine: routineID, sourceEvent: eventName, payload: validated})
		return true, nil
	}

	var lastErr error
	for _, c := range evt.Connections() {
		mapped := c.Apply(validated)
		p, derr := deliver(jc, d, routineID, eventName, c.TargetRoutine, c.TargetSlot, mapped)
		if p {
			return true, nil
		}
		if derr != nil {
			lastErr = derr
		}
	}
	return false, lastErr
}

type notFoundError struct {
	kind string
	name string
}

func (e *notFoundError) Error() string { return e.kind + " not found: " + e.name }

func errNotFound(kind, name string) error { return &notFoundError{kind: kind, name: name} }
