package breakpoint

import (
	"github.com/routilux/routilux-go/internal/jobctx"
)

// intercept is the shared tail of InterceptSlot/InterceptEvent/
// InterceptConnection: it records the hit against both the breakpoint and
// the job's execution history, then pauses the job. The caller (worker
// scheduler) must abort the action that triggered the check and retry it
// exactly once after the job is resumed — breakpoint itself does not queue
// or replay anything, since only the scheduler knows how to re-attempt an
// enqueue/emit/traversal.
func intercept(jc *jobctx.JobContext, bp *Breakpoint, routineID string, record jobctx.ExecutionRecord) {
	RecordHit(bp)
	jc.MarkBreakpointActive(bp.ID)
	record.Kind = jobctx.RecordBreakpointHit
	record.RoutineID = routineID
	jc.Record(record)
	_ = jc.SetStatus(jobctx.StatusPaused)
}

// InterceptSlot checks for an enabled slot breakpoint on (routineID,
// slotName) and, if one matches, pauses the job and reports true so the
// caller aborts the delivery instead of completing it.
func InterceptSlot(reg *Registry, jc *jobctx.JobContext, routineID, slotName string) bool {
	bp := reg.SlotBreakpoint(jc.JobID, routineID, slotName)
	if bp == nil {
		return false
	}
	intercept(jc, bp, routineID, jobctx.ExecutionRecord{SlotName: slotName})
	return true
}

// InterceptEvent checks for an enabled event breakpoint on (routineID,
// eventName) ahead of an emit.
func InterceptEvent(reg *Registry, jc *jobctx.JobContext, routineID, eventName string) bool {
	bp := reg.EventBreakpoint(jc.JobID, routineID, eventName)
	if bp == nil {
		return false
	}
	intercept(jc, bp, routineID, jobctx.ExecutionRecord{EventName: eventName})
	return true
}

// InterceptConnection checks for an enabled connection breakpoint ahead of
// traversal from (sourceRoutine.sourceEvent) to (targetRoutine.targetSlot).
func InterceptConnection(reg *Registry, jc *jobctx.JobContext, sourceRoutine, sourceEvent, targetRoutine, targetSlot string) bool {
	bp := reg.ConnectionBreakpoint(jc.JobID, "", sourceRoutine, sourceEvent, targetRoutine, targetSlot)
	if bp == nil {
		return false
	}
	intercept(jc, bp, sourceRoutine, jobctx.ExecutionRecord{EventName: sourceEvent, SlotName: targetSlot})
	return true
}

// RoutineShouldSuspend reports whether routineID has an enabled routine
// breakpoint for this job. The scheduler consults this ahead of the
// routine's own ActivationPolicy and, if true, uses flow.Breakpoint(id) in
// its place for this evaluation only — the routine's real policy is never
// mutated, so there is nothing to restore beyond no longer calling this
// check once the breakpoint is deleted or disabled.
func RoutineShouldSuspend(reg *Registry, jobID, routineID string) bool {
	return len(reg.RoutineBreakpoints(jobID, routineID)) > 0
}
