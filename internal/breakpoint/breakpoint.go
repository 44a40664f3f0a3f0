// Package breakpoint implements declarative suspension points attached to
// (job, routine|slot|event|connection). Routine breakpoints are applied as
// a per-(job, routine) activation-policy override that the scheduler
// consults ahead of the routine's own policy (see worker/scheduler), which
// is what makes restoration exact: the routine's real policy is never
// touched, so removing the override simply uncovers it again. Slot, event,
// and connection breakpoints instead intercept traversal at the
// corresponding enqueue/emit point — the scheduler calls InterceptSlot,
// InterceptEvent or InterceptConnection before performing that action. The spec prescribes these two distinct
// mechanisms and forbids mixing them.
package breakpoint

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/routilux/routilux-go/internal/apierr"
)

type Kind string

const (
	KindRoutine    Kind = "routine"
	KindSlot       Kind = "slot"
	KindEvent      Kind = "event"
	KindConnection Kind = "connection"
)

// Target names what a breakpoint watches. Only the fields relevant to Kind
// are populated; the scheduler knows which to read from Kind.
type Target struct {
	RoutineID string // KindRoutine, KindSlot (owning routine), KindEvent (owning routine)
	SlotName  string // KindSlot
	EventName string // KindEvent

	SourceRoutine string // KindConnection
	SourceEvent   string // KindConnection
	TargetRoutine string // KindConnection
	TargetSlot    string // KindConnection
}

// Breakpoint is a declarative suspension point scoped to one job.
type Breakpoint struct {
	ID        string
	JobID     string
	Kind      Kind
	Target    Target
	Condition string // optional expression, evaluated by the debug facility

	mu       sync.Mutex
	enabled  bool
	hitCount int
}

func (b *Breakpoint) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled is idempotent for equal values: toggling to the state it
// already holds performs no extra bookkeeping and cannot fail.
func (b *Breakpoint) SetEnabled(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = v
}

func (b *Breakpoint) HitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hitCount
}

func (b *Breakpoint) recordHit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hitCount++
}

// Registry owns every breakpoint across all jobs, indexed for the fast
// per-event lookups the scheduler needs on every candidate firing/
// enqueue/emit.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Breakpoint
	byJob    map[string][]string // job_id -> breakpoint ids, insertion order
}

func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[string]*Breakpoint),
		byJob: make(map[string][]string),
	}
}

type Spec struct {
	JobID     string
	Kind      Kind
	Target    Target
	Condition string
	Enabled   bool
}

func (r *Registry) Create(spec Spec) (*Breakpoint, error) {
	if spec.JobID == "" {
		return nil, apierr.BadRequest(apierr.CodeJobNotFound, fmt.Errorf("breakpoint requires a job id"))
	}
	switch spec.Kind {
	case KindRoutine, KindSlot, KindEvent, KindConnection:
	default:
		return nil, apierr.BadRequest(apierr.CodeInternalError, fmt.Errorf("unknown breakpoint kind %q", spec.Kind))
	}
	bp := &Breakpoint{
		ID:        uuid.NewString(),
		JobID:     spec.JobID,
		Kind:      spec.Kind,
		Target:    spec.Target,
		Condition: spec.Condition,
		enabled:   spec.Enabled,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[bp.ID] = bp
	r.byJob[spec.JobID] = append(r.byJob[spec.JobID], bp.ID)
	return bp, nil
}

func (r *Registry) Get(id string) (*Breakpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.byID[id]
	if !ok {
		return nil, apierr.NotFound(apierr.CodeBreakpointNotFound, fmt.Errorf("breakpoint %q", id))
	}
	return bp, nil
}

func (r *Registry) ListForJob(jobID string) []*Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byJob[jobID]
	out := make([]*Breakpoint, 0, len(ids))
	for _, id := range ids {
		if bp, ok := r.byID[id]; ok {
			out = append(out, bp)
		}
	}
	return out
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.byID[id]
	if !ok {
		return apierr.NotFound(apierr.CodeBreakpointNotFound, fmt.Errorf("breakpoint %q", id))
	}
	delete(r.byID, id)
	ids := r.byJob[bp.JobID]
	for i, existing := range ids {
		if existing == id {
			r.byJob[bp.JobID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// RoutineBreakpoints returns the enabled routine-kind breakpoints for
// (jobID, routineID), used by the scheduler to decide whether to install
// the never-firing override ahead of consulting the routine's own policy.
func (r *Registry) RoutineBreakpoints(jobID, routineID string) []*Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Breakpoint
	for _, id := range r.byJob[jobID] {
		bp := r.byID[id]
		if bp == nil || bp.Kind != KindRoutine || !bp.Enabled() {
			continue
		}
		if bp.Target.RoutineID == routineID {
			out = append(out, bp)
		}
	}
	return out
}

// SlotBreakpoint returns the first enabled slot breakpoint matching
// (jobID, routineID, slotName), if any.
func (r *Registry) SlotBreakpoint(jobID, routineID, slotName string) *Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.byJob[jobID] {
		bp := r.byID[id]
		if bp == nil || bp.Kind != KindSlot || !bp.Enabled() {
			continue
		}
		if bp.Target.RoutineID == routineID && bp.Target.SlotName == slotName {
			return bp
		}
	}
	return nil
}

func (r *Registry) EventBreakpoint(jobID, routineID, eventName string) *Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.byJob[jobID] {
		bp := r.byID[id]
		if bp == nil || bp.Kind != KindEvent || !bp.Enabled() {
			continue
		}
		if bp.Target.RoutineID == routineID && bp.Target.EventName == eventName {
			return bp
		}
	}
	return nil
}

func (r *Registry) ConnectionBreakpoint(jobID, connectionID string, sourceRoutine, sourceEvent, targetRoutine, targetSlot string) *Breakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.byJob[jobID] {
		bp := r.byID[id]
		if bp == nil || bp.Kind != KindConnection || !bp.Enabled() {
			continue
		}
		t := bp.Target
		if t.SourceRoutine == sourceRoutine && t.SourceEvent == sourceEvent &&
			t.TargetRoutine == targetRoutine && t.TargetSlot == targetSlot {
			return bp
		}
	}
	return nil
}

// RecordHit increments hit_count on a breakpoint that just intercepted
// traversal or would have fired; callers also write a breakpoint_hit
// ExecutionRecord to the owning JobContext.
func RecordHit(bp *Breakpoint) {
	if bp != nil {
		bp.recordHit()
	}
}
