package flow

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/routilux/routilux-go/internal/apierr"
)

// ExecutionStrategy is a hint carried on a Flow about whether its routines
// may fire in parallel within a single job. The scheduler does not read it:
// a job's routines always fire one at a time, whichever strategy is set.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
)

// Flow owns a routine graph: a set of Routines keyed by id and the
// Connections between their events and slots. It performs no execution —
// that is the worker/scheduler's job — so Flow is safe to share read-only
// across any number of workers instantiated from it.
type Flow struct {
	mu sync.RWMutex

	ID   string
	Name string

	routines    map[string]*Routine
	routineIDs  []string // insertion order, for deterministic iteration
	connections []*Connection

	Strategy      ExecutionStrategy
	DefaultParallelism int
}

func New(id, name string) *Flow {
	if id == "" {
		id = uuid.NewString()
	}
	return &Flow{
		ID:       id,
		Name:     name,
		routines: make(map[string]*Routine),
		Strategy: StrategySequential,
	}
}

// AddRoutine registers a routine under its own ID, auto-assigning a uuid if
// the routine has none. Duplicate ids are rejected.
func (f *Flow) AddRoutine(r *Routine) error {
	if r == nil {
		return apierr.BadRequest(apierr.CodeRoutineNotFound, fmt.Errorf("nil routine"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := f.routines[r.ID]; exists {
		return apierr.Conflict(apierr.CodeWorkerAlreadyExists, fmt.Errorf("routine id %q already present in flow", r.ID))
	}
	f.routines[r.ID] = r
	f.routineIDs = append(f.routineIDs, r.ID)
	return nil
}

// Connect validates that the source event and target slot exist and
// appends a Connection to both the flow and the source event's outgoing
// list (which governs emission order).
func (f *Flow) Connect(sourceRoutine, sourceEvent, targetRoutine, targetSlot string, mapping map[string]string) (*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src, ok := f.routines[sourceRoutine]
	if !ok {
		return nil, apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("source routine %q", sourceRoutine))
	}
	tgt, ok := f.routines[targetRoutine]
	if !ok {
		return nil, apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("target routine %q", targetRoutine))
	}
	evt, ok := src.Event(sourceEvent)
	if !ok {
		return nil, apierr.NotFound(apierr.CodeEventNotFound, fmt.Errorf("event %q on routine %q", sourceEvent, sourceRoutine))
	}
	if _, ok := tgt.Slot(targetSlot); !ok {
		return nil, apierr.NotFound(apierr.CodeSlotNotFound, fmt.Errorf("slot %q on routine %q", targetSlot, targetRoutine))
	}

	c := &Connection{
		ID:            uuid.NewString(),
		SourceRoutine: sourceRoutine,
		SourceEvent:   sourceEvent,
		TargetRoutine: targetRoutine,
		TargetSlot:    targetSlot,
		ParamMapping:  mapping,
	}
	f.connections = append(f.connections, c)
	evt.addConnection(c)
	return c, nil
}

func (f *Flow) GetRoutine(id string) (*Routine, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.routines[id]
	return r, ok
}

// Routines returns routines in insertion order. Callers must not mutate
// the returned slice.
func (f *Flow) Routines() []*Routine {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Routine, 0, len(f.routineIDs))
	for _, id := range f.routineIDs {
		out = append(out, f.routines[id])
	}
	return out
}

func (f *Flow) Connections() []*Connection {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*Connection(nil), f.connections...)
}

// Clone instantiates a fresh copy of the graph: every routine cloned (so
// slot queues start empty) and the same connection topology rebuilt
// against the new routine instances by id.
func (f *Flow) Clone() *Flow {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := New(f.ID, f.Name)
	out.Strategy = f.Strategy
	out.DefaultParallelism = f.DefaultParallelism

	for _, id := range f.routineIDs {
		_ = out.AddRoutine(f.routines[id].Clone())
	}
	for _, c := range f.connections {
		src := out.routines[c.SourceRoutine]
		evt, _ := src.Event(c.SourceEvent)
		nc := &Connection{
			ID:            c.ID,
			SourceRoutine: c.SourceRoutine,
			SourceEvent:   c.SourceEvent,
			TargetRoutine: c.TargetRoutine,
			TargetSlot:    c.TargetSlot,
			ParamMapping:  c.ParamMapping,
		}
		out.connections = append(out.connections, nc)
		evt.addConnection(nc)
	}
	return out
}
