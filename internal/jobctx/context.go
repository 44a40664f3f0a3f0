// Package jobctx holds everything that is mutable during one execution of
// a flow: status, per-routine scratch state, execution history, and the
// breakpoint id set consulted by the scheduler. JobContext is exclusively
// owned by the worker processing it — only that worker's scheduler
// goroutine mutates RoutineStates and the history; everything else here
// takes the lock for safe concurrent reads (status polling, job listing).
package jobctx

import (
	"sync"
	"time"
)

type JobContext struct {
	JobID  string
	WorkerID string
	FlowID string

	IdempotencyKey string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// ExplicitCompletion, when true, means this job only reaches
	// completed via an explicit Complete() call rather than automatically
	// on first quiescence. Opt-in per the caller-determined default noted
	// in the scheduling design.
	ExplicitCompletion bool

	mu              sync.Mutex
	status          Status
	lastErr         error
	metadata        map[string]any
	routineStates   map[string]map[string]any
	sharedData      map[string]any
	hist            *history
	activeBreakpoints map[string]bool
}

func New(jobID, workerID, flowID string, historyCap int) *JobContext {
	return &JobContext{
		JobID:             jobID,
		WorkerID:          workerID,
		FlowID:            flowID,
		CreatedAt:         time.Now(),
		status:            StatusPending,
		metadata:          make(map[string]any),
		routineStates:     make(map[string]map[string]any),
		sharedData:        make(map[string]any),
		hist:              newHistory(historyCap),
		activeBreakpoints: make(map[string]bool),
	}
}

func (jc *JobContext) Status() Status {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.status
}

func (jc *JobContext) LastError() error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.lastErr
}

// SetStatus attempts the transition per the status DAG. It returns
// *ErrInvalidTransition without mutating state when the move is illegal,
// preserving monotonicity of terminal states.
func (jc *JobContext) SetStatus(to Status) error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.setStatusLocked(to, nil)
}

// Fail moves the job to failed and records the error, unless it is already
// terminal (in which case the call is a no-op, matching absorbing terminal
// states).
func (jc *JobContext) Fail(err error) error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if jc.status.Terminal() {
		return nil
	}
	return jc.setStatusLocked(StatusFailed, err)
}

func (jc *JobContext) Cancel() error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if jc.status.Terminal() {
		return nil
	}
	return jc.setStatusLocked(StatusCancelled, nil)
}

func (jc *JobContext) Complete() error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if jc.status.Terminal() {
		return nil
	}
	return jc.setStatusLocked(StatusCompleted, nil)
}

func (jc *JobContext) setStatusLocked(to Status, err error) error {
	if !CanTransition(jc.status, to) {
		return &ErrInvalidTransition{From: jc.status, To: to}
	}
	now := time.Now()
	if jc.status == StatusPending && to == StatusRunning && jc.StartedAt == nil {
		jc.StartedAt = &now
	}
	jc.status = to
	if err != nil {
		jc.lastErr = err
	}
	if to.Terminal() {
		jc.CompletedAt = &now
	}
	return nil
}

// GetRoutineData returns the value stored under key in one routine's
// job-scoped state bag and whether it was present.
func (jc *JobContext) GetRoutineData(routineID, key string) (any, bool) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	bag, ok := jc.routineStates[routineID]
	if !ok {
		return nil, false
	}
	v, ok := bag[key]
	return v, ok
}

func (jc *JobContext) SetRoutineData(routineID, key string, val any) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	bag, ok := jc.routineStates[routineID]
	if !ok {
		bag = make(map[string]any)
		jc.routineStates[routineID] = bag
	}
	bag[key] = val
}

// RoutineStateSnapshot returns a shallow copy of one routine's state bag,
// used by activation policies (which read State as a pure input).
func (jc *JobContext) RoutineStateSnapshot(routineID string) map[string]any {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	bag := jc.routineStates[routineID]
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}

func (jc *JobContext) MergeRoutineState(routineID string, updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	jc.mu.Lock()
	defer jc.mu.Unlock()
	bag, ok := jc.routineStates[routineID]
	if !ok {
		bag = make(map[string]any)
		jc.routineStates[routineID] = bag
	}
	for k, v := range updates {
		bag[k] = v
	}
}

func (jc *JobContext) SetSharedData(key string, val any) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.sharedData[key] = val
}

func (jc *JobContext) GetSharedData(key string) (any, bool) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	v, ok := jc.sharedData[key]
	return v, ok
}

func (jc *JobContext) SetMetadata(key string, val any) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.metadata[key] = val
}

func (jc *JobContext) Metadata() map[string]any {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make(map[string]any, len(jc.metadata))
	for k, v := range jc.metadata {
		out[k] = v
	}
	return out
}

func (jc *JobContext) Record(r ExecutionRecord) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.hist.append(r)
}

func (jc *JobContext) History() []ExecutionRecord {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.hist.snapshot()
}

func (jc *JobContext) HistoryLen() int {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.hist.len()
}

func (jc *JobContext) MarkBreakpointActive(breakpointID string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.activeBreakpoints[breakpointID] = true
}

func (jc *JobContext) MarkBreakpointInactive(breakpointID string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	delete(jc.activeBreakpoints, breakpointID)
}

func (jc *JobContext) ActiveBreakpointIDs() []string {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make([]string, 0, len(jc.activeBreakpoints))
	for id := range jc.activeBreakpoints {
		out = append(out, id)
	}
	return out
}
