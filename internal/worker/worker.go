// Package worker implements §4.8 WorkerState and its executor: one running
// instance of a flow's routine graph, a pending-job queue, and a scheduling
// loop per job. It is grounded on the teacher's
// internal/jobs/worker.Worker (poll/claim/dispatch/heartbeat/panic-recovery
// shape), generalized from "claim a DB row, dispatch to a registered
// handler" to "accept a submitted job, run the scheduler loop against this
// worker's own routine-graph instance." Concurrency uses
// golang.org/x/sync/semaphore to cap how many jobs run at once (the
// teacher used WORKER_CONCURRENCY goroutines over a DB queue; here the cap
// gates job tasks dispatched onto this worker's own pool) and
// golang.org/x/sync/errgroup to fan in graceful shutdown.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/routilux/routilux-go/internal/apierr"
	"github.com/routilux/routilux-go/internal/breakpoint"
	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/jobctx"
	"github.com/routilux/routilux-go/internal/logger"
	"github.com/routilux/routilux-go/internal/observability"
	"github.com/routilux/routilux-go/internal/scheduler"
	"github.com/routilux/routilux-go/internal/stdoutrouter"
)

// Status is a worker's lifecycle position: running -> paused <-> running ->
// stopped (terminal), per the §3 Worker lifecycle.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Counters tracks per-worker job outcomes, surfaced through Runtime's
// listWorkers for observability.
type Counters struct {
	Processed int64
	Failed    int64
}

// Worker owns one instantiated copy of a flow's routine graph (via Flow,
// cloned fresh so slot queues start empty) and runs the scheduling loop
// described in §4.8 against any number of jobs submitted to it, each on its
// own task but never more than `concurrency` at a time.
type Worker struct {
	ID     string
	FlowID string

	Flow *flow.Flow

	log         *logger.Logger
	breakpoints *breakpoint.Registry
	stdout      *stdoutrouter.Router
	monitor     *observability.Monitor

	sem     *semaphore.Weighted
	pending *scheduler.PendingStore

	mu        sync.RWMutex
	status    Status
	counters  Counters
	jobs      map[string]*jobctx.JobContext
	cancelAll context.CancelFunc
	ctx       context.Context
	eg        *errgroup.Group
}

// New instantiates a worker bound to flowTemplate (cloned so this worker's
// graph is independent of any other worker's) with concurrency job tasks
// allowed to run at once. concurrency <= 0 leaves the worker effectively
// uncapped (its semaphore is sized 1<<20).
func New(id, flowID string, flowTemplate *flow.Flow, concurrency int, log *logger.Logger, bps *breakpoint.Registry, stdout *stdoutrouter.Router, mon *observability.Monitor) *Worker {
	if concurrency <= 0 {
		concurrency = 1 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	w := &Worker{
		ID:          id,
		FlowID:      flowID,
		Flow:        flowTemplate.Clone(),
		log:         log.With("component", "Worker", "worker_id", id),
		breakpoints: bps,
		stdout:      stdout,
		monitor:     mon,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		pending:     scheduler.NewPendingStore(),
		status:      StatusRunning,
		jobs:        make(map[string]*jobctx.JobContext),
		cancelAll:   cancel,
		ctx:         egCtx,
		eg:          eg,
	}
	return w
}

func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) Counters() Counters {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counters
}

// Pause moves a running worker to paused. Runtime.Post refuses new jobs for
// a worker that is not running; scheduling loops already started on this
// worker do not read the worker's status and keep firing.
func (w *Worker) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusRunning {
		return apierr.Conflict(apierr.CodeWorkerNotRunning, fmt.Errorf("worker %q is %s, not running", w.ID, w.status))
	}
	w.status = StatusPaused
	return nil
}

func (w *Worker) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPaused {
		return apierr.Conflict(apierr.CodeWorkerNotRunning, fmt.Errorf("worker %q is %s, not paused", w.ID, w.status))
	}
	w.status = StatusRunning
	return nil
}

// Stop transitions the worker to stopped (terminal), cancels every running
// job task's context, and waits for in-flight tasks to return.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.status == StatusStopped {
		w.mu.Unlock()
		return
	}
	w.status = StatusStopped
	w.mu.Unlock()

	w.cancelAll()
	_ = w.eg.Wait()
}

// Jobs returns a snapshot of every JobContext this worker has accepted,
// including terminal ones still within their TTL.
func (w *Worker) Jobs() []*jobctx.JobContext {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*jobctx.JobContext, 0, len(w.jobs))
	for _, jc := range w.jobs {
		out = append(out, jc)
	}
	return out
}

func (w *Worker) Job(jobID string) (*jobctx.JobContext, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	jc, ok := w.jobs[jobID]
	return jc, ok
}

// Submit attaches a new job to this worker: injects the entry-point data
// into (entryRoutineID, entrySlotName) and launches the scheduling loop for
// this job as its own task, capped by the worker's semaphore. It returns
// immediately with the (still-running, in general) JobContext; callers
// that want completion use Runtime.waitForJob.
func (w *Worker) Submit(jc *jobctx.JobContext, entryRoutineID, entrySlotName string, data map[string]any, timeout time.Duration) error {
	if _, ok := w.Flow.GetRoutine(entryRoutineID); !ok {
		return apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("routine %q", entryRoutineID))
	}

	w.mu.Lock()
	if w.status == StatusStopped {
		w.mu.Unlock()
		return apierr.Unavailable(apierr.CodeWorkerAlreadyComplete, fmt.Errorf("worker %q is stopped", w.ID))
	}
	w.jobs[jc.JobID] = jc
	w.mu.Unlock()

	_ = jc.SetStatus(jobctx.StatusRunning)

	w.eg.Go(func() error {
		return w.run(jc, entryRoutineID, entrySlotName, data, timeout)
	})
	return nil
}

func (w *Worker) run(jc *jobctx.JobContext, entryRoutineID, entrySlotName string, data map[string]any, timeout time.Duration) error {
	ctx := w.ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if !w.sem.TryAcquire(1) {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				jc.Record(jobctx.ExecutionRecord{Kind: jobctx.RecordError, Payload: "job_timeout"})
			}
			_ = jc.Cancel()
			w.bumpCounters(false)
			return nil
		}
	}
	defer w.sem.Release(1)

	deps := scheduler.Deps{Flow: w.Flow, Breakpoints: w.breakpoints, Stdout: w.stdout, Pending: w.pending}

	if paused, err := scheduler.Inject(jc, deps, entryRoutineID, entrySlotName, data); err != nil {
		w.log.Warn("entry injection failed", "job_id", jc.JobID, "error", err)
		w.bumpCounters(false)
		return nil
	} else if paused {
		return nil
	}

	w.driveLoop(ctx, jc, deps)
	return nil
}

// driveLoop runs RunLoop to quiescence, handling the pause/resume cycle:
// the worker doesn't poll for resume itself (that's triggered externally
// via breakpoint deletion or an explicit resume call re-entering driveLoop
// through Resume/ReplayJob), it simply stops driving once paused.
func (w *Worker) driveLoop(ctx context.Context, jc *jobctx.JobContext, deps scheduler.Deps) {
	outcome := scheduler.RunLoop(ctx, jc, deps)
	switch outcome {
	case scheduler.OutcomeQuiescent:
		if !jc.ExplicitCompletion {
			_ = jc.Complete()
		}
		w.bumpCounters(jc.Status() != jobctx.StatusFailed)
		w.ingestMetrics(jc)
	case scheduler.OutcomeTerminal:
		w.bumpCounters(jc.Status() == jobctx.StatusCompleted)
		w.ingestMetrics(jc)
	case scheduler.OutcomePaused:
		// Left running is false; Runtime.ResumeJob re-enters via ReplayJob.
	}
}

// ingestMetrics folds a just-finished job's history into the worker's
// Monitor, when one is configured. A worker built without one (most tests)
// simply skips this.
func (w *Worker) ingestMetrics(jc *jobctx.JobContext) {
	if w.monitor == nil {
		return
	}
	w.monitor.Ingest(jc)
}

// Monitor returns the worker's execution-metrics Monitor, or nil if none was
// configured.
func (w *Worker) Monitor() *observability.Monitor {
	return w.monitor
}

// ReplayJob is called by Runtime after a paused job is resumed (status
// flipped back to running, e.g. a breakpoint was deleted or disabled and
// the caller asked to resume). It replays the single stashed action once
// and, if that doesn't re-pause, restarts the scan loop.
func (w *Worker) ReplayJob(jc *jobctx.JobContext) {
	w.eg.Go(func() error {
		deps := scheduler.Deps{Flow: w.Flow, Breakpoints: w.breakpoints, Stdout: w.stdout, Pending: w.pending}
		if paused, err := scheduler.ReplayPending(jc, deps); err != nil || paused {
			if err != nil {
				w.log.Warn("replay failed", "job_id", jc.JobID, "error", err)
			}
			return nil
		}
		w.driveLoop(w.ctx, jc, deps)
		return nil
	})
}

func (w *Worker) bumpCounters(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if success {
		w.counters.Processed++
	} else {
		w.counters.Failed++
	}
}
