// Package engine implements §4.9 Runtime: the process-wide coordinator
// owning the flow/worker/job registries and driving job submission against
// the worker pool. It is grounded on the teacher's
// internal/jobs/runtime.Registry (RWMutex-guarded handler map, duplicate/
// nil checks, reader-mostly lookups) generalized from "job_type -> handler"
// to three parallel registries, and on internal/jobs/worker.Worker's
// Start/runLoop shape for how a worker accepts and dispatches work.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/routilux/routilux-go/internal/apierr"
	"github.com/routilux/routilux-go/internal/breakpoint"
	"github.com/routilux/routilux-go/internal/config"
	"github.com/routilux/routilux-go/internal/eventbus"
	"github.com/routilux/routilux-go/internal/flow"
	"github.com/routilux/routilux-go/internal/jobctx"
	"github.com/routilux/routilux-go/internal/logger"
	"github.com/routilux/routilux-go/internal/observability"
	"github.com/routilux/routilux-go/internal/storage/idempotency"
	"github.com/routilux/routilux-go/internal/stdoutrouter"
	"github.com/routilux/routilux-go/internal/worker"
)

// Runtime is the single per-process coordinator. It is safe for concurrent
// use from any number of adapter goroutines (HTTP handlers, tests, ...).
type Runtime struct {
	cfg config.Config
	log *logger.Logger

	Breakpoints *breakpoint.Registry
	Stdout      *stdoutrouter.Router
	Idempotency idempotency.Store
	Monitor     *observability.Monitor

	// Events fans job lifecycle notices out to streamJobEvents subscribers.
	// Defaults to an in-process bus; callers wanting multi-adapter fan-out
	// swap in eventbus.NewRedis before the runtime starts serving traffic.
	Events eventbus.Bus

	// Factory and Migrations back the §6 JSON flow document round trip for
	// adapters (internal/httpapi) that accept flows over the wire rather
	// than building *flow.Flow directly in Go. Callers register routine
	// kinds on Factory during startup; the core itself ships no built-in
	// routine classes per spec.md's explicit scope boundary.
	Factory    *flow.Factory
	Migrations *flow.MigrationRegistry

	mu          sync.RWMutex
	flowsByID   map[string]*flow.Flow
	flowsByName map[string]string // name -> id
	workers     map[string]*worker.Worker
	jobWorker   map[string]string // job_id -> worker_id

	shuttingDown bool
}

func New(cfg config.Config, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Nop()
	}
	stdout := stdoutrouter.New(
		stdoutrouter.WithMaxBufferChars(cfg.DefaultStdoutBufferCap),
		stdoutrouter.WithJobTTL(cfg.DefaultJobTTL),
	)
	stdout.StartCleanup()
	mon, err := observability.NewMonitor(nil)
	if err != nil {
		log.Warn("runtime: monitor init failed, execution metrics disabled", "error", err)
		mon = nil
	}
	return &Runtime{
		cfg:         cfg,
		log:         log.With("component", "Runtime"),
		Breakpoints: breakpoint.NewRegistry(),
		Stdout:      stdout,
		Idempotency: idempotency.NewMemory(),
		Monitor:     mon,
		Events:      eventbus.NewMemory(),
		Factory:     flow.NewFactory(),
		Migrations:  flow.NewMigrationRegistry(),
		flowsByID:   make(map[string]*flow.Flow),
		flowsByName: make(map[string]string),
		workers:     make(map[string]*worker.Worker),
		jobWorker:   make(map[string]string),
	}
}

// RegisterFlow adds a flow to the registry, indexed by id and, if set, by
// name. Re-registering the same id replaces the prior graph; existing
// workers keep their already-cloned instance (Flow.Clone happened at
// createWorker time), matching "a flow may be unregistered when no workers
// hold it" without requiring workers to track a live pointer back.
func (rt *Runtime) RegisterFlow(f *flow.Flow) error {
	if f == nil {
		return apierr.BadRequest(apierr.CodeFlowNotFound, fmt.Errorf("nil flow"))
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.flowsByID[f.ID] = f
	if f.Name != "" {
		rt.flowsByName[f.Name] = f.ID
	}
	return nil
}

// RegisterFlowDocument decodes a §6 JSON flow document through rt.Factory
// and rt.Migrations and registers the resulting graph, returning it so
// callers (the httpapi adapter) can echo back its id/name.
func (rt *Runtime) RegisterFlowDocument(data []byte) (*flow.Flow, error) {
	f, err := flow.Deserialize(data, rt.Factory, rt.Migrations)
	if err != nil {
		return nil, apierr.BadRequest(apierr.CodeFlowNotFound, err)
	}
	if err := rt.RegisterFlow(f); err != nil {
		return nil, err
	}
	return f, nil
}

// ListFlows returns every registered flow, for the read-only introspection
// surface SPEC_FULL.md supplements (modeled on original_source's
// FlowResponse).
func (rt *Runtime) ListFlows() []*flow.Flow {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*flow.Flow, 0, len(rt.flowsByID))
	for _, f := range rt.flowsByID {
		out = append(out, f)
	}
	return out
}

func (rt *Runtime) LookupFlow(idOrName string) (*flow.Flow, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if f, ok := rt.flowsByID[idOrName]; ok {
		return f, nil
	}
	if id, ok := rt.flowsByName[idOrName]; ok {
		return rt.flowsByID[id], nil
	}
	return nil, apierr.NotFound(apierr.CodeFlowNotFound, fmt.Errorf("flow %q", idOrName))
}

// UnregisterFlow removes a flow by id when no worker currently references
// it, matching the §3 Flow lifecycle.
func (rt *Runtime) UnregisterFlow(flowID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	f, ok := rt.flowsByID[flowID]
	if !ok {
		return apierr.NotFound(apierr.CodeFlowNotFound, fmt.Errorf("flow %q", flowID))
	}
	for _, w := range rt.workers {
		if w.FlowID == flowID && w.Status() != worker.StatusStopped {
			return apierr.Conflict(apierr.CodeWorkerAlreadyExists, fmt.Errorf("flow %q still referenced by worker %q", flowID, w.ID))
		}
	}
	delete(rt.flowsByID, flowID)
	if f.Name != "" {
		delete(rt.flowsByName, f.Name)
	}
	return nil
}

// Exec creates a new Worker bound to flowName/flowID, starting its
// scheduler (workers schedule lazily: a worker does nothing until a job is
// submitted to it, since §4.8's "ready signal" is exactly a submission or
// an emission, and there is nothing to poll in between).
func (rt *Runtime) Exec(flowNameOrID string, workerID string) (*worker.Worker, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.shuttingDown {
		return nil, apierr.Unavailable(apierr.CodeRuntimeShutdown, fmt.Errorf("runtime is shutting down"))
	}

	f, err := rt.lookupFlowLocked(flowNameOrID)
	if err != nil {
		return nil, err
	}

	if workerID == "" {
		workerID = uuid.NewString()
	} else if _, exists := rt.workers[workerID]; exists {
		return nil, apierr.Conflict(apierr.CodeWorkerAlreadyExists, fmt.Errorf("worker %q already exists", workerID))
	}

	concurrency := rt.cfg.SharedPoolSize
	w := worker.New(workerID, f.ID, f, concurrency, rt.log, rt.Breakpoints, rt.Stdout, rt.Monitor)
	rt.workers[workerID] = w
	return w, nil
}

func (rt *Runtime) lookupFlowLocked(idOrName string) (*flow.Flow, error) {
	if f, ok := rt.flowsByID[idOrName]; ok {
		return f, nil
	}
	if id, ok := rt.flowsByName[idOrName]; ok {
		return rt.flowsByID[id], nil
	}
	return nil, apierr.NotFound(apierr.CodeFlowNotFound, fmt.Errorf("flow %q", idOrName))
}

// PostOptions carries submitJob's optional fields.
type PostOptions struct {
	WorkerID           string
	Metadata           map[string]any
	IdempotencyKey     string
	ExplicitCompletion bool
	Timeout            time.Duration
}

// Post implements submitJob: it either attaches a new job to an existing
// worker or creates an implicit one, then injects the initial item into the
// entry slot. When an idempotency key is given and already recorded within
// TTL, it returns the prior JobContext without creating anything new.
func (rt *Runtime) Post(ctx context.Context, flowNameOrID, entryRoutineID, entrySlotName string, data map[string]any, opts PostOptions) (*jobctx.JobContext, error) {
	if opts.IdempotencyKey != "" {
		if rec, ok, err := rt.lookupIdempotent(ctx, opts.IdempotencyKey); err == nil && ok {
			if jc, ok2 := rt.jobByID(rec.JobID); ok2 {
				return jc, nil
			}
		}
	}

	rt.mu.Lock()
	if rt.shuttingDown {
		rt.mu.Unlock()
		return nil, apierr.Unavailable(apierr.CodeRuntimeShutdown, fmt.Errorf("runtime is shutting down"))
	}
	f, err := rt.lookupFlowLocked(flowNameOrID)
	if err != nil {
		rt.mu.Unlock()
		return nil, err
	}

	var w *worker.Worker
	if opts.WorkerID != "" {
		var ok bool
		w, ok = rt.workers[opts.WorkerID]
		if !ok {
			rt.mu.Unlock()
			return nil, apierr.NotFound(apierr.CodeWorkerNotFound, fmt.Errorf("worker %q", opts.WorkerID))
		}
	} else {
		workerID := uuid.NewString()
		w = worker.New(workerID, f.ID, f, rt.cfg.SharedPoolSize, rt.log, rt.Breakpoints, rt.Stdout, rt.Monitor)
		rt.workers[workerID] = w
	}
	rt.mu.Unlock()

	if w.Status() != worker.StatusRunning {
		return nil, apierr.Conflict(apierr.CodeWorkerNotRunning, fmt.Errorf("worker %q is %s", w.ID, w.Status()))
	}
	if _, ok := f.GetRoutine(entryRoutineID); !ok {
		return nil, apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("routine %q", entryRoutineID))
	}

	jobID := uuid.NewString()
	jc := jobctx.New(jobID, w.ID, f.ID, rt.cfg.DefaultHistoryCap)
	jc.IdempotencyKey = opts.IdempotencyKey
	jc.ExplicitCompletion = opts.ExplicitCompletion
	for k, v := range opts.Metadata {
		jc.SetMetadata(k, v)
	}

	if err := w.Submit(jc, entryRoutineID, entrySlotName, data, opts.Timeout); err != nil {
		return nil, apierr.Internal(apierr.CodeJobSubmissionFailed, err)
	}

	rt.mu.Lock()
	rt.jobWorker[jobID] = w.ID
	rt.mu.Unlock()

	if opts.IdempotencyKey != "" {
		rt.storeIdempotent(ctx, opts.IdempotencyKey, idempotency.Record{JobID: jobID, WorkerID: w.ID, FlowID: f.ID})
	}
	return jc, nil
}

// Execute is the one-shot convenience form: create a throwaway worker,
// submit, and optionally wait for terminal status before returning.
func (rt *Runtime) Execute(ctx context.Context, flowNameOrID, entryRoutineID, entrySlotName string, data map[string]any, wait bool, timeout time.Duration) (*jobctx.JobContext, error) {
	jc, err := rt.Post(ctx, flowNameOrID, entryRoutineID, entrySlotName, data, PostOptions{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if !wait {
		return jc, nil
	}
	return rt.WaitForJob(ctx, jc.JobID, timeout)
}

func (rt *Runtime) lookupIdempotent(ctx context.Context, key string) (idempotency.Record, bool, error) {
	b, ok, err := rt.Idempotency.Get(ctx, key)
	if err != nil || !ok {
		return idempotency.Record{}, false, err
	}
	rec, err := idempotency.Unmarshal(b)
	if err != nil {
		return idempotency.Record{}, false, err
	}
	return rec, true, nil
}

func (rt *Runtime) storeIdempotent(ctx context.Context, key string, rec idempotency.Record) {
	b, err := idempotency.Marshal(rec)
	if err != nil {
		return
	}
	_ = rt.Idempotency.Put(ctx, key, b, rt.cfg.IdempotencyTTL)
}

func (rt *Runtime) jobByID(jobID string) (*jobctx.JobContext, bool) {
	rt.mu.RLock()
	workerID, ok := rt.jobWorker[jobID]
	rt.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rt.mu.RLock()
	w, ok := rt.workers[workerID]
	rt.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return w.Job(jobID)
}

// GetJob returns the JobContext for a known job id.
func (rt *Runtime) GetJob(jobID string) (*jobctx.JobContext, error) {
	jc, ok := rt.jobByID(jobID)
	if !ok {
		return nil, apierr.NotFound(apierr.CodeJobNotFound, fmt.Errorf("job %q", jobID))
	}
	return jc, nil
}

// JobFilters narrows ListJobs; zero values match everything.
type JobFilters struct {
	FlowID   string
	WorkerID string
	Status   jobctx.Status
}

func (rt *Runtime) ListJobs(f JobFilters) []*jobctx.JobContext {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*jobctx.JobContext
	for _, w := range rt.workers {
		if f.WorkerID != "" && w.ID != f.WorkerID {
			continue
		}
		if f.FlowID != "" && w.FlowID != f.FlowID {
			continue
		}
		for _, jc := range w.Jobs() {
			if f.Status != "" && jc.Status() != f.Status {
				continue
			}
			out = append(out, jc)
		}
	}
	return out
}

// WorkerFilters narrows ListWorkers; zero values match everything.
type WorkerFilters struct {
	FlowID string
	Status worker.Status
}

func (rt *Runtime) ListWorkers(f WorkerFilters) []*worker.Worker {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*worker.Worker
	for _, w := range rt.workers {
		if f.FlowID != "" && w.FlowID != f.FlowID {
			continue
		}
		if f.Status != "" && w.Status() != f.Status {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (rt *Runtime) GetWorker(id string) (*worker.Worker, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	w, ok := rt.workers[id]
	if !ok {
		return nil, apierr.NotFound(apierr.CodeWorkerNotFound, fmt.Errorf("worker %q", id))
	}
	return w, nil
}

func (rt *Runtime) PauseWorker(id string) error {
	w, err := rt.GetWorker(id)
	if err != nil {
		return err
	}
	return w.Pause()
}

func (rt *Runtime) ResumeWorker(id string) error {
	w, err := rt.GetWorker(id)
	if err != nil {
		return err
	}
	return w.Resume()
}

func (rt *Runtime) StopWorker(id string) error {
	w, err := rt.GetWorker(id)
	if err != nil {
		return err
	}
	w.Stop()
	return nil
}

// CancelJob transitions a job to cancelled. In-flight firings run to
// completion but their emissions are discarded per §5 — that's enforced by
// the scheduler noticing terminal status between firings and on every
// delivery attempt, not by this call itself.
func (rt *Runtime) CancelJob(jobID string) error {
	jc, err := rt.GetJob(jobID)
	if err != nil {
		return err
	}
	if jc.Status().Terminal() {
		return apierr.Conflict(apierr.CodeJobNotFound, fmt.Errorf("job %q already terminal (%s)", jobID, jc.Status()))
	}
	return jc.Cancel()
}

// ResumeJob flips a paused job back to running and asks its worker to
// replay the one stashed delivery, then resume the scan loop if that
// doesn't immediately re-pause it.
func (rt *Runtime) ResumeJob(jobID string) error {
	jc, err := rt.GetJob(jobID)
	if err != nil {
		return err
	}
	if jc.Status() != jobctx.StatusPaused {
		return apierr.Conflict(apierr.CodeJobNotResumable, fmt.Errorf("job %q is %s, not paused", jobID, jc.Status()))
	}
	rt.mu.RLock()
	workerID := rt.jobWorker[jobID]
	w, ok := rt.workers[workerID]
	rt.mu.RUnlock()
	if !ok {
		return apierr.NotFound(apierr.CodeWorkerNotFound, fmt.Errorf("worker for job %q", jobID))
	}
	if err := jc.SetStatus(jobctx.StatusRunning); err != nil {
		return apierr.Conflict(apierr.CodeJobNotResumable, err)
	}
	w.ReplayJob(jc)
	return nil
}

// WaitForJob blocks (bounded by timeout, 0 meaning no bound beyond ctx)
// until jobID reaches a terminal status.
func (rt *Runtime) WaitForJob(ctx context.Context, jobID string, timeout time.Duration) (*jobctx.JobContext, error) {
	jc, err := rt.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if jc.Status().Terminal() {
			return jc, nil
		}
		select {
		case <-ctx.Done():
			return jc, ctx.Err()
		case <-ticker.C:
			if !deadline.IsZero() && time.Now().After(deadline) {
				return jc, nil
			}
		}
	}
}

func (rt *Runtime) GetJobOutput(jobID string, incremental bool) any {
	if incremental {
		return rt.Stdout.PopChunks(jobID)
	}
	return rt.Stdout.GetBuffer(jobID)
}

func (rt *Runtime) GetJobHistory(jobID string) ([]jobctx.ExecutionRecord, error) {
	jc, err := rt.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	return jc.History(), nil
}

// PublishJobEvent fans one notice out on rt.Events under the job's id as
// channel name. Best-effort: a publish failure (e.g. a Redis bus blipping)
// is logged and swallowed rather than surfaced to the job's own execution.
func (rt *Runtime) PublishJobEvent(ctx context.Context, jobID, kind string, payload any) {
	if rt.Events == nil {
		return
	}
	if err := rt.Events.Publish(ctx, eventbus.Message{Channel: jobID, Kind: kind, Payload: payload}); err != nil {
		rt.log.Warn("runtime: publish job event failed", "job_id", jobID, "kind", kind, "error", err)
	}
}

// GetRoutineMetrics returns the cumulative, cross-job execution stats for
// one routine id, as tracked by the Runtime's Monitor.
func (rt *Runtime) GetRoutineMetrics(routineID string) (observability.RoutineStats, error) {
	if rt.Monitor == nil {
		return observability.RoutineStats{}, apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("routine metrics unavailable"))
	}
	stats, ok := rt.Monitor.RoutineMetrics(routineID)
	if !ok {
		return observability.RoutineStats{}, apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("no metrics recorded for routine %q", routineID))
	}
	return stats, nil
}

// GetJobMetrics derives an ExecutionMetrics rollup for a single job from its
// current history, independent of whether the job has finished.
func (rt *Runtime) GetJobMetrics(jobID string) (observability.ExecutionMetrics, error) {
	jc, err := rt.GetJob(jobID)
	if err != nil {
		return observability.ExecutionMetrics{}, err
	}
	if rt.Monitor == nil {
		return observability.ExecutionMetrics{}, apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("job metrics unavailable"))
	}
	metrics := rt.Monitor.Compute(jc)
	return metrics, nil
}

// Shutdown stops every worker and marks the runtime unable to accept new
// work. Safe to call more than once.
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	rt.shuttingDown = true
	workers := make([]*worker.Worker, 0, len(rt.workers))
	for _, w := range rt.workers {
		workers = append(workers, w)
	}
	rt.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	rt.Stdout.Shutdown()
}
