package stdoutrouter

import (
	"io"
	"os"
	"sync"
	"time"
)

const (
	defaultMaxBufferChars  = 200_000
	defaultJobTTL          = time.Hour
	defaultCleanupInterval = 5 * time.Minute
)

// Stats summarizes the current buffers, mirroring get_stats in the
// reference implementation.
type Stats struct {
	JobCount          int
	TotalQueueItems   int
	TotalBufferChars  int
	OldestJobAgeSecs  float64
	HasOldestJobAge   bool
}

// Router is a process-wide text sink that attributes every Write to the
// job currently bound on the calling goroutine (see scope.go). Writes with
// no bound job fall through to Real (if KeepDefault) or are discarded.
type Router struct {
	Real        io.Writer
	KeepDefault bool

	MaxBufferChars int
	JobTTL         time.Duration

	scope *scope

	mu        sync.Mutex
	queues    map[string][]string // job_id -> chunks pending incremental retrieval
	buffers   map[string]string   // job_id -> cumulative history
	touchedAt map[string]time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

type Option func(*Router)

func WithReal(w io.Writer) Option        { return func(r *Router) { r.Real = w } }
func WithKeepDefault(v bool) Option      { return func(r *Router) { r.KeepDefault = v } }
func WithMaxBufferChars(n int) Option    { return func(r *Router) { r.MaxBufferChars = n } }
func WithJobTTL(d time.Duration) Option  { return func(r *Router) { r.JobTTL = d } }
func WithCleanupEvery(d time.Duration) Option { return func(r *Router) { r.cleanupInterval = d } }

func New(opts ...Option) *Router {
	r := &Router{
		KeepDefault:     true,
		MaxBufferChars:  defaultMaxBufferChars,
		JobTTL:          defaultJobTTL,
		cleanupInterval: defaultCleanupInterval,
		scope:           newScope(),
		queues:          make(map[string][]string),
		buffers:         make(map[string]string),
		touchedAt:       make(map[string]time.Time),
		stopCleanup:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// StartCleanup launches the background goroutine that evicts job buffers
// past JobTTL. Call once; a second call is a no-op.
func (r *Router) StartCleanup() {
	r.cleanupOnce.Do(func() {
		go r.cleanupLoop()
	})
}

func (r *Router) cleanupLoop() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCleanup:
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Router) Shutdown() {
	select {
	case <-r.stopCleanup:
	default:
		close(r.stopCleanup)
	}
}

func (r *Router) evictExpired() {
	cutoff := time.Now().Add(-r.JobTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for jobID, ts := range r.touchedAt {
		if ts.Before(cutoff) {
			delete(r.queues, jobID)
			delete(r.buffers, jobID)
			delete(r.touchedAt, jobID)
		}
	}
}

// Write implements io.Writer. The scheduler is the only caller who binds a
// job to the current goroutine (via Bind/Unbind), so any write happening
// outside a logic frame has no binding and falls through.
func (r *Router) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	jobID, ok := r.scope.current()
	if !ok {
		if r.KeepDefault && r.Real != nil {
			return r.Real.Write(p)
		}
		return len(p), nil
	}

	s := string(p)
	r.mu.Lock()
	r.queues[jobID] = append(r.queues[jobID], s)
	buf := r.buffers[jobID] + s
	if len(buf) > r.MaxBufferChars {
		buf = buf[len(buf)-r.MaxBufferChars:]
	}
	r.buffers[jobID] = buf
	r.touchedAt[jobID] = time.Now()
	r.mu.Unlock()
	return len(p), nil
}

// Bind attaches jobID to the calling goroutine for the duration of a logic
// frame. Callers must defer Unbind immediately after.
func (r *Router) Bind(jobID string)   { r.scope.bind(jobID) }
func (r *Router) Unbind()             { r.scope.unbind() }

// PopChunks drains and returns the incremental chunks written since the
// last call, for streaming adapters.
func (r *Router) PopChunks(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[jobID]
	if len(q) == 0 {
		return nil
	}
	delete(r.queues, jobID)
	return q
}

// GetBuffer returns the full (possibly truncated) history for a job,
// non-consuming.
func (r *Router) GetBuffer(jobID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffers[jobID]
}

func (r *Router) ClearJob(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, jobID)
	delete(r.buffers, jobID)
	delete(r.touchedAt, jobID)
}

func (r *Router) ListJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	for id := range r.queues {
		seen[id] = true
	}
	for id := range r.buffers {
		seen[id] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func (r *Router) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	totalQueue := 0
	for id, q := range r.queues {
		seen[id] = true
		totalQueue += len(q)
	}
	totalChars := 0
	for id, b := range r.buffers {
		seen[id] = true
		totalChars += len(b)
	}
	stats := Stats{JobCount: len(seen), TotalQueueItems: totalQueue, TotalBufferChars: totalChars}
	var oldest time.Time
	for _, ts := range r.touchedAt {
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if !oldest.IsZero() {
		stats.HasOldestJobAge = true
		stats.OldestJobAgeSecs = time.Since(oldest).Seconds()
	}
	return stats
}

// installState tracks the single process-wide os.Stdout swap, mirroring the
// reference implementation's module-level _routed_stdout/_original_stdout
// globals. Go has no writable os.Stdout that accepts an arbitrary
// io.Writer (it's a *os.File), so the swap goes through an os.Pipe: the
// write end becomes os.Stdout, and a goroutine copies everything written to
// it into r.
var (
	installMu   sync.Mutex
	installedR  *Router
	originalOut *os.File
	pipeW       *os.File
	pipeDone    chan struct{}
)

// Install should be called once, early at process startup, before any
// routine logic runs. It points os.Stdout at a pipe that forwards every
// write into r (so a routine's own fmt.Println/print-style output is
// captured and attributed via r's job binding, not just writes made
// directly through r), and returns a restore func equivalent to calling
// Uninstall. A second Install call before Uninstall is a no-op, matching
// install_routed_stdout's "if _routed_stdout is None" guard.
func Install(r *Router) func() {
	installMu.Lock()
	defer installMu.Unlock()
	if installedR != nil {
		return Uninstall
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		if r.Real == nil {
			r.Real = os.Stdout
		}
		return func() {}
	}
	originalOut = os.Stdout
	pipeW = pw
	if r.Real == nil {
		r.Real = originalOut
	}
	os.Stdout = pw
	installedR = r
	pipeDone = make(chan struct{})
	go func() {
		defer close(pipeDone)
		buf := make([]byte, 4096)
		for {
			n, rerr := pr.Read(buf)
			if n > 0 {
				_, _ = r.Write(buf[:n])
			}
			if rerr != nil {
				return
			}
		}
	}()
	return Uninstall
}

// Uninstall restores the real os.Stdout and stops forwarding into whatever
// Router was installed. Safe to call when nothing is installed, or more
// than once; idle calls are a no-op, matching uninstall_routed_stdout.
func Uninstall() {
	installMu.Lock()
	defer installMu.Unlock()
	if installedR == nil {
		return
	}
	os.Stdout = originalOut
	_ = pipeW.Close()
	<-pipeDone
	installedR = nil
	originalOut = nil
	pipeW = nil
	pipeDone = nil
}
