package stdoutrouter

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Go has no equivalent of Python's contextvars for attaching ambient state
// to "whichever goroutine is currently running this call stack", and the
// stdlib offers nothing else either. The scheduler needs exactly that for
// one purpose: a print()-style write made from inside arbitrary routine
// logic has to land in the right job's buffer without the logic function
// threading a job id through every call. A goroutine-id-keyed map is the
// established workaround for this single case; it is the one place in this
// codebase that uses scope-local state instead of an explicit parameter,
// and it exists only because routed stdout has no other way to know who is
// writing.
type scope struct {
	mu  sync.RWMutex
	ids map[int64]string
}

func newScope() *scope {
	return &scope{ids: make(map[int64]string)}
}

// bind associates the calling goroutine with jobID for the duration of the
// logic frame; unbind must be called (typically via defer) before the
// frame returns so the goroutine can be reused by the pool for another job.
func (s *scope) bind(jobID string) {
	id := goroutineID()
	s.mu.Lock()
	s.ids[id] = jobID
	s.mu.Unlock()
}

func (s *scope) unbind() {
	id := goroutineID()
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *scope) current() (string, bool) {
	id := goroutineID()
	s.mu.RLock()
	jobID, ok := s.ids[id]
	s.mu.RUnlock()
	return jobID, ok
}

// goroutineID extracts the numeric id from the "goroutine N [state]:" header
// that runtime.Stack always writes first. It is a well-known, if informal,
// technique; the id is only ever used as a map key here, never surfaced.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
