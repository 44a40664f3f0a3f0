package flow

import (
	"fmt"
	"sync"

	"github.com/routilux/routilux-go/internal/apierr"
)

// Constructor builds a fresh Routine instance of a registered kind, already
// carrying its slot/event declarations, policy, and logic, ready to accept
// config via SetConfig. The DSL loader and every adapter create routines
// exclusively through the Factory; there is no reflection-based
// construction from strings anywhere else in the core.
type Constructor func(id string) (*Routine, error)

// Factory is a process-wide (but explicitly owned, never global) registry
// mapping short kind names to Constructors.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

func (f *Factory) Register(kind string, ctor Constructor) error {
	if kind == "" {
		return fmt.Errorf("flow: factory kind must not be empty")
	}
	if ctor == nil {
		return fmt.Errorf("flow: factory constructor for %q must not be nil", kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.ctors[kind]; exists {
		return fmt.Errorf("flow: factory kind %q already registered", kind)
	}
	f.ctors[kind] = ctor
	return nil
}

func (f *Factory) Build(kind, id string) (*Routine, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, apierr.NotFound(apierr.CodeRoutineNotFound, fmt.Errorf("no factory constructor registered for kind %q", kind))
	}
	return ctor(id)
}

func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for k := range f.ctors {
		out = append(out, k)
	}
	return out
}
