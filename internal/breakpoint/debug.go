package breakpoint

import (
	"fmt"

	"github.com/routilux/routilux-go/internal/apierr"
)

// Frame is the set of variables visible to a debug evaluator when a job is
// paused: the firing routine's config, job-scoped state, and the data
// slice the activation policy approved.
type Frame struct {
	JobID     string
	RoutineID string
	Config    map[string]any
	JobData   map[string]any
	DataSlice map[string][]any
}

// Evaluator evaluates an arbitrary expression against a paused Frame. The
// spec deliberately leaves the expression language unspecified; Evaluator
// is the seam an adapter plugs a real one into.
type Evaluator interface {
	Eval(frame Frame, expression string) (any, error)
}

// DisabledEvaluator is installed by default. Every call fails closed with
// permission_denied, which is the documented behaviour when no debug
// facility has been wired in.
type DisabledEvaluator struct{}

func (DisabledEvaluator) Eval(_ Frame, expression string) (any, error) {
	return nil, apierr.Forbidden(apierr.CodePermissionDenied,
		fmt.Errorf("debug expression evaluation is disabled: %q", expression))
}

// Debugger exposes expression evaluation for a paused job. Adapters may
// swap in a real Evaluator; the zero value safely defaults to disabled.
type Debugger struct {
	Evaluator Evaluator
}

func NewDebugger() *Debugger {
	return &Debugger{Evaluator: DisabledEvaluator{}}
}

func (d *Debugger) Eval(frame Frame, expression string) (any, error) {
	if d == nil || d.Evaluator == nil {
		return DisabledEvaluator{}.Eval(frame, expression)
	}
	return d.Evaluator.Eval(frame, expression)
}
