package flow

import "time"

// ActivationContext is what an ActivationPolicy reads. Slots maps slot name
// to its unconsumed items for this job (already PeekNew'd by the scheduler,
// so Evaluate never touches the Slot type directly and stays a pure
// function of its inputs). State is a read-only snapshot of whatever the
// policy previously asked the scheduler to persist via StateUpdates — this
// stands in for "worker-local state" without letting policies mutate shared
// structures themselves.
type ActivationContext struct {
	JobID     string
	RoutineID string
	Slots     map[string][]any
	Now       time.Time
	State     map[string]any
}

// ActivationDecision tells the scheduler whether to fire and, if so, how
// many items to consume from the front of each named slot. A policy must
// never consume on its own; committing the consume is the scheduler's job,
// which is what keeps policy evaluation replayable and side-effect free.
type ActivationDecision struct {
	ShouldFire   bool
	Consume      map[string]int
	Reason       string
	StateUpdates map[string]any
}

// ActivationPolicy is a pure predicate over slot contents and per-(job,
// routine) state deciding whether a routine should fire right now.
type ActivationPolicy interface {
	Name() string
	Evaluate(ctx ActivationContext) ActivationDecision
}

type policyFunc struct {
	name string
	fn   func(ctx ActivationContext) ActivationDecision
}

func (p *policyFunc) Name() string { return p.name }
func (p *policyFunc) Evaluate(ctx ActivationContext) ActivationDecision {
	return p.fn(ctx)
}

// Immediate fires whenever any slot has at least one new item, consuming
// every new item from every slot that has any.
func Immediate() ActivationPolicy {
	return &policyFunc{name: "immediate", fn: func(ctx ActivationContext) ActivationDecision {
		consume := make(map[string]int)
		hasNew := false
		for name, items := range ctx.Slots {
			if len(items) > 0 {
				consume[name] = len(items)
				hasNew = true
			}
		}
		if !hasNew {
			return ActivationDecision{Reason: "no new items"}
		}
		return ActivationDecision{ShouldFire: true, Consume: consume, Reason: "new items present"}
	}}
}

// BatchSize fires once the designated slot has at least n new items,
// consuming exactly n.
func BatchSize(slotName string, n int) ActivationPolicy {
	if n <= 0 {
		n = 1
	}
	return &policyFunc{name: "batch_size", fn: func(ctx ActivationContext) ActivationDecision {
		items := ctx.Slots[slotName]
		if len(items) < n {
			return ActivationDecision{Reason: "not enough items"}
		}
		return ActivationDecision{
			ShouldFire: true,
			Consume:    map[string]int{slotName: n},
			Reason:     "batch threshold reached",
		}
	}}
}

// AllSlotsReady fires once every named slot has at least one new item,
// consuming exactly one item per slot.
func AllSlotsReady(slotNames []string) ActivationPolicy {
	names := append([]string(nil), slotNames...)
	return &policyFunc{name: "all_slots_ready", fn: func(ctx ActivationContext) ActivationDecision {
		consume := make(map[string]int, len(names))
		for _, name := range names {
			if len(ctx.Slots[name]) == 0 {
				return ActivationDecision{Reason: "slot " + name + " has no new item"}
			}
			consume[name] = 1
		}
		return ActivationDecision{ShouldFire: true, Consume: consume, Reason: "all slots ready"}
	}}
}

// TimeInterval fires at most once per d, provided at least one item is
// pending somewhere. stateKeyLastFired is the StateUpdates key used to remember
// the last fire time across evaluations.
const stateKeyLastFired = "__time_interval_last_fired_unix_nano"

func TimeInterval(d time.Duration) ActivationPolicy {
	return &policyFunc{name: "time_interval", fn: func(ctx ActivationContext) ActivationDecision {
		pending := false
		consume := make(map[string]int)
		for name, items := range ctx.Slots {
			if len(items) > 0 {
				pending = true
				consume[name] = len(items)
			}
		}
		if !pending {
			return ActivationDecision{Reason: "no new items"}
		}
		var last int64
		if v, ok := ctx.State[stateKeyLastFired].(int64); ok {
			last = v
		}
		if last != 0 && ctx.Now.UnixNano()-last < d.Nanoseconds() {
			return ActivationDecision{Reason: "interval not elapsed"}
		}
		return ActivationDecision{
			ShouldFire:   true,
			Consume:      consume,
			Reason:       "interval elapsed",
			StateUpdates: map[string]any{stateKeyLastFired: ctx.Now.UnixNano()},
		}
	}}
}

const stateKeyFirstSeen = "__n_of_m_first_seen_unix_nano"

// NOfM fires once at least threshold of the designated slots carry a new
// item, or once timeout has elapsed since the first of those items arrived,
// whichever comes first. It consumes one item from every designated slot
// that currently has one.
func NOfM(slotNames []string, threshold int, timeout time.Duration) ActivationPolicy {
	names := append([]string(nil), slotNames...)
	return &policyFunc{name: "n_of_m", fn: func(ctx ActivationContext) ActivationDecision {
		ready := 0
		consume := make(map[string]int)
		for _, name := range names {
			if len(ctx.Slots[name]) > 0 {
				ready++
				consume[name] = 1
			}
		}
		if ready == 0 {
			return ActivationDecision{Reason: "no designated slot has an item"}
		}

		var firstSeen int64
		if v, ok := ctx.State[stateKeyFirstSeen].(int64); ok {
			firstSeen = v
		}
		updates := map[string]any{}
		if firstSeen == 0 {
			firstSeen = ctx.Now.UnixNano()
			updates[stateKeyFirstSeen] = firstSeen
		}

		if ready >= threshold {
			updates[stateKeyFirstSeen] = int64(0)
			return ActivationDecision{ShouldFire: true, Consume: consume, Reason: "threshold reached", StateUpdates: updates}
		}
		if timeout > 0 && ctx.Now.UnixNano()-firstSeen >= timeout.Nanoseconds() {
			updates[stateKeyFirstSeen] = int64(0)
			return ActivationDecision{ShouldFire: true, Consume: consume, Reason: "timeout elapsed", StateUpdates: updates}
		}
		return ActivationDecision{Reason: "below threshold, timeout not elapsed", StateUpdates: updates}
	}}
}

// Breakpoint never fires on its own. It is installed in place of a
// routine's real policy while a routine breakpoint is active.
func Breakpoint(routineID string) ActivationPolicy {
	return &policyFunc{name: "breakpoint", fn: func(ctx ActivationContext) ActivationDecision {
		return ActivationDecision{Reason: "routine " + routineID + " suspended by breakpoint"}
	}}
}
