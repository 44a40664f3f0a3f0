package flow

import (
	"testing"
	"time"
)

func TestImmediateFiresOnAnyNewItem(t *testing.T) {
	p := Immediate()
	d := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1, 2}, "b": nil}})
	if !d.ShouldFire {
		t.Fatal("expected fire")
	}
	if d.Consume["a"] != 2 {
		t.Fatalf("expected consume 2 from a, got %v", d.Consume)
	}
	if _, ok := d.Consume["b"]; ok {
		t.Fatalf("empty slot should not appear in consume map: %v", d.Consume)
	}
}

func TestBatchSizeFiresOnlyAtThreshold(t *testing.T) {
	p := BatchSize("in", 3)
	d := p.Evaluate(ActivationContext{Slots: map[string][]any{"in": {1, 2}}})
	if d.ShouldFire {
		t.Fatal("should not fire below threshold")
	}
	d = p.Evaluate(ActivationContext{Slots: map[string][]any{"in": {1, 2, 3, 4}}})
	if !d.ShouldFire || d.Consume["in"] != 3 {
		t.Fatalf("expected fire consuming exactly 3, got %+v", d)
	}
}

func TestAllSlotsReadyRequiresEveryDeclaredSlot(t *testing.T) {
	p := AllSlotsReady([]string{"a", "b"})
	d := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}}})
	if d.ShouldFire {
		t.Fatal("should not fire with one slot empty")
	}
	d = p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}, "b": {2}}})
	if !d.ShouldFire || d.Consume["a"] != 1 || d.Consume["b"] != 1 {
		t.Fatalf("expected fire consuming one from each, got %+v", d)
	}
}

func TestTimeIntervalRespectsElapsed(t *testing.T) {
	p := TimeInterval(50 * time.Millisecond)
	now := time.Now()
	d1 := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}}, Now: now})
	if !d1.ShouldFire {
		t.Fatal("first evaluation with no prior fire should fire")
	}
	d2 := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}}, Now: now.Add(10 * time.Millisecond), State: d1.StateUpdates})
	if d2.ShouldFire {
		t.Fatal("should not fire before interval elapses")
	}
	d3 := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}}, Now: now.Add(60 * time.Millisecond), State: d1.StateUpdates})
	if !d3.ShouldFire {
		t.Fatal("should fire once interval elapses")
	}
}

func TestNOfMFiresOnThresholdOrTimeout(t *testing.T) {
	p := NOfM([]string{"a", "b", "c"}, 2, 100*time.Millisecond)
	now := time.Now()
	d := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}}, Now: now})
	if d.ShouldFire {
		t.Fatal("should not fire below threshold before timeout")
	}
	d2 := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}, "b": {2}}, Now: now.Add(1 * time.Millisecond), State: d.StateUpdates})
	if !d2.ShouldFire {
		t.Fatal("should fire once threshold reached")
	}

	// Timeout path: below threshold the whole time.
	d3 := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}}, Now: now})
	d4 := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1}}, Now: now.Add(150 * time.Millisecond), State: d3.StateUpdates})
	if !d4.ShouldFire {
		t.Fatal("should fire once timeout elapses even below threshold")
	}
}

func TestBreakpointPolicyNeverFires(t *testing.T) {
	p := Breakpoint("r1")
	d := p.Evaluate(ActivationContext{Slots: map[string][]any{"a": {1, 2, 3}}})
	if d.ShouldFire {
		t.Fatal("breakpoint policy must never fire")
	}
}

func TestPolicyPurity(t *testing.T) {
	p := BatchSize("in", 2)
	ctx := ActivationContext{Slots: map[string][]any{"in": {1, 2}}}
	d1 := p.Evaluate(ctx)
	d2 := p.Evaluate(ctx)
	if d1.ShouldFire != d2.ShouldFire || d1.Reason != d2.Reason {
		t.Fatalf("policy not pure: %+v vs %+v", d1, d2)
	}
}
