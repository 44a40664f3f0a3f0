package flow

import "testing"

func buildEchoFlow(t *testing.T) *Flow {
	t.Helper()
	f := New("", "echo-flow")

	src := NewRoutine("src", "echo")
	src.AddSlot("trigger", 0)
	src.AddEvent("out", []string{"data"})
	src.SetActivationPolicy(Immediate())

	dst := NewRoutine("dst", "sink")
	dst.AddSlot("in", 0)

	if err := f.AddRoutine(src); err != nil {
		t.Fatalf("add src: %v", err)
	}
	if err := f.AddRoutine(dst); err != nil {
		t.Fatalf("add dst: %v", err)
	}
	if _, err := f.Connect("src", "out", "dst", "in", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return f
}

func TestFlowConnectValidatesEndpoints(t *testing.T) {
	f := buildEchoFlow(t)
	if _, err := f.Connect("src", "missing-event", "dst", "in", nil); err == nil {
		t.Fatal("expected error for missing event")
	}
	if _, err := f.Connect("src", "out", "dst", "missing-slot", nil); err == nil {
		t.Fatal("expected error for missing slot")
	}
	if _, err := f.Connect("missing-routine", "out", "dst", "in", nil); err == nil {
		t.Fatal("expected error for missing source routine")
	}
}

func TestFlowAddRoutineRejectsDuplicateID(t *testing.T) {
	f := buildEchoFlow(t)
	dup := NewRoutine("src", "echo")
	if err := f.AddRoutine(dup); err == nil {
		t.Fatal("expected duplicate id rejection")
	}
}

func TestFlowCloneIsIndependent(t *testing.T) {
	f := buildEchoFlow(t)
	clone := f.Clone()

	src, _ := f.GetRoutine("src")
	slot, _ := src.Slot("trigger")
	_ = slot.Receive("job-1", map[string]any{"data": "hi"})

	cloneSrc, _ := clone.GetRoutine("src")
	cloneSlot, _ := cloneSrc.Slot("trigger")
	if items := cloneSlot.PeekNew("job-1"); len(items) != 0 {
		t.Fatalf("clone shares queue state with original: %v", items)
	}
	if len(clone.Connections()) != 1 {
		t.Fatalf("clone lost connection topology: %d", len(clone.Connections()))
	}
}

func TestConnectionApplyMapping(t *testing.T) {
	c := &Connection{ParamMapping: map[string]string{"data": "payload"}}
	out := c.Apply(map[string]any{"data": "x", "index": 1})
	if out["payload"] != "x" {
		t.Fatalf("mapped param not renamed: %v", out)
	}
	if out["index"] != 1 {
		t.Fatalf("unmapped param dropped: %v", out)
	}
}

func TestEventValidateStrictRejectsMismatch(t *testing.T) {
	e := NewEventSpec("out", []string{"data", "index"})
	if _, err := e.Validate(map[string]any{"data": "x"}, true); err == nil {
		t.Fatal("expected schema_error for missing param in strict mode")
	}
	if _, err := e.Validate(map[string]any{"data": "x", "extra": 1}, true); err == nil {
		t.Fatal("expected schema_error for extra param in strict mode")
	}
}

func TestEventValidateLenientCoerces(t *testing.T) {
	e := NewEventSpec("out", []string{"data", "index"})
	out, err := e.Validate(map[string]any{"data": "x", "extra": 1}, false)
	if err != nil {
		t.Fatalf("lenient mode should not error: %v", err)
	}
	if out["index"] != nil {
		t.Fatalf("missing param should default to nil: %v", out)
	}
	if out["extra"] != 1 {
		t.Fatalf("extra param should be kept in lenient mode: %v", out)
	}
}
