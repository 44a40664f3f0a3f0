package flow

import "testing"

func TestSlotBackpressure(t *testing.T) {
	s := NewSlot("in", 2)
	if err := s.Receive("job-1", 1); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if err := s.Receive("job-1", 2); err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if err := s.Receive("job-1", 3); err == nil {
		t.Fatal("expected backpressure error at max_queue")
	}
}

func TestSlotFIFOOrder(t *testing.T) {
	s := NewSlot("in", 0)
	for i := 1; i <= 3; i++ {
		_ = s.Receive("job-1", i)
	}
	got := s.ConsumeAllNew("job-1")
	want := []any{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestSlotPeekNewDoesNotConsume(t *testing.T) {
	s := NewSlot("in", 0)
	_ = s.Receive("job-1", "a")
	if items := s.PeekNew("job-1"); len(items) != 1 {
		t.Fatalf("expected 1 peeked item, got %v", items)
	}
	if items := s.PeekNew("job-1"); len(items) != 1 {
		t.Fatalf("peek should not drain: %v", items)
	}
}

func TestSlotJobIsolation(t *testing.T) {
	s := NewSlot("in", 0)
	_ = s.Receive("job-1", "a")
	_ = s.Receive("job-2", "b")
	if items := s.PeekNew("job-1"); len(items) != 1 || items[0] != "a" {
		t.Fatalf("job-1 queue polluted: %v", items)
	}
	if items := s.PeekNew("job-2"); len(items) != 1 || items[0] != "b" {
		t.Fatalf("job-2 queue polluted: %v", items)
	}
}

func TestSlotConsumeNPartial(t *testing.T) {
	s := NewSlot("in", 0)
	for i := 1; i <= 5; i++ {
		_ = s.Receive("job-1", i)
	}
	got := s.ConsumeN("job-1", 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 consumed, got %v", got)
	}
	remaining := s.PeekNew("job-1")
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining, got %v", remaining)
	}
}

func TestSlotPressureLevels(t *testing.T) {
	s := NewSlot("in", 10)
	for i := 0; i < 9; i++ {
		_ = s.Receive("job-1", i)
	}
	p := s.Pressure("job-1")
	if p.Level != PressureCritical {
		t.Fatalf("expected critical at 0.9 usage, got %s (%f)", p.Level, p.UsageRatio)
	}
}

func TestSlotClearRemovesQueue(t *testing.T) {
	s := NewSlot("in", 0)
	_ = s.Receive("job-1", "a")
	s.Clear("job-1")
	if items := s.PeekNew("job-1"); len(items) != 0 {
		t.Fatalf("expected empty after clear, got %v", items)
	}
}
