package flow

import "testing"

func TestDelayFixed(t *testing.T) {
	s := ErrorStrategy{Backoff: BackoffFixed, BaseDelay: 100}
	if d := s.Delay(1, nil); d != 100 {
		t.Fatalf("expected fixed delay 100, got %d", d)
	}
	if d := s.Delay(5, nil); d != 100 {
		t.Fatalf("expected fixed delay to ignore attempt, got %d", d)
	}
}

func TestDelayLinear(t *testing.T) {
	s := ErrorStrategy{Backoff: BackoffLinear, BaseDelay: 10}
	if d := s.Delay(3, nil); d != 30 {
		t.Fatalf("expected linear delay 30, got %d", d)
	}
}

func TestDelayExponential(t *testing.T) {
	s := ErrorStrategy{Backoff: BackoffExponential, BaseDelay: 10}
	if d := s.Delay(1, nil); d != 10 {
		t.Fatalf("expected 10 at attempt 1, got %d", d)
	}
	if d := s.Delay(4, nil); d != 80 {
		t.Fatalf("expected 80 at attempt 4 (10*2^3), got %d", d)
	}
}

// TestDelayExponentialJitterIsFullJitter mirrors _calculate_delay's
// exponential_jitter case: uniform(0, base*2**(attempt-1)), not a narrow
// band around the exponential value.
func TestDelayExponentialJitterIsFullJitter(t *testing.T) {
	s := ErrorStrategy{Backoff: BackoffExponentialJitter, BaseDelay: 100}
	exponential := s.Delay(4, func() float64 { return 1 }) // upper bound, j=1

	if d := s.Delay(4, func() float64 { return 0 }); d != 0 {
		t.Fatalf("expected j=0 to collapse to zero delay, got %d", d)
	}
	if d := s.Delay(4, func() float64 { return 0.5 }); d != exponential/2 {
		t.Fatalf("expected j=0.5 to halve the exponential delay, got %d want %d", d, exponential/2)
	}
	if exponential != 800 { // 100 * 2^3
		t.Fatalf("expected exponential upper bound 800, got %d", exponential)
	}
}

func TestDelayRespectsMaxDelayClamp(t *testing.T) {
	s := ErrorStrategy{Backoff: BackoffExponential, BaseDelay: 100, MaxDelay: 150}
	if d := s.Delay(5, nil); d != 150 {
		t.Fatalf("expected clamp to MaxDelay 150, got %d", d)
	}
}
