package flow

import "time"

// ErrorStrategyKind selects how a routine's scheduler response to a logic
// error that escaped a firing.
type ErrorStrategyKind string

const (
	// ErrorStop transitions the owning job to failed on the first error.
	ErrorStop ErrorStrategyKind = "stop"
	// ErrorContinue records the error, skips the emission, and keeps
	// scheduling the job normally.
	ErrorContinue ErrorStrategyKind = "continue"
	// ErrorRetry re-invokes logic with the same data slice after a
	// backoff, falling through to Fallback once MaxAttempts is exhausted.
	ErrorRetry ErrorStrategyKind = "retry"
)

// BackoffKind mirrors the delay shapes the retry routine in the reference
// library supports.
type BackoffKind string

const (
	BackoffFixed             BackoffKind = "fixed"
	BackoffLinear            BackoffKind = "linear"
	BackoffExponential       BackoffKind = "exponential"
	BackoffExponentialJitter BackoffKind = "exponential_jitter"
)

// ErrorStrategy is the per-routine configuration consulted by the
// scheduler's error handling path (see flow error kind table).
type ErrorStrategy struct {
	Kind string // ErrorStop, ErrorContinue, or ErrorRetry

	MaxAttempts int
	Backoff     BackoffKind
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Fallback is consulted once retry attempts are exhausted: it must be
	// either ErrorStop or ErrorContinue.
	Fallback string
}

// DefaultErrorStrategy stops the job on the first unrecovered error, which
// matches the base-routine contract when a caller configures nothing.
func DefaultErrorStrategy() ErrorStrategy {
	return ErrorStrategy{Kind: string(ErrorStop)}
}

// Delay computes the backoff for a given attempt number (1-based) per the
// configured shape, clamped to [0, MaxDelay] when MaxDelay is set.
func (s ErrorStrategy) Delay(attempt int, jitter func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := s.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	var d time.Duration
	switch s.Backoff {
	case BackoffLinear:
		d = base * time.Duration(attempt)
	case BackoffExponential, BackoffExponentialJitter:
		d = base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		if s.Backoff == BackoffExponentialJitter {
			// Full jitter: uniform(0, exponential_delay), per
			// _calculate_delay in the reference retry handler.
			j := 0.0
			if jitter != nil {
				j = jitter()
			}
			d = time.Duration(j * float64(d))
		}
	default: // BackoffFixed and unset
		d = base
	}
	if s.MaxDelay > 0 && d > s.MaxDelay {
		d = s.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
