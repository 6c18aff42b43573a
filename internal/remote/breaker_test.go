package remote

import (
	"testing"
	"time"

	"github.com/thridium/casetrack/internal/config"
)

func testBreaker(failures, successes int, timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          timeout,
	})
}

func TestBreaker_trips_after_consecutive_failures(t *testing.T) {
	cb := testBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if err := cb.Allow(); err != nil {
			t.Fatalf("Allow() after %d failures = %v, want nil", i+1, err)
		}
	}

	cb.RecordFailure()
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() after threshold failures = nil, want open-circuit error")
	}
	if cb.State() != BreakerOpen {
		t.Errorf("State() = %v, want open", cb.State())
	}
}

func TestBreaker_success_resets_failure_count(t *testing.T) {
	cb := testBreaker(3, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil (failure streak was reset)", err)
	}
}

func TestBreaker_half_open_probe(t *testing.T) {
	cb := testBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want nil (half-open probe)", err)
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}

	// One success is not enough with successThreshold=2.
	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Errorf("State() after 1 success = %v, want half-open", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("State() after 2 successes = %v, want closed", cb.State())
	}
}

func TestBreaker_half_open_failure_reopens(t *testing.T) {
	cb := testBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("State() = %v, want open after half-open failure", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Error("Allow() = nil, want open-circuit error")
	}
}

func TestBreakerState_string(t *testing.T) {
	states := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
