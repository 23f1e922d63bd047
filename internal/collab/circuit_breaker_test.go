package collab

import (
	"testing"
	"time"

	"github.com/draftforge/draftforge/model"
)

func TestCircuitBreaker_tripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if err := cb.Allow(); err != nil {
			t.Fatalf("Allow() after %d failures = %v, want nil", i+1, err)
		}
	}

	cb.RecordFailure()
	err := cb.Allow()
	if err == nil {
		t.Fatal("Allow() after threshold = nil, want open-circuit error")
	}
	if !model.IsCode(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("Allow() error code = %v, want COLLABORATOR_UNAVAILABLE", err)
	}
	if cb.State() != BreakerOpen {
		t.Errorf("State() = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_successResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil after non-consecutive failures", err)
	}
}

func TestCircuitBreaker_halfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() = nil, want open-circuit error")
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want half-open probe", err)
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}

	// One success is not enough at successThreshold 2.
	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Errorf("State() after one success = %v, want half-open", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("State() after two successes = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_halfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want half-open probe", err)
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("State() after half-open failure = %v, want open", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Error("Allow() = nil, want open-circuit error after reopen")
	}
}
