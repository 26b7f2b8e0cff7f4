package trigger

import (
	"math"
	"testing"
	"time"
)

func TestActionEdgeDetection(t *testing.T) {
	a := NewAction(100)
	if got := a.UpdateReading(150); got != ActionTrigger {
		t.Fatalf("rising through ref should trigger, got %v", got)
	}
	if got := a.UpdateReading(160); got != ActionNone {
		t.Fatalf("staying above ref should not re-trigger, got %v", got)
	}
	if got := a.UpdateReading(90); got != ActionDeactivate {
		t.Fatalf("falling through ref should deactivate, got %v", got)
	}
}

func TestActionMissingReadingPreservesLastGoodReading(t *testing.T) {
	a := NewAction(100)
	if got := a.UpdateReading(150); got != ActionTrigger {
		t.Fatalf("rising through ref should trigger, got %v", got)
	}
	if got := a.UpdateReading(math.NaN()); got != ActionMissingReading {
		t.Fatalf("NaN sample should report missing reading, got %v", got)
	}
	// The NaN gap must not clobber the last good reading (150): the next
	// valid sample still above ref should not spuriously re-trigger, and a
	// sample that actually falls through the ref should still deactivate.
	if got := a.UpdateReading(155); got != ActionNone {
		t.Fatalf("resuming above ref after a NaN gap should not re-trigger, got %v", got)
	}
	if got := a.UpdateReading(90); got != ActionDeactivate {
		t.Fatalf("falling through ref after the NaN gap should still deactivate, got %v", got)
	}
}

func TestActionCpuUtilizationInvertsPolarity(t *testing.T) {
	a := NewActionCpuUtilization(50, time.Second)
	now := time.Unix(0, 0)
	a.UpdateReading(80, now)
	if got := a.UpdateReading(80, now.Add(2*time.Second)); got != ActionDeactivate {
		t.Fatalf("rising above ref should deactivate (inverted polarity), got %v", got)
	}
}

func TestActionBinaryIgnoresNonBooleanValues(t *testing.T) {
	a := NewActionBinary()
	if got := a.UpdateReading(0.5); got != ActionNone {
		t.Fatalf("non-{0,1} value should be ignored, got %v", got)
	}
	if got := a.UpdateReading(1); got != ActionTrigger {
		t.Fatalf("rising to 1 should trigger, got %v", got)
	}
}
