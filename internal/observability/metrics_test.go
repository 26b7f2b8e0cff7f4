package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPolicyTransitionTracksSelectedGauge(t *testing.T) {
	m := NewMetrics()

	m.RecordPolicyTransition("CpuSubsystem", "ready", "triggered")
	if got := testutil.ToFloat64(m.PoliciesSelected.WithLabelValues("CpuSubsystem")); got != 0 {
		t.Fatalf("expected selected gauge 0 after ready->triggered, got %v", got)
	}

	m.RecordPolicyTransition("CpuSubsystem", "triggered", "selected")
	if got := testutil.ToFloat64(m.PoliciesSelected.WithLabelValues("CpuSubsystem")); got != 1 {
		t.Fatalf("expected selected gauge 1 after triggered->selected, got %v", got)
	}

	m.RecordPolicyTransition("CpuSubsystem", "selected", "triggered")
	if got := testutil.ToFloat64(m.PoliciesSelected.WithLabelValues("CpuSubsystem")); got != 0 {
		t.Fatalf("expected selected gauge 0 after selected->triggered, got %v", got)
	}
}

func TestNewMetricsRegistersWithoutPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("NewMetrics panicked: %v", r)
		}
	}()
	_ = NewMetrics()
}
