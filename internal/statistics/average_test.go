package statistics

import (
	"math"
	"testing"
	"time"
)

func TestNormalAverageRequiresTwoSamples(t *testing.T) {
	a := NewNormalAverage()
	base := time.Unix(0, 0)

	if !math.IsNaN(a.Average()) {
		t.Fatalf("expected NaN before any sample, got %v", a.Average())
	}
	a.AddSample(10, base)
	if !math.IsNaN(a.Average()) {
		t.Fatalf("expected NaN after a single sample, got %v", a.Average())
	}
	a.AddSample(20, base.Add(time.Second))
	if got := a.Average(); got != 10 {
		t.Fatalf("want 10 (time-weighted on prior sample), got %v", got)
	}
}

func TestNormalAverageResetsOnNaN(t *testing.T) {
	a := NewNormalAverage()
	base := time.Unix(0, 0)
	a.AddSample(10, base)
	a.AddSample(20, base.Add(time.Second))
	a.AddSample(math.NaN(), base.Add(2*time.Second))
	if !math.IsNaN(a.Average()) {
		t.Fatalf("expected reset to NaN, got %v", a.Average())
	}
}

func TestMovingAverageSingleSampleIsNaN(t *testing.T) {
	m := NewMovingAverage(30 * time.Second)
	base := time.Unix(0, 0)
	m.AddSample(5, base)
	if got := m.Average(base); !math.IsNaN(got) {
		t.Fatalf("want NaN for single sample at t=0, got %v", got)
	}
}

func TestMovingAverageReportingPeriodCapped(t *testing.T) {
	period := 3 * time.Second
	m := NewMovingAverage(period)
	base := time.Unix(0, 0)
	m.AddSample(1, base)
	for i := 1; i <= 10; i++ {
		m.AddSample(1, base.Add(time.Duration(i)*time.Second))
	}
	if got := m.ReportingPeriod(base.Add(10 * time.Second)); got > period {
		t.Fatalf("reporting period %v exceeds configured period %v", got, period)
	}
}

func TestEnergyStatisticMonotoneNonDecreasing(t *testing.T) {
	e := NewEnergyStatistic()
	base := time.Unix(0, 0)
	var prev uint64
	for i := 0; i < 20; i++ {
		e.AddSample(0.3, base.Add(time.Duration(i)*time.Second))
		cur := e.Current()
		if cur < prev {
			t.Fatalf("energy decreased: %d -> %d", prev, cur)
		}
		prev = cur
	}
}

func TestEnergyStatisticMeasurementState(t *testing.T) {
	e := NewEnergyStatistic()
	base := time.Unix(0, 0)
	e.AddSample(10, base)
	if !e.MeasurementState() {
		t.Fatalf("expected MeasurementState true after valid sample")
	}
	e.AddSample(math.NaN(), base.Add(time.Second))
	if e.MeasurementState() {
		t.Fatalf("expected MeasurementState false after NaN sample")
	}
}

func TestThrottlingStatisticClampsAndNaN(t *testing.T) {
	ts := NewThrottlingStatistic(100, 200)
	base := time.Unix(0, 0)
	if got := ts.percentThrottled(100); got != 100 {
		t.Fatalf("limit at min should be 100%% throttled, got %v", got)
	}
	if got := ts.percentThrottled(200); got != 0 {
		t.Fatalf("limit at max should be 0%% throttled, got %v", got)
	}

	degenerate := NewThrottlingStatistic(200, 100)
	degenerate.AddLimitSample(150, base)
	if got := degenerate.CurrentValue(base); !math.IsNaN(got) {
		t.Fatalf("want NaN when max<=min, got %v", got)
	}
}
