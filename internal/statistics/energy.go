package statistics

import (
	"math"
	"time"
)

// EnergyStatistic accumulates integer energy units (joule-like) from a
// power reading. Fractional remainders carry forward rather than being
// dropped each sample, so EnergyStatistic.Current is monotone
// non-decreasing even when every individual sample is sub-integral,
// matching original_source/statistics/energy_statistic.hpp.
type EnergyStatistic struct {
	accumulated      uint64
	leftover         float64
	totalElapsed     time.Duration
	lastSampleWasOK  bool
	lastTime         time.Time
	hasLastTime      bool
}

func NewEnergyStatistic() *EnergyStatistic {
	return &EnergyStatistic{}
}

// AddSample adds the sample value itself to the energy units: its integral
// part directly, its fractional part to a carried remainder that spills
// into the total once it reaches 1. The value is not scaled by elapsed
// time; elapsed time is tracked separately for ReportingPeriod. NaN marks the
// measurement as unavailable for this period but still advances elapsed
// time, matching the original's "totalElapsedTime accumulates regardless
// of sample validity".
func (e *EnergyStatistic) AddSample(wattSample float64, now time.Time) {
	if e.hasLastTime {
		e.totalElapsed += now.Sub(e.lastTime)
	}
	e.lastTime = now
	e.hasLastTime = true

	if math.IsNaN(wattSample) {
		e.lastSampleWasOK = false
		return
	}

	integral, fractional := math.Modf(wattSample)
	e.accumulated += uint64(integral)
	e.leftover += fractional
	if e.leftover >= 1 {
		whole := math.Floor(e.leftover)
		e.accumulated += uint64(whole)
		e.leftover -= whole
	}
	e.lastSampleWasOK = true
}

func (e *EnergyStatistic) Current() uint64 { return e.accumulated }

func (e *EnergyStatistic) ReportingPeriod() time.Duration { return e.totalElapsed }

// MeasurementState is true only immediately after a valid sample; it goes
// false the instant a NaN sample is observed and stays false until the
// next valid one.
func (e *EnergyStatistic) MeasurementState() bool { return e.lastSampleWasOK }
