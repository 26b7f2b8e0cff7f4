package statistics

import "time"

// Accumulator pairs a long-window NormalAverage with a fixed 1-second
// moving average exposing CurrentValue, matching the
// GlobalAccumulator/PolicyAccumulator split: the two constructors differ
// only in the long-window's period, so both are modeled by the same type.
type Accumulator struct {
	long    *NormalAverage
	current *MovingAverage
}

// NewGlobalAccumulator tracks a reading over its full reporting period.
func NewGlobalAccumulator() *Accumulator {
	return &Accumulator{
		long:    NewNormalAverage(),
		current: NewMovingAverage(time.Second),
	}
}

// NewPolicyAccumulator is the same shape; policies reset it independently
// of any global accumulator watching the same reading.
func NewPolicyAccumulator() *Accumulator {
	return NewGlobalAccumulator()
}

func (a *Accumulator) AddSample(value float64, now time.Time) {
	a.long.AddSample(value, now)
	a.current.AddSample(value, now)
}

func (a *Accumulator) Average() float64        { return a.long.Average() }
func (a *Accumulator) Min() float64            { return a.long.Min() }
func (a *Accumulator) Max() float64            { return a.long.Max() }
func (a *Accumulator) ReportingPeriod() time.Duration { return a.long.ReportingPeriod() }

// CurrentValue is the 1-second moving average, closer to instantaneous than
// Average().
func (a *Accumulator) CurrentValue(now time.Time) float64 { return a.current.Average(now) }

func (a *Accumulator) Reset() {
	a.long.reset()
	a.current.reset()
}
