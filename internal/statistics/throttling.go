package statistics

import (
	"math"
	"time"
)

// ThrottlingStatistic wraps an Accumulator but transforms the incoming
// limit value to a percent-throttled figure before forwarding it, per
// original_source/statistics/throttling_statistic.hpp:
//
//	100 * (1 - (limit-min)/(max-min)), clamped to [0,100], NaN if max<=min.
type ThrottlingStatistic struct {
	inner   *Accumulator
	min     float64
	max     float64
}

func NewThrottlingStatistic(min, max float64) *ThrottlingStatistic {
	return &ThrottlingStatistic{inner: NewGlobalAccumulator(), min: min, max: max}
}

func (t *ThrottlingStatistic) SetBounds(min, max float64) {
	t.min, t.max = min, max
}

func (t *ThrottlingStatistic) AddLimitSample(limit float64, now time.Time) {
	t.inner.AddSample(t.percentThrottled(limit), now)
}

func (t *ThrottlingStatistic) percentThrottled(limit float64) float64 {
	if t.max <= t.min {
		return math.NaN()
	}
	if math.IsNaN(limit) {
		return math.NaN()
	}
	pct := 100 * (1 - (limit-t.min)/(t.max-t.min))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (t *ThrottlingStatistic) Average() float64            { return t.inner.Average() }
func (t *ThrottlingStatistic) Min() float64                { return t.inner.Min() }
func (t *ThrottlingStatistic) Max() float64                { return t.inner.Max() }
func (t *ThrottlingStatistic) CurrentValue(now time.Time) float64 { return t.inner.CurrentValue(now) }
func (t *ThrottlingStatistic) Reset()                       { t.inner.Reset() }
