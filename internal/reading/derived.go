package reading

import "math"

// PsuEfficiency computes platform efficiency (ΣDC/ΣAC) smoothed with an
// EWMA over a fixed window; unlike the other reading types this value is
// computed rather than sampled from hardware. The EWMA recurrence
// (P_{t+1} = α*P_t + (1-α)*A_t) is the same accumulator shape used
// elsewhere in this codebase for pressure scores, reused here over an
// efficiency ratio instead.
type PsuEfficiency struct {
	alpha float64
	value float64
	set   bool
}

// NewPsuEfficiency builds an efficiency smoother; alpha must be in [0,1].
func NewPsuEfficiency(alpha float64) *PsuEfficiency {
	if alpha < 0 || alpha > 1 {
		panic("reading: psu efficiency alpha out of [0,1]")
	}
	return &PsuEfficiency{alpha: alpha}
}

// Update folds in a new instantaneous DC/AC ratio sample and returns the
// smoothed value. NaN is ignored — the last good efficiency carries
// forward rather than poisoning the average, matching budgeting's
// treatment of a NaN psuEfficiency reading as "default to 1.0" at the
// consumption site (internal/budgeting), not at the source.
func (p *PsuEfficiency) Update(instantaneous float64) float64 {
	if math.IsNaN(instantaneous) {
		if !p.set {
			return instantaneous
		}
		return p.value
	}
	if !p.set {
		p.value = instantaneous
		p.set = true
		return p.value
	}
	p.value = p.alpha*p.value + (1-p.alpha)*instantaneous
	return p.value
}

func (p *PsuEfficiency) Value() float64 {
	if !p.set {
		return math.NaN()
	}
	return p.value
}
