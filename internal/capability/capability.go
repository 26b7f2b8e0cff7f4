// Package capability implements the dynamic min/max bounds a policy-settable
// value must respect, grounded on
// original_source/domains/capabilities/{domain_capabilities,component_capabilities,knob_capabilities}.hpp.
//
// The defining invariant: a
// capability tracks the reading-sourced bound until a user writes a
// nonzero override, which latches the bound; writing zero unlatches it and
// resumes tracking the reading. maxRated always reflects the last
// reading-sourced value even while max is latched.
package capability

import "math"

// Bound is one latchable min or max value.
type Bound struct {
	value      float64 // the effective value (latched or reading-sourced)
	ratedValue float64 // last reading-sourced value, tracked even while latched
	latched    bool
}

func newBound(initial float64) Bound {
	return Bound{value: initial, ratedValue: initial}
}

// SetFromReading updates the reading-sourced value. If the bound is not
// latched, it also becomes the effective value.
func (b *Bound) SetFromReading(v float64) {
	b.ratedValue = v
	if !b.latched {
		b.value = v
	}
}

// SetUser applies a user override. v == 0 unlatches (resume tracking the
// reading); v != 0 latches the bound at v.
func (b *Bound) SetUser(v float64) {
	if v == 0 {
		b.latched = false
		b.value = b.ratedValue
		return
	}
	b.latched = true
	b.value = v
}

func (b *Bound) Value() float64  { return b.value }
func (b *Bound) Rated() float64  { return b.ratedValue }
func (b *Bound) Latched() bool   { return b.latched }

// OnChangeFunc is invoked whenever any bound in a Capabilities struct
// changes.
type OnChangeFunc func()

// Limit holds a latchable (min, max) pair — the shape shared by
// DomainCapabilities, ComponentCapabilities, and KnobCapabilities.
type Limit struct {
	min, max Bound
	onChange OnChangeFunc
}

func NewLimit(initialMin, initialMax float64, onChange OnChangeFunc) *Limit {
	return &Limit{min: newBound(initialMin), max: newBound(initialMax), onChange: onChange}
}

func (l *Limit) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}

func (l *Limit) SetMinFromReading(v float64) { l.min.SetFromReading(v); l.notify() }
func (l *Limit) SetMaxFromReading(v float64) { l.max.SetFromReading(v); l.notify() }
func (l *Limit) SetMin(v float64)            { l.min.SetUser(v); l.notify() }
func (l *Limit) SetMax(v float64)            { l.max.SetUser(v); l.notify() }

func (l *Limit) Min() float64     { return l.min.Value() }
func (l *Limit) Max() float64     { return l.max.Value() }
func (l *Limit) MaxRated() float64 { return l.max.Rated() }
func (l *Limit) MinRated() float64 { return l.min.Rated() }

// Clamp restricts v to [Min(), Max()].
func (l *Limit) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if v < l.Min() {
		return l.Min()
	}
	if v > l.Max() {
		return l.Max()
	}
	return v
}

// ForceReadingOnly rejects user writes until released, used by
// HwProtection when its reading source switches to a PSU-derived max:
// min/max are forced to (0, maxRated) and further user writes to either
// bound are silently ignored until Release.
type ForceReadingOnly struct {
	*Limit
	forced bool
}

func NewForceReadingOnly(initialMin, initialMax float64) *ForceReadingOnly {
	return &ForceReadingOnly{Limit: NewLimit(initialMin, initialMax, nil)}
}

func (f *ForceReadingOnly) SetMin(v float64) {
	if f.forced {
		return
	}
	f.Limit.SetMin(v)
}

func (f *ForceReadingOnly) SetMax(v float64) {
	if f.forced {
		return
	}
	f.Limit.SetMax(v)
}

func (f *ForceReadingOnly) Force(maxRated float64) {
	f.forced = true
	f.Limit.min.latched = false
	f.Limit.min.value, f.Limit.min.ratedValue = 0, 0
	f.Limit.max.latched = false
	f.Limit.max.value, f.Limit.max.ratedValue = maxRated, maxRated
	f.notify()
}

func (f *ForceReadingOnly) Release() { f.forced = false }

// DomainCapabilities, ComponentCapabilities, KnobCapabilities are all the
// same shape at this layer (Limit plus MaxCorrectionTimeInMs/
// MinCorrectionTimeInMs/statistics-reporting-period bounds belong to the
// domain-level one); they are distinguished by what constructs and owns
// them, not by a different struct shape, matching how the original's three
// header files differ mainly in factory wiring rather than stored state.
type DomainCapabilities struct {
	*Limit
	MinCorrectionTimeMs      int64
	MaxCorrectionTimeMs      int64
	MinStatReportingPeriodMs int64
	MaxStatReportingPeriodMs int64
}

type ComponentCapabilities struct {
	*Limit
}

type KnobCapabilities struct {
	*Limit
}
