// Package domain implements the per-domain aggregation that selects the
// minimum of triggered limits and arbitrates between power-correction
// strategies, grounded on original_source's domain.hpp lowest-limit scan.
package domain

import (
	"sort"
	"time"

	"github.com/openbmc/node-manager/internal/budgeting"
	"github.com/openbmc/node-manager/internal/policy"
	"go.uber.org/zap"
)

// limitKey is (componentId, strategy), the unit over which the lowest
// triggered/selected policy is tracked.
type limitKey struct {
	componentID int
	strategy    policy.BudgetingStrategy
}

// Domain owns a set of policies, per-component capabilities, and the two
// bias knobs that adjust every limit it forwards to budgeting.
type Domain struct {
	ID      policy.DomainID
	Factory *policy.DomainFactory
	Budget  *budgeting.Budgeting

	LimitBiasAbsolute float64
	LimitBiasRelative float64

	componentBounds func(componentID int) (min, max float64)

	lowestLimits map[limitKey]*policy.Policy
	hostPowerOn  bool

	log *zap.Logger
}

func New(id policy.DomainID, factory *policy.DomainFactory, budget *budgeting.Budgeting, log *zap.Logger) *Domain {
	return &Domain{
		ID:                id,
		Factory:           factory,
		Budget:            budget,
		LimitBiasRelative: 1.0,
		lowestLimits:      make(map[limitKey]*policy.Policy),
		hostPowerOn:       true,
		log:               log,
	}
}

// SetComponentBounds installs the accessor Domain uses to clamp a biased
// limit to the component's [min, max] capability range.
func (d *Domain) SetComponentBounds(bounds func(componentID int) (min, max float64)) {
	d.componentBounds = bounds
}

// SetHostPowerOn handles the host power transition: going from on to off
// resets every currently-limiting entry, since none of them still apply
// once the host has no power draw to budget.
func (d *Domain) SetHostPowerOn(on bool) {
	wasOn := d.hostPowerOn
	d.hostPowerOn = on
	if wasOn && !on {
		for key, p := range d.lowestLimits {
			d.Budget.ResetLimit(d.ID, key.componentID, key.strategy)
			p.SetLimitSelected(false)
		}
		d.lowestLimits = make(map[limitKey]*policy.Policy)
	}
}

// Run executes one tick for the domain: run every child policy, then (if
// host power is on) select the lowest limit per (component, strategy),
// forward biased limits to budgeting, reset removed keys, and reconcile
// selected/triggered against budgeting's active state.
func (d *Domain) Run(now time.Time, readingsByPolicy map[string]float64) {
	for _, p := range d.Factory.All() {
		p.Tick(now, readingsByPolicy[p.ID])
	}

	if !d.hostPowerOn {
		return
	}

	current := d.computeLowestLimits()

	for key, p := range current {
		min, max := 0.0, 1e18
		if d.componentBounds != nil {
			min, max = d.componentBounds(key.componentID)
		}
		biased := clamp(p.Limit()*d.LimitBiasRelative+d.LimitBiasAbsolute, min, max)
		d.Budget.SetLimit(d.ID, key.componentID, biased, key.strategy)
	}

	for key, prevPolicy := range d.lowestLimits {
		if _, stillPresent := current[key]; !stillPresent {
			d.Budget.ResetLimit(d.ID, key.componentID, key.strategy)
			prevPolicy.SetLimitSelected(false)
		}
	}

	d.lowestLimits = current

	for key, p := range d.lowestLimits {
		active := d.Budget.IsActive(d.ID, key.componentID, key.strategy)
		p.SetLimitSelected(active)
	}
}

// computeLowestLimits scans all policies in {triggered, selected} and
// keeps the lowest-limit policy per (componentId, strategy) key.
func (d *Domain) computeLowestLimits() map[limitKey]*policy.Policy {
	out := make(map[limitKey]*policy.Policy)
	for _, p := range d.Factory.All() {
		st := p.State()
		if st != policy.StateTriggered && st != policy.StateSelected {
			continue
		}
		key := limitKey{componentID: p.Params().ComponentID, strategy: p.Strategy()}
		if existing, ok := out[key]; !ok || p.Limit() < existing.Limit() {
			out[key] = p
		}
	}
	return out
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// AvailableComponents decodes a presence bitmask (e.g. cpuPresence,
// pciePresence) into a sorted list of device indices.
func AvailableComponents(bitmask uint64) []int {
	var out []int
	for i := 0; i < 64; i++ {
		if bitmask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}
