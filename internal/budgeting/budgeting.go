package budgeting

import (
	"math"

	"github.com/openbmc/node-manager/internal/policy"
	"go.uber.org/zap"
)

// Control is the contract Budgeting drives each tick; the
// concrete sysfs-backed implementation lives in internal/control.
type Control interface {
	SetBudget(rapl policy.RaplDomainID, value float64, active bool)
	SetComponentBudget(rapl policy.RaplDomainID, componentID int, value float64, active bool)
	IsDomainLimitActive(rapl policy.RaplDomainID) bool
	IsComponentLimitActive(rapl policy.RaplDomainID, componentID int) bool
}

// ptamKey is (DomainId, BudgetingStrategy) -> limit, the PTAM limit map.
type ptamKey struct {
	domain   policy.DomainID
	strategy policy.BudgetingStrategy
}

// Budgeting holds one PowerLimitSelector per RAPL sub-domain plus the one
// compound selector used for AC/DC aggressive platform limits.
type Budgeting struct {
	selectors       map[policy.RaplDomainID]*PowerLimitSelector
	compoundSelector *PowerLimitSelector
	distributor     *CompoundDistributor

	ptamLimits map[ptamKey]float64
	componentBudgets map[componentKey]float64

	psuEfficiency func() float64 // NaN-safe reading accessor; NaN defaults to 1.0
	control       Control
	log           *zap.Logger
}

type componentKey struct {
	domain      policy.DomainID
	componentID int
	strategy    policy.BudgetingStrategy
}

func New(control Control, distributor *CompoundDistributor, psuEfficiency func() float64, log *zap.Logger) *Budgeting {
	b := &Budgeting{
		selectors:        make(map[policy.RaplDomainID]*PowerLimitSelector),
		compoundSelector: NewPowerLimitSelector(),
		distributor:      distributor,
		ptamLimits:       make(map[ptamKey]float64),
		componentBudgets: make(map[componentKey]float64),
		psuEfficiency:    psuEfficiency,
		control:          control,
		log:              log,
	}
	for _, r := range []policy.RaplDomainID{policy.RaplDcTotalPower, policy.RaplCpuSubsystem, policy.RaplMemorySubsystem, policy.RaplPcie} {
		b.selectors[r] = NewPowerLimitSelector()
	}
	return b
}

// SetLimit is the Domain-facing entry point: componentId ==
// ComponentIDAll updates the PTAM limit map; otherwise it passes straight
// through to Control as a per-component budget.
func (b *Budgeting) SetLimit(domain policy.DomainID, componentID int, value float64, strategy policy.BudgetingStrategy) {
	if componentID == policy.ComponentIDAll {
		b.ptamLimits[ptamKey{domain, strategy}] = value
		return
	}
	rapl, ok := policy.MapToRaplDomain(domain)
	if !ok {
		return
	}
	b.componentBudgets[componentKey{domain, componentID, strategy}] = value
	b.control.SetComponentBudget(rapl, componentID, value, true)
}

func (b *Budgeting) ResetLimit(domain policy.DomainID, componentID int, strategy policy.BudgetingStrategy) {
	if componentID == policy.ComponentIDAll {
		delete(b.ptamLimits, ptamKey{domain, strategy})
		return
	}
	rapl, ok := policy.MapToRaplDomain(domain)
	if !ok {
		return
	}
	delete(b.componentBudgets, componentKey{domain, componentID, strategy})
	b.control.SetComponentBudget(rapl, componentID, 0, false)
}

// IsActive reflects whether (domain, strategy) is the winner of its
// selector and the underlying control has the limit installed.
func (b *Budgeting) IsActive(domain policy.DomainID, componentID int, strategy policy.BudgetingStrategy) bool {
	if componentID != policy.ComponentIDAll {
		rapl, ok := policy.MapToRaplDomain(domain)
		if !ok {
			return false
		}
		return b.control.IsComponentLimitActive(rapl, componentID)
	}
	if isCompoundCandidate(domain, strategy) {
		return b.compoundSelector.IsWinner(domain)
	}
	rapl, ok := policy.MapToRaplDomain(domain)
	if !ok {
		// Non-RAPL domains (Performance) have no hardware selector for
		// Control to arbitrate through: a PTAM entry still present for this
		// (domain, strategy) means Domain.Run's own lowest-limit scan chose
		// it this tick, so that is the active signal.
		_, stillPresent := b.ptamLimits[ptamKey{domain, strategy}]
		return stillPresent
	}
	sel := b.selectors[rapl]
	return sel != nil && sel.IsWinner(domain) && b.control.IsDomainLimitActive(rapl)
}

// isCompoundCandidate reports whether a (domain, strategy) PTAM entry must
// be routed to the compound selector rather than a sub-domain selector
// directly: AC/DC total power at aggressive strategy.
func isCompoundCandidate(domain policy.DomainID, strategy policy.BudgetingStrategy) bool {
	if strategy != policy.StrategyAggressive {
		return false
	}
	return domain == policy.DomainAcTotalPower || domain == policy.DomainDcTotalPower
}

// Run executes the full per-tick pipeline: propagatePtamLimits,
// runCompoundBudgeting, selectRaplLimits.
func (b *Budgeting) Run(subDomainInputs map[policy.RaplDomainID]SubDomainInput) {
	b.propagatePtamLimits()
	b.runCompoundBudgeting(subDomainInputs)
	b.selectRaplLimits()
}

func (b *Budgeting) propagatePtamLimits() {
	for _, sel := range b.selectors {
		sel.Clear()
	}
	b.compoundSelector.Clear()

	eff := 1.0
	if b.psuEfficiency != nil {
		if v := b.psuEfficiency(); !math.IsNaN(v) {
			eff = v
		}
	}

	for key, limit := range b.ptamLimits {
		value := limit
		if key.domain == policy.DomainAcTotalPower {
			value = limit * eff
		}
		if isCompoundCandidate(key.domain, key.strategy) {
			b.compoundSelector.UpdateLimit(key.domain, value)
			continue
		}
		rapl, ok := policy.MapToRaplDomain(key.domain)
		if !ok {
			continue
		}
		if sel := b.selectors[rapl]; sel != nil {
			sel.UpdateLimit(key.domain, value)
		}
	}
}

func (b *Budgeting) runCompoundBudgeting(subDomainInputs map[policy.RaplDomainID]SubDomainInput) {
	total, winner, ok := b.compoundSelector.Selected()
	if !ok || b.distributor == nil {
		return
	}
	shares := b.distributor.DistributeBudget(total, subDomainInputs)
	for rapl, value := range shares {
		if sel := b.selectors[rapl]; sel != nil {
			sel.UpdateLimit(winner, value)
		}
	}
}

func (b *Budgeting) selectRaplLimits() {
	for rapl, sel := range b.selectors {
		value, _, ok := sel.Selected()
		b.control.SetBudget(rapl, value, ok)
	}
}
