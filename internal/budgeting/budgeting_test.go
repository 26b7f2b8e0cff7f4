package budgeting

import (
	"testing"

	"github.com/openbmc/node-manager/internal/policy"
)

type fakeControl struct {
	domainBudgets   map[policy.RaplDomainID]float64
	domainActive    map[policy.RaplDomainID]bool
	componentActive map[[2]int]bool
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		domainBudgets:   make(map[policy.RaplDomainID]float64),
		domainActive:    make(map[policy.RaplDomainID]bool),
		componentActive: make(map[[2]int]bool),
	}
}

func (f *fakeControl) SetBudget(rapl policy.RaplDomainID, value float64, active bool) {
	f.domainBudgets[rapl] = value
	f.domainActive[rapl] = active
}
func (f *fakeControl) SetComponentBudget(rapl policy.RaplDomainID, componentID int, value float64, active bool) {
	f.componentActive[[2]int{int(rapl), componentID}] = active
}
func (f *fakeControl) IsDomainLimitActive(rapl policy.RaplDomainID) bool { return f.domainActive[rapl] }
func (f *fakeControl) IsComponentLimitActive(rapl policy.RaplDomainID, componentID int) bool {
	return f.componentActive[[2]int{int(rapl), componentID}]
}

func TestBudgetingSetLimitThenResetClearsActive(t *testing.T) {
	ctl := newFakeControl()
	b := New(ctl, nil, nil, nil)

	b.SetLimit(policy.DomainCpuSubsystem, policy.ComponentIDAll, 120, policy.StrategyNonAggressive)
	b.Run(nil)
	if !b.IsActive(policy.DomainCpuSubsystem, policy.ComponentIDAll, policy.StrategyNonAggressive) {
		t.Fatalf("expected active after setLimit + run")
	}

	b.ResetLimit(policy.DomainCpuSubsystem, policy.ComponentIDAll, policy.StrategyNonAggressive)
	b.Run(nil)
	if b.IsActive(policy.DomainCpuSubsystem, policy.ComponentIDAll, policy.StrategyNonAggressive) {
		t.Fatalf("expected inactive after resetLimit + run")
	}
}

func TestBudgetingIsActiveForNonRaplDomain(t *testing.T) {
	// Performance has no RAPL projection; IsActive must fall back to a
	// PTAM-presence check instead of unconditionally reporting inactive.
	ctl := newFakeControl()
	b := New(ctl, nil, nil, nil)

	b.SetLimit(policy.DomainPerformance, policy.ComponentIDAll, 42, policy.StrategyNonAggressive)
	if !b.IsActive(policy.DomainPerformance, policy.ComponentIDAll, policy.StrategyNonAggressive) {
		t.Fatalf("expected active once a non-RAPL domain's PTAM entry is set")
	}

	b.ResetLimit(policy.DomainPerformance, policy.ComponentIDAll, policy.StrategyNonAggressive)
	if b.IsActive(policy.DomainPerformance, policy.ComponentIDAll, policy.StrategyNonAggressive) {
		t.Fatalf("expected inactive once the non-RAPL domain's PTAM entry is cleared")
	}
}

func TestBudgetingCompoundDistributionScenario(t *testing.T) {
	// Scenario 6: AC limit = 800W, psuEfficiency=0.9 -> DC setpoint 720.
	ctl := newFakeControl()
	dist := NewCompoundDistributor([]SubDomainConfig{
		{Rapl: policy.RaplMemorySubsystem, PCoeff: 0.4, EfficiencyAlpha: 0, BudgetCorrection: 0.2, CapMin: 0, CapMax: 10000},
	})
	b := New(ctl, dist, func() float64 { return 0.9 }, nil)

	b.SetLimit(policy.DomainAcTotalPower, policy.ComponentIDAll, 800, policy.StrategyAggressive)
	inputs := map[policy.RaplDomainID]SubDomainInput{
		policy.RaplMemorySubsystem: {Rapl: policy.RaplMemorySubsystem, FeedbackReading: 700, SubDomainPower: 175}, // eta=0.25
	}
	b.Run(inputs)

	got := ctl.domainBudgets[policy.RaplMemorySubsystem]
	// eta*setpoint*(1+corr) + p*(setpoint-feedback) = 0.25*720*1.2 + 0.4*(720-700) = 216 + 8 = 224
	want := 224.0
	if diff := got - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("want %v, got %v", want, got)
	}
}
