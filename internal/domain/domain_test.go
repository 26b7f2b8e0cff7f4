package domain

import (
	"testing"
	"time"

	"github.com/openbmc/node-manager/internal/budgeting"
	"github.com/openbmc/node-manager/internal/policy"
	"github.com/openbmc/node-manager/internal/trigger"
)

type fakeControl struct {
	domainBudgets map[policy.RaplDomainID]float64
	domainActive  map[policy.RaplDomainID]bool
}

func newFakeControl() *fakeControl {
	return &fakeControl{domainBudgets: map[policy.RaplDomainID]float64{}, domainActive: map[policy.RaplDomainID]bool{}}
}
func (f *fakeControl) SetBudget(rapl policy.RaplDomainID, value float64, active bool) {
	f.domainBudgets[rapl] = value
	f.domainActive[rapl] = active
}
func (f *fakeControl) SetComponentBudget(policy.RaplDomainID, int, float64, bool) {}
func (f *fakeControl) IsDomainLimitActive(rapl policy.RaplDomainID) bool          { return f.domainActive[rapl] }
func (f *fakeControl) IsComponentLimitActive(policy.RaplDomainID, int) bool       { return false }

func validCtx() policy.ValidationContext {
	return policy.ValidationContext{
		MaxComponentNumber:   8,
		MinReportingPeriodMs: 0,
		MaxReportingPeriodMs: 60000,
		MinCorrectionTimeMs:  0,
		MaxCorrectionTimeMs:  policy.MaxCorrectionTimeMs,
		ReadingAvailable:     true,
		IsPowerDomain:        true,
	}
}

// runToTriggered drives a fresh policy up to triggered: validate, enable,
// parent-enable, then deliver the trigger action by hand. The calling tests
// take it on to selected through Domain.Run and budgeting.
func runToTriggered(t *testing.T, p *policy.Policy) {
	t.Helper()
	if err := p.Validate(validCtx(), true); err != nil {
		t.Fatalf("validate: %v", err)
	}
	p.SetEnabled(true)
	p.SetParentEnabled(true)
	if p.State() != policy.StateReady {
		t.Fatalf("expected ready, got %v", p.State())
	}
	p.HandleTriggerAction(trigger.ActionTrigger)
	if p.State() != policy.StateTriggered {
		t.Fatalf("expected triggered, got %v", p.State())
	}
}

func newPowerPolicy(id string, componentID int, limit float64) *policy.Policy {
	return policy.New(policy.NewPolicyArgs{
		ID:       id,
		DomainID: policy.DomainCpuSubsystem,
		Owner:    policy.OwnerBMC,
		Type:     policy.PolicyTypePower,
		Params: policy.Params{
			PolicyStorage:       policy.StorageVolatile,
			PowerCorrectionType: policy.PowerCorrectionNonAggressive,
			LimitException:      policy.LimitExceptionNoAction,
			ComponentID:         componentID,
			TriggerType:         trigger.TypeAlways,
			Limit:               limit,
			CorrectionInMs:      0,
		},
	})
}

func TestDomainSelectsLowestLimitPerComponent(t *testing.T) {
	factory := policy.NewDomainFactory()
	ctl := newFakeControl()
	budget := budgeting.New(ctl, nil, nil, nil)

	low := newPowerPolicy("low", policy.ComponentIDAll, 100)
	high := newPowerPolicy("high", policy.ComponentIDAll, 150)
	if err := factory.Create(low); err != nil {
		t.Fatal(err)
	}
	if err := factory.Create(high); err != nil {
		t.Fatal(err)
	}
	runToTriggered(t, low)
	runToTriggered(t, high)

	d := New(policy.DomainCpuSubsystem, factory, budget, nil)
	now := time.Unix(0, 0)
	d.Run(now, nil)
	budget.Run(nil)
	d.Run(now, nil)

	if low.State() != policy.StateSelected {
		t.Fatalf("expected low policy selected, got %v", low.State())
	}
	if high.State() != policy.StateTriggered {
		t.Fatalf("expected high policy to remain triggered (lost selection), got %v", high.State())
	}
}

func TestDomainAppliesBias(t *testing.T) {
	factory := policy.NewDomainFactory()
	ctl := newFakeControl()
	budget := budgeting.New(ctl, nil, nil, nil)

	p := newPowerPolicy("only", policy.ComponentIDAll, 100)
	if err := factory.Create(p); err != nil {
		t.Fatal(err)
	}
	runToTriggered(t, p)

	d := New(policy.DomainCpuSubsystem, factory, budget, nil)
	d.LimitBiasAbsolute = -5
	d.LimitBiasRelative = 0.5
	d.SetComponentBounds(func(int) (float64, float64) { return 0, 1000 })

	now := time.Unix(0, 0)
	d.Run(now, nil)
	budget.Run(nil)

	rapl, _ := policy.MapToRaplDomain(policy.DomainCpuSubsystem)
	want := 100*0.5 - 5
	got := ctl.domainBudgets[rapl]
	if got != want {
		t.Fatalf("want biased budget %v, got %v", want, got)
	}
}

func TestDomainResetsOnHostPowerOff(t *testing.T) {
	factory := policy.NewDomainFactory()
	ctl := newFakeControl()
	budget := budgeting.New(ctl, nil, nil, nil)

	p := newPowerPolicy("only", policy.ComponentIDAll, 100)
	if err := factory.Create(p); err != nil {
		t.Fatal(err)
	}
	runToTriggered(t, p)

	d := New(policy.DomainCpuSubsystem, factory, budget, nil)
	now := time.Unix(0, 0)
	d.Run(now, nil)
	budget.Run(nil)
	d.Run(now, nil)
	if p.State() != policy.StateSelected {
		t.Fatalf("expected selected before power-off, got %v", p.State())
	}

	d.SetHostPowerOn(false)
	if p.State() != policy.StateTriggered {
		t.Fatalf("expected host-power-off to demote selected back to triggered, got %v", p.State())
	}
}
