package budgeting

import "github.com/openbmc/node-manager/internal/policy"

// EfficiencyHelper maintains η = subDomainPower / feedbackReading as a
// moving average, using the same EWMA recurrence
// (P_{t+1} = α*P_t + (1-α)*A_t) used elsewhere in this codebase for
// pressure scores, applied here to an efficiency ratio instead.
type EfficiencyHelper struct {
	alpha float64
	value float64
	set   bool
}

func NewEfficiencyHelper(alpha float64) *EfficiencyHelper {
	if alpha < 0 || alpha > 1 {
		panic("budgeting: efficiency alpha out of [0,1]")
	}
	return &EfficiencyHelper{alpha: alpha}
}

func (e *EfficiencyHelper) Update(subDomainPower, feedback float64) float64 {
	if feedback == 0 {
		return e.value
	}
	instantaneous := subDomainPower / feedback
	if !e.set {
		e.value = instantaneous
		e.set = true
		return e.value
	}
	e.value = e.alpha*e.value + (1-e.alpha)*instantaneous
	return e.value
}

func (e *EfficiencyHelper) Value() float64 { return e.value }

// SubDomainConfig parameterizes one sub-domain's entry in compound
// distribution.
type SubDomainConfig struct {
	Rapl                   policy.RaplDomainID
	PCoeff                 float64
	EfficiencyAlpha        float64
	BudgetCorrection       float64
	CapMin, CapMax         float64
}

// subDomainState is the regulator + efficiency state for one sub-domain.
type subDomainState struct {
	cfg        SubDomainConfig
	efficiency *EfficiencyHelper
}

// CompoundDistributor implements SimpleDomainBudgeting: for
// each configured sub-domain, a proportional regulator tracks feedback vs
// the incoming total-budget setpoint, and an EfficiencyHelper tracks
// η = subDomainPower/feedback; the distributor output is
// clamp(η*setpoint*(1+budgetCorrection) + regulator, capMin, capMax).
// Sub-domains with no entry (CPU) absorb the remainder implicitly because
// PowerLimitSelector semantics (minimum wins) still apply to them.
type CompoundDistributor struct {
	subDomains []*subDomainState
}

func NewCompoundDistributor(configs []SubDomainConfig) *CompoundDistributor {
	d := &CompoundDistributor{}
	for _, c := range configs {
		d.subDomains = append(d.subDomains, &subDomainState{cfg: c, efficiency: NewEfficiencyHelper(c.EfficiencyAlpha)})
	}
	return d
}

// SubDomainInput is one sub-domain's current feedback/power sample,
// supplied fresh each tick.
type SubDomainInput struct {
	Rapl           policy.RaplDomainID
	FeedbackReading float64
	SubDomainPower float64
}

// DistributeBudget runs compound distribution for one tick: setpoint is
// the compound selector's winning total budget.
func (d *CompoundDistributor) DistributeBudget(setpoint float64, inputs map[policy.RaplDomainID]SubDomainInput) map[policy.RaplDomainID]float64 {
	out := make(map[policy.RaplDomainID]float64, len(d.subDomains))
	for _, s := range d.subDomains {
		in, ok := inputs[s.cfg.Rapl]
		if !ok {
			continue
		}
		regulator := s.cfg.PCoeff * (setpoint - in.FeedbackReading)
		eta := s.efficiency.Update(in.SubDomainPower, in.FeedbackReading)
		v := eta*setpoint*(1+s.cfg.BudgetCorrection) + regulator
		out[s.cfg.Rapl] = clamp(v, s.cfg.CapMin, s.cfg.CapMax)
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
