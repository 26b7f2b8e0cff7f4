package policy

import (
	"time"

	"github.com/openbmc/node-manager/internal/trigger"
)

// ComponentIDAll bypasses the available-components check.
const ComponentIDAll = -1

// MaxBMCPoliciesPerDomain is the hard cap enforced by the factory.
const MaxBMCPoliciesPerDomain = 64

// MaxCorrectionTimeMs is hard-coded regardless of domain, kept as a single
// package-wide contract rather than parameterized per domain.
const MaxCorrectionTimeMs int64 = 60000

// Storage selects whether a policy survives a restart.
type Storage int

const (
	StorageVolatile Storage = iota
	StoragePersistent
)

// PowerCorrectionType mirrors original_source's power_policy correction
// kinds; `automatic` defers strategy selection to limitException (spec
// §4.4.4).
type PowerCorrectionType int

const (
	PowerCorrectionAutomatic PowerCorrectionType = iota
	PowerCorrectionNonAggressive
	PowerCorrectionAggressive
)

// LimitException is the action the limit-exception monitor takes when a
// power policy's reading exceeds its limit for too long.
type LimitException int

const (
	LimitExceptionNoAction LimitException = iota
	LimitExceptionLogEvent
	LimitExceptionPowerOff
	LimitExceptionLogEventAndPowerOff
)

// DomainID enumerates every domain a policy can belong to.
type DomainID int

const (
	DomainAcTotalPower DomainID = iota
	DomainCpuSubsystem
	DomainMemorySubsystem
	DomainHwProtection
	DomainPcie
	DomainDcTotalPower
	DomainPerformance
)

func (d DomainID) String() string {
	switch d {
	case DomainAcTotalPower:
		return "AcTotalPower"
	case DomainCpuSubsystem:
		return "CpuSubsystem"
	case DomainMemorySubsystem:
		return "MemorySubsystem"
	case DomainHwProtection:
		return "HwProtection"
	case DomainPcie:
		return "Pcie"
	case DomainDcTotalPower:
		return "DcTotalPower"
	case DomainPerformance:
		return "Performance"
	default:
		return "Unknown"
	}
}

// RaplDomainID is the reduced projection onto hardware controls:
// AcTotalPower, DcTotalPower, and HwProtection all map onto dcTotalPower.
type RaplDomainID int

const (
	RaplDcTotalPower RaplDomainID = iota
	RaplCpuSubsystem
	RaplMemorySubsystem
	RaplPcie
)

// MapToRaplDomain projects the user-facing DomainID onto the reduced set
// of hardware RAPL domains: AcTotalPower deliberately maps to
// dcTotalPower rather than a dedicated AC RAPL domain, since the platform
// has no separate AC-side hardware knob.
func MapToRaplDomain(d DomainID) (RaplDomainID, bool) {
	switch d {
	case DomainAcTotalPower, DomainDcTotalPower, DomainHwProtection:
		return RaplDcTotalPower, true
	case DomainCpuSubsystem:
		return RaplCpuSubsystem, true
	case DomainMemorySubsystem:
		return RaplMemorySubsystem, true
	case DomainPcie:
		return RaplPcie, true
	default:
		return 0, false
	}
}

// BudgetingStrategy selects how aggressively a limit is enforced.
type BudgetingStrategy int

const (
	StrategyAggressive BudgetingStrategy = iota
	StrategyNonAggressive
	StrategyImmediate
)

// StrategyFor derives the budgeting strategy a policy's domain, power
// correction type, and limit exception action imply together.
func StrategyFor(domain DomainID, correction PowerCorrectionType, exc LimitException) BudgetingStrategy {
	if domain == DomainMemorySubsystem {
		return StrategyNonAggressive
	}
	if domain == DomainHwProtection {
		return StrategyImmediate
	}
	if correction == PowerCorrectionAutomatic {
		if exc == LimitExceptionPowerOff || exc == LimitExceptionLogEventAndPowerOff {
			return StrategyAggressive
		}
		return StrategyNonAggressive
	}
	if correction == PowerCorrectionAggressive {
		return StrategyAggressive
	}
	return StrategyNonAggressive
}

// Owner distinguishes who created a policy and what that implies for
// editability and quota.
type Owner int

const (
	OwnerInternal Owner = iota
	OwnerBMC
	OwnerTotalBudget
)

func (o Owner) Editable() bool { return o != OwnerInternal }
func (o Owner) Deletable() bool { return o != OwnerInternal }

// SuspendPeriod is a wall-clock window during which a policy is forced
// into `suspended` regardless of its trigger.
type SuspendPeriod struct {
	Start time.Time
	End   time.Time
}

// Thresholds parameterizes the trigger's active-region boundaries; for a
// plain threshold trigger this is a single value, for CPU utilization it
// additionally anchors the moving-average window. Kept as a float slice to
// mirror the original's variant-shaped "thresholds" field without forcing
// every trigger kind through the same scalar.
type Thresholds []float64

// Params is the full set of user-controllable policy parameters plus the validation invariants enforced on every write.
type Params struct {
	CorrectionInMs       int64
	Limit                float64
	StatReportingPeriodMs int64
	PolicyStorage        Storage
	PowerCorrectionType   PowerCorrectionType
	LimitException        LimitException
	SuspendPeriods        []SuspendPeriod
	Thresholds            Thresholds
	ComponentID           int
	TriggerLimit          float64
	TriggerType           trigger.Type
}

// PolicyType distinguishes power policies (limit is watts) from
// performance policies (limit is a knob value) for wire reporting (spec
// §4.4.5).
type PolicyType int

const (
	PolicyTypePower PolicyType = iota
	PolicyTypePerformance
)
