package policy

import (
	"regexp"

	"github.com/openbmc/node-manager/internal/trigger"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,255}$`)

// ValidationContext carries the domain-sourced bounds a Params value must
// be checked against. It is supplied
// fresh by the owning Domain on every validate call so that all policies
// of a domain observe the same capability and available-component
// snapshot within a tick.
type ValidationContext struct {
	AvailableComponents   map[int]bool
	MaxComponentNumber     int
	DeclaredTriggerTypes   map[trigger.Type]bool
	TriggerAvailable       func(trigger.Type) bool
	TriggerCapabilityRange func(trigger.Type) (min, max float64, ok bool)
	MinReportingPeriodMs   int64
	MaxReportingPeriodMs   int64
	MinCorrectionTimeMs    int64
	MaxCorrectionTimeMs    int64
	ComponentMin           func(componentID int) float64
	IsPowerDomain          bool
	ReadingAvailable       bool
}

const maxPowerLimitWatts = 1_000_000.0 // platform ceiling; real bound comes from capabilities at the component level

// ValidateID checks the policy id pattern.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return newErr(CodeInvalidPolicyId, "id", "must match [A-Za-z0-9_]{1,255}")
	}
	return nil
}

// Validate enforces every PolicyParams invariant, in order.
// If force is true (internal policies created from code), values
// that are merely out-of-range but correctable are clamped into range
// instead of raising; only hard violations (bad enum, unavailable
// trigger/component) still raise even when forced.
func Validate(p *Params, policyType PolicyType, ctx ValidationContext, force bool) error {
	if p.PolicyStorage != StorageVolatile && p.PolicyStorage != StoragePersistent {
		return newErr(CodeInvalidPolicyStorage, "policyStorage", "must be volatile or persistent")
	}

	if p.ComponentID != ComponentIDAll {
		if p.ComponentID < 0 || p.ComponentID >= ctx.MaxComponentNumber {
			return newErr(CodeInvalidComponentId, "componentId", "out of range")
		}
		if ctx.AvailableComponents != nil && !ctx.AvailableComponents[p.ComponentID] {
			return newErr(CodeInvalidComponentId, "componentId", "not in domain's available-components set")
		}
	}

	if ctx.DeclaredTriggerTypes != nil && !ctx.DeclaredTriggerTypes[p.TriggerType] {
		return newErr(CodeUnsupportedPolicyTriggerType, "triggerType", "not declared for this domain")
	}
	if ctx.TriggerAvailable != nil && !ctx.TriggerAvailable(p.TriggerType) {
		return newErr(CodeUnsupportedPolicyTriggerType, "triggerType", "capability unavailable")
	}

	if !ctx.ReadingAvailable {
		return newErr(CodeReadingSourceUnavailable, "", "domain controlled-parameter reading unavailable")
	}

	if p.StatReportingPeriodMs < ctx.MinReportingPeriodMs || p.StatReportingPeriodMs > ctx.MaxReportingPeriodMs {
		if force {
			p.StatReportingPeriodMs = clampI64(p.StatReportingPeriodMs, ctx.MinReportingPeriodMs, ctx.MaxReportingPeriodMs)
		} else {
			return newErr(CodeStatRepPeriodOutOfRange, "statReportingPeriod", "out of capability range")
		}
	}

	if p.TriggerType != trigger.TypeAlways && ctx.TriggerCapabilityRange != nil {
		if min, max, ok := ctx.TriggerCapabilityRange(p.TriggerType); ok {
			if p.TriggerLimit < min || p.TriggerLimit > max {
				if force {
					p.TriggerLimit = clampF64(p.TriggerLimit, min, max)
				} else {
					return newErr(CodeTriggerValueOutOfRange, "triggerLimit", "out of trigger capability range")
				}
			}
		}
	}

	if p.TriggerType == trigger.TypeMissingReadingsTimeout {
		if p.Limit < 0 || p.Limit > 100 {
			if force {
				p.Limit = clampF64(p.Limit, 0, 100)
			} else {
				return newErr(CodePowerLimitOutOfRange, "limit", "missingReadingsTimeout limit must be in [0,100]")
			}
		}
	} else if ctx.IsPowerDomain {
		if p.Limit != 0 {
			componentMin := 0.0
			if ctx.ComponentMin != nil {
				componentMin = ctx.ComponentMin(p.ComponentID)
			}
			if p.Limit < componentMin || p.Limit > maxPowerLimitWatts {
				if force {
					p.Limit = clampF64(p.Limit, componentMin, maxPowerLimitWatts)
				} else {
					return newErr(CodePowerLimitOutOfRange, "limit", "out of [componentMin, kMaxPowerLimitWatts]")
				}
			}
		}
	}

	if p.CorrectionInMs < ctx.MinCorrectionTimeMs || p.CorrectionInMs > ctx.MaxCorrectionTimeMs {
		// "when restored from storage, out-of-range values are clamped
		// rather than rejected" — force covers both the
		// storage-restore path and code-created internal policies.
		if force {
			p.CorrectionInMs = clampI64(p.CorrectionInMs, ctx.MinCorrectionTimeMs, ctx.MaxCorrectionTimeMs)
		} else {
			return newErr(CodeCorrectionTimeOutOfRange, "correctionInMs", "out of range")
		}
	}

	if p.LimitException < LimitExceptionNoAction || p.LimitException > LimitExceptionLogEventAndPowerOff {
		return newErr(CodeInvalidLimitException, "limitException", "unrecognized value")
	}
	if p.PowerCorrectionType < PowerCorrectionAutomatic || p.PowerCorrectionType > PowerCorrectionAggressive {
		return newErr(CodeInvalidPowerCorrectionType, "powerCorrectionType", "unrecognized value")
	}

	// Performance policies have no notion of non-aggressive/aggressive
	// correction strategy — a knob value is simply written or cleared — so
	// the original verifyPowerCorrectionType invariant requires automatic
	// unconditionally here.
	if policyType == PolicyTypePerformance && p.PowerCorrectionType != PowerCorrectionAutomatic {
		if force {
			p.PowerCorrectionType = PowerCorrectionAutomatic
		} else {
			return newErr(CodeInvalidPowerCorrectionType, "powerCorrectionType", "performance policies must use automatic correction")
		}
	}

	return nil
}

func clampI64(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampF64(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
