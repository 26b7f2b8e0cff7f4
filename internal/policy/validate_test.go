package policy

import (
	"testing"

	"github.com/openbmc/node-manager/internal/trigger"
)

func baseCtx() ValidationContext {
	return ValidationContext{
		AvailableComponents: map[int]bool{0: true, 1: true},
		MaxComponentNumber:   2,
		DeclaredTriggerTypes: map[trigger.Type]bool{trigger.TypeAlways: true, trigger.TypeInletTemperature: true},
		TriggerAvailable:     func(trigger.Type) bool { return true },
		MinReportingPeriodMs: 1000,
		MaxReportingPeriodMs: 60000,
		MinCorrectionTimeMs:  1000,
		MaxCorrectionTimeMs:  MaxCorrectionTimeMs,
		ComponentMin:         func(int) float64 { return 100 },
		IsPowerDomain:        true,
		ReadingAvailable:     true,
	}
}

func TestValidateComponentIdAllBypassesCheck(t *testing.T) {
	p := &Params{ComponentID: ComponentIDAll, TriggerType: trigger.TypeAlways, StatReportingPeriodMs: 5000, CorrectionInMs: 2000, Limit: 200}
	if err := Validate(p, PolicyTypePower, baseCtx(), false); err != nil {
		t.Fatalf("componentId=All should bypass available-components check: %v", err)
	}
}

func TestValidateCorrectionTimeBoundaryAccepted(t *testing.T) {
	ctx := baseCtx()
	p := &Params{ComponentID: ComponentIDAll, TriggerType: trigger.TypeAlways, StatReportingPeriodMs: 5000, CorrectionInMs: ctx.MinCorrectionTimeMs, Limit: 200}
	if err := Validate(p, PolicyTypePower, ctx, false); err != nil {
		t.Fatalf("correctionInMs == min should be accepted: %v", err)
	}
	p.CorrectionInMs = ctx.MaxCorrectionTimeMs
	if err := Validate(p, PolicyTypePower, ctx, false); err != nil {
		t.Fatalf("correctionInMs == max should be accepted: %v", err)
	}
}

func TestValidateCorrectionTimeOffByOneRejected(t *testing.T) {
	ctx := baseCtx()
	p := &Params{ComponentID: ComponentIDAll, TriggerType: trigger.TypeAlways, StatReportingPeriodMs: 5000, CorrectionInMs: ctx.MinCorrectionTimeMs - 1, Limit: 200}
	err := Validate(p, PolicyTypePower, ctx, false)
	if err == nil {
		t.Fatalf("correctionInMs one below min should be rejected")
	}
	if ve, ok := err.(*Error); !ok || ve.Code != CodeCorrectionTimeOutOfRange {
		t.Fatalf("want CorrectionTimeOutOfRange, got %v", err)
	}
}

func TestValidateForceClampsInsteadOfRejecting(t *testing.T) {
	ctx := baseCtx()
	p := &Params{ComponentID: ComponentIDAll, TriggerType: trigger.TypeAlways, StatReportingPeriodMs: 5000, CorrectionInMs: 1, Limit: 200}
	if err := Validate(p, PolicyTypePower, ctx, true); err != nil {
		t.Fatalf("forced validation should clamp, not reject: %v", err)
	}
	if p.CorrectionInMs != ctx.MinCorrectionTimeMs {
		t.Fatalf("want clamped to min %d, got %d", ctx.MinCorrectionTimeMs, p.CorrectionInMs)
	}
}

func TestValidateMissingReadingsTimeoutLimitRange(t *testing.T) {
	ctx := baseCtx()
	ctx.DeclaredTriggerTypes[trigger.TypeMissingReadingsTimeout] = true
	p := &Params{ComponentID: ComponentIDAll, TriggerType: trigger.TypeMissingReadingsTimeout, StatReportingPeriodMs: 5000, CorrectionInMs: 2000, Limit: 150}
	err := Validate(p, PolicyTypePower, ctx, false)
	if err == nil {
		t.Fatalf("limit=150 should be rejected for missingReadingsTimeout (must be in [0,100])")
	}
}

func TestValidatePerformancePolicyRequiresAutomaticCorrection(t *testing.T) {
	ctx := baseCtx()
	p := &Params{ComponentID: ComponentIDAll, TriggerType: trigger.TypeAlways, StatReportingPeriodMs: 5000,
		CorrectionInMs: 2000, PowerCorrectionType: PowerCorrectionAggressive}
	err := Validate(p, PolicyTypePerformance, ctx, false)
	if err == nil {
		t.Fatalf("non-automatic correction on a performance policy should be rejected")
	}
	if ve, ok := err.(*Error); !ok || ve.Code != CodeInvalidPowerCorrectionType {
		t.Fatalf("want InvalidPowerCorrectionType, got %v", err)
	}

	p.PowerCorrectionType = PowerCorrectionAutomatic
	if err := Validate(p, PolicyTypePerformance, ctx, false); err != nil {
		t.Fatalf("automatic correction on a performance policy should be accepted: %v", err)
	}
}

func TestValidatePerformancePolicyForceClampsCorrectionType(t *testing.T) {
	ctx := baseCtx()
	p := &Params{ComponentID: ComponentIDAll, TriggerType: trigger.TypeAlways, StatReportingPeriodMs: 5000,
		CorrectionInMs: 2000, PowerCorrectionType: PowerCorrectionNonAggressive}
	if err := Validate(p, PolicyTypePerformance, ctx, true); err != nil {
		t.Fatalf("forced validation should clamp, not reject: %v", err)
	}
	if p.PowerCorrectionType != PowerCorrectionAutomatic {
		t.Fatalf("want forced performance policy clamped to automatic, got %v", p.PowerCorrectionType)
	}
}

func TestValidateIDPattern(t *testing.T) {
	if err := ValidateID("My_Policy-1"); err == nil {
		t.Fatalf("hyphen is not in [A-Za-z0-9_], expected rejection")
	}
	if err := ValidateID("My_Policy_1"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
}
