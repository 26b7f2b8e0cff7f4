package domain

import (
	"fmt"

	"github.com/openbmc/node-manager/internal/budgeting"
	"github.com/openbmc/node-manager/internal/capability"
	"github.com/openbmc/node-manager/internal/gpio"
	"github.com/openbmc/node-manager/internal/policy"
	"github.com/openbmc/node-manager/internal/trigger"
	"go.uber.org/zap"
)

// KnobWriter is the seam Performance-domain policies use to push a knob
// value to hardware once selected. It is separate from the
// control.KnobWriter that carries power budgets: writes here are keyed by
// knob name and component instead of a RaplDomainID, and
// control.KnobSysfsWriter implements it.
type KnobWriter interface {
	WriteKnob(name string, componentID int, value float64) error
	ClearKnob(name string, componentID int) error
}

// NewAcTotalPower builds the AC total power domain. It carries no
// auto-created internal policies of its own; every AcTotalPower policy is
// BMC- or TotalBudget-owned and created over the RPC surface.
func NewAcTotalPower(factory *policy.DomainFactory, budget *budgeting.Budgeting, log *zap.Logger) *Domain {
	return New(policy.DomainAcTotalPower, factory, budget, log)
}

// NewCpuSubsystem and NewMemorySubsystem are likewise plain wrappers:
// neither domain auto-creates internal policies, so Domain's generic
// behavior is the whole of their specialization.
func NewCpuSubsystem(factory *policy.DomainFactory, budget *budgeting.Budgeting, log *zap.Logger) *Domain {
	return New(policy.DomainCpuSubsystem, factory, budget, log)
}

func NewMemorySubsystem(factory *policy.DomainFactory, budget *budgeting.Budgeting, log *zap.Logger) *Domain {
	return New(policy.DomainMemorySubsystem, factory, budget, log)
}

// NewHwProtection builds the hardware-protection domain and auto-creates
// its two internal, undeletable policies: an always-on policy enforcing
// the platform's absolute power ceiling, and a GPIO policy with a 0 W
// limit that applies when a protection line asserts.
func NewHwProtection(factory *policy.DomainFactory, budget *budgeting.Budgeting, triggerMgr *trigger.Manager, gpioPool *gpio.Pool, maxRated float64, log *zap.Logger) (*Domain, *capability.ForceReadingOnly, error) {
	limit := capability.NewForceReadingOnly(0, maxRated)

	alwaysOn := policy.New(policy.NewPolicyArgs{
		ID:       "HwProtectionAlwaysOn",
		DomainID: policy.DomainHwProtection,
		Owner:    policy.OwnerInternal,
		Type:     policy.PolicyTypePower,
		Params: policy.Params{
			PolicyStorage:       policy.StorageVolatile,
			PowerCorrectionType: policy.PowerCorrectionAggressive,
			LimitException:      policy.LimitExceptionNoAction,
			ComponentID:         policy.ComponentIDAll,
			TriggerType:         trigger.TypeAlways,
			Limit:               maxRated,
			CorrectionInMs:      0,
		},
		Enabled:    true,
		TriggerMgr: triggerMgr,
		Log:        log,
	})
	if err := factory.Create(alwaysOn); err != nil {
		return nil, nil, fmt.Errorf("domain: create HwProtectionAlwaysOn: %w", err)
	}

	gpioPolicy := policy.New(policy.NewPolicyArgs{
		ID:       "HwProtectionGpio",
		DomainID: policy.DomainHwProtection,
		Owner:    policy.OwnerInternal,
		Type:     policy.PolicyTypePower,
		Params: policy.Params{
			PolicyStorage:       policy.StorageVolatile,
			PowerCorrectionType: policy.PowerCorrectionAggressive,
			LimitException:      policy.LimitExceptionNoAction,
			ComponentID:         policy.ComponentIDAll,
			TriggerType:         trigger.TypeGpio,
			Limit:               0,
			CorrectionInMs:      0,
		},
		Enabled:    true,
		TriggerMgr: triggerMgr,
		GpioPool:   gpioPool,
		Log:        log,
	})
	if err := factory.Create(gpioPolicy); err != nil {
		return nil, nil, fmt.Errorf("domain: create HwProtectionGpio: %w", err)
	}

	return New(policy.DomainHwProtection, factory, budget, log), limit, nil
}

// ApplyHwProtectionOverride forces the hw-protection capability's min/max
// to (0, maxRated) whenever the reading source switches to a PSU-derived
// maximum, rejecting ordinary user writes for the duration.
func ApplyHwProtectionOverride(limit *capability.ForceReadingOnly, maxRated float64) {
	limit.Force(maxRated)
}

// NewPcie builds the PCIe subsystem domain and auto-creates its internal
// SMBAlert policy plus one DMTF per-accelerator policy per available
// component.
func NewPcie(factory *policy.DomainFactory, budget *budgeting.Budgeting, triggerMgr *trigger.Manager, availableAccelerators []int, log *zap.Logger) (*Domain, error) {
	smbAlert := policy.New(policy.NewPolicyArgs{
		ID:       "SMBAlert",
		DomainID: policy.DomainPcie,
		Owner:    policy.OwnerInternal,
		Type:     policy.PolicyTypePower,
		Params: policy.Params{
			PolicyStorage:       policy.StorageVolatile,
			PowerCorrectionType: policy.PowerCorrectionAggressive,
			LimitException:      policy.LimitExceptionNoAction,
			ComponentID:         policy.ComponentIDAll,
			TriggerType:         trigger.TypeSmbAlertInterrupt,
			CorrectionInMs:      0,
		},
		Enabled:    true,
		TriggerMgr: triggerMgr,
		Log:        log,
	})
	if err := factory.Create(smbAlert); err != nil {
		return nil, fmt.Errorf("domain: create SMBAlert: %w", err)
	}

	for _, idx := range availableAccelerators {
		p := policy.New(policy.NewPolicyArgs{
			ID:       fmt.Sprintf("DmtfAccelerator%d", idx),
			DomainID: policy.DomainPcie,
			Owner:    policy.OwnerInternal,
			Type:     policy.PolicyTypePower,
			Params: policy.Params{
				PolicyStorage:       policy.StorageVolatile,
				PowerCorrectionType: policy.PowerCorrectionNonAggressive,
				LimitException:      policy.LimitExceptionNoAction,
				ComponentID:         idx,
				TriggerType:         trigger.TypeAlways,
				CorrectionInMs:      0,
			},
			Enabled:    true,
			TriggerMgr: triggerMgr,
			Log:        log,
		})
		if err := factory.Create(p); err != nil {
			return nil, fmt.Errorf("domain: create DmtfAccelerator%d: %w", idx, err)
		}
	}
	return New(policy.DomainPcie, factory, budget, log), nil
}

// NewDcTotalPower builds the DC total power domain and auto-creates one
// DMTF platform policy, the always-installed baseline budget the rest of
// the DMTF power-cap object model composes over.
func NewDcTotalPower(factory *policy.DomainFactory, budget *budgeting.Budgeting, triggerMgr *trigger.Manager, ratedWatts float64, log *zap.Logger) (*Domain, error) {
	p := policy.New(policy.NewPolicyArgs{
		ID:       "DmtfPlatformPowerCap",
		DomainID: policy.DomainDcTotalPower,
		Owner:    policy.OwnerInternal,
		Type:     policy.PolicyTypePower,
		Params: policy.Params{
			PolicyStorage:       policy.StorageVolatile,
			PowerCorrectionType: policy.PowerCorrectionNonAggressive,
			LimitException:      policy.LimitExceptionNoAction,
			ComponentID:         policy.ComponentIDAll,
			TriggerType:         trigger.TypeAlways,
			Limit:               ratedWatts,
			CorrectionInMs:      0,
		},
		Enabled:    true,
		TriggerMgr: triggerMgr,
		Log:        log,
	})
	if err := factory.Create(p); err != nil {
		return nil, fmt.Errorf("domain: create DmtfPlatformPowerCap: %w", err)
	}
	return New(policy.DomainDcTotalPower, factory, budget, log), nil
}

// PerformanceKnob identifies one of the host performance controls the
// Performance domain arbitrates between competing policies for.
type PerformanceKnob string

const (
	KnobTurboRatioLimit            PerformanceKnob = "TurboRatioLimit"
	KnobProchot                    PerformanceKnob = "Prochot"
	KnobHwpmPerfPreference         PerformanceKnob = "HwpmPerfPreference"
	KnobHwpmPerfBias               PerformanceKnob = "HwpmPerfBias"
	KnobHwpmPerfPreferenceOverride PerformanceKnob = "HwpmPerfPreferenceOverride"
)

var AllPerformanceKnobs = []PerformanceKnob{
	KnobTurboRatioLimit, KnobProchot, KnobHwpmPerfPreference, KnobHwpmPerfBias, KnobHwpmPerfPreferenceOverride,
}

// NewPerformance builds the Performance domain and auto-creates one
// editable, BMC-owned policy per knob type. Unlike power domains, a
// performance policy's "limit" is a knob value rather than watts.
func NewPerformance(factory *policy.DomainFactory, budget *budgeting.Budgeting, triggerMgr *trigger.Manager, log *zap.Logger) (*Domain, error) {
	for _, knob := range AllPerformanceKnobs {
		p := policy.New(policy.NewPolicyArgs{
			ID:       string(knob),
			DomainID: policy.DomainPerformance,
			Owner:    policy.OwnerBMC,
			Type:     policy.PolicyTypePerformance,
			Params: policy.Params{
				PolicyStorage:       policy.StorageVolatile,
				PowerCorrectionType: policy.PowerCorrectionAutomatic,
				LimitException:      policy.LimitExceptionNoAction,
				ComponentID:         policy.ComponentIDAll,
				TriggerType:         trigger.TypeAlways,
				CorrectionInMs:      0,
			},
			Enabled:    false,
			TriggerMgr: triggerMgr,
			Log:        log,
		})
		if err := factory.Create(p); err != nil {
			return nil, fmt.Errorf("domain: create performance knob %s: %w", knob, err)
		}
	}
	return New(policy.DomainPerformance, factory, budget, log), nil
}

// ApplyPerformanceKnobs walks every policy in the Performance domain after
// budgeting has run, writing the knob value for policies in the selected
// state and clearing any knob whose policy is not selected.
func ApplyPerformanceKnobs(factory *policy.DomainFactory, writer KnobWriter, log *zap.Logger) {
	for _, p := range factory.All() {
		name := p.ID
		if p.State() == policy.StateSelected {
			if err := writer.WriteKnob(name, p.Params().ComponentID, p.Limit()); err != nil && log != nil {
				log.Warn("write performance knob failed", zap.String("knob", name), zap.Error(err))
			}
			continue
		}
		if err := writer.ClearKnob(name, p.Params().ComponentID); err != nil && log != nil {
			log.Warn("clear performance knob failed", zap.String("knob", name), zap.Error(err))
		}
	}
}
