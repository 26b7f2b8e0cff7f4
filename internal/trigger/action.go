// Package trigger implements the edge-detecting Action variants and the
// TriggersManager that binds them to readings, grounded on
// original_source/triggers/{trigger,trigger_enums,triggers_manager}.hpp.
package trigger

import (
	"math"
	"time"

	"github.com/openbmc/node-manager/internal/statistics"
)

// ActionType is the signal a trigger emits at most once per update.
type ActionType int

const (
	ActionNone ActionType = iota
	ActionTrigger
	ActionDeactivate
	ActionMissingReading
)

// Type enumerates the trigger kinds a policy may attach to, matching
// original_source's TriggerType (numeric values preserved for the wire
// encoding used when policies are persisted).
type Type uint8

const (
	TypeAlways                  Type = 0
	TypeInletTemperature        Type = 1
	TypeMissingReadingsTimeout  Type = 2
	TypeTimeAfterHostReset      Type = 3
	TypeGpio                    Type = 6
	TypeCpuUtilization          Type = 7
	TypeHostReset               Type = 8
	TypeSmbAlertInterrupt       Type = 9
)

var typeNames = map[Type]string{
	TypeAlways:                 "AlwaysOn",
	TypeInletTemperature:       "InletTemperature",
	TypeMissingReadingsTimeout: "MissingReadingsTimeout",
	TypeTimeAfterHostReset:     "TimeAfterHostReset",
	TypeGpio:                   "GPIO",
	TypeCpuUtilization:         "CPUUtilization",
	TypeHostReset:              "HostReset",
	TypeSmbAlertInterrupt:      "SMBAlertInterrupt",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

// Action is the threshold-crossing edge detector. It is
// reused unmodified by every trigger kind that is "plain Action with a
// different input source"; ActionCpuUtilization overrides the polarity.
type Action struct {
	ref     float64
	reading float64
}

// NewAction seeds the prior reading to the reference value, exactly as
// the original constructor does (`p := r`), so the very first sample never
// spuriously crosses the edge against an unset prior.
func NewAction(ref float64) *Action {
	return &Action{ref: ref, reading: ref}
}

func (a *Action) UpdateReading(v float64) ActionType {
	if math.IsNaN(v) {
		return ActionMissingReading
	}
	p := a.reading
	a.reading = v
	switch {
	case v > a.ref && p <= a.ref:
		return ActionTrigger
	case v < a.ref && p >= a.ref:
		return ActionDeactivate
	default:
		return ActionNone
	}
}

func (a *Action) SetReference(ref float64) { a.ref = ref }
func (a *Action) Reference() float64       { return a.ref }

// ActionCpuUtilization smooths the input through a moving average before
// comparing to threshold, and inverts polarity relative to Action: rising
// emits deactivate, falling emits trigger — preserved exactly as observed
// in original_source/triggers/action_cpu_utilization.hpp; not treated as
// a bug.
type ActionCpuUtilization struct {
	inner *Action
	avg   *statistics.MovingAverage
}

func NewActionCpuUtilization(ref float64, averagingPeriod time.Duration) *ActionCpuUtilization {
	return &ActionCpuUtilization{
		inner: NewAction(ref),
		avg:   statistics.NewMovingAverage(averagingPeriod),
	}
}

func (a *ActionCpuUtilization) UpdateReading(v float64, now time.Time) ActionType {
	a.avg.AddSample(v, now)
	smoothed := a.avg.Average(now)
	switch a.inner.UpdateReading(smoothed) {
	case ActionTrigger:
		return ActionDeactivate
	case ActionDeactivate:
		return ActionTrigger
	case ActionMissingReading:
		return ActionMissingReading
	default:
		return ActionNone
	}
}

// ActionBinary expects only {0,1}. Non-boolean values are ignored (spec
// §4.2.3); round-trip idempotence (same value twice -> at most one
// transition) falls directly out of Action's edge-detection.
type ActionBinary struct {
	inner *Action
}

func NewActionBinary() *ActionBinary {
	return &ActionBinary{inner: NewAction(0.5)}
}

func (a *ActionBinary) UpdateReading(v float64) ActionType {
	if v != 0 && v != 1 {
		return ActionNone
	}
	return a.inner.UpdateReading(v)
}

// ActionGpio is polarity-configurable: triggerOnRisingEdge selects which
// edge emits `trigger`. The initial reading is set to the logical inactive
// side of the configured edge so the first real sample can trigger.
type ActionGpio struct {
	inner             *Action
	triggerOnRisingEdge bool
}

func NewActionGpio(triggerOnRisingEdge bool) *ActionGpio {
	initial := 1.0
	if triggerOnRisingEdge {
		initial = 0.0
	}
	a := &ActionGpio{triggerOnRisingEdge: triggerOnRisingEdge, inner: NewAction(0.5)}
	a.inner.reading = initial
	return a
}

func (a *ActionGpio) UpdateReading(v float64) ActionType {
	raw := a.inner.UpdateReading(v)
	switch raw {
	case ActionTrigger: // rising edge observed
		if a.triggerOnRisingEdge {
			return ActionTrigger
		}
		return ActionDeactivate
	case ActionDeactivate: // falling edge observed
		if a.triggerOnRisingEdge {
			return ActionDeactivate
		}
		return ActionTrigger
	default:
		return raw
	}
}
