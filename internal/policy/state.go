package policy

import "github.com/openbmc/node-manager/internal/trigger"

// State is one of the six policy lifecycle states.
type State int

const (
	StateDisabled State = iota
	StateReady
	StatePending
	StateTriggered
	StateSelected
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateReady:
		return "ready"
	case StatePending:
		return "pending"
	case StateTriggered:
		return "triggered"
	case StateSelected:
		return "selected"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Machine is the policy state machine. It is a plain value transitioned by
// explicit input methods that each return the next state — the design
// note's "tagged-union states with explicit transition returning the next
// variant and no back-pointer": side effects (install/uninstall trigger,
// throttling-log start/stop) are not performed here, they are derived by
// the caller (Policy) by comparing the state before and after a
// transition, so Machine itself never reaches back into a Policy.
type Machine struct {
	current State
}

func NewMachine() *Machine {
	return &Machine{current: StateDisabled}
}

func (m *Machine) Current() State { return m.current }

func (m *Machine) transition(to State) State {
	m.current = to
	return to
}

// OnParametersValidation: any state -> suspended on false; suspended ->
// pending on true. Any other combination is a no-op.
func (m *Machine) OnParametersValidation(ok bool) State {
	if !ok {
		return m.transition(StateSuspended)
	}
	if m.current == StateSuspended {
		return m.transition(StatePending)
	}
	return m.current
}

// OnEnabled: any state except disabled -> disabled on false; disabled ->
// pending on true.
func (m *Machine) OnEnabled(enabled bool) State {
	if !enabled {
		if m.current != StateDisabled {
			return m.transition(StateDisabled)
		}
		return m.current
	}
	if m.current == StateDisabled {
		return m.transition(StatePending)
	}
	return m.current
}

// OnParentEnabled: pending -> ready on true; ready -> pending on false.
func (m *Machine) OnParentEnabled(enabled bool) State {
	if enabled && m.current == StatePending {
		return m.transition(StateReady)
	}
	if !enabled && m.current == StateReady {
		return m.transition(StatePending)
	}
	return m.current
}

// OnTriggerAction: ready -(trigger)-> triggered; triggered -(deactivate)->
// ready; selected -(deactivate)-> ready.
func (m *Machine) OnTriggerAction(action trigger.ActionType) State {
	switch {
	case m.current == StateReady && action == trigger.ActionTrigger:
		return m.transition(StateTriggered)
	case m.current == StateTriggered && action == trigger.ActionDeactivate:
		return m.transition(StateReady)
	case m.current == StateSelected && action == trigger.ActionDeactivate:
		return m.transition(StateReady)
	default:
		return m.current
	}
}

// OnLimitSelection: triggered -(true)-> selected; selected -(false)->
// triggered.
func (m *Machine) OnLimitSelection(selected bool) State {
	if selected && m.current == StateTriggered {
		return m.transition(StateSelected)
	}
	if !selected && m.current == StateSelected {
		return m.transition(StateTriggered)
	}
	return m.current
}

// InstallsTrigger reports whether entering `to` from `from` should install
// the policy's trigger (entering ready) — from any other state.
func InstallsTrigger(from, to State) bool {
	return to == StateReady && from != StateReady
}

// UninstallsTrigger reports whether entering `to` should uninstall the
// trigger (entering disabled, pending, or suspended).
func UninstallsTrigger(from, to State) bool {
	if from == to {
		return false
	}
	switch to {
	case StateDisabled, StatePending, StateSuspended:
		return true
	default:
		return false
	}
}

// EntersSelected / LeavesSelected gate the start/stop throttling log events.
func EntersSelected(from, to State) bool { return to == StateSelected && from != StateSelected }
func LeavesSelected(from, to State) bool { return from == StateSelected && to != StateSelected }
