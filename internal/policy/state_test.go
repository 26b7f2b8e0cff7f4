package policy

import (
	"testing"

	"github.com/openbmc/node-manager/internal/trigger"
)

func TestStateMachineHappyPath(t *testing.T) {
	m := NewMachine()
	if m.Current() != StateDisabled {
		t.Fatalf("initial state must be disabled, got %v", m.Current())
	}
	if got := m.OnEnabled(true); got != StatePending {
		t.Fatalf("disabled+enable(true) want pending, got %v", got)
	}
	if got := m.OnParentEnabled(true); got != StateReady {
		t.Fatalf("pending+parentEnabled(true) want ready, got %v", got)
	}
	if got := m.OnTriggerAction(trigger.ActionTrigger); got != StateTriggered {
		t.Fatalf("ready+trigger want triggered, got %v", got)
	}
	if got := m.OnLimitSelection(true); got != StateSelected {
		t.Fatalf("triggered+limitSelection(true) want selected, got %v", got)
	}
	if got := m.OnTriggerAction(trigger.ActionDeactivate); got != StateReady {
		t.Fatalf("selected+deactivate want ready, got %v", got)
	}
}

func TestStateMachineValidationFailureSuspendsFromAnyState(t *testing.T) {
	m := NewMachine()
	m.OnEnabled(true)
	m.OnParentEnabled(true)
	m.OnTriggerAction(trigger.ActionTrigger)
	if got := m.OnParametersValidation(false); got != StateSuspended {
		t.Fatalf("want suspended, got %v", got)
	}
	if got := m.OnParametersValidation(true); got != StatePending {
		t.Fatalf("suspended+validation(true) want pending, got %v", got)
	}
}

func TestStateMachineCompetingSelectionDemotes(t *testing.T) {
	m := NewMachine()
	m.OnEnabled(true)
	m.OnParentEnabled(true)
	m.OnTriggerAction(trigger.ActionTrigger)
	m.OnLimitSelection(true)
	if got := m.OnLimitSelection(false); got != StateTriggered {
		t.Fatalf("want demotion back to triggered, got %v", got)
	}
}

func TestInstallUninstallTriggerEdges(t *testing.T) {
	if !InstallsTrigger(StatePending, StateReady) {
		t.Fatalf("entering ready from pending should install trigger")
	}
	if InstallsTrigger(StateReady, StateReady) {
		t.Fatalf("no-op transition should not re-install")
	}
	for _, to := range []State{StateDisabled, StatePending, StateSuspended} {
		if !UninstallsTrigger(StateReady, to) {
			t.Fatalf("entering %v should uninstall trigger", to)
		}
	}
	if UninstallsTrigger(StateTriggered, StateSelected) {
		t.Fatalf("triggered->selected should not uninstall")
	}
}
