package policy

import (
	"fmt"
	"testing"
	"time"
)

type fakeHost struct {
	hostSupported bool
	hostState     PowerState
	chassisState  PowerState

	hostOffErr      error
	hostOffErrCount int // RequestHostOff returns hostOffErr this many times before succeeding
	hostOffCalls    int
}

func (f *fakeHost) RequestHostOff() (bool, error) {
	f.hostOffCalls++
	if f.hostOffCalls <= f.hostOffErrCount {
		return f.hostSupported, f.hostOffErr
	}
	return f.hostSupported, nil
}
func (f *fakeHost) HostPowerState() PowerState    { return f.hostState }
func (f *fakeHost) RequestChassisOff() error      { return nil }
func (f *fakeHost) ChassisPowerState() PowerState { return f.chassisState }

func TestLimitExceptionPowerOffEscalatesOnNotSupported(t *testing.T) {
	host := &fakeHost{hostSupported: false, chassisState: PowerStateOn}
	m := NewLimitExceptionMonitor(host, nil)
	base := time.Unix(0, 0)

	// condition first observed
	m.Tick(base, 200, 100, 1000, LimitExceptionPowerOff)
	// condition held past correctionInMs
	out := m.Tick(base.Add(1100*time.Millisecond), 200, 100, 1000, LimitExceptionPowerOff)
	if !out.Fired {
		t.Fatalf("expected escalation to fire once correction time elapsed")
	}

	host.chassisState = PowerStateOff
	out = m.Tick(base.Add(1200*time.Millisecond), 200, 100, 1000, LimitExceptionPowerOff)
	if out.Completion != CompletionSuccess {
		t.Fatalf("want success completion once chassis observed off, got %v", out.Completion)
	}
}

func TestLimitExceptionResetsWhenConditionClears(t *testing.T) {
	host := &fakeHost{hostSupported: true}
	m := NewLimitExceptionMonitor(host, nil)
	base := time.Unix(0, 0)
	m.Tick(base, 200, 100, 1000, LimitExceptionPowerOff)
	m.Tick(base.Add(500*time.Millisecond), 90, 100, 1000, LimitExceptionPowerOff) // clears
	out := m.Tick(base.Add(1600*time.Millisecond), 200, 100, 1000, LimitExceptionPowerOff)
	if out.Fired {
		t.Fatalf("condition restarted recently, should not have fired yet")
	}
}

func TestLimitExceptionSoftShutdownTimesOutToChassis(t *testing.T) {
	host := &fakeHost{hostSupported: true, hostState: PowerStateOn, chassisState: PowerStateOn}
	m := NewLimitExceptionMonitor(host, nil)
	base := time.Unix(0, 0)
	m.Tick(base, 200, 100, 1000, LimitExceptionPowerOff)
	m.Tick(base.Add(1100*time.Millisecond), 200, 100, 1000, LimitExceptionPowerOff)

	// host never reports off; exceed the 30s soft-shutdown timeout
	out := m.Tick(base.Add(32*time.Second), 200, 100, 1000, LimitExceptionPowerOff)
	if out.Fired != true && out.Completion != CompletionNone {
		t.Fatalf("expected chassis escalation to have started")
	}

	host.chassisState = PowerStateOff
	out = m.Tick(base.Add(33*time.Second), 200, 100, 1000, LimitExceptionPowerOff)
	if out.Completion != CompletionSuccess {
		t.Fatalf("want success after chassis observed off, got %v", out.Completion)
	}
}

func TestLimitExceptionTransientHostErrorRetriesInsteadOfEscalating(t *testing.T) {
	errTransient := fmt.Errorf("rpc timeout")
	host := &fakeHost{hostSupported: true, hostState: PowerStateOn, chassisState: PowerStateOn,
		hostOffErr: errTransient, hostOffErrCount: 2}
	m := NewLimitExceptionMonitor(host, nil)
	base := time.Unix(0, 0)
	m.Tick(base, 200, 100, 1000, LimitExceptionPowerOff)
	out := m.Tick(base.Add(1100*time.Millisecond), 200, 100, 1000, LimitExceptionPowerOff)
	if !out.Fired {
		t.Fatalf("expected soft-shutdown attempt to fire despite transient error")
	}
	if host.hostOffCalls != 1 {
		t.Fatalf("want 1 RequestHostOff call so far, got %d", host.hostOffCalls)
	}

	// still within the soft-shutdown timeout: must retry RequestHostOff, not
	// jump straight to chassis power-down.
	out = m.Tick(base.Add(2*time.Second), 200, 100, 1000, LimitExceptionPowerOff)
	if out.Completion != CompletionNone {
		t.Fatalf("transient error must retry, not complete: %v", out.Completion)
	}
	if host.hostOffCalls != 2 {
		t.Fatalf("want retry to re-issue RequestHostOff, got %d calls", host.hostOffCalls)
	}

	// third call succeeds (hostOffErrCount exhausted); host then reports off.
	host.hostState = PowerStateOff
	out = m.Tick(base.Add(3*time.Second), 200, 100, 1000, LimitExceptionPowerOff)
	if out.Completion != CompletionSuccess {
		t.Fatalf("want success once retry succeeds and host reports off, got %v", out.Completion)
	}
	if host.hostOffCalls != 3 {
		t.Fatalf("want 3 total RequestHostOff calls, got %d", host.hostOffCalls)
	}
}

func TestLimitExceptionNotSupportedEscalatesImmediatelyWithoutRetry(t *testing.T) {
	host := &fakeHost{hostSupported: false, chassisState: PowerStateOn}
	m := NewLimitExceptionMonitor(host, nil)
	base := time.Unix(0, 0)
	m.Tick(base, 200, 100, 1000, LimitExceptionPowerOff)
	out := m.Tick(base.Add(1100*time.Millisecond), 200, 100, 1000, LimitExceptionPowerOff)
	if !out.Fired {
		t.Fatalf("expected chassis escalation to fire on not_supported")
	}
	if host.hostOffCalls != 1 {
		t.Fatalf("not_supported must not retry RequestHostOff, got %d calls", host.hostOffCalls)
	}
}
