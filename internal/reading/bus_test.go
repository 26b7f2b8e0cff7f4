package reading

import (
	"math"
	"testing"
)

func TestBusPublishDeliversToConsumer(t *testing.T) {
	b := NewBus()
	var got float64
	b.RegisterConsumer(TypeCpuPower, 0, func(v float64) { got = v }, nil)
	b.Publish(TypeCpuPower, 0, 42)
	if got != 42 {
		t.Fatalf("want 42, got %v", got)
	}
}

func TestBusUnregisterStopsDelivery(t *testing.T) {
	b := NewBus()
	calls := 0
	h := b.RegisterConsumer(TypeCpuPower, 0, func(v float64) { calls++ }, nil)
	b.Publish(TypeCpuPower, 0, 1)
	b.UnregisterConsumer(h)
	b.Publish(TypeCpuPower, 0, 2)
	if calls != 1 {
		t.Fatalf("want 1 call before unregister, got %d", calls)
	}
}

func TestBusStaleHandleAfterSlotReuseDoesNotFire(t *testing.T) {
	b := NewBus()
	calls1 := 0
	h1 := b.RegisterConsumer(TypeCpuPower, 0, func(v float64) { calls1++ }, nil)
	b.UnregisterConsumer(h1)

	calls2 := 0
	b.RegisterConsumer(TypeCpuPower, 0, func(v float64) { calls2++ }, nil)

	b.UnregisterConsumer(h1) // stale handle, must be a no-op
	b.Publish(TypeCpuPower, 0, 5)

	if calls1 != 0 {
		t.Fatalf("unregistered consumer fired %d times", calls1)
	}
	if calls2 != 1 {
		t.Fatalf("reused slot's consumer should have fired once, got %d", calls2)
	}
}

func TestBusNaNFiresUnavailableEvent(t *testing.T) {
	b := NewBus()
	var evt Event
	seen := false
	b.RegisterConsumer(TypeInletTemperature, DeviceIndexAll, nil, func(e Event) {
		evt, seen = e, true
	})
	b.Publish(TypeInletTemperature, DeviceIndexAll, math.NaN())
	if !seen || evt != EventUnavailable {
		t.Fatalf("expected EventUnavailable, seen=%v evt=%v", seen, evt)
	}
}

func TestPsuEfficiencyDefaultsAndSmooths(t *testing.T) {
	p := NewPsuEfficiency(0.5)
	if v := p.Update(0.9); v != 0.9 {
		t.Fatalf("first sample should pass through, got %v", v)
	}
	smoothed := p.Update(0.8)
	if math.Abs(smoothed-0.85) > 1e-9 {
		t.Fatalf("want EWMA 0.85, got %v", smoothed)
	}
	if v := p.Update(math.NaN()); v != smoothed {
		t.Fatalf("NaN sample should carry forward last value, got %v", v)
	}
}
