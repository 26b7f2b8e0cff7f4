package trigger

import (
	"fmt"
	"time"

	"github.com/openbmc/node-manager/internal/reading"
	"go.uber.org/zap"
)

// Capability describes one trigger type's user-facing bounds, matching
// original_source/triggers/trigger_capabilities.hpp.
type Capability struct {
	Name string
	Unit string
	Min  float64
	Max  float64
}

// GpioProvider reports how many GPIO lines are configured, so
// IsAvailable(gpio) can answer "available iff >= 1 line".
type GpioProvider interface {
	LineCount() int
}

// Callback receives the edge-detected action for a created trigger.
type Callback func(ActionType)

// instance ties a live Action to the reading-bus handle(s) it consumes.
type instance struct {
	triggerType Type
	handle      reading.Handle
	callback    Callback
}

// Manager owns the capability descriptors for every trigger type and
// creates/destroys live trigger instances against the reading bus, per
// original_source/triggers/triggers_manager.hpp.
type Manager struct {
	bus          *reading.Bus
	gpio         GpioProvider
	caps         map[Type]Capability
	readingFor   map[Type]reading.Type
	log          *zap.Logger
	instances    map[int]*instance
	nextID       int
}

func NewManager(bus *reading.Bus, gpio GpioProvider, log *zap.Logger) *Manager {
	m := &Manager{
		bus:  bus,
		gpio: gpio,
		log:  log,
		caps: map[Type]Capability{
			TypeInletTemperature: {Name: "InletTemperature", Unit: "Celsius", Min: 0, Max: 125},
			TypeCpuUtilization:   {Name: "CPUUtilization", Unit: "Percent", Min: 0, Max: 100},
			TypeGpio:             {Name: "GPIO", Unit: "", Min: 0, Max: 1},
		},
		readingFor: map[Type]reading.Type{
			TypeInletTemperature: reading.TypeInletTemperature,
			TypeCpuUtilization:   reading.TypeCpuUtilization,
			TypeGpio:             reading.TypeGpio,
			TypeHostReset:        reading.TypeHostReset,
			TypeSmbAlertInterrupt: reading.TypeSmbAlert,
		},
		instances: make(map[int]*instance),
	}
	return m
}

// IsTriggerAvailable reports whether a capability exists for the type; for
// GPIO it additionally requires at least one configured line.
func (m *Manager) IsTriggerAvailable(t Type) bool {
	if t == TypeAlways || t == TypeMissingReadingsTimeout || t == TypeTimeAfterHostReset || t == TypeHostReset || t == TypeSmbAlertInterrupt {
		return true
	}
	if t == TypeGpio {
		return m.gpio != nil && m.gpio.LineCount() >= 1
	}
	_, ok := m.caps[t]
	return ok
}

func (m *Manager) Capability(t Type) (Capability, bool) {
	c, ok := m.caps[t]
	return c, ok
}

// CreateTrigger binds an Action parameterized with level to cb, registering
// a reading consumer unless the type is `always` (handled specially by the
// caller — always never registers a consumer at all).
// deviceIndex is type-dependent: for gpio it is the low 15 bits of level
// (bit 15 the polarity), for cpuUtilization it is the policy's component id
// (passed in by the caller via deviceIndex).
func (m *Manager) CreateTrigger(t Type, level float64, deviceIndex int, cb Callback) (int, error) {
	if t == TypeAlways {
		return 0, fmt.Errorf("trigger: AlwaysOn does not register a reading consumer")
	}
	if !m.IsTriggerAvailable(t) {
		return 0, fmt.Errorf("trigger: %s not available", t)
	}
	rt, ok := m.readingFor[t]
	if !ok {
		return 0, fmt.Errorf("trigger: %s has no reading mapping", t)
	}

	var h reading.Handle
	switch t {
	case TypeInletTemperature:
		act := NewAction(level)
		h = m.bus.RegisterConsumer(rt, deviceIndex, func(v float64) {
			if a := act.UpdateReading(v); a != ActionNone {
				cb(a)
			}
		}, nil)
	case TypeGpio:
		lineIndex := int(int32(level)) & 0x7fff
		risingTriggers := int(level) & 0x8000 == 0
		act := NewActionGpio(risingTriggers)
		h = m.bus.RegisterConsumer(rt, lineIndex, func(v float64) {
			if a := act.UpdateReading(v); a != ActionNone {
				cb(a)
			}
		}, nil)
	case TypeCpuUtilization:
		act := NewActionCpuUtilization(level, 30*time.Second)
		h = m.bus.RegisterConsumer(rt, deviceIndex, func(v float64) {
			if a := act.UpdateReading(v, time.Now()); a != ActionNone {
				cb(a)
			}
		}, nil)
	case TypeHostReset, TypeSmbAlertInterrupt:
		act := NewActionBinary()
		h = m.bus.RegisterConsumer(rt, deviceIndex, func(v float64) {
			if a := act.UpdateReading(v); a != ActionNone {
				cb(a)
			}
		}, nil)
	default:
		return 0, fmt.Errorf("trigger: %s unsupported", t)
	}

	m.nextID++
	id := m.nextID
	m.instances[id] = &instance{triggerType: t, handle: h, callback: cb}
	return id, nil
}

// DestroyTrigger unregisters the reading consumer backing a created
// trigger. Idempotent.
func (m *Manager) DestroyTrigger(id int) {
	inst, ok := m.instances[id]
	if !ok {
		return
	}
	m.bus.UnregisterConsumer(inst.handle)
	delete(m.instances, id)
}
