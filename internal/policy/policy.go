package policy

import (
	"time"

	"github.com/openbmc/node-manager/internal/gpio"
	"github.com/openbmc/node-manager/internal/trigger"
	"go.uber.org/zap"
)

// Persister is the persistence seam: Policy calls it on
// creation and on every parameter change for persistent-storage policies,
// and on deletion/storage-mode switch unconditionally. Implemented by
// internal/storage's file-backed policy store; kept as an interface here
// so internal/policy has no dependency on the storage format.
type Persister interface {
	Save(id string, rec Record) error
	Delete(id string) error
}

// Record is the on-disk/on-wire shape of a persisted policy.
type Record struct {
	DomainID DomainID
	Owner    Owner
	Enabled  bool
	Params   Params
}

// ThrottlingLogger receives start/stop events when a policy enters or
// leaves `selected`.
type ThrottlingLogger interface {
	StartThrottling(policyID string)
	StopThrottling(policyID string)
}

// Policy is a single configured policy: parameters, lifecycle state,
// attached trigger, and (for power policies) a limit-exception monitor.
type Policy struct {
	ID       string
	DomainID DomainID
	Owner    Owner
	Type     PolicyType
	Editable_ bool

	params Params
	enabled bool
	parentEnabled bool

	machine *Machine

	triggerMgr *trigger.Manager
	triggerID  int
	hasTrigger bool
	gpioPool   *gpio.Pool
	gpioLine   int // -1 if none reserved

	monitor *LimitExceptionMonitor

	persister Persister
	log       *zap.Logger
	throttleLog ThrottlingLogger

	selected bool
}

type NewPolicyArgs struct {
	ID          string
	DomainID    DomainID
	Owner       Owner
	Type        PolicyType
	Params      Params
	Enabled     bool
	TriggerMgr  *trigger.Manager
	GpioPool    *gpio.Pool
	Persister   Persister
	Log         *zap.Logger
	ThrottleLog ThrottlingLogger
}

func New(a NewPolicyArgs) *Policy {
	return &Policy{
		ID:        a.ID,
		DomainID:  a.DomainID,
		Owner:     a.Owner,
		Type:      a.Type,
		Editable_: a.Owner.Editable(),
		params:    a.Params,
		enabled:   a.Enabled,
		machine:   NewMachine(),
		triggerMgr: a.TriggerMgr,
		gpioLine:  -1,
		persister: a.Persister,
		log:       a.Log,
		throttleLog: a.ThrottleLog,
		gpioPool:  a.GpioPool,
	}
}

func (p *Policy) State() State    { return p.machine.Current() }
func (p *Policy) Limit() float64  { return p.params.Limit }
func (p *Policy) Params() Params  { return p.params }
func (p *Policy) Strategy() BudgetingStrategy {
	return StrategyFor(p.DomainID, p.params.PowerCorrectionType, p.params.LimitException)
}

// Editable reports whether a given field may be changed over the RPC
// surface. The field name is not consulted: the answer is per policy, and
// internal policies are uneditable wholesale.
func (p *Policy) Editable(field string) bool {
	return p.Editable_
}

// Validate re-checks params against the current domain snapshot and drives
// the onParametersValidation transition. force relaxes out-of-range
// correctable fields into clamped values (internal policies, storage
// restore) rather than rejecting.
func (p *Policy) Validate(ctx ValidationContext, force bool) error {
	err := Validate(&p.params, p.Type, ctx, force)
	p.transition(func() State { return p.machine.OnParametersValidation(err == nil) })
	return err
}

func (p *Policy) SetEnabled(enabled bool) {
	p.enabled = enabled
	p.transition(func() State { return p.machine.OnEnabled(enabled) })
}

func (p *Policy) SetParentEnabled(enabled bool) {
	p.parentEnabled = enabled
	p.transition(func() State { return p.machine.OnParentEnabled(enabled) })
}

// HandleTriggerAction is the callback the trigger manager invokes; it may
// re-enter Policy from inside a reading-bus Publish call. The state machine value
// is replaced atomically by Machine.transition before any side effect
// fires, so a reentrant call always observes a settled `current`.
func (p *Policy) HandleTriggerAction(action trigger.ActionType) {
	if action == trigger.ActionMissingReading {
		return
	}
	p.transition(func() State { return p.machine.OnTriggerAction(action) })
	if p.monitor != nil {
		if action == trigger.ActionDeactivate {
			p.monitor.Reset()
		}
	}
}

// SetLimitSelected is called by the Domain after budgeting.isActive()
// settles, driving the triggered<->selected edge.
func (p *Policy) SetLimitSelected(active bool) {
	p.selected = active
	p.transition(func() State { return p.machine.OnLimitSelection(active) })
}

// transition runs fn (one of Machine's OnXxx methods) and applies the
// side effects attached to entering/leaving particular states.
// fn is given the pre-transition state implicitly via the Machine's own
// current-state tracking; transition captures `from` before calling fn so
// side effects always see the correct edge even under reentrant calls.
func (p *Policy) transition(fn func() State) State {
	from := p.machine.Current()
	to := fn()
	p.applyTransition(from, to)
	return to
}

func (p *Policy) applyTransition(from, to State) {
	if from == to {
		return
	}
	if InstallsTrigger(from, to) {
		p.installTrigger()
	}
	if UninstallsTrigger(from, to) {
		p.uninstallTrigger()
	}
	if EntersSelected(from, to) && p.throttleLog != nil {
		p.throttleLog.StartThrottling(p.ID)
	}
	if LeavesSelected(from, to) && p.throttleLog != nil {
		p.throttleLog.StopThrottling(p.ID)
	}
}

// Tick drives the limit-exception monitor and must be called once per
// policy per scheduler tick regardless of state.
func (p *Policy) Tick(now time.Time, reading float64) LimitExceptionOutcome {
	if p.monitor == nil {
		return LimitExceptionOutcome{}
	}
	if p.machine.Current() != StateSelected {
		p.monitor.Reset()
		return LimitExceptionOutcome{}
	}
	return p.monitor.Tick(now, reading, p.params.Limit, p.params.CorrectionInMs, p.params.LimitException)
}

// AttachLimitExceptionMonitor wires a monitor for power policies with a
// non-noAction limitException.
func (p *Policy) AttachLimitExceptionMonitor(m *LimitExceptionMonitor) {
	p.monitor = m
}

// Persist writes the policy's record if its storage mode is persistent.
// Called on creation and after every parameter change.
func (p *Policy) Persist() {
	if p.persister == nil {
		return
	}
	if p.params.PolicyStorage == StoragePersistent {
		rec := Record{DomainID: p.DomainID, Owner: p.Owner, Enabled: p.enabled, Params: p.params}
		if err := p.persister.Save(p.ID, rec); err != nil && p.log != nil {
			p.log.Warn("policy persist failed", zap.String("policy", p.ID), zap.Error(err))
		}
	}
}

// SetStorageMode switches storage and deletes any stale on-disk record
// when switching away from persistent.
func (p *Policy) SetStorageMode(s Storage) {
	wasPersistent := p.params.PolicyStorage == StoragePersistent
	p.params.PolicyStorage = s
	if wasPersistent && s == StorageVolatile {
		p.deleteRecord()
		return
	}
	p.Persist()
}

func (p *Policy) deleteRecord() {
	if p.persister == nil {
		return
	}
	if err := p.persister.Delete(p.ID); err != nil && p.log != nil {
		p.log.Warn("policy delete record failed", zap.String("policy", p.ID), zap.Error(err))
	}
}

// Delete always removes any stored record, regardless of current storage
// mode, and releases the reserved GPIO line if any.
func (p *Policy) Delete() {
	p.deleteRecord()
	if p.gpioPool != nil && p.gpioLine >= 0 {
		p.gpioPool.Free(p.gpioLine)
		p.gpioLine = -1
	}
	p.uninstallTrigger()
}

func (p *Policy) installTrigger() {
	if p.hasTrigger || p.triggerMgr == nil || p.params.TriggerType == trigger.TypeAlways {
		return
	}
	deviceIndex := p.deviceIndexForTrigger()
	id, err := p.triggerMgr.CreateTrigger(p.params.TriggerType, p.params.TriggerLimit, deviceIndex, p.HandleTriggerAction)
	if err != nil {
		if p.log != nil {
			p.log.Warn("install trigger failed", zap.String("policy", p.ID), zap.Error(err))
		}
		return
	}
	p.triggerID = id
	p.hasTrigger = true
}

func (p *Policy) uninstallTrigger() {
	if !p.hasTrigger || p.triggerMgr == nil {
		return
	}
	p.triggerMgr.DestroyTrigger(p.triggerID)
	p.hasTrigger = false
}

func (p *Policy) deviceIndexForTrigger() int {
	switch p.params.TriggerType {
	case trigger.TypeGpio:
		return int(int32(p.params.TriggerLimit)) & 0x7fff
	case trigger.TypeCpuUtilization:
		return p.params.ComponentID
	default:
		return 0
	}
}

// SetParams validates a candidate replacement Params against ctx and, only
// if it passes, installs it and persists. Rejecting before installing
// keeps a bad RPC write from ever being observed by the tick loop.
func (p *Policy) SetParams(candidate Params, ctx ValidationContext) error {
	if !p.Editable_ {
		return newErr(CodePoliciesCannotBeCreated, "", "policy is not editable")
	}
	if err := Validate(&candidate, p.Type, ctx, false); err != nil {
		return err
	}
	oldTriggerLimit := p.params.TriggerLimit
	if p.monitor != nil && (candidate.Limit != p.params.Limit ||
		candidate.CorrectionInMs != p.params.CorrectionInMs ||
		candidate.LimitException != p.params.LimitException) {
		p.monitor.Reset()
	}
	p.params = candidate
	if candidate.TriggerLimit != oldTriggerLimit {
		if err := p.UpdateTriggerLimit(candidate.TriggerLimit); err != nil {
			return err
		}
	}
	p.Persist()
	return nil
}

// UpdateTriggerLimit frees the old GPIO line before reserving the new one,
// in that order, so the new line may equal the old one. If the new
// reservation fails, the old line stays freed and the policy holds no line.
func (p *Policy) UpdateTriggerLimit(newLimit float64) error {
	if p.params.TriggerType == trigger.TypeGpio && p.gpioPool != nil {
		oldLine := p.gpioLine
		newLine := int(int32(newLimit)) & 0x7fff
		if err := p.gpioPool.Reacquire(oldLine, newLine); err != nil {
			p.gpioLine = -1
			return err
		}
		p.gpioLine = newLine
	}
	p.params.TriggerLimit = newLimit
	if p.hasTrigger {
		p.uninstallTrigger()
		p.installTrigger()
	}
	return nil
}
