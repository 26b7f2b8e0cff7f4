package policy

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// PowerState is the observed host/chassis power state as reported by the
// external state service.
type PowerState int

const (
	PowerStateUnknown PowerState = iota
	PowerStateOn
	PowerStateOff
)

// HostController is the RPC collaborator the limit-exception monitor
// drives through the soft-shutdown -> chassis-power-down escalation (spec
// §4.4.3). Calls may be long-running; the monitor never blocks the tick
// waiting on them — it issues a request and polls state on subsequent
// ticks rather than blocking the tick loop on the host's response.
type HostController interface {
	RequestHostOff() (supported bool, err error)
	HostPowerState() PowerState
	RequestChassisOff() error
	ChassisPowerState() PowerState
}

// Completion is reported once escalation finishes.
type Completion int

const (
	CompletionNone Completion = iota
	CompletionSuccess
	CompletionTimedOut
)

// LimitExceptionOutcome is what Policy.Tick surfaces to its caller for
// logging/metrics on the tick an escalation action actually fires or
// completes.
type LimitExceptionOutcome struct {
	Fired      bool
	Completion Completion
}

const (
	defaultSoftShutdownTimeout    = 30 * time.Second
	defaultChassisPowerDownTimeout = 15 * time.Second
)

type monitorPhase int

const (
	phaseIdle monitorPhase = iota
	phaseConditionPending
	phaseSoftShutdownInFlight
	phaseChassisInFlight
	phaseDone
)

// LimitExceptionMonitor watches a power policy's controlled reading while
// it is `selected` and escalates per its configured LimitException (spec
// §4.4.3). A single monotonic scheduler drives both the condition timer
// and the soft/chassis escalation timers, rather
// than separate async timers per stage.
type LimitExceptionMonitor struct {
	host HostController
	log  *zap.Logger

	phase           monitorPhase
	conditionSince  time.Time
	phaseDeadline   time.Time
	softTimeout     time.Duration
	chassisTimeout  time.Duration

	shutdownTimeoutOccurred bool
	fired                   bool
	retryPending            bool
}

func NewLimitExceptionMonitor(host HostController, log *zap.Logger) *LimitExceptionMonitor {
	return &LimitExceptionMonitor{
		host:           host,
		log:            log,
		softTimeout:    defaultSoftShutdownTimeout,
		chassisTimeout: defaultChassisPowerDownTimeout,
	}
}

// Reset clears all timer state: called when the condition clears, on state
// leaving `selected`, and on any of {limit, correctionInMs, limitException}
// parameter change.
func (m *LimitExceptionMonitor) Reset() {
	m.phase = phaseIdle
	m.conditionSince = time.Time{}
	m.fired = false
	m.shutdownTimeoutOccurred = false
	m.retryPending = false
}

// Tick evaluates the condition and drives escalation. reading is the
// domain's monitored power reading; limit/correctionInMs/exc are the
// policy's current parameter values (read fresh every tick so a parameter
// change takes effect immediately).
func (m *LimitExceptionMonitor) Tick(now time.Time, readingVal, limit float64, correctionInMs int64, exc LimitException) LimitExceptionOutcome {
	if exc == LimitExceptionNoAction {
		return LimitExceptionOutcome{}
	}

	switch m.phase {
	case phaseSoftShutdownInFlight, phaseChassisInFlight:
		return m.pollEscalation(now)
	}

	if math.IsNaN(readingVal) {
		m.Reset()
		return LimitExceptionOutcome{}
	}

	threshold := math.Max(1.05*limit, 2.0)
	if readingVal <= threshold {
		m.Reset()
		return LimitExceptionOutcome{}
	}

	if m.phase == phaseIdle {
		m.phase = phaseConditionPending
		m.conditionSince = now
		return LimitExceptionOutcome{}
	}

	if m.fired {
		return LimitExceptionOutcome{}
	}

	if now.Sub(m.conditionSince) < time.Duration(correctionInMs)*time.Millisecond {
		return LimitExceptionOutcome{}
	}

	m.fired = true
	return m.fireOnce(exc, now)
}

func (m *LimitExceptionMonitor) fireOnce(exc LimitException, now time.Time) LimitExceptionOutcome {
	switch exc {
	case LimitExceptionLogEvent:
		if m.log != nil {
			m.log.Info("limit exception: log only")
		}
		return LimitExceptionOutcome{Fired: true, Completion: CompletionSuccess}
	case LimitExceptionPowerOff, LimitExceptionLogEventAndPowerOff:
		if exc == LimitExceptionLogEventAndPowerOff && m.log != nil {
			m.log.Info("limit exception: log + power off")
		}
		return m.startPowerOff(now)
	default:
		return LimitExceptionOutcome{}
	}
}

// startPowerOff distinguishes not_supported from any other RequestHostOff
// error: not_supported skips straight to chassis power-down, while a
// transient error still arms the soft-shutdown deadline and is retried on
// subsequent ticks until either it succeeds or the deadline fires.
func (m *LimitExceptionMonitor) startPowerOff(now time.Time) LimitExceptionOutcome {
	supported, err := m.host.RequestHostOff()
	if !supported {
		return m.startChassisPowerDown(now)
	}
	m.phase = phaseSoftShutdownInFlight
	m.phaseDeadline = now.Add(m.softTimeout)
	m.retryPending = err != nil
	if err != nil && m.log != nil {
		m.log.Warn("soft shutdown request failed, retrying until deadline", zap.Error(err))
	}
	return LimitExceptionOutcome{Fired: true}
}

func (m *LimitExceptionMonitor) startChassisPowerDown(now time.Time) LimitExceptionOutcome {
	_ = m.host.RequestChassisOff()
	m.phase = phaseChassisInFlight
	m.phaseDeadline = now.Add(m.chassisTimeout)
	return LimitExceptionOutcome{Fired: true}
}

func (m *LimitExceptionMonitor) pollEscalation(now time.Time) LimitExceptionOutcome {
	switch m.phase {
	case phaseSoftShutdownInFlight:
		if m.retryPending {
			supported, err := m.host.RequestHostOff()
			if !supported {
				return m.startChassisPowerDown(now)
			}
			m.retryPending = err != nil
		}
		if m.host.HostPowerState() == PowerStateOff {
			m.phase = phaseDone
			return LimitExceptionOutcome{Completion: CompletionSuccess}
		}
		if now.After(m.phaseDeadline) {
			m.shutdownTimeoutOccurred = true
			return m.startChassisPowerDown(now)
		}
		return LimitExceptionOutcome{}
	case phaseChassisInFlight:
		if m.host.ChassisPowerState() == PowerStateOff {
			m.phase = phaseDone
			return LimitExceptionOutcome{Completion: CompletionSuccess}
		}
		if now.After(m.phaseDeadline) {
			m.phase = phaseDone
			if m.log != nil {
				m.log.Warn("PowerShutdownFailed: chassis power-down timed out")
			}
			return LimitExceptionOutcome{Completion: CompletionTimedOut}
		}
		return LimitExceptionOutcome{}
	default:
		return LimitExceptionOutcome{}
	}
}
