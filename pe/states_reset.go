package pe

import (
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
)

// stateHardReset and stateSoftReset are shared by both roles: a hard reset
// drops the explicit contract and restarts the role's Startup state; a soft
// reset merely resets message-ID counters on the PRL and retries capability
// exchange without a power interruption.
var (
	stateHardReset *state
	stateSoftReset *state
)

func init() {
	stateHardReset = &state{
		Name: "hard-reset",
		Enter: func(e *Engine) (*state, error) {
			e.notify(NotifyPowerNotReady)
			e.hardResetCount++
			e.prl.HardReset()
			if e.hardResetCount >= maxHardResetRetries {
				e.hardResetLimitHit = true
				return nil, nil // stay put; owner must call Reinit after ErrorRecovery
			}
			return e.initialState(), nil
		},
	}

	stateSoftReset = &state{
		Name: "soft-reset",
		Enter: func(e *Engine) (*state, error) {
			e.prl.SoftReset(pdmsg.SOPMessage)
			if err := e.sendControl(pdmsg.TypeSoftReset); err != nil {
				return stateHardReset, nil
			}
			e.armResponseTimer()
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateHardReset, nil
			}
			if ev == EventRx && !m.IsData() && m.Type() == pdmsg.TypeAccept {
				return e.initialState(), nil
			}
			return nil, nil
		},
	}
}

// HardResetExceeded reports whether the engine has hit three consecutive
// failed hard resets and is now parked waiting for the owning port to drive
// its tcfsm.Port into ErrorRecovery and call Reinit once the connection FSM
// reattaches.
func (e *Engine) HardResetExceeded() bool {
	return e.hardResetLimitHit
}

// Reinit clears the hard-reset failure count and re-enters Startup. Call
// after tcfsm.Port reports a fresh IndAttached following ErrorRecovery.
func (e *Engine) Reinit(now time.Time) {
	e.hardResetCount = 0
	e.hardResetLimitHit = false
	e.Start(now)
}
