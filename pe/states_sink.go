package pe

import "github.com/usbpdgo/pdstack/pdmsg"

// Sink branch states, kept close to the sink-only implementation this
// package generalizes: Startup -> WaitForCapabilities -> EvaluateCapabilities
// -> SelectCapabilities -> TransitionSink -> Ready, with a NoPD pseudo-state
// for non-PD Type-C current sources.
var (
	stateNoPD                    *state
	stateSnkStartup              *state
	stateSnkWaitForCapabilities  *state
	stateSnkEvaluateCapabilities *state
	stateSnkSelectCapabilities   *state
	stateSnkTransitionSink       *state
	stateSnkReady                *state
)

func init() {
	// Pseudo-state for non-PD power sources: builds a fake 5V fixed PDO from
	// the Type-C advertised current and asks the DPM to evaluate it, so
	// callers get the same EvaluateCapabilities/EventPowerReady contract
	// whether or not the partner speaks PD at all.
	stateNoPD = &state{
		Name: "no-pd",
		Enter: func(e *Engine) (*state, error) {
			e.pdoBuf[0] = pdmsg.PDO(e.v5PDO)
			rdo := e.evalCaps(e.pdoBuf[:1])
			if rdo == pdmsg.EmptyRequestDO {
				e.notify(NotifyPowerNotReady)
			} else {
				e.notify(NotifyAccepted)
				e.notify(NotifyPowerReady)
			}
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			return nil, nil
		},
	}

	stateSnkStartup = &state{
		Name: "snk-startup",
		Enter: func(e *Engine) (*state, error) {
			e.notify(NotifyPowerNotReady)
			e.explicitContract = false
			e.gotFirstRx = false
			e.noResponseGraceArmed = false
			return stateSnkWaitForCapabilities, nil
		},
	}

	stateSnkWaitForCapabilities = &state{
		Name: "snk-wait-for-cap",
		Enter: func(e *Engine) (*state, error) {
			e.sourceCapMsg = pdmsg.Message{}
			e.startTimer(tSinkWaitCap)
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				if e.v5PDO.MaxCurrent() > 0 {
					return stateNoPD, nil
				}
				if !e.gotFirstRx && !e.noResponseGraceArmed {
					e.noResponseGraceArmed = true
					e.startTimer(tNoResponse)
					return nil, nil
				}
				e.noResponseGraceArmed = false
				return stateHardReset, nil
			}
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeSourceCap {
				e.sourceCapMsg = m
				r := m.Revision()
				if r < pdmsg.Revision30 {
					e.setRevision(r)
				} else {
					e.setRevision(pdmsg.Revision30)
				}
				return stateSnkEvaluateCapabilities, nil
			}
			return nil, nil
		},
	}

	stateSnkEvaluateCapabilities = &state{
		Name: "snk-eval-cap",
		Enter: func(e *Engine) (*state, error) {
			l := e.sourceCapMsg.DataObjectCount()
			for i, d := range e.sourceCapMsg.Data[:l] {
				e.pdoBuf[i] = pdmsg.PDO(d)
			}
			e.requestDO = e.evalCaps(e.pdoBuf[:l])
			return stateSnkSelectCapabilities, nil
		},
	}

	stateSnkSelectCapabilities = &state{
		Name: "snk-select-cap",
		Enter: func(e *Engine) (*state, error) {
			rdo := e.requestDO
			if rdo == pdmsg.EmptyRequestDO {
				rdo = defaultRDO
			}
			if err := e.sendRDO(rdo); err != nil {
				return nil, err
			}
			e.armResponseTimer()
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateHardReset, nil
			}
			if ev == EventRx && !m.IsData() {
				switch m.Type() {
				case pdmsg.TypeAccept:
					e.notify(NotifyAccepted)
					e.waitingOnSource = false
					e.explicitContract = true
					return stateSnkTransitionSink, nil
				case pdmsg.TypeReject:
					e.notify(NotifyRejected)
					if e.explicitContract {
						return stateSnkReady, nil
					}
					return stateSnkWaitForCapabilities, nil
				case pdmsg.TypeWait:
					e.waitingOnSource = true
					if e.explicitContract {
						return stateSnkReady, nil
					}
					return stateSnkWaitForCapabilities, nil
				}
			}
			return nil, nil
		},
	}

	stateSnkTransitionSink = &state{
		Name: "snk-transition-sink",
		Enter: func(e *Engine) (*state, error) {
			e.startTimer(tPSTransition)
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateHardReset, nil
			}
			if ev == EventRx && !m.IsData() && m.Type() == pdmsg.TypePSReady {
				return stateSnkReady, nil
			}
			return nil, nil
		},
	}

	stateSnkReady = &state{
		Name: "snk-ready",
		Enter: func(e *Engine) (*state, error) {
			e.hardResetCount = 0
			if e.requestDO != pdmsg.EmptyRequestDO {
				e.notify(NotifyPowerReady)
			}
			if e.waitingOnSource {
				e.startTimer(tSinkRequest)
			} else if e.ppsNegotiated() {
				e.startTimer(tSinkPPSPeriodic)
			}
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateSnkSelectCapabilities, nil
			}
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeSourceCap {
				e.sourceCapMsg = m
				return stateSnkEvaluateCapabilities, nil
			}
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeEPRMode {
				if eprModeAction(m) == pdmsg.EPRModeActionEnter {
					return stateEPREval, nil
				}
				return nil, nil
			}
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeBIST {
				return e.handleIncomingBIST(m)
			}
			if ev == EventRx && !m.IsData() {
				switch m.Type() {
				case pdmsg.TypePRSwap:
					return stateSwapEvalPR, nil
				case pdmsg.TypeDRSwap:
					return stateSwapEvalDR, nil
				case pdmsg.TypeVCONNSwap:
					return stateSwapEvalVCONN, nil
				case pdmsg.TypeGetSinkCap:
					return stateSendSinkCap, nil
				}
			}
			return nil, nil
		},
	}
}
