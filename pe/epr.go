package pe

import (
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
)

// EPR (Extended Power Range) entry/exit. Entry is gated on the partner's
// capability (EPR bit set in the selected sink RDO / offered source PDO) and
// is only attempted when the negotiated explicit contract already exists;
// once entered, a periodic keepalive (sent by the source, expected by the
// sink) must be observed or the mode is exited back to a standard contract.
var (
	stateEPREnter  *state
	stateEPREval   *state
	stateEPRActive *state
)

// RequestEPREntry queues a request to enter Extended Power Range mode with
// the partner. It takes effect on the next Task call while the engine is
// idle in a Ready state, the same one-request-at-a-time queuing
// RequestPRSwap/RequestDRSwap/RequestVCONNSwap use.
func (e *Engine) RequestEPREntry() {
	e.mu.Lock()
	e.events.Add(EventDPMRequest)
	e.mu.Unlock()
	e.pendingSwap = swapRequestEPREnter
}

// eprKeepAliveInterval returns the keepalive cadence for the current role.
func (e *Engine) eprKeepAliveInterval() time.Duration {
	if e.role == pdmsg.PowerRoleSource {
		return tEPRKeepAliveSrc
	}
	return tEPRKeepAliveSnk
}

func (e *Engine) sendEPRMode(action pdmsg.EPRModeAction) error {
	var do pdmsg.EPRModeDataObject
	do.SetAction(action)
	m := e.msgTpl
	m.SetExtended(false)
	m.SetDataObjectCount(1)
	m.Data[0] = uint32(do)
	m.SetType(pdmsg.TypeEPRMode)
	return e.tx(m)
}

func eprModeAction(m pdmsg.Message) pdmsg.EPRModeAction {
	return pdmsg.EPRModeDataObject(m.Data[0]).Action()
}

func init() {
	// stateEPREnter is the initiator side: we ask to enter EPR and wait for
	// the partner to acknowledge.
	stateEPREnter = &state{
		Name: "epr-enter",
		Enter: func(e *Engine) (*state, error) {
			if !e.explicitContract {
				return e.readyState(), nil
			}
			if err := e.sendEPRMode(pdmsg.EPRModeActionEnter); err != nil {
				return nil, err
			}
			e.armResponseTimer()
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return e.readyState(), nil
			}
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeEPRMode {
				if eprModeAction(m) == pdmsg.EPRModeActionEnterAcknowledged {
					e.notify(NotifyEPREntered)
					return stateEPRActive, nil
				}
				return e.readyState(), nil
			}
			if ev == EventRx {
				return e.readyState(), nil
			}
			return nil, nil
		},
	}

	// stateEPREval is the responder side: the partner asked to enter EPR and
	// we acknowledge immediately, the same unconditional-Accept shape
	// stateSwapEvalPR/DR/VCONN use for their own incoming requests.
	stateEPREval = &state{
		Name: "epr-eval",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendEPRMode(pdmsg.EPRModeActionEnterAcknowledged); err != nil {
				return nil, err
			}
			e.notify(NotifyEPREntered)
			return stateEPRActive, nil
		},
	}

	stateEPRActive = &state{
		Name: "epr-active",
		Enter: func(e *Engine) (*state, error) {
			e.startTimer(e.eprKeepAliveInterval())
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				// Missed keepalive: drop back to the standard contract.
				e.notify(NotifyEPRExited)
				return e.readyState(), nil
			}
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeEPRMode {
				switch eprModeAction(m) {
				case pdmsg.EPRModeActionExit:
					e.notify(NotifyEPRExited)
					return e.readyState(), nil
				default:
					e.startTimer(e.eprKeepAliveInterval())
				}
			}
			return nil, nil
		},
	}
}
