package pe

import "github.com/usbpdgo/pdstack/pdmsg"

// Role swap states: each swap gets an Eval (decide Accept/Reject), a Send
// (request the swap as local policy), and the post-accept role-change
// action, following the same shape for PR/DR/VCONN/FR. PR/DR/FR only flip
// the bookkeeping fields the rest of the engine reads (msgTpl roles,
// e.role); VCONN only exchanges the swap messages and notifies, and does
// not move VCONN source duty.
var (
	stateSwapEvalPR  *state
	stateSwapSendPR  *state
	stateSwapEvalDR  *state
	stateSwapSendDR  *state
	stateSwapEvalVCONN *state
	stateSwapSendVCONN *state
	stateSwapEvalFR    *state
)

// RequestPRSwap queues a request to swap power roles with the partner. It
// takes effect on the next Task call while the engine is in a Ready state.
func (e *Engine) RequestPRSwap() {
	e.mu.Lock()
	e.events.Add(EventDPMRequest)
	e.mu.Unlock()
	e.pendingSwap = swapRequestPR
}

// RequestDRSwap queues a request to swap data roles with the partner.
func (e *Engine) RequestDRSwap() {
	e.mu.Lock()
	e.events.Add(EventDPMRequest)
	e.mu.Unlock()
	e.pendingSwap = swapRequestDR
}

// RequestVCONNSwap queues a request to swap which side sources VCONN.
func (e *Engine) RequestVCONNSwap() {
	e.mu.Lock()
	e.events.Add(EventDPMRequest)
	e.mu.Unlock()
	e.pendingSwap = swapRequestVCONN
}

type swapKind int

const (
	swapRequestNone swapKind = iota
	swapRequestPR
	swapRequestDR
	swapRequestVCONN
	swapRequestEPREnter
)

func init() {
	stateSwapEvalPR = &state{
		Name: "swap-eval-pr",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypeAccept); err != nil {
				return nil, err
			}
			if e.role == pdmsg.PowerRoleSource {
				e.role = pdmsg.PowerRoleSink
			} else {
				e.role = pdmsg.PowerRoleSource
			}
			e.msgTpl.SetPowerRole(e.role)
			e.notify(NotifyPRSwapAccepted)
			return e.initialState(), nil
		},
	}

	stateSwapSendPR = &state{
		Name: "swap-send-pr",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypePRSwap); err != nil {
				return nil, err
			}
			e.armResponseTimer()
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return e.readyState(), nil
			}
			if ev == EventRx && !m.IsData() {
				switch m.Type() {
				case pdmsg.TypeAccept:
					if e.role == pdmsg.PowerRoleSource {
						e.role = pdmsg.PowerRoleSink
					} else {
						e.role = pdmsg.PowerRoleSource
					}
					e.msgTpl.SetPowerRole(e.role)
					e.notify(NotifyPRSwapAccepted)
					return e.initialState(), nil
				case pdmsg.TypeReject, pdmsg.TypeWait:
					e.notify(NotifyRejected)
					return e.readyState(), nil
				}
			}
			return nil, nil
		},
	}

	stateSwapEvalDR = &state{
		Name: "swap-eval-dr",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypeAccept); err != nil {
				return nil, err
			}
			if e.dRole == pdmsg.DataRoleDFP {
				e.dRole = pdmsg.DataRoleUFP
			} else {
				e.dRole = pdmsg.DataRoleDFP
			}
			e.msgTpl.SetDataRole(e.dRole)
			e.notify(NotifyDRSwapAccepted)
			return e.readyState(), nil
		},
	}

	stateSwapSendDR = &state{
		Name: "swap-send-dr",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypeDRSwap); err != nil {
				return nil, err
			}
			e.armResponseTimer()
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return e.readyState(), nil
			}
			if ev == EventRx && !m.IsData() {
				switch m.Type() {
				case pdmsg.TypeAccept:
					if e.dRole == pdmsg.DataRoleDFP {
						e.dRole = pdmsg.DataRoleUFP
					} else {
						e.dRole = pdmsg.DataRoleDFP
					}
					e.msgTpl.SetDataRole(e.dRole)
					e.notify(NotifyDRSwapAccepted)
				case pdmsg.TypeReject, pdmsg.TypeWait:
					e.notify(NotifyRejected)
				}
			}
			return e.readyState(), nil
		},
	}

	stateSwapEvalVCONN = &state{
		Name: "swap-eval-vconn",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypeAccept); err != nil {
				return nil, err
			}
			e.notify(NotifyVCONNSwapDone)
			return e.readyState(), nil
		},
	}

	stateSwapSendVCONN = &state{
		Name: "swap-send-vconn",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypeVCONNSwap); err != nil {
				return nil, err
			}
			e.armResponseTimer()
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return e.readyState(), nil
			}
			if ev == EventRx && !m.IsData() {
				if m.Type() == pdmsg.TypeAccept {
					e.notify(NotifyVCONNSwapDone)
				} else {
					e.notify(NotifyRejected)
				}
			}
			return e.readyState(), nil
		},
	}

	// FR swap (fast role swap) is only meaningful while this engine is the
	// source about to lose VBUS; accepting it means handing source role to
	// the partner immediately rather than after the usual PR-swap handshake.
	stateSwapEvalFR = &state{
		Name: "swap-eval-fr",
		Enter: func(e *Engine) (*state, error) {
			e.role = pdmsg.PowerRoleSink
			e.msgTpl.SetPowerRole(e.role)
			e.notify(NotifyPRSwapAccepted)
			return stateSnkStartup, nil
		},
	}
}

// readyState returns the role-appropriate Ready state to fall back to once
// a swap sub-exchange concludes.
func (e *Engine) readyState() *state {
	if e.role == pdmsg.PowerRoleSource {
		return stateSrcReady
	}
	return stateSnkReady
}
