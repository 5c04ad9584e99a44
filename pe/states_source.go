package pe

import (
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
)

// tSrcTransition is how long the source waits after sending Accept before
// sending PS_RDY.
const tSrcTransition = 25 * time.Millisecond

// Source branch states, mirroring the sink branch's shape: Startup ->
// SendCapabilities -> (Discovery retry loop) -> NegotiateCapability ->
// TransitionSupply -> SendPSRDY -> Ready, with WaitNewCapabilities covering
// an unresolved Request.
var (
	stateSrcStartup             *state
	stateSrcSendCapabilities    *state
	stateSrcNegotiateCapability *state
	stateSrcTransitionSupply    *state
	stateSrcSendPSRDY           *state
	stateSrcReady               *state
	stateSrcWaitNewCapabilities *state
	stateSendSinkCap            *state
)

func init() {
	stateSrcStartup = &state{
		Name: "src-startup",
		Enter: func(e *Engine) (*state, error) {
			e.notify(NotifyPowerNotReady)
			e.explicitContract = false
			e.gotFirstRx = false
			e.sourceCapRetries = 0
			return stateSrcSendCapabilities, nil
		},
	}

	stateSrcSendCapabilities = &state{
		Name: "src-send-cap",
		Enter: func(e *Engine) (*state, error) {
			if len(e.sourcePDOs) == 0 {
				e.pdoBuf[0] = pdmsg.PDO(e.v5PDO)
				e.sourcePDOs = e.pdoBuf[:1]
			}
			if err := e.sendSourceCap(); err != nil {
				return nil, err
			}
			e.armResponseTimer()
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				e.sourceCapRetries++
				if e.sourceCapRetries >= maxSourceCapRetries {
					return stateNoPD, nil
				}
				// A resend that prl refuses still counts as one attempt.
				_ = e.sendSourceCap()
				e.startTimer(tSrcCapTimer)
				return nil, nil
			}
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeRequest {
				e.requestDO = pdmsg.RequestDO(m.Data[0])
				return stateSrcNegotiateCapability, nil
			}
			return nil, nil
		},
	}

	stateSrcNegotiateCapability = &state{
		Name: "src-negotiate-cap",
		Enter: func(e *Engine) (*state, error) {
			pos := e.requestDO.SelectedObjectPosition()
			valid := pos >= 1 && int(pos) <= len(e.sourcePDOs)
			if !valid {
				if err := e.sendControl(pdmsg.TypeReject); err != nil {
					return nil, err
				}
				if e.explicitContract {
					return stateSrcReady, nil
				}
				return stateSrcWaitNewCapabilities, nil
			}
			if err := e.sendControl(pdmsg.TypeAccept); err != nil {
				return nil, err
			}
			return stateSrcTransitionSupply, nil
		},
	}

	stateSrcTransitionSupply = &state{
		Name: "src-transition-supply",
		Enter: func(e *Engine) (*state, error) {
			e.explicitContract = true
			e.startTimer(tSrcTransition)
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateSrcSendPSRDY, nil
			}
			return nil, nil
		},
	}

	stateSrcSendPSRDY = &state{
		Name: "src-send-ps-rdy",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypePSReady); err != nil {
				return nil, err
			}
			return stateSrcReady, nil
		},
	}

	stateSrcReady = &state{
		Name: "src-ready",
		Enter: func(e *Engine) (*state, error) {
			e.hardResetCount = 0
			e.notify(NotifyPowerReady)
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev != EventRx {
				return nil, nil
			}
			if m.IsData() && m.Type() == pdmsg.TypeRequest {
				e.requestDO = pdmsg.RequestDO(m.Data[0])
				return stateSrcNegotiateCapability, nil
			}
			if m.IsData() && m.Type() == pdmsg.TypeEPRMode {
				if eprModeAction(m) == pdmsg.EPRModeActionEnter {
					return stateEPREval, nil
				}
				return nil, nil
			}
			if m.IsData() && m.Type() == pdmsg.TypeBIST {
				return e.handleIncomingBIST(m)
			}
			if !m.IsData() {
				switch m.Type() {
				case pdmsg.TypeGetSourceCap:
					return stateSrcSendCapabilities, nil
				case pdmsg.TypePRSwap:
					return stateSwapEvalPR, nil
				case pdmsg.TypeDRSwap:
					return stateSwapEvalDR, nil
				case pdmsg.TypeVCONNSwap:
					return stateSwapEvalVCONN, nil
				case pdmsg.TypeFRSwap:
					return stateSwapEvalFR, nil
				}
			}
			return nil, nil
		},
	}

	stateSrcWaitNewCapabilities = &state{
		Name: "src-wait-new-cap",
		Enter: func(e *Engine) (*state, error) {
			e.startTimer(tSrcCapTimer)
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateSrcSendCapabilities, nil
			}
			return nil, nil
		},
	}

	// stateSendSinkCap answers a partner's Get_Sink_Cap when acting as a
	// sink; it is a one-shot reply state shared by both branches' Ready
	// states rather than duplicated per role.
	stateSendSinkCap = &state{
		Name: "send-sink-cap",
		Enter: func(e *Engine) (*state, error) {
			m := e.msgTpl
			m.SetExtended(false)
			if len(e.sinkPDOs) > 0 {
				m.SetDataObjectCount(uint8(len(e.sinkPDOs)))
				for i, p := range e.sinkPDOs {
					m.Data[i] = uint32(p)
				}
			} else {
				m.SetDataObjectCount(1)
				m.Data[0] = uint32(e.v5PDO)
			}
			m.SetType(pdmsg.TypeSinkCap)
			if err := e.tx(m); err != nil {
				return nil, err
			}
			if e.role == pdmsg.PowerRoleSource {
				return stateSrcReady, nil
			}
			return stateSnkReady, nil
		},
	}
}
