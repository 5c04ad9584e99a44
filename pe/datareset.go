package pe

import "github.com/usbpdgo/pdstack/pdmsg"

// Data_Reset collapses the protocol's nine-step sequence into three states:
// requesting the reset, waiting for the partner's completion, and returning
// to Ready. The return to Ready happens as soon as Data_Reset_Complete
// arrives; no DFP-side settle delay is applied.
var (
	stateDataResetSend     *state
	stateDataResetWait     *state
	stateDataResetComplete *state
)

func init() {
	stateDataResetSend = &state{
		Name: "data-reset-send",
		Enter: func(e *Engine) (*state, error) {
			if err := e.sendControl(pdmsg.TypeDataReset); err != nil {
				return nil, err
			}
			e.startTimer(tDataReset)
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateHardReset, nil
			}
			if ev == EventRx && !m.IsData() && m.Type() == pdmsg.TypeAccept {
				return stateDataResetWait, nil
			}
			return nil, nil
		},
	}

	stateDataResetWait = &state{
		Name: "data-reset-wait",
		Enter: func(e *Engine) (*state, error) {
			e.dRole = pdmsg.DataRoleUFP
			e.msgTpl.SetDataRole(e.dRole)
			e.startTimer(tDataResetComplete)
			return nil, nil
		},
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventTimerTimeout {
				return stateHardReset, nil
			}
			if ev == EventRx && !m.IsData() && m.Type() == pdmsg.TypeDataResetComp {
				return stateDataResetComplete, nil
			}
			return nil, nil
		},
	}

	stateDataResetComplete = &state{
		Name: "data-reset-complete",
		Enter: func(e *Engine) (*state, error) {
			return e.readyState(), nil
		},
	}
}
