package pe

import "github.com/usbpdgo/pdstack/pdmsg"

// BIST (Built-In Self Test) modes: Carrier_Mode keeps transmitting a test
// signal until the port is physically detached (exited only by Reinit/
// detach, never by a timer or response), Test_Data loops received data back
// unmodified, and BIST_STM ("Shared Capacity Test Mode", PD 3.2) behaves like
// Test_Data but is only available once bistStmEnabled is set -- requesting
// or receiving it below PD 3.2 is rejected with Not_Supported instead.
var (
	stateBISTCarrierMode *state
	stateBISTTestData    *state
	stateBISTSTM         *state
)

func bistMode(m pdmsg.Message) pdmsg.BISTMode {
	return pdmsg.BISTDataObject(m.Data[0]).Mode()
}

func init() {
	stateBISTCarrierMode = &state{
		Name: "bist-carrier-mode",
		Enter: func(e *Engine) (*state, error) {
			m := e.msgTpl
			m.SetDataObjectCount(1)
			m.SetType(pdmsg.TypeBIST)
			var bdo pdmsg.BISTDataObject
			bdo.SetMode(pdmsg.BISTModeCarrierMode2)
			m.Data[0] = uint32(bdo)
			return nil, e.tx(m)
		},
		// No Process: only a hard reset or detach (handled centrally by
		// Task/Engine.process's error path and EventDetached) leaves this
		// state, matching the test mode's "until physical disconnect"
		// semantics.
	}

	stateBISTTestData = &state{
		Name: "bist-test-data",
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeBIST {
				return nil, e.tx(m) // loop back unmodified
			}
			return nil, nil
		},
	}

	stateBISTSTM = &state{
		Name: "bist-stm",
		Process: func(e *Engine, m pdmsg.Message, ev Event) (*state, error) {
			if ev == EventRx && m.IsData() && m.Type() == pdmsg.TypeBIST {
				return nil, e.tx(m) // loop back unmodified, same as test-data mode
			}
			return nil, nil
		},
	}
}

// EnterBISTCarrierMode transitions the engine into the BIST carrier-mode
// test state. Only meaningful before an explicit contract exists, matching
// the standard's restriction that BIST is only initiated pre-contract.
func (e *Engine) EnterBISTCarrierMode() {
	e.transition(stateBISTCarrierMode)
}

// EnterBISTTestData transitions the engine into BIST test-data loopback mode.
func (e *Engine) EnterBISTTestData() {
	e.transition(stateBISTTestData)
}

// EnterBISTSharedCapacityTestMode transitions the engine into BIST_STM, if
// the port's configured revision is 3.2 or later. Below that, it sends
// Not_Supported instead and stays put -- the same rejection a received
// BIST_STM request gets via handleIncomingBIST.
func (e *Engine) EnterBISTSharedCapacityTestMode() {
	if !e.bistStmEnabled {
		_ = e.sendControl(pdmsg.TypeNotSupported)
		return
	}
	e.transition(stateBISTSTM)
}

// handleIncomingBIST dispatches a received BIST data message to the state
// its mode selects, rejecting BIST_STM with Not_Supported below PD 3.2. Both
// Ready states call this for an incoming Type_BIST so the responder side
// follows the same mode selection the local EnterBIST* methods drive.
func (e *Engine) handleIncomingBIST(m pdmsg.Message) (*state, error) {
	switch bistMode(m) {
	case pdmsg.BISTModeShareMode:
		if !e.bistStmEnabled {
			if err := e.sendControl(pdmsg.TypeNotSupported); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return stateBISTSTM, nil
	case pdmsg.BISTModeTestData:
		return stateBISTTestData, nil
	case pdmsg.BISTModeCarrierMode2:
		return stateBISTCarrierMode, nil
	}
	return nil, nil
}
