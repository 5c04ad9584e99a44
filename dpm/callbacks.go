package dpm

import "github.com/usbpdgo/pdstack/pdmsg"

// PortID identifies one physical port to an AppCallbacks implementation
// shared across several dpm.Port instances.
type PortID int

// AppEvent tags the notifications HandleEvent receives, covering every
// event a port's connection and policy engine can report to the
// application.
type AppEvent int

const (
	EventAttached AppEvent = iota
	EventDetached
	EventAccepted
	EventRejected
	EventPowerReady
	EventPowerNotReady
	EventPRSwapAccepted
	EventDRSwapAccepted
	EventVCONNSwapDone
	EventEPREntered
	EventEPRExited
	EventCableDiscovered
	EventCableDiscoveryFailed
	EventHardReset
	EventFault
	EventErrorRecovery
)

// AppCallbacks is the application-supplied vector a Port drives: hardware
// actuation (source/sink voltage and current, VCONN, VBUS sensing and
// discharge) plus the policy decisions the protocol needs from the
// application (capability evaluation, swap/VDM/EPR acceptance). It is an
// interface rather than a struct of function pointers -- Go has no nullable
// method slot, so DefaultCallbacks is the idiomatic stand-in for "this
// callback wasn't provided."
type AppCallbacks interface {
	// HandleEvent reports a high level outcome for port id. data carries a
	// kind-specific payload (an error for EventFault/EventCableDiscoveryFailed,
	// nil otherwise).
	HandleEvent(id PortID, ev AppEvent, data any)

	// SetSourceVoltage and SetSourceCurrent program the source supply ahead
	// of EnableSource, in mV and mA.
	SetSourceVoltage(mv uint16)
	SetSourceCurrent(ma uint16)
	EnableSource() error
	DisableSource() error

	EnableVConn() error
	DisableVConn() error
	VConnPresent() bool

	VBUSPresent() bool
	VBUSValue() uint16 // mV
	DischargeOn()
	DischargeOff()

	// SetSinkVoltage and SetSinkCurrent program what the board asks its own
	// sink regulator to accept once a contract is in place.
	SetSinkVoltage(mv uint16)
	SetSinkCurrent(ma uint16)
	EnableSink() error
	DisableSink() error

	// EvaluateSourceCapabilities selects an RDO from the partner's
	// advertised source PDOs; it typically delegates to a
	// tcdpm.CapabilityEvaluator.
	EvaluateSourceCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO

	// EvaluateRDO is consulted when acting as source: whether to Accept the
	// partner's Request.
	EvaluateRDO(rdo pdmsg.RequestDO) bool

	EvaluateDRSwap() bool
	EvaluatePRSwap() bool
	EvaluateVCONNSwap() bool
	EvaluateFRSwap() bool

	// EvaluateVDM answers a received Vendor Defined Message: the response
	// data objects (if any) and whether to ACK.
	EvaluateVDM(header pdmsg.VDMHeader, args []uint32) (resp []uint32, ack bool)

	EvaluateEnterUSB(do uint32) bool
	EvaluateEPRMode(do uint32) bool

	// SendSourceInfo returns the Source_Info data object sent in reply to
	// Get_Source_Info.
	SendSourceInfo() uint32
}

// DefaultCallbacks implements AppCallbacks with not-supported/reject
// defaults for everything. Embed it and override only the methods a board
// actually needs.
type DefaultCallbacks struct{}

func (DefaultCallbacks) HandleEvent(PortID, AppEvent, any) {}

func (DefaultCallbacks) SetSourceVoltage(uint16) {}
func (DefaultCallbacks) SetSourceCurrent(uint16) {}
func (DefaultCallbacks) EnableSource() error      { return ErrNotSupported }
func (DefaultCallbacks) DisableSource() error     { return nil }

func (DefaultCallbacks) EnableVConn() error  { return ErrNotSupported }
func (DefaultCallbacks) DisableVConn() error { return nil }
func (DefaultCallbacks) VConnPresent() bool  { return false }

func (DefaultCallbacks) VBUSPresent() bool { return false }
func (DefaultCallbacks) VBUSValue() uint16 { return 0 }
func (DefaultCallbacks) DischargeOn()      {}
func (DefaultCallbacks) DischargeOff()     {}

func (DefaultCallbacks) SetSinkVoltage(uint16) {}
func (DefaultCallbacks) SetSinkCurrent(uint16) {}
func (DefaultCallbacks) EnableSink() error      { return ErrNotSupported }
func (DefaultCallbacks) DisableSink() error     { return nil }

func (DefaultCallbacks) EvaluateSourceCapabilities([]pdmsg.PDO) pdmsg.RequestDO {
	return pdmsg.EmptyRequestDO
}
func (DefaultCallbacks) EvaluateRDO(pdmsg.RequestDO) bool { return false }

func (DefaultCallbacks) EvaluateDRSwap() bool    { return false }
func (DefaultCallbacks) EvaluatePRSwap() bool    { return false }
func (DefaultCallbacks) EvaluateVCONNSwap() bool { return false }
func (DefaultCallbacks) EvaluateFRSwap() bool    { return false }

func (DefaultCallbacks) EvaluateVDM(pdmsg.VDMHeader, []uint32) ([]uint32, bool) {
	return nil, false
}

func (DefaultCallbacks) EvaluateEnterUSB(uint32) bool { return false }
func (DefaultCallbacks) EvaluateEPRMode(uint32) bool  { return false }

func (DefaultCallbacks) SendSourceInfo() uint32 { return 0 }
