package dpm

import (
	"errors"
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
)

// ErrBusy is returned by SubmitCommand when a command is already in flight,
// or when an SOP-message command is submitted while the policy engine isn't
// idle (see Port.SubmitCommand).
var ErrBusy = errors.New("dpm: a command is already in flight on this port")

// ErrNotSupported is the default AppCallbacks answer for actions a board
// hasn't implemented.
var ErrNotSupported = errors.New("dpm: not supported")

// Result is the outcome SubmitCommand's callback is invoked with.
type Result int

const (
	ResultAborted Result = iota
	ResultFailed
	ResultTimeout
	ResultSent
	ResultResponseReceived
)

// Command is a one-off message a DPM submits outside the policy engine's own
// contract-negotiation exchange: cable/alt-mode discovery (SOP'/SOP'') and,
// while the engine is idle in a Ready state, simple SOP informational
// requests. Only one Command may be in flight per port at a time.
type Command struct {
	SOP      pdmsg.SOP
	Type     pdmsg.Type
	Extended bool

	// DataObjects holds up to pdmsg.MaxDataObjects 32-bit data objects.
	DataObjects []uint32

	// Timeout bounds how long to wait for a response after the message is
	// sent. Zero means the command completes with ResultSent as soon as the
	// transmit's GoodCRC is observed, without waiting for a reply.
	Timeout time.Duration

	// Callback, if non-nil, is invoked exactly once with the outcome. msg is
	// populated only for ResultResponseReceived.
	Callback func(Result, pdmsg.Message)
}

func (c Command) buildMessage() pdmsg.Message {
	var m pdmsg.Message
	m.SetExtended(c.Extended)
	m.SetType(c.Type)
	m.SetDataObjectCount(uint8(len(c.DataObjects)))
	for i, do := range c.DataObjects {
		if i >= len(m.Data) {
			break
		}
		m.Data[i] = do
	}
	return m
}
