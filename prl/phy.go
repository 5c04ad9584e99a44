// Package prl implements the USB Power Delivery Protocol Layer: per-SOP
// message ID bookkeeping, GoodCRC send/expect/retry, and chunked
// extended-message sequencing.
//
// Ground: the upstream fusb302 driver performs its own GoodCRC wait and
// retry inside Tx/rx. Here that responsibility moves up into Layer, talking
// to a narrower Phy boundary that a driver implements -- see DESIGN.md for
// the rationale.
package prl

import "github.com/usbpdgo/pdstack/pdmsg"

// Phy is the narrow hardware boundary the Protocol Layer drives. A port
// controller driver (e.g. tcpcdriver/fusb302, adapted) implements this by
// exposing raw framing only -- message-ID assignment, GoodCRC matching and
// retry all live in Layer, not behind this interface.
type Phy interface {
	// Init (re-)initializes the PHY to a known state. Called on PE startup
	// and after a hard reset.
	Init() error

	// TxRaw hands one fully framed message (as produced by pdmsg.Message.
	// ToBytes, CRC appended by hardware) to the PHY for transmission on the
	// given SOP class. It returns once the PHY has accepted the frame, not
	// once it has been acknowledged.
	TxRaw(sop pdmsg.SOP, frame []byte) error

	// RxRaw returns the next decoded raw frame not yet consumed, including
	// GoodCRC frames (Layer needs to see these to match outstanding
	// transmits). ok is false if no frame is pending.
	RxRaw() (sop pdmsg.SOP, frame []byte, ok bool, err error)

	// HardReset returns true exactly once if the PHY has observed a
	// Hard_Reset ordered set on the wire since the last call.
	HardReset() bool

	// SendHardReset instructs the PHY to emit a Hard_Reset ordered set and
	// blocks until the PHY confirms it has been sent.
	SendHardReset() error
}
