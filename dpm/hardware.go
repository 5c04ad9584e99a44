// Package dpm is the Device Policy Manager façade: it wires pdtimer, prl,
// tcfsm and pe into one Port, adds a command buffer for one-off SOP'/SOP''
// requests, and exposes the application callback vector a board's firmware
// implements.
package dpm

import (
	"github.com/usbpdgo/pdstack/prl"
	"github.com/usbpdgo/pdstack/tcfsm"
)

// Hardware is everything a Port needs from the physical port controller: CC
// sensing and Rp/Rd presentation for the Type-C connection FSM, and raw PD
// framing for the Protocol Layer. A real chip driver (e.g. an adapted
// tcpcdriver/fusb302) implements both halves against the same silicon.
type Hardware interface {
	tcfsm.CCSource
	prl.Phy
}
