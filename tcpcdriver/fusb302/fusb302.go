// Package fusb302 implements a type-C port controller driver for FUSB302
// from ONSemi, adapted to the prl.Phy and tcfsm.CCSource boundaries: it
// exposes raw framing and CC sensing only. Message-ID bookkeeping, GoodCRC
// send/expect/retry and CC state-machine logic live above this package, in
// prl and tcfsm.
package fusb302

import (
	"errors"
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/tcfsm"
	"github.com/usbpdgo/pdstack/tcpcdriver"
)

// MPN represents the manufacturer part number
type MPN uint8

// I2CAddress returns the I2C address of the FUSB302.
func (m MPN) I2CAddress() uint8 {
	return uint8(m)
}

// Manufacturer part numbers
const (
	FUSB302BUCX   MPN = 0b100010
	FUSB302BMPX   MPN = 0b100010
	FUSB302VMPX   MPN = 0b100010
	FUSB302B01MPX MPN = 0b100011
	FUSB302B10MPX MPN = 0b100100
	FUSB302B11MPX MPN = 0b100101
)

// ErrTxFailed is returned when SendHardReset doesn't see hardware
// confirmation within its poll budget.
var ErrTxFailed = errors.New("fusb302: transmit failed")

// ErrInvalidCCState is returned when the chip's auto-toggle state doesn't
// land on a recognized CC line.
var ErrInvalidCCState = errors.New("fusb302: invalid cc state")

type rxFrame struct {
	sop  pdmsg.SOP
	data []byte
}

// FUSB302 is a type-C port controller driver for the FUSB302 IC. It
// implements both tcfsm.CCSource and prl.Phy, so a single instance drives
// one dpm.Port's CC sensing and PD framing against the same silicon.
type FUSB302 struct {
	port tcpcdriver.I2C
	addr uint16

	intA uint8 // cache of interrupt bits observed between polls

	// Decoded frames not yet claimed by RxRaw, in arrival order.
	rxq []rxFrame

	hardResetSeen bool
	cc1, cc2      tcfsm.CCState

	// lastErr holds an I2C error from the most recent SetRp/SetRd/SetOpen,
	// since tcfsm.CCSource's methods have no error return; it surfaces on
	// the next RxRaw/HardReset call instead.
	lastErr error

	// Buffer used for tx and rx, defined once here to avoid heap allocations
	// in each method used.
	buf [pdmsg.MaxMessageBytes + 10]byte
}

const rxQueueSize = 10

// New creates a new controller and allocates all necessary memory for all
// future operations.
//
// I2C port must have <=1Mhz frequency.
func New(port tcpcdriver.I2C, mpn MPN) *FUSB302 {
	return &FUSB302{
		port: port,
		addr: uint16(mpn.I2CAddress()),
		cc1:  tcfsm.CCOpen,
		cc2:  tcfsm.CCOpen,
	}
}

func (f *FUSB302) write(r uint8, d byte) error {
	f.buf[0] = r
	f.buf[1] = d
	return f.port.Tx(f.addr, f.buf[:2], nil)
}

func (f *FUSB302) read(r uint8) (byte, error) {
	f.buf[0] = r
	err := f.port.Tx(f.addr, f.buf[:1], f.buf[1:2])
	return f.buf[1], err
}

func (f *FUSB302) writeMany(r uint8, d []byte) error {
	f.buf[0] = r
	copy(f.buf[1:], d)
	return f.port.Tx(f.addr, f.buf[:len(d)+1], nil)
}

func (f *FUSB302) readMany(r uint8, d []byte) error {
	f.buf[0] = r
	err := f.port.Tx(f.addr, f.buf[:1], f.buf[1:len(d)+1])
	if err == nil {
		copy(d, f.buf[1:len(d)+1])
	}
	return err
}

// Init (re-)initializes the controller to a known state: chip reset, FIFO
// flush, power rails on, and auto CC-toggle with auto-retry armed. Called
// once by the owning Port before the first Task, and again after a hard
// reset.
func (f *FUSB302) Init() error {
	if err := f.write(regReset, regResetSWReset); err != nil {
		return err
	}
	if err := f.write(regControl1, 0b100); err != nil {
		return err
	}

	f.rxq = f.rxq[:0]
	f.hardResetSeen = false
	f.intA = 0

	if err := f.write(regPower, regPowerPwrAll); err != nil {
		return err
	}
	if err := f.write(regControl2, 0b00000101); err != nil {
		return err
	}
	if err := f.write(regControl3, 0b111); err != nil {
		return err
	}
	return nil
}

// TxRaw sends one already-framed message. It returns once the FIFO has
// accepted the frame; GoodCRC confirmation is left to prl.Layer, which
// watches for the GoodCRC frame on RxRaw like any other received message.
// sop is accepted for interface conformance but doesn't change the
// preamble: this chip revision's register set gives no way to select a
// cable-marker (SOP'/SOP'') preamble, matching its receive side.
func (f *FUSB302) TxRaw(sop pdmsg.SOP, frame []byte) error {
	if err := f.write(regControl0, 0b01100100); err != nil { // flush tx FIFO
		return err
	}

	buf := make([]byte, 9+pdmsg.MaxMessageBytes)
	copy(buf, []byte{fifoTokenSync1, fifoTokenSync1, fifoTokenSync1, fifoTokenSync2})
	mlen := copy(buf[5:], frame)
	buf[4] = fifoTokenPackSym | byte(mlen)
	copy(buf[5+mlen:], []byte{fifoTokenJamCRC, fifoTokenEOP, fifoTokenTxOff, fifoTokenTxOn})
	plen := 9 + mlen

	return f.writeMany(regFIFOs, buf[:plen])
}

// RxRaw polls the chip's interrupt and status registers, draining every
// waiting message into an internal queue, then returns the oldest queued
// frame. GoodCRC frames are returned like any other frame -- Layer needs to
// see them to match outstanding transmits.
//
// The chip's FIFO token stream doesn't expose which SOP class a received
// frame arrived on in the register set this driver touches, so every frame
// is reported as pdmsg.SOPMessage; cable-marker (SOP'/SOP'') responses
// aren't distinguished on receive.
func (f *FUSB302) RxRaw() (pdmsg.SOP, []byte, bool, error) {
	if err := f.lastErr; err != nil {
		f.lastErr = nil
		return 0, nil, false, err
	}
	if err := f.drain(); err != nil {
		return 0, nil, false, err
	}
	if len(f.rxq) == 0 {
		return 0, nil, false, nil
	}
	fr := f.rxq[0]
	f.rxq = f.rxq[1:]
	return fr.sop, fr.data, true, nil
}

// HardReset reports, and clears, whether a Hard_Reset ordered set has been
// observed on the wire since the last call.
func (f *FUSB302) HardReset() bool {
	if err := f.drain(); err != nil {
		return false
	}
	seen := f.hardResetSeen
	f.hardResetSeen = false
	return seen
}

// SendHardReset instructs the chip to emit a Hard_Reset ordered set and
// blocks until it confirms transmission.
func (f *FUSB302) SendHardReset() error {
	r, err := f.read(regControl3)
	if err != nil {
		return err
	}
	if err := f.write(regControl3, r|regControl3SendHardReset); err != nil {
		return err
	}
	for i := 0; i < 5; i++ {
		intA, err := f.read(regInterruptA)
		if err != nil {
			return err
		}
		f.intA |= intA
		if intA&regInterruptAHardSent != 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return ErrTxFailed
}

// Read returns the CC termination last sensed by drain. The FUSB302's auto
// toggle engine settles on one CC line at a time; the other always reads
// open.
func (f *FUSB302) Read() (tcfsm.CCState, tcfsm.CCState) {
	f.drain()
	return f.cc1, f.cc2
}

// SetRp presents a Source termination at the given current on both CC
// lines. The upstream driver this is adapted from only ever configured the
// chip as a sink (hardcoded auto-toggle-as-sink in Init); source-role CC
// sensing reuses that same TOGDONE settle path, which is the only CC
// status this chip revision's register set exposes here, rather than a
// dedicated source-mode BC_LVL read.
func (f *FUSB302) SetRp(cur tcfsm.Current) {
	if err := f.write(regControl2, 0); err != nil { // stop auto toggle
		f.lastErr = err
		return
	}
	hostCur := byte(cur) & 0x3
	if err := f.write(regControl0, hostCur<<regControl0HostCurShift); err != nil {
		f.lastErr = err
		return
	}
	if err := f.write(regSwitches0, regSwitches0MeasCC1|regSwitches0MeasCC2|
		regSwitches0CC1PdEn|regSwitches0CC2PdEn); err != nil {
		f.lastErr = err
	}
}

// SetRd presents a Sink termination on both CC lines by re-arming the
// chip's auto CC-toggle-and-detect engine.
func (f *FUSB302) SetRd() {
	if err := f.write(regControl2, 0b00000101); err != nil {
		f.lastErr = err
	}
}

// SetOpen disconnects both CC lines, used during ErrorRecovery and
// Disabled.
func (f *FUSB302) SetOpen() {
	if err := f.write(regControl2, 0); err != nil {
		f.lastErr = err
		return
	}
	if err := f.write(regSwitches0, 0); err != nil {
		f.lastErr = err
	}
}

// drain reads the chip's interrupt and status registers once, updating the
// cached CC state and hard-reset flag and enqueuing any waiting messages.
// Both RxRaw and HardReset call it so either is current regardless of call
// order.
func (f *FUSB302) drain() error {
	regs := make([]byte, 7)
	if err := f.readMany(regStatus0A, regs); err != nil {
		return err
	}
	status0A, status1A, intA, _, status0, _, intT := regs[0], regs[1], regs[2], regs[3], regs[4], regs[5], regs[6]
	intA |= f.intA
	f.intA = 0

	if intA&regInterruptASoftReset != 0 && status0A&regStatus0ARxSoftReset != 0 {
		// soft reset is surfaced to prl.Layer as an ordinary Soft_Reset
		// message, not through HardReset; nothing to do here.
	}
	if intA&regInterruptAHardReset != 0 && status0A&regStatus0ARxHardReset != 0 {
		f.hardResetSeen = true
	}

	if intA&regInterruptATogDone != 0 {
		if err := f.settleToggle(status0, status1A); err != nil {
			return err
		}
	}

	if intT&regInterruptCRCChk != 0 {
		for {
			var hdr [3]byte
			if err := f.readMany(regStatus1, hdr[:1]); err != nil {
				return err
			}
			if hdr[0]&regStatus1RxEmpty != 0 {
				break
			}
			data, err := f.rxOne()
			if err != nil {
				return err
			}
			f.rxq = append(f.rxq, rxFrame{sop: pdmsg.SOPMessage, data: data})
			if len(f.rxq) >= rxQueueSize {
				break
			}
		}
	}
	return nil
}

// settleToggle locks CC tx/rx onto whichever line the auto-toggle engine
// found a sink presenting Rp on, and caches the corresponding CC state.
func (f *FUSB302) settleToggle(status0, status1A byte) error {
	var pol uint8
	var meas uint8
	switch (status1A >> regStatus1ATogSSPos) & regStatus1ATogSSMask {
	case regStatus1ATogSSSnk1:
		pol, meas = regSwitches1TxCC1En, regSwitches0MeasCC1
	case regStatus1ATogSSSnk2:
		pol, meas = regSwitches1TxCC2En, regSwitches0MeasCC2
	default:
		return ErrInvalidCCState
	}
	if err := f.write(regSwitches1, regSwitches1SpecRev1|regSwitches1AutoGCRC|pol); err != nil {
		return err
	}
	if err := f.write(regSwitches0, meas|regSwitches0CC1PdEn|regSwitches0CC2PdEn); err != nil {
		return err
	}

	cc := tcfsm.CCOpen
	switch status0 & 0b11 {
	case 1:
		cc = tcfsm.CCRpDefault
	case 2:
		cc = tcfsm.CCRp1A5
	case 3:
		cc = tcfsm.CCRp3A0
	}
	if pol == regSwitches1TxCC1En {
		f.cc1, f.cc2 = cc, tcfsm.CCOpen
	} else {
		f.cc1, f.cc2 = tcfsm.CCOpen, cc
	}
	return nil
}

// rxOne reads one queued message's header and data objects, discarding the
// trailing CRC the chip verifies in hardware, and returns it still in
// pdmsg wire form for Layer.handleRx/pdmsg.Message.FromBytes to decode.
func (f *FUSB302) rxOne() ([]byte, error) {
	buf := make([]byte, pdmsg.MaxMessageBytes+4) // 4 extra for the trailing CRC

	if err := f.readMany(regFIFOs, buf[:3]); err != nil {
		return nil, err
	}
	// buf[0] is the chip's rx token, discarded; buf[1:3] is the 2-byte header.
	header := uint16(buf[2])<<8 | uint16(buf[1])
	doCount := (header >> 12) & 0x7

	out := append([]byte(nil), buf[1:3]...) // copied: buf is reused below
	if doCount > 0 {
		if err := f.readMany(regFIFOs, buf[:doCount*4+4]); err != nil {
			return nil, err
		}
		out = append(out, buf[:doCount*4]...)
	} else {
		if err := f.readMany(regFIFOs, buf[:4]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const (
	regSwitches0        = 0x02
	regSwitches0MeasCC2 = 1 << 3
	regSwitches0MeasCC1 = 1 << 2
	regSwitches0CC2PdEn = 1 << 1
	regSwitches0CC1PdEn = 1 << 0

	regSwitches1         = 0x03
	regSwitches1SpecRev1 = 1 << 6
	regSwitches1AutoGCRC = 1 << 2
	regSwitches1TxCC2En  = 1 << 1
	regSwitches1TxCC1En  = 1 << 0

	regControl0             = 0x06
	regControl0HostCurShift = 2

	regControl1 = 0x07
	regControl2 = 0x08

	regControl3              = 0x09
	regControl3SendHardReset = 1 << 6

	regPower       = 0x0B
	regPowerPwrAll = 0xF

	regReset        = 0x0C
	regResetSWReset = 1 << 0

	regStatus0A            = 0x3C
	regStatus0ARxSoftReset = 1 << 1
	regStatus0ARxHardReset = 1 << 0

	regStatus1A = 0x3D

	regStatus1ATogSSSnk1 = 0b101
	regStatus1ATogSSSnk2 = 0b110
	regStatus1ATogSSPos  = 3
	regStatus1ATogSSMask = 0x7

	regInterruptA          = 0x3E
	regInterruptATogDone   = 1 << 6
	regInterruptAHardSent  = 1 << 3
	regInterruptASoftReset = 1 << 1
	regInterruptAHardReset = 1 << 0

	regStatus0 = 0x40

	regStatus1        = 0x41
	regStatus1RxEmpty = 1 << 5

	regInterrupt       = 0x42
	regInterruptCRCChk = 1 << 4

	regFIFOs = 0x43

	fifoTokenTxOn    = 0xA1
	fifoTokenSync1   = 0x12
	fifoTokenSync2   = 0x13
	fifoTokenPackSym = 0x80
	fifoTokenJamCRC  = 0xFF
	fifoTokenEOP     = 0x14
	fifoTokenTxOff   = 0xFE
)
