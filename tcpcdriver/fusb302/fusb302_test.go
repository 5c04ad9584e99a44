package fusb302

import (
	"testing"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/tcfsm"
)

// fakeI2C is a minimal register-addressed I2C device backing the subset of
// FUSB302 registers this driver touches, plus a FIFO byte queue TxRaw
// writes into and RxRaw reads back out of.
type fakeI2C struct {
	regs [0x44]byte
	fifo []byte
}

func (d *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	reg := w[0]
	switch {
	case reg == regFIFOs && len(w) > 1:
		d.fifo = append(d.fifo, w[1:]...)
	case reg == regFIFOs && len(r) > 0:
		n := copy(r, d.fifo)
		d.fifo = d.fifo[n:]
	case reg == regStatus1 && len(r) > 0:
		v := d.regs[regStatus1]
		if len(d.fifo) == 0 {
			v |= regStatus1RxEmpty
		}
		r[0] = v
	case len(w) == 2:
		d.regs[reg] = w[1]
	case len(r) > 0:
		copy(r, d.regs[reg:int(reg)+len(r)])
	}
	return nil
}

func TestInitConfiguresAutoToggleAndPower(t *testing.T) {
	dev := &fakeI2C{}
	f := New(dev, FUSB302BUCX)
	if err := f.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if dev.regs[regPower] != regPowerPwrAll {
		t.Errorf("regPower = %#x, want %#x", dev.regs[regPower], regPowerPwrAll)
	}
	if dev.regs[regControl2] != 0b00000101 {
		t.Errorf("regControl2 = %#b, want auto-toggle armed", dev.regs[regControl2])
	}
}

func TestTxRawFramesMessage(t *testing.T) {
	dev := &fakeI2C{}
	f := New(dev, FUSB302BUCX)
	if err := f.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var m pdmsg.Message
	m.SetType(pdmsg.TypeGetSourceCap)
	buf := make([]byte, pdmsg.MaxMessageBytes)
	n := m.ToBytes(buf)

	if err := f.TxRaw(pdmsg.SOPMessage, buf[:n]); err != nil {
		t.Fatalf("TxRaw: %v", err)
	}

	if len(dev.fifo) < int(9+n) {
		t.Fatalf("fifo has %d bytes, want at least %d", len(dev.fifo), 9+n)
	}
	if dev.fifo[0] != fifoTokenSync1 || dev.fifo[3] != fifoTokenSync2 {
		t.Errorf("fifo preamble = %v, want sync1 x3 then sync2", dev.fifo[:4])
	}
	if dev.fifo[4] != fifoTokenPackSym|byte(n) {
		t.Errorf("fifo packsym byte = %#x, want PackSym|%d", dev.fifo[4], n)
	}
	for i := 0; i < int(n); i++ {
		if dev.fifo[5+i] != buf[i] {
			t.Fatalf("fifo payload[%d] = %#x, want %#x", i, dev.fifo[5+i], buf[i])
		}
	}
}

func TestRxRawDecodesControlMessage(t *testing.T) {
	dev := &fakeI2C{}
	f := New(dev, FUSB302BUCX)
	if err := f.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var m pdmsg.Message
	m.SetType(pdmsg.TypeAccept)
	buf := make([]byte, pdmsg.MaxMessageBytes)
	n := m.ToBytes(buf)

	// Seed the fifo with one rx token byte, the header/data, and a 4 byte
	// CRC trailer, matching what rxOne expects to consume.
	dev.fifo = append(dev.fifo, 0x00)
	dev.fifo = append(dev.fifo, buf[:n]...)
	dev.fifo = append(dev.fifo, 0, 0, 0, 0)
	dev.regs[regInterrupt] = regInterruptCRCChk
	dev.regs[regStatus1] = 0 // rx not empty

	sop, frame, ok, err := f.RxRaw()
	if err != nil {
		t.Fatalf("RxRaw: %v", err)
	}
	if !ok {
		t.Fatal("RxRaw: ok = false, want a decoded frame")
	}
	if sop != pdmsg.SOPMessage {
		t.Errorf("sop = %v, want SOPMessage", sop)
	}

	var got pdmsg.Message
	got.FromBytes(frame)
	if got.Type() != pdmsg.TypeAccept {
		t.Errorf("decoded type = %v, want TypeAccept", got.Type())
	}
}

func TestSetRpThenReadReflectsSettledToggle(t *testing.T) {
	dev := &fakeI2C{}
	f := New(dev, FUSB302BUCX)
	if err := f.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f.SetRp(tcfsm.CurrentDefault)

	dev.regs[regInterruptA] = regInterruptATogDone
	dev.regs[regStatus1A] = regStatus1ATogSSSnk1 << regStatus1ATogSSPos
	dev.regs[regStatus0] = 1 // default Rp seen by partner

	cc1, cc2 := f.Read()
	if cc1 != tcfsm.CCRpDefault {
		t.Errorf("cc1 = %v, want CCRpDefault", cc1)
	}
	if cc2 != tcfsm.CCOpen {
		t.Errorf("cc2 = %v, want CCOpen", cc2)
	}
}
