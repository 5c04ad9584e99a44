package prl

import (
	"bytes"
	"testing"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/pdtimer"
)

// loopbackPhy is a test double wiring two Layers together directly: frames
// handed to TxRaw on one side land in the peer's receive queue, same as two
// real port partners sharing a wire.
type loopbackPhy struct {
	peer *loopbackPhy
	rx   []rxFrame
}

func (p *loopbackPhy) Init() error { return nil }

func (p *loopbackPhy) TxRaw(sop pdmsg.SOP, frame []byte) error {
	p.peer.rx = append(p.peer.rx, rxFrame{sop: sop, frame: append([]byte(nil), frame...)})
	return nil
}

func (p *loopbackPhy) RxRaw() (pdmsg.SOP, []byte, bool, error) {
	if len(p.rx) == 0 {
		return 0, nil, false, nil
	}
	f := p.rx[0]
	p.rx = p.rx[1:]
	return f.sop, f.frame, true, f.err
}

func (p *loopbackPhy) HardReset() bool      { return false }
func (p *loopbackPhy) SendHardReset() error { return nil }

func newLoopbackLayers() (*Layer, *Layer) {
	phyA := &loopbackPhy{}
	phyB := &loopbackPhy{}
	phyA.peer = phyB
	phyB.peer = phyA

	a := NewLayer(phyA, pdtimer.NewPool(), pdtimer.PEBase(0))
	b := NewLayer(phyB, pdtimer.NewPool(), pdtimer.PEBase(1))
	a.SetRevision(pdmsg.SOPMessage, pdmsg.Revision30)
	b.SetRevision(pdmsg.SOPMessage, pdmsg.Revision30)
	return a, b
}

func TestSendExtendedChunkedRoundTrip(t *testing.T) {
	a, b := newLoopbackLayers()

	payload := make([]byte, 30) // spans two 26-byte chunks
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := a.SendExtended(pdmsg.SOPMessage, pdmsg.TypeManufacturerInfo, payload); err != nil {
		t.Fatalf("SendExtended() error = %v", err)
	}

	var received *pdmsg.Message
	for i := 0; i < 10 && received == nil; i++ {
		for _, ind := range b.Poll() {
			if ind.Kind == IndPacketReceived {
				m := ind.Msg
				received = &m
			}
		}
		a.Poll()
	}

	if received == nil {
		t.Fatal("receiver never produced IndPacketReceived for the chunked message")
	}
	if !received.IsExtended() {
		t.Fatal("reassembled message lost its extended flag")
	}
	if received.Type() != pdmsg.TypeManufacturerInfo {
		t.Fatalf("reassembled Type() = %v, want TypeManufacturerInfo", received.Type())
	}
	if int(received.Extended.Len) != len(payload) {
		t.Fatalf("reassembled length = %d, want %d", received.Extended.Len, len(payload))
	}
	if !bytes.Equal(received.Extended.Data[:received.Extended.Len], payload) {
		t.Fatalf("reassembled payload = %v, want %v", received.Extended.Data[:received.Extended.Len], payload)
	}
}

func TestSendExtendedLegacyUnchunkedUnderPD20(t *testing.T) {
	a, b := newLoopbackLayers()
	a.SetRevision(pdmsg.SOPMessage, pdmsg.Revision20)
	b.SetRevision(pdmsg.SOPMessage, pdmsg.Revision20)

	payload := []byte("short status")
	if err := a.SendExtended(pdmsg.SOPMessage, pdmsg.TypeStatus, payload); err != nil {
		t.Fatalf("SendExtended() error = %v", err)
	}

	var received *pdmsg.Message
	for _, ind := range b.Poll() {
		if ind.Kind == IndPacketReceived {
			m := ind.Msg
			received = &m
		}
	}
	if received == nil {
		t.Fatal("receiver never produced IndPacketReceived for the legacy extended message")
	}
	if !bytes.Equal(received.Extended.Data[:received.Extended.Len], payload) {
		t.Fatalf("reassembled payload = %v, want %v", received.Extended.Data[:received.Extended.Len], payload)
	}
}

func TestSendExtendedOverLegacyLimitRejected(t *testing.T) {
	a, _ := newLoopbackLayers()
	a.SetRevision(pdmsg.SOPMessage, pdmsg.Revision20)

	payload := make([]byte, pdmsg.LegacyExtendedBytes+1)
	if err := a.SendExtended(pdmsg.SOPMessage, pdmsg.TypeStatus, payload); err != ErrExtendedTooLarge {
		t.Fatalf("SendExtended() error = %v, want ErrExtendedTooLarge", err)
	}
}
