package prl

import (
	"testing"
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/pdtimer"
)

type rxFrame struct {
	sop   pdmsg.SOP
	frame []byte
	err   error
}

type fakePhy struct {
	txFrames   [][]byte
	rx         []rxFrame
	hardReset  bool
	txErr      error
}

func (p *fakePhy) Init() error { return nil }

func (p *fakePhy) TxRaw(sop pdmsg.SOP, frame []byte) error {
	if p.txErr != nil {
		return p.txErr
	}
	p.txFrames = append(p.txFrames, append([]byte(nil), frame...))
	return nil
}

func (p *fakePhy) RxRaw() (pdmsg.SOP, []byte, bool, error) {
	if len(p.rx) == 0 {
		return 0, nil, false, nil
	}
	f := p.rx[0]
	p.rx = p.rx[1:]
	return f.sop, f.frame, true, f.err
}

func (p *fakePhy) HardReset() bool {
	v := p.hardReset
	p.hardReset = false
	return v
}

func (p *fakePhy) SendHardReset() error { return nil }

func (p *fakePhy) lastTxFrame() []byte {
	return p.txFrames[len(p.txFrames)-1]
}

func goodCRCFrame(sop pdmsg.SOP, id uint8) []byte {
	var m pdmsg.Message
	m.SOP = sop
	m.SetType(pdmsg.TypeGoodCRC)
	m.SetID(id)
	var b [4]byte
	n := m.ToBytes(b[:])
	return append([]byte(nil), b[:n]...)
}

func newTestLayer(phy Phy) (*Layer, *pdtimer.Pool) {
	timers := pdtimer.NewPool()
	l := NewLayer(phy, timers, pdtimer.PEBase(0))
	return l, timers
}

func TestSendCompletesOnMatchingGoodCRC(t *testing.T) {
	phy := &fakePhy{}
	l, _ := newTestLayer(phy)

	var req pdmsg.Message
	req.SetType(pdmsg.TypeGetSourceCap)
	if err := l.Send(pdmsg.SOPMessage, req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(phy.txFrames) != 1 {
		t.Fatalf("txFrames len = %d, want 1", len(phy.txFrames))
	}

	var sent pdmsg.Message
	sent.FromBytes(phy.lastTxFrame())
	phy.rx = append(phy.rx, rxFrame{sop: pdmsg.SOPMessage, frame: goodCRCFrame(pdmsg.SOPMessage, sent.ID())})

	inds := l.Poll()
	if len(inds) != 1 || inds[0].Kind != IndTxSuccess {
		t.Fatalf("Poll() = %+v, want one IndTxSuccess", inds)
	}
}

func TestSendWhileBusyReturnsErrBusy(t *testing.T) {
	phy := &fakePhy{}
	l, _ := newTestLayer(phy)

	var req pdmsg.Message
	req.SetType(pdmsg.TypeGetSourceCap)
	if err := l.Send(pdmsg.SOPMessage, req); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if err := l.Send(pdmsg.SOPMessage, req); err != ErrBusy {
		t.Fatalf("second Send() error = %v, want ErrBusy", err)
	}
}

func TestSendRejectsPD3OnlyTypeUnderRevision20(t *testing.T) {
	phy := &fakePhy{}
	l, _ := newTestLayer(phy)
	l.SetRevision(pdmsg.SOPMessage, pdmsg.Revision20)

	var req pdmsg.Message
	req.SetType(pdmsg.TypeFRSwap)
	if err := l.Send(pdmsg.SOPMessage, req); err != ErrRevisionTooLow {
		t.Fatalf("Send() error = %v, want ErrRevisionTooLow", err)
	}
	if len(phy.txFrames) != 0 {
		t.Fatalf("txFrames len = %d, want 0 (nothing should have gone out)", len(phy.txFrames))
	}

	l.SetRevision(pdmsg.SOPMessage, pdmsg.Revision30)
	if err := l.Send(pdmsg.SOPMessage, req); err != nil {
		t.Fatalf("Send() at PD 3.0 error = %v, want nil", err)
	}
}

func TestCRCTimeoutRetriesThenFails(t *testing.T) {
	phy := &fakePhy{}
	l, timers := newTestLayer(phy)

	var req pdmsg.Message
	req.SetType(pdmsg.TypeGetSourceCap)
	if err := l.Send(pdmsg.SOPMessage, req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	now := time.Now()
	var inds []Indication
	for i := 0; i < maxTxAttempts; i++ {
		now = now.Add(TCRCReceive + time.Millisecond)
		timers.Tick(now)
		inds = append(inds, l.Poll()...)
	}

	if len(phy.txFrames) != maxTxAttempts {
		t.Fatalf("txFrames len = %d, want %d (1 initial + retries)", len(phy.txFrames), maxTxAttempts)
	}

	found := false
	for _, ind := range inds {
		if ind.Kind == IndTxFail {
			found = true
		}
	}
	if !found {
		t.Fatalf("Poll() never reported IndTxFail across %d ticks: %+v", maxTxAttempts, inds)
	}
}

func TestDuplicateMessageIDSuppressedButGoodCRCResent(t *testing.T) {
	phy := &fakePhy{}
	l, _ := newTestLayer(phy)

	var m pdmsg.Message
	m.SOP = pdmsg.SOPMessage
	m.SetType(pdmsg.TypePing)
	m.SetID(0)
	var buf [4]byte
	n := m.ToBytes(buf[:])
	frame := append([]byte(nil), buf[:n]...)

	phy.rx = append(phy.rx, rxFrame{sop: pdmsg.SOPMessage, frame: frame})
	inds := l.Poll()
	if len(inds) != 1 || inds[0].Kind != IndPacketReceived {
		t.Fatalf("first Poll() = %+v, want one IndPacketReceived", inds)
	}

	phy.rx = append(phy.rx, rxFrame{sop: pdmsg.SOPMessage, frame: frame})
	inds = l.Poll()
	if len(inds) != 0 {
		t.Fatalf("second Poll() (duplicate ID) = %+v, want no indications", inds)
	}

	// A GoodCRC must still have gone out both times.
	if len(phy.txFrames) != 2 {
		t.Fatalf("txFrames len = %d, want 2 GoodCRC replies", len(phy.txFrames))
	}
}

func TestHardResetClearsAllSOPState(t *testing.T) {
	phy := &fakePhy{hardReset: true}
	l, _ := newTestLayer(phy)

	inds := l.Poll()
	if len(inds) != 1 || inds[0].Kind != IndHardResetReceived {
		t.Fatalf("Poll() = %+v, want one IndHardResetReceived", inds)
	}
}

func TestSoftResetResetsMessageIDCounter(t *testing.T) {
	phy := &fakePhy{}
	l, _ := newTestLayer(phy)
	l.sop[pdmsg.SOPMessage].nextTxID = 5

	l.SoftReset(pdmsg.SOPMessage)

	if id := l.sop[pdmsg.SOPMessage].nextTxID; id != 0 {
		t.Fatalf("nextTxID after SoftReset = %d, want 0", id)
	}
}
