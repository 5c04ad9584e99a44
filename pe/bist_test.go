package pe

import (
	"testing"
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/pdtimer"
	"github.com/usbpdgo/pdstack/prl"
	"github.com/usbpdgo/pdstack/tcfsm"
)

func TestEnterBISTSharedCapacityTestModeRejectedBelowPD32(t *testing.T) {
	a, b := newLoopbackPair()
	pool := pdtimer.NewPool()
	layer := prl.NewLayer(a, pool, 0)
	tc := tcfsm.NewPort(&fakeCC{cc1: tcfsm.CCRd}, pool, 100, false)
	e := New(layer, tc, pool)
	e.SetRevision(pdmsg.Revision31)
	now := time.Now()
	e.Start(now)

	e.EnterBISTSharedCapacityTestMode()

	if e.cur == stateBISTSTM {
		t.Fatal("expected BIST_STM entry to be rejected below PD 3.2")
	}
	_ = b
}

func TestEnterBISTSharedCapacityTestModeAllowedAtPD32(t *testing.T) {
	a, _ := newLoopbackPair()
	pool := pdtimer.NewPool()
	layer := prl.NewLayer(a, pool, 0)
	tc := tcfsm.NewPort(&fakeCC{cc1: tcfsm.CCRd}, pool, 100, false)
	e := New(layer, tc, pool)
	e.SetRevision(pdmsg.Revision32)
	now := time.Now()
	e.Start(now)

	e.EnterBISTSharedCapacityTestMode()

	if e.cur != stateBISTSTM {
		t.Fatalf("expected BIST_STM entry to succeed at PD 3.2, got %q", e.cur.Name)
	}
}

func TestIncomingBISTSTMRejectedBelowPD32(t *testing.T) {
	eSrc, a, poolSrc := newTestSource(t)
	eSnk, poolSnk := newTestSink(t, a.peer)
	now := time.Now()
	eSrc.Start(now)
	eSnk.Start(now)

	for i := 0; i < 20 && !eSnk.Idle(); i++ {
		now = now.Add(5 * time.Millisecond)
		poolSrc.Tick(now)
		poolSnk.Tick(now)
		eSrc.Task(now, eSrc.prl.Poll(), nil)
		eSnk.Task(now, eSnk.prl.Poll(), nil)
	}
	if !eSnk.Idle() || !eSrc.Idle() {
		t.Fatal("setup: expected both sides to settle into Ready")
	}
	// Let the source take in the GoodCRC for its PS_RDY, so prl is free to
	// send again.
	now = now.Add(5 * time.Millisecond)
	poolSrc.Tick(now)
	eSrc.Task(now, eSrc.prl.Poll(), nil)

	// eSrc/eSnk default to Revision10 (never configured via SetRevision), so
	// bistStmEnabled is false on both sides.
	var bdo pdmsg.BISTDataObject
	bdo.SetMode(pdmsg.BISTModeShareMode)
	m := eSrc.msgTpl
	m.SetDataObjectCount(1)
	m.SetType(pdmsg.TypeBIST)
	m.Data[0] = uint32(bdo)
	if err := eSrc.tx(m); err != nil {
		t.Fatalf("tx() error = %v", err)
	}

	now = now.Add(5 * time.Millisecond)
	poolSnk.Tick(now)
	eSnk.Task(now, eSnk.prl.Poll(), nil)

	if eSnk.cur == stateBISTSTM {
		t.Fatal("expected sink to reject incoming BIST_STM below PD 3.2")
	}
}
