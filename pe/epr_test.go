package pe

import (
	"testing"
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
)

func TestRequestEPREntryReachesActiveOnBothSides(t *testing.T) {
	eSrc, a, poolSrc := newTestSource(t)
	eSnk, poolSnk := newTestSink(t, a.peer)
	// EPR_Mode is a PD 3.x-only message type; prl.Layer rejects it below that.
	eSrc.SetRevision(pdmsg.Revision30)
	eSnk.SetRevision(pdmsg.Revision30)
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
		t.Fatal("setup: expected both sides to settle into Ready before requesting EPR entry")
	}

	eSnk.RequestEPREntry()

	for i := 0; i < 20 && eSnk.cur != stateEPRActive; i++ {
		now = now.Add(5 * time.Millisecond)
		poolSrc.Tick(now)
		poolSnk.Tick(now)
		eSrc.Task(now, eSrc.prl.Poll(), nil)
		eSnk.Task(now, eSnk.prl.Poll(), nil)
	}

	if eSnk.cur != stateEPRActive {
		t.Fatalf("expected sink to reach epr-active, got %q", eSnk.cur.Name)
	}
	if eSrc.cur != stateEPRActive {
		t.Fatalf("expected source to reach epr-active, got %q", eSrc.cur.Name)
	}
}
