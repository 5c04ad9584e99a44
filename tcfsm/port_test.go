package tcfsm

import (
	"testing"
	"time"

	"github.com/usbpdgo/pdstack/pdtimer"
)

// fakeCC is a test double for CCSource: the test sets cc1/cc2 directly and
// records the last Rp/Rd/Open command issued.
type fakeCC struct {
	cc1, cc2 CCState
	lastCmd  string
	lastRp   Current
}

func (f *fakeCC) Read() (CCState, CCState) { return f.cc1, f.cc2 }
func (f *fakeCC) SetRp(c Current)          { f.lastCmd = "rp"; f.lastRp = c }
func (f *fakeCC) SetRd()                   { f.lastCmd = "rd" }
func (f *fakeCC) SetOpen()                 { f.lastCmd = "open" }

func newTestPort(cc *fakeCC, drp bool) (*Port, *pdtimer.Pool) {
	pool := pdtimer.NewPool()
	p := NewPort(cc, pool, 0, drp)
	p.Start()
	return p, pool
}

// tick advances the pool by d and polls the port once.
func tick(p *Port, pool *pdtimer.Pool, now time.Time, d time.Duration) (time.Time, []Indication) {
	now = now.Add(d)
	pool.Tick(now)
	return now, p.Poll(now)
}

func TestFixedSinkAttachesOnRpPresent(t *testing.T) {
	cc := &fakeCC{}
	p, pool := newTestPort(cc, false)
	now := time.Now()

	if cc.lastCmd != "rd" {
		t.Fatalf("expected port to present Rd as a fixed sink, got %q", cc.lastCmd)
	}

	cc.cc1 = CCRpDefault
	now, _ = tick(p, pool, now, time.Millisecond)

	now, inds := tick(p, pool, now, tCCDebounce+time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndAttached || inds[0].Role != RoleSink {
		t.Fatalf("expected IndAttached/Sink after debounce, got %+v", inds)
	}
	if !p.Released() {
		t.Fatal("expected port released to PE after attach")
	}
}

func TestAttachWaitResetsOnBounce(t *testing.T) {
	cc := &fakeCC{}
	p, pool := newTestPort(cc, false)
	now := time.Now()

	cc.cc1 = CCRpDefault
	now, _ = tick(p, pool, now, time.Millisecond)

	// Bounce the CC line mid-debounce; this must restart the debounce window
	// rather than letting the original timer fire.
	now, _ = tick(p, pool, now, tCCDebounce/2)
	cc.cc1 = CCOpen
	now, _ = tick(p, pool, now, time.Millisecond)
	cc.cc1 = CCRpDefault
	now, inds := tick(p, pool, now, tCCDebounce/2+time.Millisecond)
	if len(inds) != 0 {
		t.Fatalf("expected no attach yet, debounce should have restarted: %+v", inds)
	}

	_, inds = tick(p, pool, now, tCCDebounce)
	if len(inds) != 1 || inds[0].Kind != IndAttached {
		t.Fatalf("expected attach after full debounce window, got %+v", inds)
	}
}

func TestDetachReportsIndDetached(t *testing.T) {
	cc := &fakeCC{}
	p, pool := newTestPort(cc, false)
	now := time.Now()

	cc.cc1 = CCRpDefault
	now, _ = tick(p, pool, now, time.Millisecond)
	now, inds := tick(p, pool, now, tCCDebounce+time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndAttached {
		t.Fatalf("setup: expected attach, got %+v", inds)
	}

	cc.cc1 = CCOpen
	now, inds = tick(p, pool, now, time.Millisecond)
	if len(inds) != 0 {
		t.Fatalf("expected no detach before tPDDebounce elapses, got %+v", inds)
	}

	_, inds = tick(p, pool, now, tPDDebounce+time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndDetached {
		t.Fatalf("expected IndDetached after tPDDebounce, got %+v", inds)
	}
	if p.Released() {
		t.Fatal("expected port to reclaim CC ownership after detach")
	}
}

func TestAttachedSrcDetachDebounces(t *testing.T) {
	cc := &fakeCC{cc1: CCRd}
	p, pool := newTestPort(cc, false)
	p.EnableTrySRC()
	now := time.Now()

	cc.cc1 = CCRpDefault
	now, _ = tick(p, pool, now, time.Millisecond)
	now, _ = tick(p, pool, now, tCCDebounce+time.Millisecond) // enters Try.SRC

	cc.cc1 = CCRd
	now, inds := tick(p, pool, now, time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndAttached || inds[0].Role != RoleSource {
		t.Fatalf("setup: expected attach as source, got %+v", inds)
	}

	cc.cc1 = CCOpen
	now, inds = tick(p, pool, now, time.Millisecond)
	if len(inds) != 0 {
		t.Fatalf("expected no detach before tSrcDisconnect elapses, got %+v", inds)
	}

	_, inds = tick(p, pool, now, tSrcDisconnect+time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndDetached {
		t.Fatalf("expected IndDetached after tSrcDisconnect, got %+v", inds)
	}
}

func TestDRPTogglesBetweenSourceAndSink(t *testing.T) {
	cc := &fakeCC{}
	p, pool := newTestPort(cc, true)
	now := time.Now()

	if cc.lastCmd != "rp" {
		t.Fatalf("expected DRP port to start presenting Rp, got %q", cc.lastCmd)
	}

	now, _ = tick(p, pool, now, tDRPToggle+time.Millisecond)
	if cc.lastCmd != "rd" {
		t.Fatalf("expected DRP port to toggle to Rd, got %q", cc.lastCmd)
	}

	_, _ = tick(p, pool, now, tDRPToggle+time.Millisecond)
	if cc.lastCmd != "rp" {
		t.Fatalf("expected DRP port to toggle back to Rp, got %q", cc.lastCmd)
	}
}

func TestTrySRCWinsContentionWhenRdPresent(t *testing.T) {
	cc := &fakeCC{}
	p, pool := newTestPort(cc, false)
	p.EnableTrySRC()
	now := time.Now()

	cc.cc1 = CCRpDefault
	now, _ = tick(p, pool, now, time.Millisecond)
	now, inds := tick(p, pool, now, tCCDebounce+time.Millisecond)
	if len(inds) != 0 {
		t.Fatalf("expected Try.SRC detour before any attach indication, got %+v", inds)
	}
	if cc.lastCmd != "rp" {
		t.Fatalf("expected Try.SRC to present Rp, got %q", cc.lastCmd)
	}

	cc.cc1 = CCRd
	_, inds = tick(p, pool, now, time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndAttached || inds[0].Role != RoleSource {
		t.Fatalf("expected Try.SRC to win and attach as source, got %+v", inds)
	}
}

func TestTrySRCFallsBackToSinkOnTimeout(t *testing.T) {
	cc := &fakeCC{}
	p, pool := newTestPort(cc, false)
	p.EnableTrySRC()
	now := time.Now()

	cc.cc1 = CCRpDefault
	now, _ = tick(p, pool, now, time.Millisecond)
	now, _ = tick(p, pool, now, tCCDebounce+time.Millisecond) // enters Try.SRC

	now, _ = tick(p, pool, now, tDRPTry+time.Millisecond) // Try.SRC times out -> TryWait.SNK
	if cc.lastCmd != "rd" {
		t.Fatalf("expected TryWait.SNK to present Rd, got %q", cc.lastCmd)
	}

	now, _ = tick(p, pool, now, time.Millisecond)
	_, inds := tick(p, pool, now, tCCDebounce+time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndAttached || inds[0].Role != RoleSink {
		t.Fatalf("expected fallback attach as sink, got %+v", inds)
	}
}

func TestAudioAccessoryDetected(t *testing.T) {
	cc := &fakeCC{cc1: CCRa, cc2: CCRa}
	p, pool := newTestPort(cc, true)
	now := time.Now()

	now, _ = tick(p, pool, now, time.Millisecond)
	now, inds := tick(p, pool, now, tCCDebounce+time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndAttached || inds[0].Accessory != AccessoryAudio {
		t.Fatalf("expected audio accessory attach, got %+v", inds)
	}

	cc.cc1, cc.cc2 = CCOpen, CCOpen
	_, inds = tick(p, pool, now, time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndDetached {
		t.Fatalf("expected detach when accessory removed, got %+v", inds)
	}
}

func TestDebugAccessoryDetected(t *testing.T) {
	cc := &fakeCC{cc1: CCRd, cc2: CCRd}
	p, pool := newTestPort(cc, true)
	now := time.Now()

	now, _ = tick(p, pool, now, time.Millisecond)
	_, inds := tick(p, pool, now, tCCDebounce+time.Millisecond)
	if len(inds) != 1 || inds[0].Kind != IndAttached || inds[0].Accessory != AccessoryDebug {
		t.Fatalf("expected debug accessory attach, got %+v", inds)
	}
}
