package tcfsm

import (
	"sync"
	"time"

	"github.com/usbpdgo/pdstack/pdtimer"
)

// Port is one connector's Type-C connection state machine: CC sensing, DRP
// toggling, Try.SRC contention and accessory detection. A Port owns
// the CC lines from Start until it reports IndAttached, at which point
// Released begins returning true and the Policy Engine takes over until
// IndDetached is reported again. Exactly one of the connection FSM or the
// Policy Engine owns the CC lines at any moment.
type Port struct {
	cc        CCSource
	timers    *pdtimer.Pool
	timerBase pdtimer.TimerID
	drp       bool
	tryRole   Role // preferred role when Try is enabled; ignored if tryEnabled is false
	tryEnabled bool

	mu       sync.Mutex
	events   Event
	pending  []Indication

	cur *state

	role      Role
	accessory Accessory
	released  bool

	// candidateCC1/candidateCC2 record what was sensed when the current
	// debounce timer was armed, so Process can tell whether the line held
	// steady for the full debounce window.
	candidateCC1, candidateCC2 CCState

	// detachArmed is set once an Attached state has started debouncing a
	// CC-loss reading, so Process can tell a fresh loss from one already
	// being timed out.
	detachArmed bool
}

// NewPort creates a Type-C connection state machine driving cc, using timers
// for its debounce/toggle/try timeouts starting at timerBase. If drp is
// true the port toggles between Source and Sink while unattached; if false
// it behaves as a fixed Sink unless tryRole requests Try.SRC.
func NewPort(cc CCSource, timers *pdtimer.Pool, timerBase pdtimer.TimerID, drp bool) *Port {
	return &Port{cc: cc, timers: timers, timerBase: timerBase, drp: drp}
}

// EnableTrySRC makes the port attempt Try.SRC before falling back to Sink
// when both ends present Rd (the classic "which side powers the cable"
// contention). It applies to both fixed-sink and DRP ports.
func (p *Port) EnableTrySRC() {
	p.tryRole = RoleSource
	p.tryEnabled = true
}

// StateName reports the name of the current connection state, for logging
// and diagnostics only -- callers must not branch on it. Like Poll, it must
// only be called from the single owning goroutine.
func (p *Port) StateName() string {
	if p.cur == nil {
		return ""
	}
	return p.cur.Name
}

// Released reports whether the Policy Engine may now use the CC lines for
// PD communication (VCONN, BIST, etc). It is false while the connection FSM
// still owns them (detecting attach/detach, debouncing, or toggling).
func (p *Port) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Role reports which role the port is attached as. Only meaningful while
// Released reports true.
func (p *Port) Role() Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// Start (re-)enters the initial unattached state. Call this once before the
// first Poll, and again after a full port re-init.
func (p *Port) Start() {
	p.mu.Lock()
	p.released = false
	p.accessory = AccessoryNone
	p.mu.Unlock()
	p.enter(p.initialState())
}

func (p *Port) initialState() *state {
	if p.drp || p.role == RoleSource {
		return stateUnattachedSRC
	}
	return stateUnattachedSNK
}

func (p *Port) onTimeout(_ pdtimer.TimerID, _ any) {
	p.mu.Lock()
	p.events.Add(EventTimerTimeout)
	p.mu.Unlock()
}

func (p *Port) armTimer(d time.Duration) {
	p.timers.Stop(p.timerBase + offState)
	p.timers.Start(p.timerBase+offState, d, p.onTimeout, nil)
}

func (p *Port) post(ind Indication) {
	p.mu.Lock()
	p.pending = append(p.pending, ind)
	p.mu.Unlock()
}

// Poll samples the CC lines, dispatches the current state's Process with
// the reading and any pending timer event, and returns every Indication
// produced since the last call. Poll must be called from the single owning
// goroutine that also calls the shared pdtimer.Pool's Tick -- states rely on
// being polled continuously, not just on edges, to run their debounce
// comparisons.
func (p *Port) Poll(now time.Time) []Indication {
	cc1, cc2 := p.cc.Read()

	p.mu.Lock()
	e := p.events.Pop()
	p.mu.Unlock()

	if next := p.cur.Process(p, cc1, cc2, e); next != nil {
		p.transition(next)
	}
	return p.drain()
}

func (p *Port) drain() []Indication {
	p.mu.Lock()
	out := p.pending
	p.pending = nil
	p.mu.Unlock()
	return out
}

func (p *Port) enter(s *state) {
	p.cur = s
	if s.Enter != nil {
		if next := s.Enter(p); next != nil {
			p.transition(next)
			return
		}
	}
}

func (p *Port) transition(next *state) {
	if p.cur != nil && p.cur.Exit != nil {
		p.cur.Exit(p)
	}
	p.enter(next)
}

// state represents a Type-C connection state, dispatched by explicit
// function-pointer fields rather than by switching on an enum -- the same
// idiom the Policy Engine uses for its own state table.
type state struct {
	Name string

	// Enter runs actions on entering the state. If it returns a non-nil
	// next state, the port immediately exits and enters that state instead
	// without waiting for a Poll.
	Enter func(p *Port) *state

	// Process is called on every Poll while the port is in this state, with
	// the current CC reading and any pending event (EventNone if none).
	Process func(p *Port, cc1, cc2 CCState, e Event) *state

	// Exit runs actions on leaving the state. It may be nil.
	Exit func(p *Port)
}
