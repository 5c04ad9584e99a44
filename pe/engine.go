// Package pe implements the USB Power Delivery Policy Engine for both source
// and sink roles: contract negotiation, hard/soft reset, PR/DR/VCONN/FR swap,
// cable discovery, Data_Reset, EPR entry/exit and BIST, atop package prl for
// message delivery and package tcfsm for the underlying Type-C connection.
package pe

import (
	"context"
	"sync"
	"time"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/pdtimer"
	"github.com/usbpdgo/pdstack/prl"
	"github.com/usbpdgo/pdstack/tcdpm"
	"github.com/usbpdgo/pdstack/tcfsm"
)

var maxTimerExpiry = time.Unix(1<<63-62135596801, 999999999)

// CapabilityEvaluator mirrors tcdpm.CapabilityEvaluator; the engine depends
// on the narrower local name so callers never need to import tcdpm just to
// satisfy this parameter.
type CapabilityEvaluator = tcdpm.CapabilityEvaluator

// CapabilityEvaluatorFunc is an adapter to allow the use of ordinary
// functions as CapabilityEvaluator.
type CapabilityEvaluatorFunc = tcdpm.CapabilityEvaluatorFunc

// NotifyEvent is a high level event fired by the engine, usually consumed by
// a DPM -- distinct from the internal Event bitmask used to drive the state
// machine.
type NotifyEvent string

// Notifications the engine reports to an EventHandler.
const (
	NotifyAccepted       NotifyEvent = "accepted"
	NotifyRejected       NotifyEvent = "rejected"
	NotifyPowerNotReady  NotifyEvent = "power_not_ready"
	NotifyPowerReady     NotifyEvent = "power_ready"
	NotifyPRSwapAccepted NotifyEvent = "pr_swap_accepted"
	NotifyDRSwapAccepted NotifyEvent = "dr_swap_accepted"
	NotifyVCONNSwapDone  NotifyEvent = "vconn_swap_done"
	NotifyEPREntered     NotifyEvent = "epr_entered"
	NotifyEPRExited      NotifyEvent = "epr_exited"
)

// EventHandler is notified of high level policy engine outcomes.
type EventHandler interface {
	HandleEvent(NotifyEvent)
}

// EventHandlerFunc adapts an ordinary function to EventHandler.
type EventHandlerFunc func(NotifyEvent)

// HandleEvent implements EventHandler.
func (f EventHandlerFunc) HandleEvent(ev NotifyEvent) { f(ev) }

func init() {
	defaultRDO.SetSelectedObjectPosition(1)
	defaultRDO.SetFixedMaxOperatingCurrent(100)
	defaultRDO.SetFixedOperatingCurrent(100)
}

var defaultRDO pdmsg.RequestDO

// Engine implements the Policy Engine for one port. It is driven
// non-blockingly by Task, called from the owning dpm.Port's loop alongside
// prl.Layer.Poll, tcfsm.Port.Poll and pdtimer.Pool.Tick.
type Engine struct {
	prl    *prl.Layer
	tc     *tcfsm.Port
	timers *pdtimer.Pool // shared pool driving tcfsm/prl timers; ticked by Run for non-dpm callers

	role   pdmsg.PowerRole
	dRole  pdmsg.DataRole
	msgTpl pdmsg.Message

	now         time.Time
	timerExpiry time.Time

	sourceCapMsg pdmsg.Message
	requestDO    pdmsg.RequestDO
	pdoBuf       [pdmsg.MaxDataObjects]pdmsg.PDO

	sourcePDOs []pdmsg.PDO // advertised capabilities when acting as source
	sinkPDOs   []pdmsg.PDO // advertised capabilities when acting as sink, in reply to Get_Sink_Cap

	explicitContract bool
	waitingOnSource  bool
	gotFirstRx       bool

	// noResponseGraceArmed marks that stateSnkWaitForCapabilities has already
	// spent its tSenderResponse-equivalent wait with nothing ever received and
	// is now spending the one-time tNoResponse grace period before giving up
	// to a hard reset.
	noResponseGraceArmed bool

	v5PDO pdmsg.FixedSupplyPDO // non-PD Type-C current fallback (sink) / Type-C current offer (source)

	hardResetCount    int
	hardResetLimitHit bool
	sourceCapRetries  int

	// bistStmEnabled gates BIST_STM (Shared Capacity Test Mode, PD 3.2):
	// set true only when the port's configured revision is 3.2 or later.
	bistStmEnabled bool

	cableDiscoveryAttempts int // overrides cableDiscoveryCount when > 0, see SetCableDiscoveryCount

	mu          sync.Mutex
	events      Event
	pendingSwap swapKind

	callbacks struct {
		mu           sync.Mutex
		capEvaluator CapabilityEvaluator
		eventHandler EventHandler
	}

	cur *state
}

// New creates a Policy Engine for one port, bound to prl and tc. The initial
// power role is sink; call RequestSourceRole before Start to bring the
// engine up as a source instead (e.g. after Try.SRC wins at the Type-C
// layer).
func New(prlLayer *prl.Layer, tc *tcfsm.Port, timers *pdtimer.Pool) *Engine {
	m := pdmsg.Message{}
	m.SetPowerRole(pdmsg.PowerRoleSink)
	m.SetDataRole(pdmsg.DataRoleUFP)
	m.SetExtended(false)

	v5PDO := pdmsg.NewFixedSupplyPDO()
	v5PDO.SetVoltage(5000)

	return &Engine{
		prl:         prlLayer,
		tc:          tc,
		timers:      timers,
		role:        pdmsg.PowerRoleSink,
		dRole:       pdmsg.DataRoleUFP,
		msgTpl:      m,
		timerExpiry: maxTimerExpiry,
		v5PDO:       v5PDO,
	}
}

// SetCapabilityEvaluator sets the capability evaluator used when acting as a
// sink. Passing nil rejects all power negotiations.
func (e *Engine) SetCapabilityEvaluator(ce CapabilityEvaluator) {
	e.callbacks.mu.Lock()
	e.callbacks.capEvaluator = ce
	e.callbacks.mu.Unlock()
}

// SetEventHandler sets the handler notified of high level outcomes. Pass nil
// to remove the existing handler.
func (e *Engine) SetEventHandler(h EventHandler) {
	e.callbacks.mu.Lock()
	e.callbacks.eventHandler = h
	e.callbacks.mu.Unlock()
}

// SetSourceCapabilities sets the PDO list advertised to the partner when
// acting as a source. The slice is retained; callers must not mutate it
// afterward.
func (e *Engine) SetSourceCapabilities(pdos []pdmsg.PDO) {
	e.sourcePDOs = pdos
}

// SetSinkCapabilities sets the PDO list advertised to the partner in reply
// to Get_Sink_Cap. The slice is retained; callers must not mutate it
// afterward. Until set, the engine falls back to advertising a single fixed
// 5V PDO built from its v5PDO field.
func (e *Engine) SetSinkCapabilities(pdos []pdmsg.PDO) {
	e.sinkPDOs = pdos
}

// RequestSourceRole switches the engine to start up as a source rather than
// a sink on the next Start.
func (e *Engine) RequestSourceRole() {
	e.role = pdmsg.PowerRoleSource
	e.dRole = pdmsg.DataRoleDFP
}

// SetRevision sets the port's configured PD revision, stamped into outgoing
// message headers and used to gate revision-specific behavior -- currently
// just BIST_STM, which PD 3.2 introduced and which must be rejected with
// Not_Supported on anything earlier.
func (e *Engine) SetRevision(rev pdmsg.Revision) {
	e.setRevision(rev)
	e.bistStmEnabled = rev >= pdmsg.Revision32
}

// setRevision stamps rev into both the outgoing message template and
// prl.Layer's own per-SOP tracking, so prl's PD-3.x-only-type gate sees the
// same revision the policy engine is negotiating at rather than staying
// pinned at the zero value.
func (e *Engine) setRevision(rev pdmsg.Revision) {
	e.msgTpl.SetRevision(rev)
	e.prl.SetRevision(pdmsg.SOPMessage, rev)
}

// StateName reports the name of the current policy engine state, for logging
// and diagnostics only -- callers must not branch on it.
func (e *Engine) StateName() string {
	if e.cur == nil {
		return ""
	}
	return e.cur.Name
}

// Idle reports whether the engine is parked in its role's Ready state, with
// no AMS in flight. A DPM-initiated SOP message send is only safe to issue
// directly while this holds -- otherwise it risks colliding with whatever
// exchange the engine itself is waiting on a response for, the same
// condition handleDPMRequest checks before honoring a queued swap request.
func (e *Engine) Idle() bool {
	return e.cur == stateSrcReady || e.cur == stateSnkReady
}

// Reset requests a hard reset be sent to the partner.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.events.Add(EventSendHardReset)
	e.mu.Unlock()
}

func (e *Engine) evalCaps(pdos []pdmsg.PDO) pdmsg.RequestDO {
	e.callbacks.mu.Lock()
	defer e.callbacks.mu.Unlock()
	if e.callbacks.capEvaluator != nil {
		return e.callbacks.capEvaluator.EvaluateCapabilities(pdos)
	}
	return pdmsg.EmptyRequestDO
}

func (e *Engine) notify(n NotifyEvent) {
	e.callbacks.mu.Lock()
	defer e.callbacks.mu.Unlock()
	if e.callbacks.eventHandler != nil {
		e.callbacks.eventHandler.HandleEvent(n)
	}
}

// Start (re-)enters the initial state for the engine's current role. Call
// once before the first Task, and again whenever Task reports a fresh
// tcfsm.IndAttached after a detach. now is the caller's current wall-clock
// reading, the same value it is about to pass to the first Task call.
func (e *Engine) Start(now time.Time) {
	e.now = now
	e.enter(e.initialState())
}

func (e *Engine) initialState() *state {
	if e.role == pdmsg.PowerRoleSource {
		return stateSrcStartup
	}
	return stateSnkStartup
}

func (e *Engine) startTimer(d time.Duration) {
	e.timerExpiry = e.now.Add(d)
}

// armResponseTimer starts tSenderResponse at the duration the negotiated
// revision calls for (27ms under PD 2.0, 30ms under PD 3.x), for whichever
// state just sent a message that expects a reply.
func (e *Engine) armResponseTimer() {
	e.startTimer(prl.SenderResponseTimeout(e.msgTpl.Revision()))
}

func (e *Engine) clearTimer() {
	e.timerExpiry = maxTimerExpiry
}

func (e *Engine) tx(m pdmsg.Message) error {
	return e.prl.Send(pdmsg.SOPMessage, m)
}

func (e *Engine) sendRDO(rdo pdmsg.RequestDO) error {
	m := e.msgTpl
	m.SetType(pdmsg.TypeRequest)
	m.SetDataObjectCount(1)
	m.Data[0] = uint32(rdo)
	return e.tx(m)
}

func (e *Engine) sendSourceCap() error {
	m := e.msgTpl
	m.SetExtended(false)
	m.SetDataObjectCount(uint8(len(e.sourcePDOs)))
	for i, p := range e.sourcePDOs {
		m.Data[i] = uint32(p)
	}
	m.SetType(pdmsg.TypeSourceCap)
	return e.tx(m)
}

func (e *Engine) sendControl(t pdmsg.Type) error {
	m := e.msgTpl
	m.SetDataObjectCount(0)
	m.SetType(t)
	return e.tx(m)
}

// ppsNegotiated returns true if the last power negotiation agreed on a PPS
// profile.
func (e *Engine) ppsNegotiated() bool {
	p := e.requestDO.SelectedObjectPosition()
	return p > 0 && pdmsg.PDO(e.sourceCapMsg.Data[p-1]).Type() == pdmsg.PDOTypePPS
}

func (e *Engine) enter(s *state) {
	e.clearTimer()
	e.cur = s
	if s.Enter == nil {
		return
	}
	next, err := s.Enter(e)
	if err != nil {
		e.transition(stateHardReset)
		return
	}
	if next != nil {
		e.transition(next)
	}
}

func (e *Engine) transition(next *state) {
	if e.cur != nil && e.cur.Exit != nil {
		if err := e.cur.Exit(e); err != nil {
			if next != stateHardReset {
				next = stateHardReset
			}
		}
	}
	e.enter(next)
}

func (e *Engine) process(m pdmsg.Message, ev Event) {
	if e.cur == nil || e.cur.Process == nil {
		return
	}
	next, err := e.cur.Process(e, m, ev)
	if err != nil {
		e.transition(stateHardReset)
		return
	}
	if next != nil {
		e.transition(next)
	}
}

// Task advances the engine by one non-blocking step: it handles every prl
// indication passed in, reacts to one pending internal event, and checks the armed
// timer against now. The owning dpm.Port calls Task once per pass through
// its loop, after polling prl/tcfsm/pdtimer with the same now.
func (e *Engine) Task(now time.Time, prlInds []prl.Indication, tcInds []tcfsm.Indication) {
	e.now = now
	for _, ind := range tcInds {
		switch ind.Kind {
		case tcfsm.IndAttached:
			e.mu.Lock()
			e.events.Add(EventAttached)
			e.mu.Unlock()
		case tcfsm.IndDetached:
			e.mu.Lock()
			e.events.Add(EventDetached)
			e.mu.Unlock()
		}
	}

	for _, ind := range prlInds {
		if ind.SOP != pdmsg.SOPMessage {
			continue // cable (SOP'/SOP'') traffic is not processed by the engine
		}
		switch ind.Kind {
		case prl.IndPacketReceived:
			e.gotFirstRx = true
			e.process(ind.Msg, EventRx)
		case prl.IndTxFail:
			e.process(pdmsg.Message{}, EventTimerTimeout) // treat as unanswered send; states escalate to reset
		case prl.IndSoftResetReceived:
			e.process(pdmsg.Message{}, EventResetReceived)
		case prl.IndHardResetReceived:
			e.mu.Lock()
			e.events.Add(EventResetReceived)
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	ev := e.events.Pop()
	e.mu.Unlock()

	switch ev {
	case EventNone:
		if e.now.After(e.timerExpiry) {
			e.clearTimer()
			e.process(pdmsg.Message{}, EventTimerTimeout)
		}
	case EventDetached:
		e.transition(e.initialState())
	case EventResetReceived:
		e.transition(stateHardReset)
	case EventSendHardReset:
		e.transition(stateHardReset)
	case EventSendSoftReset:
		e.transition(stateSoftReset)
	case EventDPMRequest:
		e.handleDPMRequest()
	default:
		e.process(pdmsg.Message{}, ev)
	}
}

// handleDPMRequest acts on a queued RequestPRSwap/RequestDRSwap/
// RequestVCONNSwap/RequestEPREntry once the engine is idle in a Ready state;
// requests made while busy are dropped rather than queued further, matching
// one-swap-at-a-time semantics.
func (e *Engine) handleDPMRequest() {
	if e.cur != stateSrcReady && e.cur != stateSnkReady {
		e.pendingSwap = swapRequestNone
		return
	}
	switch e.pendingSwap {
	case swapRequestPR:
		e.transition(stateSwapSendPR)
	case swapRequestDR:
		e.transition(stateSwapSendDR)
	case swapRequestVCONN:
		e.transition(stateSwapSendVCONN)
	case swapRequestEPREnter:
		e.transition(stateEPREnter)
	}
	e.pendingSwap = swapRequestNone
}

// Run wraps Task in a cooperative blocking loop for non-RTOS callers: it
// polls prl/tc every loopSleepDuration and calls Task, until ctx is done.
func (e *Engine) Run(ctx context.Context, loopSleepDuration time.Duration) {
	e.Start(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		now := time.Now()
		e.timers.Tick(now)
		prlInds := e.prl.Poll()
		tcInds := e.tc.Poll(now)
		e.Task(now, prlInds, tcInds)
		time.Sleep(loopSleepDuration)
	}
}
