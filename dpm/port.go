package dpm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/usbpdgo/pdstack/config"
	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/pdtimer"
	"github.com/usbpdgo/pdstack/pe"
	"github.com/usbpdgo/pdstack/prl"
	"github.com/usbpdgo/pdstack/tcfsm"
)

// Port is the Device Policy Manager for one physical Type-C port: it owns
// one pdtimer.Pool, one prl.Layer, one tcfsm.Port and one pe.Engine, and
// drives all four from a single non-blocking Task call per pass through the
// caller's loop. Multi-port boards build one Port per physical connector;
// only a *config.PortConfig may be shared read-only across them.
type Port struct {
	id     PortID
	cfg    *config.PortConfig
	app    AppCallbacks
	logger *log.Logger

	timers *pdtimer.Pool
	prl    *prl.Layer
	tc     *tcfsm.Port
	pe     *pe.Engine

	mu            sync.Mutex
	cmd           *Command
	cmdDeadline   time.Time
	cmdHasTimeout bool

	// vbusSeen is set once app.VBUSPresent() reports true while attached as
	// sink, so a later false reading is a loss rather than VBUS simply not
	// having ramped up yet (or the board never implementing VBUS sensing).
	vbusSeen bool

	lastTCState string
	lastPEState string
}

// NewPort constructs a Port for port index id (0-based; used to partition
// pdtimer IDs across multiple ports sharing a process), driving hw and
// reporting to app per cfg's static identity and capability set.
func NewPort(id int, cfg *config.PortConfig, hw Hardware, app AppCallbacks) *Port {
	timers := pdtimer.NewPool()
	layer := prl.NewLayer(hw, timers, pdtimer.PEBase(id))
	tc := tcfsm.NewPort(hw, timers, pdtimer.TypeCBase(id), cfg.DRP)
	if cfg.TrySrcEnable {
		tc.EnableTrySRC()
	}

	pr := pdmsg.PowerRoleSink
	dr := pdmsg.DataRoleUFP
	if cfg.Role == tcfsm.RoleSource {
		pr, dr = pdmsg.PowerRoleSource, pdmsg.DataRoleDFP
	}
	layer.SetRoles(pdmsg.SOPMessage, pr, dr)

	eng := pe.New(layer, tc, timers)
	eng.SetRevision(cfg.Revision)
	if cfg.Role == tcfsm.RoleSource {
		eng.RequestSourceRole()
	}
	eng.SetSourceCapabilities(cfg.SrcPDOs)
	eng.SetSinkCapabilities(cfg.SnkPDOs)
	if cfg.CableDiscoveryCount > 0 {
		eng.SetCableDiscoveryCount(cfg.CableDiscoveryCount)
	}

	p := &Port{
		id:     PortID(id),
		cfg:    cfg,
		app:    app,
		timers: timers,
		prl:    layer,
		tc:     tc,
		pe:     eng,
	}
	eng.SetCapabilityEvaluator(pe.CapabilityEvaluatorFunc(app.EvaluateSourceCapabilities))
	eng.SetEventHandler(pe.EventHandlerFunc(p.relayPEEvent))
	return p
}

// SetLogger attaches a logger used for state-transition diagnostics. Pass
// nil to stop logging.
func (p *Port) SetLogger(l *log.Logger) {
	p.logger = l
}

// relayPEEvent translates a pe.NotifyEvent into the richer dpm.AppEvent
// vocabulary and forwards it to the application callback.
func (p *Port) relayPEEvent(n pe.NotifyEvent) {
	var ev AppEvent
	switch n {
	case pe.NotifyAccepted:
		ev = EventAccepted
	case pe.NotifyRejected:
		ev = EventRejected
	case pe.NotifyPowerReady:
		ev = EventPowerReady
	case pe.NotifyPowerNotReady:
		ev = EventPowerNotReady
	case pe.NotifyPRSwapAccepted:
		ev = EventPRSwapAccepted
	case pe.NotifyDRSwapAccepted:
		ev = EventDRSwapAccepted
	case pe.NotifyVCONNSwapDone:
		ev = EventVCONNSwapDone
	case pe.NotifyEPREntered:
		ev = EventEPREntered
	case pe.NotifyEPRExited:
		ev = EventEPRExited
	default:
		return
	}
	p.app.HandleEvent(p.id, ev, nil)
}

func (p *Port) log(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Start (re-)enters the initial connection and policy engine states. Call
// once before the first Task, and again after a full port re-init.
func (p *Port) Start(now time.Time) {
	p.tc.Start()
	p.pe.Start(now)
}

// Reinit recovers the port after the policy engine's hard-reset retry
// budget is exhausted (tcfsm ErrorRecovery, spec §4.4's "3 consecutive hard
// reset failures"). It clears the failure flag and restarts both state
// machines.
func (p *Port) Reinit(now time.Time) {
	p.pe.Reinit(now)
	p.tc.Start()
}

// Task advances the port by one non-blocking step: ticks the shared timer
// pool, polls the Protocol Layer and connection FSM, resolves any in-flight
// Command against the resulting indications, and steps the policy engine
// with whatever indications the command didn't claim. The caller drives
// this from its own loop (bare-metal callers can call Task directly;
// hosted callers can use Run instead).
func (p *Port) Task(now time.Time) {
	p.timers.Tick(now)
	prlInds := p.prl.Poll()

	var tcInds []tcfsm.Indication
	if p.tc.Released() && p.tc.Role() == tcfsm.RoleSink {
		if p.app.VBUSPresent() {
			p.vbusSeen = true
		} else if p.vbusSeen {
			tcInds = append(tcInds, p.tc.ForceDetach()...)
			p.vbusSeen = false
		}
	}
	tcInds = append(tcInds, p.tc.Poll(now)...)

	for _, ind := range tcInds {
		switch ind.Kind {
		case tcfsm.IndAttached:
			p.vbusSeen = false
			p.app.HandleEvent(p.id, EventAttached, nil)
			if p.cfg.CableDiscoveryEnable {
				if err := p.pe.DiscoverCable(); err != nil {
					p.app.HandleEvent(p.id, EventCableDiscoveryFailed, err)
				}
			}
		case tcfsm.IndDetached:
			p.completeCommand(ResultAborted, pdmsg.Message{})
			p.app.HandleEvent(p.id, EventDetached, nil)
		}
	}

	prlInds = p.resolveCommand(prlInds)
	p.pe.Task(now, prlInds, tcInds)
	p.checkCommandTimeout(now)
	p.logStateChanges()
}

// logStateChanges prints a line whenever either state machine has moved
// since the last Task call, the single consistent call site this port's
// diagnostics go through.
func (p *Port) logStateChanges() {
	if tc := p.tc.StateName(); tc != p.lastTCState {
		p.log("port %d: tcfsm %s -> %s", p.id, p.lastTCState, tc)
		p.lastTCState = tc
	}
	if pe := p.pe.StateName(); pe != p.lastPEState {
		p.log("port %d: pe %s -> %s", p.id, p.lastPEState, pe)
		p.lastPEState = pe
	}
}

// Run wraps Task in a cooperative blocking loop for hosted (non-RTOS)
// callers: it calls Task every loopSleepDuration until ctx is done.
func (p *Port) Run(ctx context.Context, loopSleepDuration time.Duration) {
	p.Start(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.Task(time.Now())
		time.Sleep(loopSleepDuration)
	}
}

// SubmitCommand sends cmd and arranges for its Callback to be invoked with
// the outcome. now is used to arm cmd.Timeout, if set. An SOP'/SOP''
// command bypasses the policy engine entirely, matching pe.DiscoverCable's
// own precedent for cable traffic; an SOP (port-partner) command is only
// accepted while the policy engine is idle in its Ready state, since it
// otherwise owns every SOP exchange itself. Returns ErrBusy if another
// command is already in flight, or if an SOP command is submitted while
// the engine isn't idle.
func (p *Port) SubmitCommand(now time.Time, cmd Command) error {
	p.mu.Lock()
	if p.cmd != nil {
		p.mu.Unlock()
		return ErrBusy
	}
	if cmd.SOP == pdmsg.SOPMessage && !p.pe.Idle() {
		p.mu.Unlock()
		return ErrBusy
	}
	p.cmd = &cmd
	if cmd.Timeout > 0 {
		p.cmdDeadline = now.Add(cmd.Timeout)
		p.cmdHasTimeout = true
	} else {
		p.cmdHasTimeout = false
	}
	p.mu.Unlock()

	if err := p.prl.Send(cmd.SOP, cmd.buildMessage()); err != nil {
		p.completeCommand(ResultFailed, pdmsg.Message{})
		return fmt.Errorf("dpm: submit command: %w", err)
	}
	return nil
}

// resolveCommand claims any indication on the in-flight command's SOP class
// and returns the remaining indications, unclaimed, for the policy engine.
func (p *Port) resolveCommand(inds []prl.Indication) []prl.Indication {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return inds
	}

	kept := inds[:0]
	for _, ind := range inds {
		if ind.SOP != cmd.SOP {
			kept = append(kept, ind)
			continue
		}
		switch ind.Kind {
		case prl.IndTxSuccess:
			if cmd.Timeout <= 0 {
				p.completeCommand(ResultSent, pdmsg.Message{})
			}
			// else: keep waiting for the response within cmd.Timeout.
		case prl.IndPacketReceived:
			p.completeCommand(ResultResponseReceived, ind.Msg)
		case prl.IndTxFail, prl.IndCRCError:
			p.completeCommand(ResultFailed, pdmsg.Message{})
		default:
			kept = append(kept, ind)
		}
	}
	return kept
}

func (p *Port) checkCommandTimeout(now time.Time) {
	p.mu.Lock()
	active := p.cmd != nil && p.cmdHasTimeout && !now.Before(p.cmdDeadline)
	p.mu.Unlock()
	if active {
		p.completeCommand(ResultTimeout, pdmsg.Message{})
	}
}

func (p *Port) completeCommand(r Result, msg pdmsg.Message) {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.cmdHasTimeout = false
	p.mu.Unlock()
	if cmd != nil && cmd.Callback != nil {
		cmd.Callback(r, msg)
	}
}
