package prl

import (
	"errors"
	"sync"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/pdtimer"
)

var (
	// ErrBusy is returned by Send/SendExtended if a transmission is already
	// in flight on the requested SOP class: a transmit and its GoodCRC wait
	// are mutually exclusive with starting a new transmit.
	ErrBusy = errors.New("prl: a message is already in flight on this SOP class")

	// ErrExtendedTooLarge is returned by SendExtended when the payload
	// exceeds the legacy (PD 2.0, unchunked) extended-message size limit.
	ErrExtendedTooLarge = errors.New("prl: extended payload exceeds the PD 2.0 26-byte limit")

	// ErrRevisionTooLow is returned when a PD-3.x-only message type is sent
	// while the negotiated revision on that SOP class is 2.0.
	ErrRevisionTooLow = errors.New("prl: message type requires PD revision 3.0 or later")
)

// IndicationKind identifies what happened as a result of a Poll call.
type IndicationKind int

// Indication kinds posted upward to the Policy Engine.
const (
	IndNone IndicationKind = iota
	IndTxSuccess
	IndTxFail
	IndPacketReceived
	IndCRCError
	IndHardResetReceived
	IndSoftResetReceived
)

// Indication is one event Poll reports to its caller (normally pe.Engine).
type Indication struct {
	Kind IndicationKind
	SOP  pdmsg.SOP
	Msg  pdmsg.Message
}

type sopState struct {
	nextTxID      uint8
	lastRxID      uint8
	firstReceived bool
	revision      pdmsg.Revision
	prRole        pdmsg.PowerRole
	drRole        pdmsg.DataRole

	txPending  bool
	txMsg      pdmsg.Message
	txFrame    [pdmsg.MaxFrameBytes]byte
	txFrameLen int
	txAttempts int

	extTx extTxState
	extRx extRxState
}

type extTxState struct {
	active      bool
	msgType     pdmsg.Type
	data        [pdmsg.MaxExtendedBytes]byte
	len         int
	chunk       int
	totalChunks int
}

type extRxState struct {
	active    bool
	msgType   pdmsg.Type
	data      [pdmsg.MaxExtendedBytes]byte
	len       int
	nextChunk int
	total     int
}

// Layer is one port's Protocol Layer instance: exactly one per port, owned
// exclusively by that port's Task loop.
type Layer struct {
	mu        sync.Mutex
	phy       Phy
	timers    *pdtimer.Pool
	timerBase pdtimer.TimerID
	sop       [3]sopState
	pending   []Indication
}

// Timer ID offsets within the 16-slot band rooted at timerBase.
const (
	offCRCReceive       pdtimer.TimerID = 0 // + SOP (0..2)
	offChunkSenderResp  pdtimer.TimerID = 4 // + SOP (0..2)
)

// NewLayer creates a Protocol Layer driving phy, using timers for its
// internal retry/chunk-response timeouts starting at timerBase (the caller
// picks a timerBase inside its own bank, see pdtimer.PEBase/TypeCBase).
func NewLayer(phy Phy, timers *pdtimer.Pool, timerBase pdtimer.TimerID) *Layer {
	l := &Layer{phy: phy, timers: timers, timerBase: timerBase}
	for i := range l.sop {
		l.sop[i].lastRxID = 8 // impossible ID: no message received yet
	}
	return l
}

// SetRevision sets the negotiated PD revision used to frame outgoing
// messages and to gate PD-3.x-only types on the given SOP class.
func (l *Layer) SetRevision(sop pdmsg.SOP, rev pdmsg.Revision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sop[sop].revision = rev
}

// SetRoles sets the power/data roles stamped into outgoing headers on the
// given SOP class.
func (l *Layer) SetRoles(sop pdmsg.SOP, pr pdmsg.PowerRole, dr pdmsg.DataRole) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sop[sop].prRole = pr
	l.sop[sop].drRole = dr
}

// SoftReset resets the message-ID counters for one SOP class.
func (l *Layer) SoftReset(sop pdmsg.SOP) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetSOPLocked(sop)
}

// HardReset resets message-ID counters for all SOP classes.
func (l *Layer) HardReset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := pdmsg.SOPMessage; s <= pdmsg.SOPDoublePrime; s++ {
		l.resetSOPLocked(s)
	}
}

func (l *Layer) resetSOPLocked(sop pdmsg.SOP) {
	l.timers.Stop(l.crcTimerID(sop))
	l.timers.Stop(l.chunkTimerID(sop))
	rev, pr, dr := l.sop[sop].revision, l.sop[sop].prRole, l.sop[sop].drRole
	l.sop[sop] = sopState{revision: rev, prRole: pr, drRole: dr, lastRxID: 8}
}

func (l *Layer) crcTimerID(sop pdmsg.SOP) pdtimer.TimerID {
	return l.timerBase + offCRCReceive + pdtimer.TimerID(sop)
}

func (l *Layer) chunkTimerID(sop pdmsg.SOP) pdtimer.TimerID {
	return l.timerBase + offChunkSenderResp + pdtimer.TimerID(sop)
}

// isPD3OnlyType reports whether msg's type was introduced by PD 3.0 and has
// no PD 2.0 equivalent, so it must never go out on a link negotiated at
// Revision20 or below.
func isPD3OnlyType(msg pdmsg.Message) bool {
	if msg.IsExtended() {
		switch msg.Type() {
		case pdmsg.TypeSecurityRequest, pdmsg.TypeSecurityResponse,
			pdmsg.TypeFirmwareUpdateRequest, pdmsg.TypeFirmwareUpdateResponse,
			pdmsg.TypeCountryInfo, pdmsg.TypeCountryCodes, pdmsg.TypeSinkCapExt,
			pdmsg.TypeExtControl, pdmsg.TypeEPRSourceCap, pdmsg.TypeEPRSinkCap:
			return true
		}
		return false
	}
	if msg.IsData() {
		switch msg.Type() {
		case pdmsg.TypeBatteryStatus, pdmsg.TypeAlert, pdmsg.TypeGetCountryInfo,
			pdmsg.TypeEnterUSB, pdmsg.TypeEPRRequest, pdmsg.TypeEPRMode,
			pdmsg.TypeSourceInfo, pdmsg.TypeRevision:
			return true
		}
		return false
	}
	switch msg.Type() {
	case pdmsg.TypeGetSourceCapExt, pdmsg.TypeGetStatus, pdmsg.TypeFRSwap,
		pdmsg.TypeGetPPSStatus, pdmsg.TypeGetCountryCodes, pdmsg.TypeGetSinkCapExt,
		pdmsg.TypeGetSourceInfo, pdmsg.TypeGetRevision:
		return true
	}
	return false
}

// Send transmits msg on the given SOP class. msg.Header's ID/PR-role/
// DR-role/revision fields are overwritten from Layer's tracked state; the
// caller only needs to have set Type/DataObjectCount/Data.
func (l *Layer) Send(sop pdmsg.SOP, msg pdmsg.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := &l.sop[sop]
	if st.txPending {
		return ErrBusy
	}
	if st.revision <= pdmsg.Revision20 && isPD3OnlyType(msg) {
		return ErrRevisionTooLow
	}
	msg.SOP = sop
	msg.SetID(st.nextTxID)
	msg.SetPowerRole(st.prRole)
	msg.SetDataRole(st.drRole)
	msg.SetRevision(minRevisionField(st.revision))

	st.txMsg = msg
	st.txFrameLen = int(msg.ToBytes(st.txFrame[:]))
	st.txAttempts = 1
	st.txPending = true

	if err := l.phy.TxRaw(sop, st.txFrame[:st.txFrameLen]); err != nil {
		st.txPending = false
		return err
	}
	l.timers.Start(l.crcTimerID(sop), TCRCReceive, l.onCRCTimeout, sop)
	return nil
}

// minRevisionField clamps a Revision to the 2-bit wire field (3.1/3.2 both
// transmit as 3.0's wire value; the distinction is tracked off-wire).
func minRevisionField(r pdmsg.Revision) pdmsg.Revision {
	if r > pdmsg.Revision30 {
		return pdmsg.Revision30
	}
	return r
}

func (l *Layer) onCRCTimeout(_ pdtimer.TimerID, ctx any) {
	sop := ctx.(pdmsg.SOP)
	l.mu.Lock()
	st := &l.sop[sop]
	if !st.txPending {
		l.mu.Unlock()
		return
	}
	if st.txAttempts >= maxTxAttempts {
		st.txPending = false
		l.mu.Unlock()
		l.post(Indication{Kind: IndTxFail, SOP: sop})
		return
	}
	st.txAttempts++
	frame := append([]byte(nil), st.txFrame[:st.txFrameLen]...)
	l.mu.Unlock()

	if err := l.phy.TxRaw(sop, frame); err != nil {
		l.mu.Lock()
		st.txPending = false
		l.mu.Unlock()
		l.post(Indication{Kind: IndTxFail, SOP: sop})
		return
	}
	l.timers.Start(l.crcTimerID(sop), TCRCReceive, l.onCRCTimeout, sop)
}

func (l *Layer) post(ind Indication) {
	l.mu.Lock()
	l.pending = append(l.pending, ind)
	l.mu.Unlock()
}

// Poll drains PHY-reported frames and hardware reset signals, updates
// message-ID state and chunk reassembly, and returns every Indication
// produced since the last call. Poll is the only method the owning Port's
// Task loop needs to call each pass.
func (l *Layer) Poll() []Indication {
	if l.phy.HardReset() {
		l.HardReset()
		l.post(Indication{Kind: IndHardResetReceived})
	}

	for {
		sop, frame, ok, err := l.phy.RxRaw()
		if !ok {
			break
		}
		if err != nil || len(frame) < 2 {
			l.post(Indication{Kind: IndCRCError, SOP: sop})
			continue
		}
		l.handleRx(sop, frame)
	}

	l.mu.Lock()
	out := l.pending
	l.pending = nil
	l.mu.Unlock()
	return out
}

func (l *Layer) handleRx(sop pdmsg.SOP, frame []byte) {
	var m pdmsg.Message
	m.SOP = sop
	m.FromBytes(frame)

	if !m.IsData() && m.Type() == pdmsg.TypeGoodCRC {
		l.handleGoodCRC(sop, m.ID())
		return
	}

	id := m.ID()
	l.mu.Lock()
	st := &l.sop[sop]
	duplicate := st.firstReceived && id == st.lastRxID
	if !duplicate {
		st.lastRxID = id
		st.firstReceived = true
	}
	l.mu.Unlock()

	l.sendGoodCRC(sop, id)
	if duplicate {
		return
	}

	if m.Type() == pdmsg.TypeSoftReset && !m.IsData() {
		l.SoftReset(sop)
		l.post(Indication{Kind: IndSoftResetReceived, SOP: sop})
		return
	}

	if m.IsExtended() {
		l.handleExtRx(sop, m)
		return
	}

	l.post(Indication{Kind: IndPacketReceived, SOP: sop, Msg: m})
}

func (l *Layer) handleGoodCRC(sop pdmsg.SOP, id uint8) {
	l.mu.Lock()
	st := &l.sop[sop]
	if !st.txPending || id != st.txMsg.ID() {
		l.mu.Unlock()
		return
	}
	st.txPending = false
	st.nextTxID = (st.nextTxID + 1) % 8
	l.mu.Unlock()

	l.timers.Stop(l.crcTimerID(sop))
	l.post(Indication{Kind: IndTxSuccess, SOP: sop})
}

func (l *Layer) sendGoodCRC(sop pdmsg.SOP, id uint8) {
	var m pdmsg.Message
	m.SOP = sop
	m.SetType(pdmsg.TypeGoodCRC)
	m.SetID(id)
	var buf [2]byte
	n := m.ToBytes(buf[:])
	_ = l.phy.TxRaw(sop, buf[:n])
}
