package prl

import (
	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/pdtimer"
)

// SendExtended transmits an extended message carrying payload as its data,
// chunking it when the negotiated revision is 3.x. Under PD 2.0, extended
// messages have no chunking support and are capped at LegacyExtendedBytes.
func (l *Layer) SendExtended(sop pdmsg.SOP, msgType pdmsg.Type, payload []byte) error {
	l.mu.Lock()
	st := &l.sop[sop]
	if st.txPending || st.extTx.active {
		l.mu.Unlock()
		return ErrBusy
	}
	rev := st.revision
	l.mu.Unlock()

	if rev <= pdmsg.Revision20 {
		var probe pdmsg.Message
		probe.SetExtended(true)
		probe.SetType(msgType)
		if isPD3OnlyType(probe) {
			return ErrRevisionTooLow
		}
		if len(payload) > pdmsg.LegacyExtendedBytes {
			return ErrExtendedTooLarge
		}
		return l.sendExtChunk(sop, msgType, payload, 0, len(payload), false)
	}

	l.mu.Lock()
	st.extTx = extTxState{active: true, msgType: msgType, len: len(payload)}
	copy(st.extTx.data[:], payload)
	st.extTx.totalChunks = (len(payload) + pdmsg.MaxChunkBytes - 1) / pdmsg.MaxChunkBytes
	if st.extTx.totalChunks == 0 {
		st.extTx.totalChunks = 1
	}
	l.mu.Unlock()

	return l.sendNextChunk(sop)
}

func (l *Layer) sendNextChunk(sop pdmsg.SOP) error {
	l.mu.Lock()
	st := &l.sop[sop]
	chunk := st.extTx.chunk
	start := chunk * pdmsg.MaxChunkBytes
	end := start + pdmsg.MaxChunkBytes
	if end > st.extTx.len {
		end = st.extTx.len
	}
	payload := append([]byte(nil), st.extTx.data[start:end]...)
	msgType := st.extTx.msgType
	total := st.extTx.len
	l.mu.Unlock()

	if err := l.sendExtChunk(sop, msgType, payload, chunk, total, true); err != nil {
		return err
	}
	l.timers.Start(l.chunkTimerID(sop), ChunkSenderResponse, l.onChunkTimeout, sop)
	return nil
}

func (l *Layer) sendExtChunk(sop pdmsg.SOP, msgType pdmsg.Type, payload []byte, chunkNum, totalSize int, chunked bool) error {
	var m pdmsg.Message
	m.SetExtended(true)
	m.SetType(msgType)
	var h uint16
	h = pdmsg.SetExtHeaderChunked(h, chunked)
	h = pdmsg.SetExtHeaderChunkNumber(h, uint8(chunkNum))
	h = pdmsg.SetExtHeaderDataSize(h, uint16(totalSize))
	count := (len(payload) + 3) / 4
	m.SetDataObjectCount(uint8(count))
	for i := 0; i < count; i++ {
		var w uint32
		for b := 0; b < 4; b++ {
			idx := i*4 + b
			if idx < len(payload) {
				w |= uint32(payload[idx]) << (8 * b)
			}
		}
		m.Data[i] = w
	}
	m.Extended.Header = h
	return l.Send(sop, m)
}

func (l *Layer) onChunkTimeout(_ pdtimer.TimerID, ctx any) {
	sop := ctx.(pdmsg.SOP)
	l.mu.Lock()
	st := &l.sop[sop]
	active := st.extTx.active
	st.extTx = extTxState{}
	l.mu.Unlock()
	if active {
		l.post(Indication{Kind: IndTxFail, SOP: sop})
	}
}

// handleExtRx feeds one received extended-message frame into the
// reassembly state for its SOP class, requesting further chunks or
// completing the message as appropriate. m has already been decoded by
// FromBytes, so m.Extended.Header is populated.
func (l *Layer) handleExtRx(sop pdmsg.SOP, m pdmsg.Message) {
	h := m.Extended.Header
	chunkNum := int(pdmsg.ExtHeaderChunkNumber(h))
	isRequest := pdmsg.ExtHeaderRequestChunk(h)
	total := int(pdmsg.ExtHeaderDataSize(h))
	chunked := pdmsg.ExtHeaderChunked(h)

	if isRequest {
		// Partner is requesting the next chunk of a message we are sending.
		l.mu.Lock()
		st := &l.sop[sop]
		if st.extTx.active && chunkNum == st.extTx.chunk+1 {
			st.extTx.chunk = chunkNum
		}
		done := st.extTx.active && st.extTx.chunk >= st.extTx.totalChunks-1
		l.mu.Unlock()
		l.timers.Stop(l.chunkTimerID(sop))
		if done {
			// The requested chunk is the final one: send it, and expect no
			// further request for this message.
			_ = l.sendNextChunk(sop)
			l.timers.Stop(l.chunkTimerID(sop))
			l.mu.Lock()
			l.sop[sop].extTx = extTxState{}
			l.mu.Unlock()
			return
		}
		_ = l.sendNextChunk(sop)
		return
	}

	if !chunked {
		// Legacy PD 2.0 unchunked extended message: complete immediately.
		chunkData := payloadBytes(m)
		m.Extended.Len = uint16(len(chunkData))
		copy(m.Extended.Data[:], chunkData)
		l.post(Indication{Kind: IndPacketReceived, SOP: sop, Msg: m})
		return
	}

	l.mu.Lock()
	st := &l.sop[sop]
	if chunkNum == 0 {
		st.extRx = extRxState{active: true, msgType: m.Type(), total: total}
	}
	if !st.extRx.active || m.Type() != st.extRx.msgType || chunkNum != st.extRx.nextChunk {
		l.mu.Unlock()
		// Out-of-order chunk: abandon reassembly.
		l.SoftReset(sop)
		l.post(Indication{Kind: IndSoftResetReceived, SOP: sop})
		return
	}
	chunkData := payloadBytes(m)
	copy(st.extRx.data[chunkNum*pdmsg.MaxChunkBytes:], chunkData)
	st.extRx.len += len(chunkData)
	st.extRx.nextChunk++
	complete := st.extRx.len >= st.extRx.total
	var out pdmsg.Message
	if complete {
		out.SOP = sop
		out.SetExtended(true)
		out.SetType(st.extRx.msgType)
		out.Extended.Len = uint16(st.extRx.total)
		copy(out.Extended.Data[:], st.extRx.data[:st.extRx.total])
		st.extRx = extRxState{}
	}
	l.mu.Unlock()

	if complete {
		l.post(Indication{Kind: IndPacketReceived, SOP: sop, Msg: out})
		return
	}

	// Ask for the next chunk.
	_ = l.sendChunkRequest(sop, m.Type(), chunkNum+1)
}

func (l *Layer) sendChunkRequest(sop pdmsg.SOP, msgType pdmsg.Type, nextChunk int) error {
	var m pdmsg.Message
	m.SetExtended(true)
	m.SetType(msgType)
	var h uint16
	h = pdmsg.SetExtHeaderChunked(h, true)
	h = pdmsg.SetExtHeaderRequestChunk(h, true)
	h = pdmsg.SetExtHeaderChunkNumber(h, uint8(nextChunk))
	m.Extended.Header = h
	return l.Send(sop, m)
}

// payloadBytes reconstructs the raw payload bytes carried in m.Data for an
// extended-message data object count.
func payloadBytes(m pdmsg.Message) []byte {
	n := int(m.DataObjectCount()) * 4
	b := make([]byte, n)
	for i := 0; i < int(m.DataObjectCount()); i++ {
		w := m.Data[i]
		b[i*4] = byte(w)
		b[i*4+1] = byte(w >> 8)
		b[i*4+2] = byte(w >> 16)
		b[i*4+3] = byte(w >> 24)
	}
	return b
}
