package flow

import (
	"fmt"
	"time"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/coreerr"
	"github.com/samsneelam1981/rlite-go/internal/logging"
	"github.com/samsneelam1981/rlite-go/internal/pci"
)

// NewDataBuffer wraps payload in a buffer with exactly enough header
// reserve for this flow's flavour, for callers building an sdu_write
// argument (spec.md §6.2 sdu_write).
func (f *Flow) NewDataBuffer(payload []byte) *buffer.Buffer {
	return buffer.FromPayload(payload, f.Flavour.CommonHeaderSize())
}

// writeHeader encodes h per f.Flavour and pushes it onto buf's reserved
// prefix, wrapping PushHeader's failure as coreerr.NoHeaderSpace
// (spec.md §7).
func (f *Flow) writeHeader(buf *buffer.Buffer, h pci.Header) error {
	encoded, err := h.Encode(f.Flavour)
	if err != nil {
		return err
	}
	hdr, err := buf.PushHeader(len(encoded))
	if err != nil {
		return fmt.Errorf("%w", coreerr.NoHeaderSpace)
	}
	copy(hdr, encoded)
	return nil
}

// Send implements the DTP send path (spec.md §4.5). On WouldBlock the
// buffer is left untouched and still owned by the caller, who must retry.
func (f *Flow) Send(buf *buffer.Buffer, mayBlock bool) error {
	f.mu.Lock()

	if f.cfg.DTCPPresent {
		f.timers.SenderInactivity.Start(3*f.derived.mplRA, f.onSenderInactivity)
	}

	windowFC := f.cfg.DTCP.FlowControl
	rtxControl := f.cfg.DTCP.RtxControl
	if (windowFC && f.nextSeqToSend >= f.sndRWE && f.cwq.Len() >= f.derived.maxCwqLen) ||
		(rtxControl && f.rtxq.Len() >= f.derived.maxRtxqLen) {
		f.mu.Unlock()
		return coreerr.WouldBlock
	}

	payloadLen := buf.Len()
	seq := f.nextSeqToSend

	h := pci.Header{
		DstAddr: f.RemoteAddr,
		SrcAddr: f.OwnAddr,
		QoSID:   f.QoSID,
		DstCEP:  f.RemoteCEP,
		SrcCEP:  f.LocalCEP,
		Type:    pci.TypeDT,
		Length:  uint64(payloadLen),
		Seq:     seq,
	}
	if f.setDRF {
		h.Flags |= pci.FlagDRF
	}
	if err := f.writeHeader(buf, h); err != nil {
		f.mu.Unlock()
		return err
	}
	buf.Seq = seq
	buf.Owner = f

	f.nextSeqToSend++
	f.lastSeqSent = seq
	f.setDRF = false
	f.Stats.addTx(1, uint64(payloadLen))

	if !f.cfg.DTCPPresent {
		f.mu.Unlock()
		return f.tx.Transmit(f.RemoteAddr, buf, mayBlock)
	}

	owned := true
	if windowFC && seq >= f.sndRWE {
		f.cwq.PushBack(buf)
		owned = false
	} else {
		f.sndLWE = f.nextSeqToSend
	}

	if rtxControl && owned {
		clone := buf.Clone(f.Flavour.CommonHeaderSize())
		clone.Expiry = timeNow().Add(f.rtxTmrInt)
		clone.Owner = f
		f.rtxq.PushBack(clone)
		if f.rtxTmrNext == nil {
			f.rtxTmrNext = f.rtxq.Front()
			f.timers.Retransmission.Start(f.rtxTmrInt, f.onRetransmission)
		}
	}

	f.mu.Unlock()

	if !owned {
		return nil
	}
	return f.tx.Transmit(f.RemoteAddr, buf, mayBlock)
}

// timeNow is a seam so tests can freeze time if ever needed; today it is
// plain wall-clock time.
func timeNow() time.Time { return time.Now() }

// onSenderInactivity is the sender-inactivity timer callback (spec.md
// §4.3). This specification version is a documented stub: it marks the
// next PDU as starting a new run but does not purge rtxq/cwq or notify
// the upper consumer (an explicitly unresolved open question upstream).
func (f *Flow) onSenderInactivity() {
	f.mu.Lock()
	f.setDRF = true
	idle := f.onIdle
	f.mu.Unlock()
	if idle != nil {
		idle("sender-inactivity")
	}
}

// onReceiverInactivity is the receiver-inactivity timer callback. Also a
// documented stub, matching onSenderInactivity.
func (f *Flow) onReceiverInactivity() {
	f.mu.Lock()
	idle := f.onIdle
	f.mu.Unlock()
	if idle != nil {
		idle("receiver-inactivity")
	}
}

// onRetransmission is the retransmission timer callback (spec.md §4.3).
// It collects the batch to resend under the flow lock, then transmits
// after releasing it so the lock is never held across a lower-layer call.
func (f *Flow) onRetransmission() {
	f.mu.Lock()
	now := timeNow()
	var batch []*buffer.Buffer
	n := f.rtxTmrNext
	for n != nil && !n.Expiry.After(now) {
		clone := n.Clone(f.Flavour.CommonHeaderSize())
		clone.Owner = f
		batch = append(batch, clone)
		n.Expiry = n.Expiry.Add(f.rtxTmrInt)
		f.Stats.incRetransmissions()
		n = n.Next
	}
	if n == nil {
		// Every entry was due and has had its deadline pushed back; keep
		// the timer armed while rtxq is non-empty by restarting at the head.
		n = f.rtxq.Front()
	}
	f.rtxTmrNext = n
	if n != nil {
		f.timers.Retransmission.Start(f.rtxTmrInt, f.onRetransmission)
	}
	remoteAddr := f.RemoteAddr
	f.mu.Unlock()

	for _, clone := range batch {
		_ = f.tx.Transmit(remoteAddr, clone, false)
	}
}

// ReceiveData implements the DTP data-receive path (spec.md §4.6). h is
// the already-decoded header; buf's header has already been popped by
// the caller (the receive pipeline), leaving only the SDU payload. h.Type
// must be pci.TypeDT — control PDUs are routed to ReceiveControl instead.
func (f *Flow) ReceiveData(h pci.Header, buf *buffer.Buffer) {
	f.mu.Lock()

	if f.cfg.DTCPPresent {
		f.timers.ReceiverInactivity.Start(2*f.derived.mplRA, f.onReceiverInactivity)
	}

	buf.Seq = h.Seq

	if h.DRF() {
		f.rcvLWE = h.Seq + 1
		f.rcvLWEPriv = h.Seq + 1
		f.maxSeqRcvd = int64(h.Seq)
		f.seqq = queue{}
		ctrl := f.svUpdateLocked()
		f.Stats.addRx(1, h.Length)
		f.mu.Unlock()

		f.deliverUpward(buf)
		f.transmitControl(ctrl)
		return
	}

	if h.Seq < f.rcvLWEPriv {
		f.Stats.incRxErr()
		f.Stats.incDrops()
		var ctrl *buffer.Buffer
		if f.cfg.DTCP.FlowControl && f.rcvLWE >= f.lastSndDataAck {
			ctrl = f.buildAckFCLocked()
			f.lastSndDataAck = f.rcvLWE
		}
		f.mu.Unlock()
		if f.logLimiter.Allow("duplicate") {
			logging.WithFields(map[string]interface{}{"flow": f.Handle, "cep": f.LocalCEP, "reason": "duplicate"}).Warn("dropping duplicate PDU")
		}
		buf.Free()
		f.transmitControl(ctrl)
		return
	}

	if int64(h.Seq) > f.maxSeqRcvd {
		f.maxSeqRcvd = int64(h.Seq)
	}

	// contiguous is the only case delivered immediately: seq is exactly the
	// next expected one. Any other non-duplicate arrival is buffered in
	// seqq (if within gap tolerance) or dropped (if not) — the literal
	// gap<=max_sdu_gap "deliver" formula of the prose would jump rcv_lwe_priv
	// ahead for any in-tolerance out-of-order PDU, which contradicts the
	// reorder-then-catch-up scenario's requirement that out-of-order
	// arrivals sit in seqq until the gap is actually filled.
	contiguous := h.Seq == f.rcvLWEPriv
	gap := h.Seq - f.rcvLWEPriv

	inOrderRequired := f.cfg.InOrderDelivery || f.cfg.DTCPPresent
	drop := !contiguous && inOrderRequired && f.cfg.DTCP.InitialA == 0 && !f.cfg.DTCP.RtxControl && gap > f.cfg.MaxSDUGap

	f.Stats.addRx(1, h.Length)

	switch {
	case contiguous:
		f.rcvLWEPriv = h.Seq + 1
		var popped []*buffer.Buffer
		for {
			head := f.seqq.Front()
			if head == nil || head.Seq != f.rcvLWEPriv {
				break
			}
			popped = append(popped, f.seqq.PopFront())
			f.rcvLWEPriv++
		}
		var ctrl *buffer.Buffer
		if f.upward != nil {
			f.rcvLWE = f.rcvLWEPriv
			ctrl = f.svUpdateLocked()
		}
		f.mu.Unlock()

		f.deliverUpward(buf)
		for _, b := range popped {
			f.deliverUpward(b)
		}
		f.transmitControl(ctrl)

	case drop:
		f.Stats.incRxErr()
		f.Stats.incDrops()
		f.mu.Unlock()
		buf.Free()

	default:
		if !f.seqq.InsertSorted(buf) {
			f.Stats.incRxErr()
			f.Stats.incDrops()
			f.mu.Unlock()
			buf.Free()
			return
		}
		if f.seqq.Len() > MaxSeqqLen {
			f.seqq.Remove(buf)
			f.Stats.incRxErr()
			f.Stats.incDrops()
			f.mu.Unlock()
			if f.logLimiter.Allow("seqq-overflow") {
				logging.WithFields(map[string]interface{}{"flow": f.Handle, "cep": f.LocalCEP, "reason": "seqq-overflow"}).Warn("sequencing queue full, dropping PDU")
			}
			buf.Free()
			return
		}
		ctrl := f.svUpdateLocked()
		f.mu.Unlock()
		f.transmitControl(ctrl)
	}
}

// deliverUpward hands one fully-ordered PDU's payload to the upper
// consumer and frees the buffer, matching sdu_rx_consumed semantics for
// a consumer that reads synchronously (spec.md §6.2).
func (f *Flow) deliverUpward(buf *buffer.Buffer) {
	if f.upward != nil {
		f.upward(buf)
	}
	buf.Free()
}

// transmitControl sends ctrl if non-nil, discarding it on send failure —
// control PDUs are best-effort, a future sv_update will resend current
// state.
func (f *Flow) transmitControl(ctrl *buffer.Buffer) {
	if ctrl == nil {
		return
	}
	if err := f.tx.Transmit(f.RemoteAddr, ctrl, false); err != nil {
		ctrl.Free()
	}
}
