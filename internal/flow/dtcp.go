package flow

import (
	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/logging"
	"github.com/samsneelam1981/rlite-go/internal/pci"
)

// buildControlBuffer allocates a zero-payload buffer sized for this
// flow's flavour's control header and writes h into it.
func (f *Flow) buildControlBuffer(h pci.Header) *buffer.Buffer {
	reserve := f.Flavour.CommonHeaderSize() + f.Flavour.ControlExtraSize()
	buf := buffer.Allocate(0, reserve)
	if err := f.writeHeader(buf, h); err != nil {
		buf.Free()
		return nil
	}
	return buf
}

func (f *Flow) baseControlHeader() pci.Header {
	return pci.Header{
		DstAddr:         f.RemoteAddr,
		SrcAddr:         f.OwnAddr,
		QoSID:           f.QoSID,
		DstCEP:          f.RemoteCEP,
		SrcCEP:          f.LocalCEP,
		LastCtrlSeqRcvd: f.lastCtrlSeqRcvd,
		NewLWE:          f.rcvLWE,
		NewRWE:          f.rcvRWE,
		MyLWE:           f.sndLWE,
		MyRWE:           f.sndRWE,
	}
}

// svUpdateLocked implements sv_update (spec.md §4.7). Must be called with
// f.mu held; returns at most one control PDU to transmit after unlocking.
func (f *Flow) svUpdateLocked() *buffer.Buffer {
	fc := f.cfg.DTCP.FlowControl
	rtx := f.cfg.DTCP.RtxControl
	if !fc && !rtx {
		return nil
	}
	if fc {
		f.rcvRWE = f.rcvLWE + f.cfg.DTCP.FC.InitialCredit
	}

	h := f.baseControlHeader()
	if rtx {
		h.Type = pci.ControlType(true, fc, pci.SubtypeACK)
		h.AckNackSeqNum = f.rcvLWE - 1
	} else {
		h.Type = pci.ControlType(false, true, 0)
	}
	h.Seq = f.nextSndCtlSeq
	f.nextSndCtlSeq++
	return f.buildControlBuffer(h)
}

// buildAckFCLocked builds the ACK+FC control PDU sent on receipt of a
// duplicate when flow control is enabled (spec.md §4.6 step 3). Must be
// called with f.mu held.
func (f *Flow) buildAckFCLocked() *buffer.Buffer {
	f.rcvRWE = f.rcvLWE + f.cfg.DTCP.FC.InitialCredit
	h := f.baseControlHeader()
	h.Type = pci.ControlType(true, true, pci.SubtypeACK)
	h.AckNackSeqNum = f.rcvLWE - 1
	h.Seq = f.nextSndCtlSeq
	f.nextSndCtlSeq++
	return f.buildControlBuffer(h)
}

// NotifyConsumed implements the sv_update half of sdu_rx_consumed
// (spec.md §6.2): the upper consumer has drained an already-delivered
// PDU, so the flow re-advertises its receive window if flow or
// retransmission control call for it.
func (f *Flow) NotifyConsumed() {
	f.mu.Lock()
	ctrl := f.svUpdateLocked()
	f.mu.Unlock()
	f.transmitControl(ctrl)
}

// ReceiveControl implements sdu_rx_ctrl (spec.md §4.7). h is the
// already-decoded header; buf holds no payload of interest past the
// header (control PDUs carry none) and is freed here.
func (f *Flow) ReceiveControl(h pci.Header, buf *buffer.Buffer) {
	if !pci.IsControl(h.Type) {
		buf.Free()
		return
	}

	f.mu.Lock()

	if f.haveLastCtrlSeqRcvd && h.Seq <= f.lastCtrlSeqRcvd {
		// Duplicate or stale control PDU; drop.
		f.Stats.incRxErr()
		f.Stats.incDrops()
		f.mu.Unlock()
		buf.Free()
		return
	}
	// A gap in h.Seq vs last_ctrl_seq_num_rcvd+1 is recognised but has no
	// further state to update — a policy hook (spec.md §9).
	f.lastCtrlSeqRcvd = h.Seq
	f.haveLastCtrlSeqRcvd = true

	preRtxLen := f.rtxq.Len()

	var drained []*buffer.Buffer
	if pci.HasFC(h.Type) {
		if h.NewRWE < f.sndRWE {
			if f.logLimiter.Allow("broken-peer-rwe") {
				logging.WithFields(map[string]interface{}{"flow": f.Handle, "cep": f.LocalCEP, "reason": "broken-peer-rwe"}).Warn("peer announced a right window edge below the current one; ignored")
			}
		} else {
			f.sndRWE = h.NewRWE
			for f.sndLWE < f.sndRWE {
				b := f.cwq.PopFront()
				if b == nil {
					break
				}
				f.sndLWE++
				f.lastSeqSent = b.Seq
				drained = append(drained, b)
				if f.cfg.DTCP.RtxControl {
					clone := b.Clone(f.Flavour.CommonHeaderSize())
					clone.Expiry = timeNow().Add(f.rtxTmrInt)
					clone.Owner = f
					f.rtxq.PushBack(clone)
					if f.rtxTmrNext == nil {
						f.rtxTmrNext = f.rtxq.Front()
					}
				}
			}
		}
	}

	if pci.HasAck(h.Type) && pci.AckSubtype(h.Type) == pci.SubtypeACK {
		removed := f.rtxq.RemoveMatching(func(b *buffer.Buffer) bool { return b.Seq <= h.AckNackSeqNum })
		for _, b := range removed {
			if b == f.rtxTmrNext {
				f.rtxTmrNext = nil
			}
			b.Free()
		}
		if len(removed) > 0 && f.rtxq.Len() > 0 && f.rtxTmrNext == nil {
			f.rtxTmrNext = f.rtxq.Front()
		}
	}
	// NACK, SACK, SNACK subtypes are recognised but not implemented: a
	// policy hook (spec.md §9).

	// The retransmission timer must be armed iff rtxq is non-empty
	// (spec.md §3): derive start/stop from the net empty<->non-empty
	// transition across both the FC drain above (which can newly
	// populate an empty rtxq) and the ACK trim above (which can newly
	// empty it), rather than tracking each branch's effect in isolation.
	postRtxLen := f.rtxq.Len()
	var stopRtx, startRtx bool
	switch {
	case preRtxLen == 0 && postRtxLen > 0:
		startRtx = true
	case preRtxLen > 0 && postRtxLen == 0:
		stopRtx = true
		f.rtxTmrNext = nil
	}

	remoteAddr := f.RemoteAddr
	f.mu.Unlock()
	buf.Free()

	// Timer Stop/Start happen outside the flow lock: Stop blocks until any
	// in-flight callback returns, and that callback re-acquires f.mu.
	if stopRtx {
		f.timers.Retransmission.Stop()
	} else if startRtx {
		f.timers.Retransmission.Start(f.rtxTmrInt, f.onRetransmission)
	}

	// There is no in-process send-side wait queue to wake here: Send
	// never blocks inside flow — it returns coreerr.WouldBlock immediately
	// and the caller retries, matching the non-blocking backpressure
	// contract of spec.md §7. Blocking suspension, where it exists, is
	// the lower flow's wait queue, handled in rmt.
	for _, b := range drained {
		_ = f.tx.Transmit(remoteAddr, b, false)
	}
}
