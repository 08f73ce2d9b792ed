// Package rmt implements the Relaying and Multiplexing Task (spec.md
// §4.4): PDUFT lookup, loopback-to-self, and the bounded deferred queue
// that absorbs a lower flow's backpressure in non-blocking mode. It
// implements flow.Transmitter so the flow package never imports it.
package rmt

import (
	"errors"
	"sync"
	"time"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/coreerr"
	"github.com/samsneelam1981/rlite-go/internal/logging"
	"github.com/samsneelam1981/rlite-go/internal/pduft"
)

// RMTQMaxLen bounds the per-lower-flow deferred-transmission queue
// (spec.md §4.4 RMTQ_MAX_LEN).
const RMTQMaxLen = 64

// LowerFlow is what a PDUFT entry must resolve to for RMT to use it: a
// writable N-1 conduit that is also a pduft.Owner (so destroying it
// cleans up the forwarding entries pointing at it).
type LowerFlow interface {
	pduft.Owner
	Write(pdu *buffer.Buffer, mayBlock bool) error
}

// RMT relays PDUs toward their destination address via the forwarding
// table, or loops them back to the local receive pipeline when the
// destination is this IPCP's own address.
type RMT struct {
	ownAddr  uint64
	table    *pduft.Table
	loopback func(pdu *buffer.Buffer)

	mu       sync.Mutex
	deferred map[LowerFlow][]*buffer.Buffer

	logLimiter *logging.RateLimiter
	drops      uint64
}

// New constructs an RMT for an IPCP whose own address is ownAddr. loopback
// is called (off any RMT-internal lock) for every PDU addressed to ownAddr.
func New(ownAddr uint64, table *pduft.Table, loopback func(pdu *buffer.Buffer)) *RMT {
	return &RMT{
		ownAddr:    ownAddr,
		table:      table,
		loopback:   loopback,
		deferred:   make(map[LowerFlow][]*buffer.Buffer),
		logLimiter: logging.NewRateLimiter(time.Second),
	}
}

// Transmit implements flow.Transmitter and spec.md §4.4's transmit
// operation.
func (r *RMT) Transmit(dstAddr uint64, pdu *buffer.Buffer, mayBlock bool) error {
	if dstAddr == r.ownAddr {
		r.loopback(pdu)
		return nil
	}

	owner, ok := r.table.Lookup(dstAddr)
	if !ok {
		pdu.Free()
		return coreerr.HostUnreachable
	}
	lf, ok := owner.(LowerFlow)
	if !ok {
		pdu.Free()
		return coreerr.HostUnreachable
	}

	err := lf.Write(pdu, mayBlock)
	if err == nil {
		return nil
	}
	if errors.Is(err, coreerr.WouldBlock) {
		r.deferOrDrop(lf, pdu)
		return nil
	}
	pdu.Free()
	return err
}

// deferOrDrop enqueues pdu for lf's deferred queue, dropping it with a
// rate-limited log (and counting it) if that queue is already at
// RMTQMaxLen (spec.md §4.4 step 5, §7 drop policy).
func (r *RMT) deferOrDrop(lf LowerFlow, pdu *buffer.Buffer) {
	r.mu.Lock()
	q := r.deferred[lf]
	if len(q) >= RMTQMaxLen {
		r.mu.Unlock()
		r.drops++
		if r.logLimiter.Allow("rmtq-overflow") {
			logging.WithFields(map[string]interface{}{"reason": "rmtq-overflow"}).Warn("deferred transmission queue full, dropping PDU")
		}
		pdu.Free()
		return
	}
	r.deferred[lf] = append(q, pdu)
	r.mu.Unlock()
}

// Drops reports how many PDUs have been dropped for deferred-queue
// overflow, for diagnostics and metrics.
func (r *RMT) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

// DeferredLen reports how many PDUs are currently queued for lf, for
// tests and diagnostics.
func (r *RMT) DeferredLen(lf LowerFlow) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deferred[lf])
}

// ResumeDeferred is called when lf signals it can accept writes again
// (a transmit-completion notification from the lower layer); it retries
// queued PDUs in FIFO order until one would block again or the queue
// drains.
func (r *RMT) ResumeDeferred(lf LowerFlow) {
	for {
		r.mu.Lock()
		q := r.deferred[lf]
		if len(q) == 0 {
			r.mu.Unlock()
			return
		}
		pdu := q[0]
		r.mu.Unlock()

		if err := lf.Write(pdu, false); err != nil {
			if errors.Is(err, coreerr.WouldBlock) {
				return
			}
			pdu.Free()
		}

		r.mu.Lock()
		q = r.deferred[lf]
		if len(q) > 0 && q[0] == pdu {
			r.deferred[lf] = q[1:]
		}
		r.mu.Unlock()
	}
}

// MgmtSend implements mgmt_send (spec.md §4.9): routes via PDUFT when
// lowerPort is nil (address-routed), otherwise writes directly to the
// given local lower-port flow (port-routed).
func (r *RMT) MgmtSend(dstAddr uint64, lowerPort LowerFlow, pdu *buffer.Buffer) error {
	if lowerPort != nil {
		return lowerPort.Write(pdu, false)
	}
	return r.Transmit(dstAddr, pdu, false)
}
