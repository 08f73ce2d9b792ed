// Package flow implements the DTP/DTCP per-flow state machine: sequence
// numbers, windows, the closed-window/retransmission/sequencing queues, the
// three timers, and the control-PDU logic (spec.md §3, §4.5-§4.8).
package flow

import (
	"sync"
	"time"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/logging"
	"github.com/samsneelam1981/rlite-go/internal/pci"
	"github.com/samsneelam1981/rlite-go/internal/pduft"
	"github.com/samsneelam1981/rlite-go/internal/timerset"
)

// Transmitter is the narrow interface flow uses to hand PDUs to the RMT,
// avoiding an import cycle (rmt.RMT implements this without flow needing to
// import rmt).
type Transmitter interface {
	Transmit(dstAddr uint64, pdu *buffer.Buffer, mayBlock bool) error
}

// Flow is one per-flow DTP/DTCP endpoint. Its lock (spec.md §5) guards
// everything below except Stats, which uses its own atomics so the
// management plane can read it lock-free.
type Flow struct {
	mu sync.Mutex

	LocalCEP   uint64
	RemoteCEP  uint64
	RemoteAddr uint64
	OwnAddr    uint64
	QoSID      uint64
	Flavour    pci.Flavour
	Handle     string

	cfg     Config
	derived derived

	// sender state
	setDRF        bool
	nextSeqToSend uint64
	lastSeqSent   uint64
	sndLWE        uint64
	sndRWE        uint64

	// receiver state
	rcvLWE         uint64
	rcvLWEPriv     uint64
	rcvRWE         uint64
	maxSeqRcvd     int64 // -1 == nothing received yet
	lastSndDataAck uint64

	// control-channel sequencing
	nextSndCtlSeq      uint64
	lastCtrlSeqRcvd    uint64
	haveLastCtrlSeqRcvd bool

	cwq, rtxq, seqq queue
	rtxTmrNext      *buffer.Buffer
	rtxTmrInt       time.Duration

	timers  timerset.Set
	entries []*pduft.Entry // PDUFT entries this flow owns (pduft.Owner)

	Stats Stats

	tx      Transmitter
	upward  func(pdu *buffer.Buffer)
	onIdle  func(reason string) // notified on sender/receiver inactivity, may be nil

	logLimiter *logging.RateLimiter
}

// New constructs and flow_init()s a flow (spec.md §4.8 / §6.2 flow_init).
func New(localCEP, remoteCEP, remoteAddr, ownAddr, qosID uint64, flavour pci.Flavour, cfg Config, tx Transmitter, upward func(*buffer.Buffer)) *Flow {
	f := &Flow{
		LocalCEP:   localCEP,
		RemoteCEP:  remoteCEP,
		RemoteAddr: remoteAddr,
		OwnAddr:    ownAddr,
		QoSID:      qosID,
		Flavour:    flavour,
		cfg:        cfg,
		derived:    cfg.derive(),
		maxSeqRcvd: -1,
		tx:         tx,
		upward:     upward,
		logLimiter: logging.NewRateLimiter(time.Second),
	}
	f.sndRWE = cfg.DTCP.FC.InitialCredit
	f.rcvRWE = cfg.DTCP.FC.InitialCredit
	f.rtxTmrInt = f.derived.mplRA // a reasonable initial RTO; tightened by peer ACK timing in a fuller implementation
	return f
}

// MaxCwqLen/MaxRtxqLen expose the derived bounds for tests and stats.
func (f *Flow) MaxCwqLen() int  { return f.derived.maxCwqLen }
func (f *Flow) MaxRtxqLen() int { return f.derived.maxRtxqLen }

// SetUpward attaches the consumer callback invoked on every in-order
// delivery (spec.md §4.6 step 10). Flows may be constructed before the
// application side of the flow is ready to consume; the management
// plane calls this once it is.
func (f *Flow) SetUpward(upward func(*buffer.Buffer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upward = upward
}

// AttachEntry implements pduft.Owner.
func (f *Flow) AttachEntry(e *pduft.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

// DetachEntry implements pduft.Owner.
func (f *Flow) DetachEntry(e *pduft.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.entries {
		if cur == e {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

// Destroy cancels all timers synchronously, drains the three queues, and
// removes every PDUFT entry this flow owns (spec.md §5, §6.2 destroy).
// table.Delete is re-entrant-safe to call while holding no flow lock (it
// calls back into DetachEntry, which takes the flow lock itself), so the
// entries are snapshotted first and the flow lock is released before
// calling into the table.
func (f *Flow) Destroy(table *pduft.Table) {
	f.timers.CancelAll()

	f.mu.Lock()
	owned := append([]*pduft.Entry(nil), f.entries...)
	drain := func(q *queue) {
		for {
			b := q.PopFront()
			if b == nil {
				break
			}
			b.Free()
		}
	}
	drain(&f.cwq)
	drain(&f.rtxq)
	drain(&f.seqq)
	f.rtxTmrNext = nil
	f.mu.Unlock()

	for _, e := range owned {
		table.Delete(e)
	}
}

// StatsSnapshot is the spec.md §6.2 flow_get_stats operation.
func (f *Flow) StatsSnapshot() Snapshot { return f.Stats.Snapshot() }

// QueueLens returns the current (cwq, rtxq, seqq) lengths, for tests and
// diagnostics.
func (f *Flow) QueueLens() (cwq, rtxq, seqq int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwq.Len(), f.rtxq.Len(), f.seqq.Len()
}

// Edges returns the current window edges, for tests and diagnostics.
func (f *Flow) Edges() (sndLWE, sndRWE, rcvLWE, rcvLWEPriv uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sndLWE, f.sndRWE, f.rcvLWE, f.rcvLWEPriv
}
