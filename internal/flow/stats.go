package flow

import "sync/atomic"

// Stats are the per-flow packet/byte counters of spec.md §3. All fields are
// updated with atomic ops so they can be read from the management plane
// (flow_get_stats, spec.md §6.2) without taking the flow lock, and written
// from timer/interrupt context without blocking on it either.
type Stats struct {
	TxPDUs  uint64
	TxBytes uint64
	RxPDUs  uint64
	RxBytes uint64
	RxErr   uint64
	Retransmissions uint64
	Drops   uint64
}

// Snapshot is an immutable copy of Stats safe to hand to callers (the
// Prometheus collector, flow_get_stats).
type Snapshot struct {
	TxPDUs, TxBytes, RxPDUs, RxBytes, RxErr, Retransmissions, Drops uint64
}

func (s *Stats) addTx(pdus, bytes uint64) {
	atomic.AddUint64(&s.TxPDUs, pdus)
	atomic.AddUint64(&s.TxBytes, bytes)
}

func (s *Stats) addRx(pdus, bytes uint64) {
	atomic.AddUint64(&s.RxPDUs, pdus)
	atomic.AddUint64(&s.RxBytes, bytes)
}

func (s *Stats) incRxErr() { atomic.AddUint64(&s.RxErr, 1) }

func (s *Stats) incRetransmissions() { atomic.AddUint64(&s.Retransmissions, 1) }

func (s *Stats) incDrops() { atomic.AddUint64(&s.Drops, 1) }

// Snapshot reads all counters consistently enough for diagnostics (each
// field is read atomically, though not as a single atomic transaction).
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TxPDUs:          atomic.LoadUint64(&s.TxPDUs),
		TxBytes:         atomic.LoadUint64(&s.TxBytes),
		RxPDUs:          atomic.LoadUint64(&s.RxPDUs),
		RxBytes:         atomic.LoadUint64(&s.RxBytes),
		RxErr:           atomic.LoadUint64(&s.RxErr),
		Retransmissions: atomic.LoadUint64(&s.Retransmissions),
		Drops:           atomic.LoadUint64(&s.Drops),
	}
}
