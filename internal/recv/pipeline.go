// Package recv implements the packet reception pipeline (spec.md §4.6
// entry point / C6): classifying an arriving PDU as forward-vs-local and
// data-vs-control, and dispatching to the right flow method.
package recv

import (
	"sync"
	"time"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/flow"
	"github.com/samsneelam1981/rlite-go/internal/logging"
	"github.com/samsneelam1981/rlite-go/internal/pci"
)

// Forwarder is the narrow interface the pipeline needs to relay a PDU
// that is not addressed to this IPCP; flow.Transmitter has the same
// shape (RMT implements both with one method).
type Forwarder interface {
	Transmit(dstAddr uint64, pdu *buffer.Buffer, mayBlock bool) error
}

// Pipeline is sdu_rx (spec.md §6.2): the single entry point lower flows
// call on every received PDU.
type Pipeline struct {
	ownAddr  uint64
	flavour  pci.Flavour
	fwd      Forwarder

	mu    sync.RWMutex
	flows map[uint64]*flow.Flow

	logLimiter *logging.RateLimiter
}

// New constructs a reception pipeline for an IPCP with the given own
// address, PCI flavour, and forwarder (RMT, in production).
func New(ownAddr uint64, flavour pci.Flavour, fwd Forwarder) *Pipeline {
	return &Pipeline{
		ownAddr:    ownAddr,
		flavour:    flavour,
		fwd:        fwd,
		flows:      make(map[uint64]*flow.Flow),
		logLimiter: logging.NewRateLimiter(time.Second),
	}
}

// RegisterFlow makes f reachable by incoming PDUs addressed to its
// local CEP-id. Called once flow_init has set up f (spec.md §4.8).
func (p *Pipeline) RegisterFlow(f *flow.Flow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flows[f.LocalCEP] = f
}

// UnregisterFlow removes a flow from the demultiplexing table, called
// from flow destruction.
func (p *Pipeline) UnregisterFlow(localCEP uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.flows, localCEP)
}

func (p *Pipeline) lookup(localCEP uint64) (*flow.Flow, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.flows[localCEP]
	return f, ok
}

// Receive implements sdu_rx (spec.md §4.6). It consumes pdu in every
// case: forwarded, dispatched to a flow, or dropped.
func (p *Pipeline) Receive(pdu *buffer.Buffer) {
	h, n, err := pci.Decode(pdu.Payload(), p.flavour)
	if err != nil {
		pdu.Free()
		return
	}

	if h.DstAddr != p.ownAddr {
		// Forwarding errors are swallowed by design (spec.md §4.6):
		// Transmit already frees pdu on every error path.
		_ = p.fwd.Transmit(h.DstAddr, pdu, false)
		return
	}

	f, ok := p.lookup(h.DstCEP)
	if !ok {
		if p.logLimiter.Allow("no-flow-for-cep") {
			logging.WithFields(map[string]interface{}{"cep": h.DstCEP, "reason": "no-flow-for-cep"}).Warn("no flow for destination CEP-id, dropping PDU")
		}
		pdu.Free()
		return
	}

	if _, err := pdu.PopHeader(n); err != nil {
		pdu.Free()
		return
	}

	if pci.IsData(h.Type) {
		f.ReceiveData(h, pdu)
		return
	}
	f.ReceiveControl(h, pdu)
}
