// Package ipcp implements the Core API consumed by the management plane
// (spec.md §6.2): create/destroy, address configuration, flow
// initialisation, forwarding-table maintenance, and the sdu_write /
// sdu_rx / sdu_rx_consumed / flow_get_stats data-plane entry points. It
// wires together buffer, pci, pduft, timerset, flow, rmt, recv, and
// metrics into one IPC process instance.
package ipcp

import (
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/coreerr"
	"github.com/samsneelam1981/rlite-go/internal/flow"
	"github.com/samsneelam1981/rlite-go/internal/metrics"
	"github.com/samsneelam1981/rlite-go/internal/pci"
	"github.com/samsneelam1981/rlite-go/internal/pduft"
	"github.com/samsneelam1981/rlite-go/internal/recv"
	"github.com/samsneelam1981/rlite-go/internal/rmt"
)

// FlowDef is the flow descriptor the management plane populates before
// calling FlowInit (spec.md §6.2 flow_init "called after the management
// plane has populated flow config and CEPs").
type FlowDef struct {
	LocalCEP   uint64
	RemoteCEP  uint64
	RemoteAddr uint64
	QoSID      uint64
	Config     flow.Config
}

// IPCP is one IPC process instance: its own address, its PCI flavour,
// its forwarding table, RMT, receive pipeline, and metrics collector,
// plus the set of flows it currently hosts.
type IPCP struct {
	mu      sync.Mutex
	address uint64
	flavour pci.Flavour

	Table    *pduft.Table
	RMT      *rmt.RMT
	Pipeline *recv.Pipeline
	Metrics  *metrics.Collector

	flows map[string]*flow.Flow
}

// New creates (spec.md §6.2 create) an IPCP with the given own address
// and PCI flavour. The RMT's loopback path is wired directly to the
// pipeline's Receive so a PDU addressed to this IPCP's own address is
// handed straight back to its own receive logic without going through a
// lower flow.
func New(address uint64, flavour pci.Flavour) *IPCP {
	p := &IPCP{
		address: address,
		flavour: flavour,
		flows:   make(map[string]*flow.Flow),
	}
	p.Table = pduft.New()

	var pipeline *recv.Pipeline
	p.RMT = rmt.New(address, p.Table, func(pdu *buffer.Buffer) { pipeline.Receive(pdu) })
	pipeline = recv.New(address, flavour, p.RMT)
	p.Pipeline = pipeline

	p.Metrics = metrics.New(p.RMT)
	return p
}

// Config implements config(ipcp, "address", value) (spec.md §6.2). Only
// "address" is a recognised key.
func (p *IPCP) Config(key string, value uint64) error {
	if key != "address" {
		return fmt.Errorf("%w: unknown config key %q", coreerr.InvalidArgument, key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.address = value
	return nil
}

// Address returns this IPCP's own address.
func (p *IPCP) Address() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address
}

// FlowInit implements flow_init (spec.md §4.8, §6.2): constructs the DTP
// block, registers the flow for demultiplexing, and returns it. The
// flow's handle (used for metrics and management-plane lookups) is a
// freshly minted xid.
func (p *IPCP) FlowInit(def FlowDef) *flow.Flow {
	p.mu.Lock()
	ownAddr := p.address
	p.mu.Unlock()

	f := flow.New(def.LocalCEP, def.RemoteCEP, def.RemoteAddr, ownAddr, def.QoSID, p.flavour, def.Config, p.RMT, nil)
	f.Handle = xid.New().String()

	p.Pipeline.RegisterFlow(f)
	p.Metrics.AddFlow(f)

	p.mu.Lock()
	p.flows[f.Handle] = f
	p.mu.Unlock()
	return f
}

// SetUpwardConsumer attaches the function that receives delivered SDUs
// for f. Flows are constructed with no consumer attached; the
// management plane calls this once the application side of the flow is
// ready, matching the "if a consumer above is attached" conditional in
// spec.md §4.6 step 10.
func (p *IPCP) SetUpwardConsumer(f *flow.Flow, upward func(*buffer.Buffer)) {
	f.SetUpward(upward)
}

// FlowDestroy implements destroy(flow) (spec.md §6.2): unregisters the
// flow from the pipeline and metrics, then tears down its DTP state.
func (p *IPCP) FlowDestroy(f *flow.Flow) {
	p.Pipeline.UnregisterFlow(f.LocalCEP)
	p.Metrics.RemoveFlow(f.Handle)
	f.Destroy(p.Table)

	p.mu.Lock()
	delete(p.flows, f.Handle)
	p.mu.Unlock()
}

// PDUFTSet implements pduft_set (spec.md §6.2, §4.2).
func (p *IPCP) PDUFTSet(addr uint64, lf rmt.LowerFlow) *pduft.Entry {
	return p.Table.Set(addr, lf)
}

// PDUFTDel implements pduft_del.
func (p *IPCP) PDUFTDel(e *pduft.Entry) { p.Table.Delete(e) }

// PDUFTFlush implements pduft_flush.
func (p *IPCP) PDUFTFlush() { p.Table.Flush() }

// MgmtSDUWrite implements mgmt_send (spec.md §4.9, §6.2). lowerPort
// selects a port-routed send when non-nil; otherwise dstAddr is
// resolved through the forwarding table.
func (p *IPCP) MgmtSDUWrite(dstAddr uint64, lowerPort rmt.LowerFlow, payload []byte) error {
	p.mu.Lock()
	ownAddr := p.address
	p.mu.Unlock()

	h := pci.Header{
		DstAddr: dstAddr,
		SrcAddr: ownAddr,
		Type:    pci.TypeMGMT,
		Length:  uint64(len(payload)),
	}
	buf := buffer.FromPayload(payload, p.flavour.CommonHeaderSize())
	encoded, err := h.Encode(p.flavour)
	if err != nil {
		buf.Free()
		return err
	}
	hdr, err := buf.PushHeader(len(encoded))
	if err != nil {
		buf.Free()
		return fmt.Errorf("%w", coreerr.NoHeaderSpace)
	}
	copy(hdr, encoded)

	return p.RMT.MgmtSend(dstAddr, lowerPort, buf)
}

// SDUWrite implements sdu_write (spec.md §6.2): a thin pass-through to
// the flow's DTP send path.
func (p *IPCP) SDUWrite(f *flow.Flow, payload []byte, mayBlock bool) error {
	return f.Send(f.NewDataBuffer(payload), mayBlock)
}

// SDURx implements sdu_rx (spec.md §6.2): the entry point lower flows
// call on every received PDU.
func (p *IPCP) SDURx(pdu *buffer.Buffer) { p.Pipeline.Receive(pdu) }

// SDURxConsumed implements sdu_rx_consumed (spec.md §6.2).
func (p *IPCP) SDURxConsumed(f *flow.Flow) { f.NotifyConsumed() }

// FlowGetStats implements flow_get_stats.
func (p *IPCP) FlowGetStats(f *flow.Flow) flow.Snapshot { return f.StatsSnapshot() }
