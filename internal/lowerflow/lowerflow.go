// Package lowerflow implements the N-1 flow interface RMT pushes PDUs
// into (spec.md §6.3): a bounded queue that reports WouldBlock in
// non-blocking mode and suspends the caller in blocking mode, the same
// queue-plus-channel shape the teacher's udp.Connection uses for its
// receive loop and its keepalive/retransmit plumbing.
package lowerflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/coreerr"
	"github.com/samsneelam1981/rlite-go/internal/pduft"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("lowerflow: closed")

// Flow is the lower-layer interface RMT consumes (spec.md §6.3): a
// non-blocking or blocking write, keyed by a stable numeric address
// (shim-specific — an Ethernet MAC hash, a UDP 4-tuple hash, or, for
// Loopback, the owning IPCP's own address).
type Flow interface {
	Write(pdu *buffer.Buffer, mayBlock bool) error
	Address() uint64
}

// Loopback is an in-memory lower flow that hands every written PDU to a
// deliver function, used as a stand-in for real shims (for example to
// join two IPCPs in tests). It is not how an IPCP reaches its own
// address: RMT hands such PDUs to the local pipeline directly. Its queue
// depth is the capacity given to NewLoopback.
type Loopback struct {
	addr    uint64
	queue   chan *buffer.Buffer
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu      sync.Mutex
	entries []*pduft.Entry
}

// NewLoopback starts a Loopback flow with the given queue capacity,
// delivering every written PDU to deliver on its own goroutine (so
// Write never calls deliver synchronously, matching the "no task
// suspends inside the per-flow critical sections" rule of spec.md §5).
func NewLoopback(addr uint64, capacity int, deliver func(*buffer.Buffer)) *Loopback {
	l := &Loopback{
		addr:    addr,
		queue:   make(chan *buffer.Buffer, capacity),
		closeCh: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run(deliver)
	return l
}

func (l *Loopback) run(deliver func(*buffer.Buffer)) {
	defer l.wg.Done()
	for {
		select {
		case pdu := <-l.queue:
			deliver(pdu)
		case <-l.closeCh:
			for {
				select {
				case pdu := <-l.queue:
					deliver(pdu)
				default:
					return
				}
			}
		}
	}
}

// Address implements Flow.
func (l *Loopback) Address() uint64 { return l.addr }

// String implements fmt.Stringer so pduft.Table.Snapshot reports
// something more useful than a bare Go type name in pduftctl's dump.
func (l *Loopback) String() string { return fmt.Sprintf("loopback(addr=%d)", l.addr) }

// AttachEntry implements pduft.Owner, so a Loopback can be registered
// directly in a forwarding table as an rmt.LowerFlow.
func (l *Loopback) AttachEntry(e *pduft.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// DetachEntry implements pduft.Owner.
func (l *Loopback) DetachEntry(e *pduft.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.entries {
		if cur == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// Write implements Flow. In non-blocking mode it returns
// coreerr.WouldBlock immediately if the queue is full, leaving pdu
// owned by the caller; in blocking mode it suspends until space frees
// up or the flow is closed.
func (l *Loopback) Write(pdu *buffer.Buffer, mayBlock bool) error {
	select {
	case <-l.closeCh:
		return ErrClosed
	default:
	}
	select {
	case l.queue <- pdu:
		return nil
	case <-l.closeCh:
		return ErrClosed
	default:
	}
	if !mayBlock {
		return coreerr.WouldBlock
	}
	select {
	case l.queue <- pdu:
		return nil
	case <-l.closeCh:
		return ErrClosed
	}
}

// Close stops accepting new PDUs and drains whatever is already queued
// to deliver before returning.
func (l *Loopback) Close() {
	l.once.Do(func() { close(l.closeCh) })
	l.wg.Wait()
}
