// Package shimudp is a real UDP-backed lower flow (spec.md §6.3 N-1
// flow): it carries already PCI-encoded PDUs as opaque UDP datagrams
// between two IPC processes' shims. It deliberately does not
// reimplement sequencing, acknowledgment, or retransmission — that is
// DTP/DTCP's job one layer up (internal/flow) — and limits itself to
// the socket plumbing a lower flow actually owns: datagram send/
// receive, MTU enforcement, and a clean shutdown. Grounded on the
// teacher's internal/transport/udp Connection for its read-loop/Close
// lifecycle shape (a deadline-polling receive goroutine, a
// closeChan/sync.Once/WaitGroup shutdown), stripped of everything that
// duplicated DTP/DTCP's own state machine.
package shimudp

import (
	"errors"
	"hash/fnv"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/coreerr"
	"github.com/samsneelam1981/rlite-go/internal/pduft"
)

// MTU bounds, carried over from the teacher's MS-RDPEUDP constants: a
// UDP lower flow below DTP/DTCP still needs a sane maximum datagram
// size to avoid IP fragmentation.
const (
	MinMTU     = 1132
	MaxMTU     = 1232
	DefaultMTU = 1232

	readPollInterval = 100 * time.Millisecond
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("shimudp: closed")

// Stats are the counters a lower flow exposes for diagnostics,
// mirroring the teacher's ConnectionStats shape reduced to what a
// stateless datagram shim can actually report.
type Stats struct {
	PacketsSent, PacketsReceived uint64
	BytesSent, BytesReceived     uint64
}

// Flow is a point-to-point UDP lower flow. Its Address is a stable
// hash of the remote endpoint, used as the rmt.LowerFlow's PDUFT key
// space entry.
type Flow struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	addr   uint64
	mtu    int

	deliver func(*buffer.Buffer)

	closeCh    chan struct{}
	closedOnce sync.Once
	wg         sync.WaitGroup

	entriesMu sync.Mutex
	entries   []*pduft.Entry

	packetsSent, packetsReceived uint64
	bytesSent, bytesReceived     uint64
}

// AddrFromUDP derives a stable numeric lower-flow address from a UDP
// endpoint, for PDUFT registration and flow hand-off.
func AddrFromUDP(addr *net.UDPAddr) uint64 {
	h := fnv.New64a()
	h.Write([]byte(addr.String()))
	return h.Sum64()
}

// Dial opens a UDP socket bound to localAddr and connected to
// remoteAddr, and starts the receive loop handing each received datagram,
// undecoded, to deliver (typically rmt.RMT's loopback or recv.Pipeline.Receive). mtu
// of 0 selects DefaultMTU.
func Dial(localAddr, remoteAddr string, mtu int, deliver func(*buffer.Buffer)) (*Flow, error) {
	if mtu == 0 {
		mtu = DefaultMTU
	}
	if mtu < MinMTU || mtu > MaxMTU {
		mtu = DefaultMTU
	}

	var laddr *net.UDPAddr
	var err error
	if localAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", localAddr)
		if err != nil {
			return nil, err
		}
	}
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, err
	}

	f := &Flow{
		conn:    conn,
		remote:  raddr,
		addr:    AddrFromUDP(raddr),
		mtu:     mtu,
		deliver: deliver,
		closeCh: make(chan struct{}),
	}
	f.wg.Add(1)
	go f.receiveLoop()
	return f, nil
}

// Address implements lowerflow.Flow / rmt.LowerFlow.
func (f *Flow) Address() uint64 { return f.addr }

// String implements fmt.Stringer, for pduft.Table.Snapshot's CSV dump.
func (f *Flow) String() string { return "shimudp(" + f.remote.String() + ")" }

// AttachEntry implements pduft.Owner.
func (f *Flow) AttachEntry(e *pduft.Entry) {
	f.entriesMu.Lock()
	defer f.entriesMu.Unlock()
	f.entries = append(f.entries, e)
}

// DetachEntry implements pduft.Owner.
func (f *Flow) DetachEntry(e *pduft.Entry) {
	f.entriesMu.Lock()
	defer f.entriesMu.Unlock()
	for i, cur := range f.entries {
		if cur == e {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

// Write implements lowerflow.Flow / rmt.LowerFlow. UDP sockets never
// block on write in the way a bounded queue does, so mayBlock has no
// effect here: a send either succeeds or fails outright (the kernel
// socket buffer is the only queue, and net.UDPConn.Write does not
// expose backpressure the way a channel-based shim does).
func (f *Flow) Write(pdu *buffer.Buffer, mayBlock bool) error {
	payload := pdu.Payload()
	defer pdu.Free()

	if len(payload) > f.mtu {
		return coreerr.NoHeaderSpace
	}

	select {
	case <-f.closeCh:
		return ErrClosed
	default:
	}

	n, err := f.conn.Write(payload)
	if err != nil {
		return err
	}
	atomic.AddUint64(&f.packetsSent, 1)
	atomic.AddUint64(&f.bytesSent, uint64(n))
	return nil
}

func (f *Flow) receiveLoop() {
	defer f.wg.Done()
	buf := make([]byte, MaxMTU)
	for {
		select {
		case <-f.closeCh:
			return
		default:
		}

		f.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := f.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		atomic.AddUint64(&f.packetsReceived, 1)
		atomic.AddUint64(&f.bytesReceived, uint64(n))

		pdu := buffer.FromPayload(buf[:n], 0)
		if f.deliver != nil {
			f.deliver(pdu)
		} else {
			pdu.Free()
		}
	}
}

// Stats reports this flow's packet/byte counters.
func (f *Flow) Stats() Stats {
	return Stats{
		PacketsSent:     atomic.LoadUint64(&f.packetsSent),
		PacketsReceived: atomic.LoadUint64(&f.packetsReceived),
		BytesSent:       atomic.LoadUint64(&f.bytesSent),
		BytesReceived:   atomic.LoadUint64(&f.bytesReceived),
	}
}

// Close shuts down the socket and waits for the receive loop to exit.
func (f *Flow) Close() error {
	f.closedOnce.Do(func() { close(f.closeCh) })
	err := f.conn.Close()
	f.wg.Wait()
	return err
}
