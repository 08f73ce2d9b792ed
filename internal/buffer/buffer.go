// Package buffer implements the reference-counted PDU container used
// throughout the core: header push/pop, cloning for the retransmission
// queue, and the intrusive link used by the bounded per-flow queues.
package buffer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Errors returned by header manipulation.
var (
	ErrOutOfHeaderSpace = errors.New("buffer: out of header space")
	ErrTruncated        = errors.New("buffer: truncated, cannot pop header")
	ErrDoubleFree        = errors.New("buffer: double free")
)

// Buffer is a byte container with a reserved prefix for protocol headers.
// It keeps a reference count that Clone bumps for diagnostics; Free does
// not depend on it. Allocate reserves headerReserve bytes before the
// payload; PushHeader writes into that reserve (growing the header
// backwards, matching how DTP and DTCP build a PCI in front of an existing
// payload), PopHeader consumes from the front of the payload on receipt.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	off  int // start of the live region (header + payload) within data
	end  int // end of the live region within data

	refs int32
	freed bool

	// Expiry is used by the retransmission queue: the deadline at which
	// this clone is due for resend.
	Expiry time.Time

	// Owner is a back-reference to the owning flow, used by transmit
	// completion notifications and by rate-limited logging. Left as
	// interface{} so buffer has no import-time dependency on flow.
	Owner interface{}

	// Next/Prev form the intrusive doubly linked list used by cwq/rtxq/seqq.
	Next, Prev *Buffer

	// Seq caches the PDU's send sequence number for rtxq ordering without
	// re-parsing the header on every comparison.
	Seq uint64
}

// Allocate creates a buffer with dataLen payload bytes (zeroed) and
// headerReserve bytes of free space immediately before the payload.
func Allocate(dataLen, headerReserve int) *Buffer {
	total := dataLen + headerReserve
	b := &Buffer{
		data: make([]byte, total),
		off:  headerReserve,
		end:  total,
		refs: 1,
	}
	return b
}

// FromPayload wraps an existing payload slice with headerReserve bytes of
// free space in front of it. The slice is copied.
func FromPayload(payload []byte, headerReserve int) *Buffer {
	b := Allocate(len(payload), headerReserve)
	copy(b.Payload(), payload)
	return b
}

// Payload returns the current live region (header-consumed payload).
func (b *Buffer) Payload() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[b.off:b.end]
}

// Len returns the length of the current live region.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.end - b.off
}

// HeaderSpace returns the number of free bytes available before the live
// region for a future PushHeader call.
func (b *Buffer) HeaderSpace() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.off
}

// PushHeader reserves n bytes immediately before the live region and
// returns them for the caller to fill in. Fails if the reserved prefix is
// exhausted.
func (b *Buffer) PushHeader(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.off {
		return nil, ErrOutOfHeaderSpace
	}
	b.off -= n
	return b.data[b.off : b.off+n], nil
}

// PopHeader consumes n bytes from the front of the live region and returns
// them. Fails if fewer than n bytes remain.
func (b *Buffer) PopHeader(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.end-b.off < n {
		return nil, ErrTruncated
	}
	hdr := b.data[b.off : b.off+n]
	b.off += n
	return hdr, nil
}

// Clone produces an independent copy of the buffer's current live region,
// with a fresh headerReserve-byte prefix, for insertion into the
// retransmission queue. Clone is safe to call from timer/interrupt context:
// it does not touch the original's reference count beyond an atomic bump
// tracked for diagnostics.
func (b *Buffer) Clone(headerReserve int) *Buffer {
	b.mu.Lock()
	payload := make([]byte, b.end-b.off)
	copy(payload, b.data[b.off:b.end])
	seq := b.Seq
	owner := b.Owner
	b.mu.Unlock()

	atomic.AddInt32(&b.refs, 1)

	clone := FromPayload(payload, headerReserve)
	clone.Seq = seq
	clone.Owner = owner
	return clone
}

// Free releases the buffer immediately, whether or not it has been cloned
// (the reference count is not consulted). Calling Free more than once on
// the same buffer is a programming error and returns ErrDoubleFree rather
// than corrupting shared state.
func (b *Buffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return ErrDoubleFree
	}
	b.freed = true
	b.data = nil
	b.Next, b.Prev, b.Owner = nil, nil, nil
	return nil
}

// Freed reports whether Free has already been called.
func (b *Buffer) Freed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freed
}
