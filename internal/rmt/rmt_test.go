package rmt

import (
	"sync"
	"testing"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/coreerr"
	"github.com/samsneelam1981/rlite-go/internal/pduft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLowerFlow struct {
	mu       sync.Mutex
	written  []*buffer.Buffer
	blocking bool
	entries  []*pduft.Entry
}

func (f *fakeLowerFlow) Write(pdu *buffer.Buffer, mayBlock bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocking {
		return coreerr.WouldBlock
	}
	f.written = append(f.written, pdu)
	return nil
}

func (f *fakeLowerFlow) AttachEntry(e *pduft.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *fakeLowerFlow) DetachEntry(e *pduft.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.entries {
		if cur == e {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

// Scenario 6: forwarding miss.
func TestTransmitHostUnreachable(t *testing.T) {
	table := pduft.New()
	r := New(42, table, func(*buffer.Buffer) { t.Fatal("loopback should not be called") })

	buf := buffer.Allocate(4, 0)
	err := r.Transmit(99, buf, false)
	assert.ErrorIs(t, err, coreerr.HostUnreachable)
	assert.True(t, buf.Freed())
}

func TestTransmitLoopback(t *testing.T) {
	table := pduft.New()
	var got *buffer.Buffer
	r := New(42, table, func(pdu *buffer.Buffer) { got = pdu })

	buf := buffer.Allocate(4, 0)
	require.NoError(t, r.Transmit(42, buf, false))
	assert.Same(t, buf, got)
}

func TestTransmitForwardsViaPDUFT(t *testing.T) {
	table := pduft.New()
	lf := &fakeLowerFlow{}
	table.Set(7, lf)
	r := New(42, table, nil)

	buf := buffer.Allocate(4, 0)
	require.NoError(t, r.Transmit(7, buf, false))
	assert.Equal(t, []*buffer.Buffer{buf}, lf.written)
}

func TestTransmitDefersOnWouldBlock(t *testing.T) {
	table := pduft.New()
	lf := &fakeLowerFlow{blocking: true}
	table.Set(7, lf)
	r := New(42, table, nil)

	buf := buffer.Allocate(4, 0)
	require.NoError(t, r.Transmit(7, buf, false))
	assert.Equal(t, 1, r.DeferredLen(lf))
}

func TestTransmitDropsWhenDeferredQueueFull(t *testing.T) {
	table := pduft.New()
	lf := &fakeLowerFlow{blocking: true}
	table.Set(7, lf)
	r := New(42, table, nil)

	for i := 0; i < RMTQMaxLen; i++ {
		require.NoError(t, r.Transmit(7, buffer.Allocate(1, 0), false))
	}
	assert.Equal(t, RMTQMaxLen, r.DeferredLen(lf))

	overflow := buffer.Allocate(1, 0)
	require.NoError(t, r.Transmit(7, overflow, false))
	assert.Equal(t, RMTQMaxLen, r.DeferredLen(lf))
	assert.True(t, overflow.Freed())
	assert.Equal(t, uint64(1), r.Drops())
}

func TestResumeDeferredRetriesInOrder(t *testing.T) {
	table := pduft.New()
	lf := &fakeLowerFlow{blocking: true}
	table.Set(7, lf)
	r := New(42, table, nil)

	a := buffer.Allocate(1, 0)
	b := buffer.Allocate(1, 0)
	require.NoError(t, r.Transmit(7, a, false))
	require.NoError(t, r.Transmit(7, b, false))
	assert.Equal(t, 2, r.DeferredLen(lf))

	lf.blocking = false
	r.ResumeDeferred(lf)
	assert.Equal(t, 0, r.DeferredLen(lf))
	assert.Equal(t, []*buffer.Buffer{a, b}, lf.written)
}
