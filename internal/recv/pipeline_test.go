package recv

import (
	"testing"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/flow"
	"github.com/samsneelam1981/rlite-go/internal/pci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForwarder struct {
	calls []uint64
}

func (f *fakeForwarder) Transmit(dstAddr uint64, pdu *buffer.Buffer, mayBlock bool) error {
	f.calls = append(f.calls, dstAddr)
	pdu.Free()
	return nil
}

type noopTransmitter struct{}

func (noopTransmitter) Transmit(uint64, *buffer.Buffer, bool) error { return nil }

func encodeDT(t *testing.T, h pci.Header, flavour pci.Flavour, payload []byte) *buffer.Buffer {
	t.Helper()
	hdr, err := h.Encode(flavour)
	require.NoError(t, err)
	buf := buffer.FromPayload(append(hdr, payload...), 0)
	return buf
}

func TestReceiveForwardsNonLocalPDU(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New(1, pci.DefaultFlavour, fwd)

	h := pci.Header{DstAddr: 99, SrcAddr: 1, Type: pci.TypeDT}
	buf := encodeDT(t, h, pci.DefaultFlavour, []byte("x"))

	p.Receive(buf)
	assert.Equal(t, []uint64{99}, fwd.calls)
}

func TestReceiveDropsWhenNoFlowForCEP(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New(1, pci.DefaultFlavour, fwd)

	h := pci.Header{DstAddr: 1, DstCEP: 5, Type: pci.TypeDT}
	buf := encodeDT(t, h, pci.DefaultFlavour, []byte("x"))

	p.Receive(buf)
	assert.True(t, buf.Freed())
}

func TestReceiveDispatchesDataToFlow(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New(1, pci.DefaultFlavour, fwd)

	var delivered []byte
	f := flow.New(5, 6, 2, 1, 0, pci.DefaultFlavour, flow.Config{}, noopTransmitter{}, func(b *buffer.Buffer) {
		delivered = append(delivered, b.Payload()...)
	})
	p.RegisterFlow(f)

	h := pci.Header{DstAddr: 1, SrcAddr: 2, DstCEP: 5, SrcCEP: 6, Type: pci.TypeDT, Seq: 0}
	buf := encodeDT(t, h, pci.DefaultFlavour, []byte("hello"))

	p.Receive(buf)
	assert.Equal(t, "hello", string(delivered))
}
