package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopHeaderRoundTrip(t *testing.T) {
	b := Allocate(16, 8)
	orig := b.Payload()
	require.Len(t, orig, 16)

	hdr, err := b.PushHeader(4)
	require.NoError(t, err)
	require.Len(t, hdr, 4)
	assert.Equal(t, 20, b.Len())

	popped, err := b.PopHeader(4)
	require.NoError(t, err)
	assert.Equal(t, hdr, popped)
	assert.Equal(t, 16, b.Len())
}

func TestPushHeaderOutOfSpace(t *testing.T) {
	b := Allocate(4, 2)
	_, err := b.PushHeader(3)
	assert.ErrorIs(t, err, ErrOutOfHeaderSpace)
}

func TestPopHeaderTruncated(t *testing.T) {
	b := Allocate(2, 0)
	_, err := b.PopHeader(4)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestCloneIsIndependent(t *testing.T) {
	b := FromPayload([]byte{1, 2, 3}, 4)
	clone := b.Clone(4)

	require.NoError(t, b.Free())
	assert.True(t, b.Freed())
	assert.False(t, clone.Freed())
	assert.Equal(t, []byte{1, 2, 3}, clone.Payload())
}

func TestFreeIsSingleUse(t *testing.T) {
	b := Allocate(1, 0)
	require.NoError(t, b.Free())
	assert.ErrorIs(t, b.Free(), ErrDoubleFree)
}
