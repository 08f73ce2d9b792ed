package pduft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwner struct {
	name     string
	attached []*Entry
}

func (f *fakeOwner) AttachEntry(e *Entry) { f.attached = append(f.attached, e) }

func (f *fakeOwner) DetachEntry(e *Entry) {
	for i, cur := range f.attached {
		if cur == e {
			f.attached = append(f.attached[:i], f.attached[i+1:]...)
			return
		}
	}
}

func TestSetLookupRoundTrip(t *testing.T) {
	tbl := New()
	owner := &fakeOwner{name: "f1"}

	tbl.Set(42, owner)

	got, ok := tbl.Lookup(42)
	require.True(t, ok)
	assert.Same(t, owner, got)
	assert.Len(t, owner.attached, 1)
}

func TestSetIsIdempotent(t *testing.T) {
	tbl := New()
	owner := &fakeOwner{}

	tbl.Set(1, owner)
	tbl.Set(1, owner)

	assert.Equal(t, 1, tbl.Len())
	assert.Len(t, owner.attached, 1)
}

func TestSetTransfersOwnership(t *testing.T) {
	tbl := New()
	first := &fakeOwner{name: "first"}
	second := &fakeOwner{name: "second"}

	tbl.Set(7, first)
	tbl.Set(7, second)

	got, ok := tbl.Lookup(7)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Empty(t, first.attached)
	assert.Len(t, second.attached, 1)
}

func TestDeleteRemovesEntry(t *testing.T) {
	tbl := New()
	owner := &fakeOwner{}
	e := tbl.Set(3, owner)

	tbl.Delete(e)

	_, ok := tbl.Lookup(3)
	assert.False(t, ok)
	assert.Empty(t, owner.attached)
}

func TestFlushRemovesAll(t *testing.T) {
	tbl := New()
	a, b := &fakeOwner{}, &fakeOwner{}
	tbl.Set(1, a)
	tbl.Set(2, b)

	tbl.Flush()

	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, a.attached)
	assert.Empty(t, b.attached)
}
