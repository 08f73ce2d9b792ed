package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/samsneelam1981/rlite-go/internal/pduft"
)

func TestCanonicalizeSortsAndDedupesLastWins(t *testing.T) {
	rows := []*pduft.Row{
		{Addr: 3, Owner: "c"},
		{Addr: 1, Owner: "a-old"},
		{Addr: 2, Owner: "b"},
		{Addr: 1, Owner: "a-new"},
	}

	got := canonicalize(rows)

	require := []pduft.Row{
		{Addr: 1, Owner: "a-new"},
		{Addr: 2, Owner: "b"},
		{Addr: 3, Owner: "c"},
	}
	assert.Len(t, got, 3)
	for i, r := range require {
		assert.Equal(t, r, *got[i])
	}
}

func TestCanonicalizeEmpty(t *testing.T) {
	assert.Empty(t, canonicalize(nil))
}
