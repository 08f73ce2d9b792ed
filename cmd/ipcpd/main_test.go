package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFlagsWithArgsDefaults(t *testing.T) {
	args, action := parseFlagsWithArgs(nil)
	assert.Empty(t, action)
	assert.Equal(t, uint64(0), args.address)
	assert.Empty(t, args.logLevel)
}

func TestParseFlagsWithArgsOverrides(t *testing.T) {
	args, action := parseFlagsWithArgs([]string{
		"--address", "7", "--log-level", "debug",
		"--peer-listen", "127.0.0.1:6000", "--peer-dial", "127.0.0.1:6001",
	})
	assert.Empty(t, action)
	assert.Equal(t, uint64(7), args.address)
	assert.Equal(t, "debug", args.logLevel)
	assert.Equal(t, "127.0.0.1:6000", args.peerListen)
	assert.Equal(t, "127.0.0.1:6001", args.peerDial)
}

func TestParseFlagsWithArgsHelp(t *testing.T) {
	_, action := parseFlagsWithArgs([]string{"--help"})
	assert.Equal(t, "help", action)
}

func TestParseFlagsWithArgsVersion(t *testing.T) {
	_, action := parseFlagsWithArgs([]string{"--version"})
	assert.Equal(t, "version", action)
}
