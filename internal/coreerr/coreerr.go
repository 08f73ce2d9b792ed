// Package coreerr defines the error kinds surfaced by the core (spec.md
// §7), shared between flow, rmt, lowerflow, shimudp, and ipcp so each can use errors.Is
// against the same sentinels without importing one another.
package coreerr

import "errors"

var (
	// HostUnreachable: no PDUFT entry for a non-local destination.
	HostUnreachable = errors.New("core: host unreachable")
	// WouldBlock: backpressure — rtxq full, cwq full at the window edge, or
	// the lower flow signalled backpressure in non-blocking mode.
	WouldBlock = errors.New("core: would block")
	// NoHeaderSpace: the buffer lacks reserved prefix for the header.
	NoHeaderSpace = errors.New("core: no header space")
	// InvalidArgument: malformed management-send request.
	InvalidArgument = errors.New("core: invalid argument")
	// OutOfMemory: allocation failed in an interrupt-safe path.
	OutOfMemory = errors.New("core: out of memory")
)
