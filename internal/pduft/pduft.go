// Package pduft implements the PDU Forwarding Table (PDUFT): the single
// piece of shared mutable state in the core, mapping a destination address
// to the lower flow chosen to reach it (spec.md §4.2, §9).
package pduft

import (
	"fmt"
	"sort"
	"sync"
)

// Owner is implemented by whatever the table points entries at (a flow, in
// practice). A flow owns the list of entries that reference it so that
// destroying the flow can remove every entry it owns without scanning the
// whole table. Defined here as an interface, not a concrete flow type, so
// this package has no dependency on the flow package — the flow package
// depends on pduft, not the reverse.
type Owner interface {
	AttachEntry(e *Entry)
	DetachEntry(e *Entry)
}

// Entry is one (address -> owner) mapping. Entries carry a non-owning
// back-reference to their owner and are linked into the owner's
// owned-entries list by the owner itself.
type Entry struct {
	addr  uint64
	owner Owner
}

// Addr returns the destination address this entry forwards.
func (e *Entry) Addr() uint64 { return e.addr }

// Owner returns the entry's current owner.
func (e *Entry) Owner() Owner { return e.owner }

// Table is the forwarding table. All operations are serialised under a
// single table-wide mutex; lookup performs no allocation.
type Table struct {
	mu     sync.Mutex
	byAddr map[uint64]*Entry
}

// New creates an empty forwarding table.
func New() *Table {
	return &Table{byAddr: make(map[uint64]*Entry)}
}

// Set upserts address -> owner. Idempotent for the same (address, owner)
// pair; if another owner previously held the entry, ownership transfers:
// the old owner's DetachEntry is called and the new owner's AttachEntry is
// called while the entry itself is replaced atomically under the table
// lock. The lock is always released via defer, including on every return
// path, closing the error-path lock leak spec.md §9 calls out in the
// reference implementation.
func (t *Table) Set(addr uint64, owner Owner) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byAddr[addr]; ok {
		if existing.owner == owner {
			return existing
		}
		existing.owner.DetachEntry(existing)
		e := &Entry{addr: addr, owner: owner}
		t.byAddr[addr] = e
		owner.AttachEntry(e)
		return e
	}

	e := &Entry{addr: addr, owner: owner}
	t.byAddr[addr] = e
	owner.AttachEntry(e)
	return e
}

// Lookup is a pure query: no allocation, no mutation.
func (t *Table) Lookup(addr uint64) (Owner, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byAddr[addr]
	if !ok {
		return nil, false
	}
	return e.owner, true
}

// Delete removes one entry. It is a no-op if the entry has already been
// replaced or removed (e.g. concurrently superseded by Set).
func (t *Table) Delete(e *Entry) {
	t.mu.Lock()
	cur, ok := t.byAddr[e.addr]
	if ok && cur == e {
		delete(t.byAddr, e.addr)
	}
	t.mu.Unlock()

	if ok && cur == e {
		e.owner.DetachEntry(e)
	}
}

// Flush removes every entry, detaching each from its owner.
func (t *Table) Flush() {
	t.mu.Lock()
	all := make([]*Entry, 0, len(t.byAddr))
	for _, e := range t.byAddr {
		all = append(all, e)
	}
	t.byAddr = make(map[uint64]*Entry)
	t.mu.Unlock()

	for _, e := range all {
		e.owner.DetachEntry(e)
	}
}

// Len reports the current number of entries, for diagnostics and tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byAddr)
}

// Row is one forwarding-table entry as exposed for diagnostics
// (spec.md §6.2 pduft_dump), decoupled from the live Entry so a caller
// cannot mutate the table through it. Field names/tags match what
// pduftctl writes as CSV columns.
type Row struct {
	Addr  uint64 `csv:"address"`
	Owner string `csv:"owner"`
}

// Snapshot returns every current entry as a stable, addr-sorted copy.
// The owner column uses fmt.Stringer when the concrete owner
// implements it (lower flows do), else falls back to a Go type name.
func (t *Table) Snapshot() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([]Row, 0, len(t.byAddr))
	for addr, e := range t.byAddr {
		rows = append(rows, Row{Addr: addr, Owner: ownerLabel(e.owner)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Addr < rows[j].Addr })
	return rows
}

func ownerLabel(o Owner) string {
	if s, ok := o.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", o)
}
