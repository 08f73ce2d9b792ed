// Package pci implements the PDU header ("PCI" — Protocol Control
// Information) wire format: encode/decode with build-time-selectable
// integer widths per field (the "flavour" mechanism of spec.md §6.1), the
// PDU-type/flag bit layout, and the control-PDU extension fields.
package pci

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PDU type bits. Exact numeric values are implementation-defined so long
// as they are disjoint and stable within a deployment (spec.md §6.1).
// AckBit (0x08) lies outside AckMask (0x03), so the ack-present bit and
// the ACK/NACK/SACK/SNACK subtype never overlap.
const (
	TypeDT   uint8 = 0x80
	TypeMGMT uint8 = 0x40

	CtrlMask uint8 = 0xC0
	FCBit    uint8 = 0x04
	AckBit   uint8 = 0x08
	AckMask  uint8 = 0x03

	SubtypeACK   uint8 = 0x00
	SubtypeNACK  uint8 = 0x01
	SubtypeSACK  uint8 = 0x02
	SubtypeSNACK uint8 = 0x03
)

// Flags.
const (
	FlagDRF uint8 = 0x01
)

// IsControl reports whether a PDU type byte carries the control mask.
func IsControl(t uint8) bool { return t&CtrlMask == CtrlMask }

// IsData reports whether a PDU type byte is DT.
func IsData(t uint8) bool { return t == TypeDT }

// HasFC reports whether a control type byte carries the flow-control bit.
func HasFC(t uint8) bool { return IsControl(t) && t&FCBit != 0 }

// HasAck reports whether a control type byte carries the ack/nack bit.
func HasAck(t uint8) bool { return IsControl(t) && t&AckBit != 0 }

// AckSubtype extracts the ACK/NACK/SACK/SNACK subtype from a control type byte.
func AckSubtype(t uint8) uint8 { return t & AckMask }

// ControlType builds a control PDU type byte from ack/fc flags and subtype.
func ControlType(withAck, withFC bool, subtype uint8) uint8 {
	t := CtrlMask
	if withAck {
		t |= AckBit
		t |= subtype & AckMask
	}
	if withFC {
		t |= FCBit
	}
	return t
}

// Width is one of the four build-time-selectable integer widths.
type Width int

const (
	Width1 Width = 1
	Width2 Width = 2
	Width4 Width = 4
	Width8 Width = 8
)

func (w Width) valid() bool {
	switch w {
	case Width1, Width2, Width4, Width8:
		return true
	}
	return false
}

// Flavour fixes the wire width of each independently-sized PCI field. All
// peers in one DIF must agree on one Flavour.
type Flavour struct {
	Addr Width
	Seq  Width
	Len  Width
	CEP  Width
	QoS  Width
}

// DefaultFlavour is a reasonable default for a small DIF: 4-byte addresses
// and sequence numbers, 2-byte lengths/CEP-ids/QoS-ids.
var DefaultFlavour = Flavour{Addr: Width4, Seq: Width4, Len: Width2, CEP: Width2, QoS: Width2}

func (f Flavour) validate() error {
	for _, w := range []Width{f.Addr, f.Seq, f.Len, f.CEP, f.QoS} {
		if !w.valid() {
			return fmt.Errorf("%w: width %d", ErrInvalidFlavour, w)
		}
	}
	return nil
}

// CommonHeaderSize returns the wire size of the common header for this flavour.
func (f Flavour) CommonHeaderSize() int {
	return int(f.Addr)*2 + int(f.QoS) + int(f.CEP)*2 + 1 + 1 + int(f.Len) + int(f.Seq)
}

// ControlExtraSize returns the additional wire size contributed by the
// control-PDU extension fields (six fields, each the width of a sequence
// number).
func (f Flavour) ControlExtraSize() int {
	return int(f.Seq) * 6
}

var (
	ErrInvalidFlavour = errors.New("pci: invalid flavour")
	ErrTruncated      = errors.New("pci: truncated header")
)

// Header is the decoded in-memory representation of a PCI. All fields are
// widened to uint64 regardless of wire width.
type Header struct {
	DstAddr uint64
	SrcAddr uint64
	QoSID   uint64
	DstCEP  uint64
	SrcCEP  uint64
	Type    uint8
	Flags   uint8
	Length  uint64
	Seq     uint64

	// Control extension, valid iff IsControl(Type).
	LastCtrlSeqRcvd uint64
	AckNackSeqNum   uint64
	NewLWE          uint64
	NewRWE          uint64
	MyLWE           uint64
	MyRWE           uint64
}

// DRF reports whether the data-run-flag bit is set.
func (h Header) DRF() bool { return h.Flags&FlagDRF != 0 }

func putUint(b []byte, w Width, v uint64) {
	switch w {
	case Width1:
		b[0] = byte(v)
	case Width2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Width4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Width8:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func getUint(b []byte, w Width) uint64 {
	switch w {
	case Width1:
		return uint64(b[0])
	case Width2:
		return uint64(binary.LittleEndian.Uint16(b))
	case Width4:
		return uint64(binary.LittleEndian.Uint32(b))
	case Width8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Encode serializes h into a newly allocated byte slice per flavour f.
func (h Header) Encode(f Flavour) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	size := f.CommonHeaderSize()
	if IsControl(h.Type) {
		size += f.ControlExtraSize()
	}
	buf := make([]byte, size)
	off := 0
	put := func(w Width, v uint64) {
		putUint(buf[off:off+int(w)], w, v)
		off += int(w)
	}
	put(f.Addr, h.DstAddr)
	put(f.Addr, h.SrcAddr)
	put(f.QoS, h.QoSID)
	put(f.CEP, h.DstCEP)
	put(f.CEP, h.SrcCEP)
	buf[off] = h.Type
	off++
	buf[off] = h.Flags
	off++
	put(f.Len, h.Length)
	put(f.Seq, h.Seq)
	if IsControl(h.Type) {
		put(f.Seq, h.LastCtrlSeqRcvd)
		put(f.Seq, h.AckNackSeqNum)
		put(f.Seq, h.NewLWE)
		put(f.Seq, h.NewRWE)
		put(f.Seq, h.MyLWE)
		put(f.Seq, h.MyRWE)
	}
	return buf, nil
}

// Decode parses a Header from data per flavour f, returning the header and
// the number of bytes consumed.
func Decode(data []byte, f Flavour) (Header, int, error) {
	if err := f.validate(); err != nil {
		return Header{}, 0, err
	}
	if len(data) < f.CommonHeaderSize() {
		return Header{}, 0, ErrTruncated
	}
	var h Header
	off := 0
	get := func(w Width) uint64 {
		v := getUint(data[off:off+int(w)], w)
		off += int(w)
		return v
	}
	h.DstAddr = get(f.Addr)
	h.SrcAddr = get(f.Addr)
	h.QoSID = get(f.QoS)
	h.DstCEP = get(f.CEP)
	h.SrcCEP = get(f.CEP)
	h.Type = data[off]
	off++
	h.Flags = data[off]
	off++
	h.Length = get(f.Len)
	h.Seq = get(f.Seq)

	if IsControl(h.Type) {
		if len(data)-off < f.ControlExtraSize() {
			return Header{}, 0, ErrTruncated
		}
		h.LastCtrlSeqRcvd = get(f.Seq)
		h.AckNackSeqNum = get(f.Seq)
		h.NewLWE = get(f.Seq)
		h.NewRWE = get(f.Seq)
		h.MyLWE = get(f.Seq)
		h.MyRWE = get(f.Seq)
	}
	return h, off, nil
}
