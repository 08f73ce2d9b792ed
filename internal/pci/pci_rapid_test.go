package pci

import (
	"testing"

	"pgregory.net/rapid"
)

var widthGen = rapid.SampledFrom([]Width{Width1, Width2, Width4, Width8})

func flavourGen(t *rapid.T) Flavour {
	return Flavour{
		Addr: widthGen.Draw(t, "addr"),
		Seq:  widthGen.Draw(t, "seq"),
		Len:  widthGen.Draw(t, "len"),
		CEP:  widthGen.Draw(t, "cep"),
		QoS:  widthGen.Draw(t, "qos"),
	}
}

// maxForWidth bounds a field's generated value to what its wire width
// can actually carry, so Encode/Decode round-trips losslessly.
func maxForWidth(w Width) uint64 {
	if w == Width8 {
		return ^uint64(0)
	}
	return uint64(1)<<(uint(w)*8) - 1
}

// TestHeaderRoundTripsAcrossFlavours checks that for any legal Flavour
// and any Header whose field values fit that flavour's widths,
// Encode-then-Decode reproduces the header exactly (spec.md §4.1's PCI
// codec invariant), generalizing the table-driven cases in pci_test.go
// to the full (flavour x value) space.
func TestHeaderRoundTripsAcrossFlavours(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := flavourGen(t)
		isControl := rapid.Bool().Draw(t, "isControl")

		typ := rapid.SampledFrom([]uint8{TypeDT, TypeMGMT}).Draw(t, "type")
		if isControl {
			withAck := rapid.Bool().Draw(t, "withAck")
			withFC := rapid.Bool().Draw(t, "withFC")
			typ = ControlType(withAck, withFC, SubtypeACK)
		}

		h := Header{
			DstAddr: rapid.Uint64Range(0, maxForWidth(f.Addr)).Draw(t, "dstAddr"),
			SrcAddr: rapid.Uint64Range(0, maxForWidth(f.Addr)).Draw(t, "srcAddr"),
			QoSID:   rapid.Uint64Range(0, maxForWidth(f.QoS)).Draw(t, "qos"),
			DstCEP:  rapid.Uint64Range(0, maxForWidth(f.CEP)).Draw(t, "dstCEP"),
			SrcCEP:  rapid.Uint64Range(0, maxForWidth(f.CEP)).Draw(t, "srcCEP"),
			Type:    typ,
			Length:  rapid.Uint64Range(0, maxForWidth(f.Len)).Draw(t, "length"),
			Seq:     rapid.Uint64Range(0, maxForWidth(f.Seq)).Draw(t, "seq"),
		}
		if isControl {
			h.LastCtrlSeqRcvd = rapid.Uint64Range(0, maxForWidth(f.Seq)).Draw(t, "lastCtrl")
			h.AckNackSeqNum = rapid.Uint64Range(0, maxForWidth(f.Seq)).Draw(t, "ackNack")
			h.NewLWE = rapid.Uint64Range(0, maxForWidth(f.Seq)).Draw(t, "newLWE")
			h.NewRWE = rapid.Uint64Range(0, maxForWidth(f.Seq)).Draw(t, "newRWE")
			h.MyLWE = rapid.Uint64Range(0, maxForWidth(f.Seq)).Draw(t, "myLWE")
			h.MyRWE = rapid.Uint64Range(0, maxForWidth(f.Seq)).Draw(t, "myRWE")
		}

		encoded, err := h.Encode(f)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		decoded, n, err := Decode(encoded, f)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if n != len(encoded) {
			t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
		}
		if decoded != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, h)
		}
	})
}
