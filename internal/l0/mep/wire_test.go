package mep

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		hdr  Header
	}{
		{"zero", Header{Length: HeaderSize}},
		{"typical", Header{
			FirstEventNum: 123456,
			SourceID:      0x04,
			Length:        1432,
			FragmentCount: 10,
			SourceSubID:   2,
		}},
		{"max fields", Header{
			FirstEventNum: MaxEventNum,
			SourceID:      0xFF,
			Length:        0xFFFF,
			FragmentCount: 0xFF,
			SourceSubID:   0xFF,
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf [HeaderSize]byte
			c.hdr.Encode(buf[:])

			got, err := DecodeHeader(buf[:])
			if err != nil {
				t.Fatalf("DecodeHeader failed: %v", err)
			}
			if diff := cmp.Diff(c.hdr, got); diff != "" {
				t.Errorf("header round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeHeaderByteLayout(t *testing.T) {
	// Hand-built buffer pinning the exact byte positions and the
	// little-endian ordering of the multi-byte fields.
	buf := []byte{
		0x78, 0x56, 0x34, // leading event number 0x345678
		0x0A,       // source ID
		0x2C, 0x01, // length 300
		0x03, // fragment count
		0x07, // source sub-ID
	}

	hdr, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}

	if hdr.FirstEventNum != 0x345678 {
		t.Errorf("FirstEventNum = 0x%06x, want 0x345678", hdr.FirstEventNum)
	}
	if hdr.SourceID != 0x0A {
		t.Errorf("SourceID = 0x%02x, want 0x0A", hdr.SourceID)
	}
	if hdr.Length != 300 {
		t.Errorf("Length = %d, want 300", hdr.Length)
	}
	if hdr.FragmentCount != 3 {
		t.Errorf("FragmentCount = %d, want 3", hdr.FragmentCount)
	}
	if hdr.SourceSubID != 7 {
		t.Errorf("SourceSubID = %d, want 7", hdr.SourceSubID)
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	want := FragmentHeader{
		Length:      140,
		EventNumLSB: 0xAB,
		Flags:       FlagLastEventOfBurst,
		Timestamp:   0xDEADBEEF,
	}

	var buf [FragmentHeaderSize]byte
	want.Encode(buf[:])
	got := decodeFragmentHeader(buf[:])

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragment header round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.LastEventOfBurst() {
		t.Error("LastEventOfBurst = false, want true")
	}
}
