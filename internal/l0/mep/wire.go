package mep

import (
	"encoding/binary"
	"fmt"
)

// Wire layout constants for the Multi-Event Packet format (NA62-11-02
// table 2 equivalent). All multi-byte fields are little-endian; the decode
// below works byte by byte so the layout holds on any architecture.
//
// MEP header (8 bytes):
//
//	bytes 0-2   leading event number, 24-bit (triggers since start of burst)
//	byte  3     source ID (detector subsystem)
//	bytes 4-5   total MEP length in bytes, header included
//	byte  6     fragment count
//	byte  7     source sub-ID (readout board)
//
// Fragment sub-header (8 bytes, one per fragment, immediately followed by
// the opaque fragment payload):
//
//	bytes 0-1   fragment length in bytes, sub-header included
//	byte  2     event number LSB (low 8 bits of the event number)
//	byte  3     flags: bit 7 = last event of burst, bits 0-6 reserved
//	bytes 4-7   fragment timestamp
const (
	// HeaderSize is the fixed MEP header length in bytes.
	HeaderSize = 8

	// FragmentHeaderSize is the fixed per-fragment sub-header length; it is
	// also the minimum size of a fragment sub-record.
	FragmentHeaderSize = 8

	// MaxEventNum is the largest value the 24-bit leading event number can carry.
	MaxEventNum = 0xFFFFFF

	// FlagLastEventOfBurst marks the final event of an acquisition cycle.
	FlagLastEventOfBurst = 0x80
)

// Header holds the decoded fields of a MEP header.
type Header struct {
	FirstEventNum uint32 // 24-bit count of triggers since burst start
	SourceID      uint8  // raw detector subsystem ID
	Length        uint16 // total MEP length in bytes, header included
	FragmentCount uint8  // number of event fragments in this MEP
	SourceSubID   uint8  // readout board ID
}

// DecodeHeader decodes the fixed MEP header from the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("buffer too short for MEP header: %d < %d", len(b), HeaderSize)
	}
	return Header{
		FirstEventNum: uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16,
		SourceID:      b[3],
		Length:        binary.LittleEndian.Uint16(b[4:6]),
		FragmentCount: b[6],
		SourceSubID:   b[7],
	}, nil
}

// Encode writes the header into the first HeaderSize bytes of b.
// The leading event number is truncated to 24 bits.
func (h Header) Encode(b []byte) {
	_ = b[HeaderSize-1]
	b[0] = byte(h.FirstEventNum)
	b[1] = byte(h.FirstEventNum >> 8)
	b[2] = byte(h.FirstEventNum >> 16)
	b[3] = h.SourceID
	binary.LittleEndian.PutUint16(b[4:6], h.Length)
	b[6] = h.FragmentCount
	b[7] = h.SourceSubID
}

// FragmentHeader holds the decoded fields of one fragment sub-header.
type FragmentHeader struct {
	Length      uint16 // fragment length in bytes, sub-header included
	EventNumLSB uint8  // low 8 bits of this fragment's event number
	Flags       uint8  // bit 7 = last event of burst
	Timestamp   uint32 // fragment timestamp as stamped by the readout board
}

// decodeFragmentHeader decodes a fragment sub-header from the start of b.
// The caller guarantees len(b) >= FragmentHeaderSize.
func decodeFragmentHeader(b []byte) FragmentHeader {
	return FragmentHeader{
		Length:      binary.LittleEndian.Uint16(b[0:2]),
		EventNumLSB: b[2],
		Flags:       b[3],
		Timestamp:   binary.LittleEndian.Uint32(b[4:8]),
	}
}

// Encode writes the fragment sub-header into the first FragmentHeaderSize
// bytes of b.
func (h FragmentHeader) Encode(b []byte) {
	_ = b[FragmentHeaderSize-1]
	binary.LittleEndian.PutUint16(b[0:2], h.Length)
	b[2] = h.EventNumLSB
	b[3] = h.Flags
	binary.LittleEndian.PutUint32(b[4:8], h.Timestamp)
}

// LastEventOfBurst reports whether this fragment closes the current burst.
func (h FragmentHeader) LastEventOfBurst() bool {
	return h.Flags&FlagLastEventOfBurst != 0
}
