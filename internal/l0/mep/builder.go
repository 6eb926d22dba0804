package mep

// Builder assembles a syntactically valid MEP buffer. It is used by the
// traffic generator and by tests; the readout path itself only decodes.
type Builder struct {
	sourceID      uint8
	sourceSubID   uint8
	firstEventNum uint32
	fragments     [][]byte
}

// FragmentSpec describes one fragment to append to a Builder.
type FragmentSpec struct {
	Payload          []byte // opaque event data, may be empty
	Timestamp        uint32
	LastEventOfBurst bool
}

// NewBuilder starts a MEP for the given source with the given leading event
// number (truncated to 24 bits on encode).
func NewBuilder(sourceID, sourceSubID uint8, firstEventNum uint32) *Builder {
	return &Builder{
		sourceID:      sourceID,
		sourceSubID:   sourceSubID,
		firstEventNum: firstEventNum & MaxEventNum,
	}
}

// AddFragment appends one fragment. The event number LSB is derived from the
// leading event number and the fragment's position, so generated packets
// always satisfy the decoder's continuity check.
func (b *Builder) AddFragment(spec FragmentSpec) *Builder {
	eventNum := (b.firstEventNum + uint32(len(b.fragments))) & MaxEventNum

	fh := FragmentHeader{
		Length:      uint16(FragmentHeaderSize + len(spec.Payload)),
		EventNumLSB: uint8(eventNum),
		Timestamp:   spec.Timestamp,
	}
	if spec.LastEventOfBurst {
		fh.Flags |= FlagLastEventOfBurst
	}

	rec := make([]byte, FragmentHeaderSize+len(spec.Payload))
	fh.Encode(rec)
	copy(rec[FragmentHeaderSize:], spec.Payload)
	b.fragments = append(b.fragments, rec)
	return b
}

// NumFragments returns the number of fragments added so far.
func (b *Builder) NumFragments() int { return len(b.fragments) }

// Bytes encodes the complete MEP: header plus all fragment sub-records.
func (b *Builder) Bytes() []byte {
	total := HeaderSize
	for _, f := range b.fragments {
		total += len(f)
	}

	hdr := Header{
		FirstEventNum: b.firstEventNum,
		SourceID:      b.sourceID,
		Length:        uint16(total),
		FragmentCount: uint8(len(b.fragments)),
		SourceSubID:   b.sourceSubID,
	}

	out := make([]byte, total)
	hdr.Encode(out)
	off := HeaderSize
	for _, f := range b.fragments {
		copy(out[off:], f)
		off += len(f)
	}
	return out
}
