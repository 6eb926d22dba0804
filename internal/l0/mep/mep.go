// Package mep frames raw receiver buffers into Multi-Event Packets.
//
// A MEP is one received buffer carrying a fixed header plus a run of event
// fragments. Parsing is zero-copy: fragments are slices into the original
// buffer, and the MEP keeps the buffer alive until every fragment has been
// released. Worker goroutines release fragments independently; the last
// release tears the buffer down exactly once.
package mep

import (
	"sync/atomic"
)

// SourceResolver maps a raw source ID byte to a dense array index.
// sourceid.Registry implements it; the parser only consults the mapping,
// it does not own it.
type SourceResolver interface {
	Resolve(id uint8) (index int, ok bool)
}

// MEP is the parsed view over one received buffer. It owns the buffer on
// behalf of its fragments and frees it, via the release callback given to
// Parse, exactly once when the pending-fragment count reaches zero.
type MEP struct {
	hdr         Header
	sourceIndex int

	// data is the full receiver buffer this MEP adopted.
	data []byte

	// fragments has exactly hdr.FragmentCount entries for the lifetime of
	// the MEP. Slots are not nulled on release; callers must not touch a
	// fragment they have already released.
	fragments []*Fragment

	pending   atomic.Int32
	onRelease func([]byte)
}

// Parse frames data as one MEP and adopts ownership of the buffer.
//
// On success the returned MEP holds data until all fragments are released,
// then calls release(data) exactly once (release may be nil). On error no
// ownership transfers: release is not called and the caller keeps
// responsibility for the buffer. Errors are *MalformedPacketError for
// structural problems and *UnknownSourceError for an unregistered source ID.
func Parse(data []byte, resolver SourceResolver, release func([]byte)) (*MEP, error) {
	if len(data) < HeaderSize {
		return nil, malformedf("buffer shorter than header: %d < %d bytes", len(data), HeaderSize)
	}
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, &MalformedPacketError{Reason: err.Error()}
	}
	if int(hdr.Length) != len(data) {
		return nil, malformedf("declared length %d does not match buffer length %d", hdr.Length, len(data))
	}
	if hdr.FragmentCount == 0 {
		return nil, malformedf("MEP declares zero fragments")
	}
	if HeaderSize+int(hdr.FragmentCount)*FragmentHeaderSize > len(data) {
		return nil, malformedf("%d fragments cannot fit in %d bytes", hdr.FragmentCount, len(data))
	}

	index, ok := resolver.Resolve(hdr.SourceID)
	if !ok {
		return nil, &UnknownSourceError{SourceID: hdr.SourceID}
	}

	m := &MEP{
		hdr:         hdr,
		sourceIndex: index,
		data:        data,
		onRelease:   release,
	}
	if err := m.initFragments(); err != nil {
		// No fragment has been handed out yet, so dropping the partial
		// slice is the whole cleanup; the buffer stays with the caller.
		m.fragments = nil
		return nil, err
	}
	m.pending.Store(int32(hdr.FragmentCount))
	return m, nil
}

// initFragments walks the fragment sub-headers immediately after the MEP
// header and builds one Fragment per entry. Each fragment's event number is
// the leading event number advanced by its position; the sub-header carries
// only the low 8 bits, which must stay in step.
func (m *MEP) initFragments() error {
	m.fragments = make([]*Fragment, 0, m.hdr.FragmentCount)

	offset := HeaderSize
	for i := 0; i < int(m.hdr.FragmentCount); i++ {
		if offset+FragmentHeaderSize > len(m.data) {
			return malformedf("fragment %d sub-header overruns buffer at offset %d", i, offset)
		}
		fh := decodeFragmentHeader(m.data[offset:])
		if int(fh.Length) < FragmentHeaderSize {
			return malformedf("fragment %d declares length %d below sub-header size", i, fh.Length)
		}
		if offset+int(fh.Length) > len(m.data) {
			return malformedf("fragment %d (length %d) overruns buffer at offset %d", i, fh.Length, offset)
		}

		eventNum := (m.hdr.FirstEventNum + uint32(i)) & MaxEventNum
		if fh.EventNumLSB != uint8(eventNum) {
			return malformedf("fragment %d event number LSB 0x%02x, expected 0x%02x",
				i, fh.EventNumLSB, uint8(eventNum))
		}

		m.fragments = append(m.fragments, &Fragment{
			mep:      m,
			hdr:      fh,
			raw:      m.data[offset : offset+int(fh.Length)],
			eventNum: eventNum,
		})
		offset += int(fh.Length)
	}

	if offset != int(m.hdr.Length) {
		return malformedf("fragments cover %d bytes, header declares %d", offset, m.hdr.Length)
	}
	return nil
}

// SourceID returns the raw detector subsystem ID from the header.
func (m *MEP) SourceID() uint8 { return m.hdr.SourceID }

// SourceIndex returns the dense index the source ID resolved to.
func (m *MEP) SourceIndex() int { return m.sourceIndex }

// FirstEventNum returns the event number of the leading fragment.
func (m *MEP) FirstEventNum() uint32 { return m.hdr.FirstEventNum }

// NumFragments returns the fragment count declared in the header.
func (m *MEP) NumFragments() int { return int(m.hdr.FragmentCount) }

// Length returns the total MEP length in bytes, header included.
func (m *MEP) Length() int { return int(m.hdr.Length) }

// SourceSubID returns the readout board ID from the header.
func (m *MEP) SourceSubID() uint8 { return m.hdr.SourceSubID }

// RawData returns the full adopted buffer. Valid only while at least one
// fragment is unreleased.
func (m *MEP) RawData() []byte { return m.data }

// Fragment returns the n'th fragment, 0 <= n < NumFragments. The slot stays
// addressable after the fragment is released; tracking which fragments are
// still live is the caller's job.
func (m *MEP) Fragment(n int) *Fragment { return m.fragments[n] }

// Pending returns the number of fragments not yet released.
func (m *MEP) Pending() int { return int(m.pending.Load()) }

// release is the per-fragment accounting step. Exactly one caller observes
// the transition to zero under any interleaving; that caller's decrement also
// hands the buffer back through the release callback.
func (m *MEP) release() bool {
	if m.pending.Add(-1) != 0 {
		return false
	}
	if m.onRelease != nil {
		m.onRelease(m.data)
	}
	return true
}
