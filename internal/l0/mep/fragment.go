package mep

import "sync/atomic"

// Fragment is one event's sub-record within a MEP. It never owns the
// underlying buffer; it holds a slice into the parent MEP's data plus a
// back-reference for header lookups and release accounting.
type Fragment struct {
	mep      *MEP
	hdr      FragmentHeader
	raw      []byte // full sub-record: sub-header + payload
	eventNum uint32

	released atomic.Bool
}

// EventNum returns the full event number of this fragment, reconstructed
// from the MEP's leading event number and the fragment's position.
func (f *Fragment) EventNum() uint32 { return f.eventNum }

// Timestamp returns the fragment timestamp from the sub-header.
func (f *Fragment) Timestamp() uint32 { return f.hdr.Timestamp }

// LastEventOfBurst reports whether this fragment carries the end-of-burst
// marker; the burst handler's SetNextBurstID is driven off this flag.
func (f *Fragment) LastEventOfBurst() bool { return f.hdr.LastEventOfBurst() }

// Length returns the sub-record length in bytes, sub-header included.
func (f *Fragment) Length() int { return int(f.hdr.Length) }

// Payload returns the event data after the sub-header. Its internal layout
// belongs to the detector-specific decoder, not to this package.
func (f *Fragment) Payload() []byte { return f.raw[FragmentHeaderSize:] }

// Raw returns the full sub-record including the sub-header.
func (f *Fragment) Raw() []byte { return f.raw }

// SourceID returns the parent MEP's raw source ID.
func (f *Fragment) SourceID() uint8 { return f.mep.SourceID() }

// SourceSubID returns the parent MEP's readout board ID.
func (f *Fragment) SourceSubID() uint8 { return f.mep.SourceSubID() }

// SourceIndex returns the parent MEP's resolved dense source index.
func (f *Fragment) SourceIndex() int { return f.mep.SourceIndex() }

// MEP returns the parent packet view.
func (f *Fragment) MEP() *MEP { return f.mep }

// Release hands the fragment back to its MEP once the payload has been fully
// processed. It returns true when this release was the last one and the
// MEP's buffer has been torn down. A second Release on the same fragment is
// a caller bug; the latch makes it a detected no-op instead of corrupting
// the pending count.
func (f *Fragment) Release() bool {
	if !f.released.CompareAndSwap(false, true) {
		return false
	}
	return f.mep.release()
}

// Released reports whether Release has already been called on this fragment.
func (f *Fragment) Released() bool { return f.released.Load() }
