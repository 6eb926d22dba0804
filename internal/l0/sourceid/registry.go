// Package sourceid maps raw detector source identifiers to dense array
// indices. Detector subsystems are assigned sparse 8-bit IDs on the wire
// (e.g. {2, 5, 7}); event building wants contiguous indices ({0, 1, 2}) so
// per-source state can live in plain slices.
package sourceid

import "fmt"

// unmapped marks a source ID with no registered index.
const unmapped = -1

// Registry holds the immutable source-ID → dense-index mapping for one
// detector configuration. It is built once at startup and is safe for
// concurrent readers.
type Registry struct {
	ids     []uint8
	indexOf [256]int16
}

// NewRegistry builds a registry from the configured list of active source
// IDs. Indices are assigned in the order given. Duplicate IDs are rejected.
func NewRegistry(ids []uint8) (*Registry, error) {
	r := &Registry{ids: make([]uint8, len(ids))}
	for i := range r.indexOf {
		r.indexOf[i] = unmapped
	}
	for i, id := range ids {
		if r.indexOf[id] != unmapped {
			return nil, fmt.Errorf("duplicate source ID 0x%02x", id)
		}
		r.ids[i] = id
		r.indexOf[id] = int16(i)
	}
	return r, nil
}

// Resolve returns the dense index for a raw source ID. ok is false when the
// ID is not part of the configured detector setup.
func (r *Registry) Resolve(id uint8) (index int, ok bool) {
	n := r.indexOf[id]
	if n == unmapped {
		return 0, false
	}
	return int(n), true
}

// SourceIDOf is the inverse of Resolve: the raw ID at a dense index.
func (r *Registry) SourceIDOf(index int) (uint8, bool) {
	if index < 0 || index >= len(r.ids) {
		return 0, false
	}
	return r.ids[index], true
}

// NumSources returns the number of registered sources.
func (r *Registry) NumSources() int {
	return len(r.ids)
}

// SourceIDs returns a copy of the registered raw IDs in index order.
func (r *Registry) SourceIDs() []uint8 {
	out := make([]uint8, len(r.ids))
	copy(out, r.ids)
	return out
}
