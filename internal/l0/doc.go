// Package l0 owns the lowest layer of the readout data model: framing raw
// receiver buffers into Multi-Event Packets and routing them by source.
//
// Responsibilities: MEP header + fragment sub-header decoding, shared buffer
// lifetime across fragment consumers, and the source-ID → dense-index
// mapping. Burst bookkeeping lives one layer up in internal/burst.
//
// Dependency rule: l0 has no inward dependencies on higher layers.
package l0
