package l0

import (
	"github.com/farm-daq/l0readout/internal/l0/mep"
	"github.com/farm-daq/l0readout/internal/l0/sourceid"
)

// Type aliases re-export the packet framing types so callers can import
// l0 while the implementation stays in dedicated subpackages.

// MEP is a parsed Multi-Event Packet owning its receive buffer.
type MEP = mep.MEP

// Fragment is one event's sub-record within a MEP.
type Fragment = mep.Fragment

// Header is the decoded fixed MEP header.
type Header = mep.Header

// MalformedPacketError reports a structurally inconsistent MEP.
type MalformedPacketError = mep.MalformedPacketError

// UnknownSourceError reports a MEP from an unregistered source ID.
type UnknownSourceError = mep.UnknownSourceError

// SourceRegistry maps raw source IDs to dense indices.
type SourceRegistry = sourceid.Registry

// Constructor re-exports.

// ParseMEP frames a receiver buffer as one MEP.
var ParseMEP = mep.Parse

// NewSourceRegistry builds the source-ID mapping for a detector setup.
var NewSourceRegistry = sourceid.NewRegistry
