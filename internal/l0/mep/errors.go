package mep

import "fmt"

// MalformedPacketError reports a structural inconsistency between the
// declared lengths/counts in a MEP and the actual buffer: the packet cannot
// be framed and must be dropped. It is a per-packet condition, never fatal.
type MalformedPacketError struct {
	Reason string
}

func (e *MalformedPacketError) Error() string {
	return "malformed MEP: " + e.Reason
}

func malformedf(format string, v ...interface{}) error {
	return &MalformedPacketError{Reason: fmt.Sprintf(format, v...)}
}

// UnknownSourceError reports a structurally valid MEP from a source ID that
// is not part of the configured detector setup, so the packet cannot be
// routed to a per-source slot.
type UnknownSourceError struct {
	SourceID uint8
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("MEP from unknown source ID 0x%02x", e.SourceID)
}
