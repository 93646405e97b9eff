package protocol

import (
	"errors"
	"fmt"
)

// Error taxonomy of the protocol engine. Every error that closes a
// connection wraps exactly one of these so callers can classify it with
// errors.Is.
var (
	ErrMalformedVarInt          = errors.New("malformed varint")
	ErrOversizedField           = errors.New("oversized field")
	ErrTruncatedFrame           = errors.New("truncated frame")
	ErrFrameTooLarge            = errors.New("frame too large")
	ErrCompressionMismatch      = errors.New("compression mismatch")
	ErrCompressionBombSuspected = errors.New("compression bomb suspected")
	ErrValueOutOfRange          = errors.New("value out of range")
	ErrUnknownPacket            = errors.New("unknown packet")
	ErrProtocolViolation        = errors.New("protocol violation")
	ErrAuthenticationFailed     = errors.New("authentication failed")
	ErrKeepAliveTimeout         = errors.New("keep-alive timeout")
	ErrTransport                = errors.New("transport error")
)

// kinds is ordered so that the more specific classification wins when an
// error wraps more than one sentinel (an unknown id during login is both
// unknown and a violation; it is reported as a violation).
var kinds = []struct {
	err   error
	label string
}{
	{ErrTransport, "transport"},
	{ErrAuthenticationFailed, "authentication_failed"},
	{ErrKeepAliveTimeout, "keepalive_timeout"},
	{ErrProtocolViolation, "protocol_violation"},
	{ErrCompressionBombSuspected, "compression_bomb"},
	{ErrFrameTooLarge, "frame_too_large"},
	{ErrCompressionMismatch, "compression_mismatch"},
	{ErrMalformedVarInt, "malformed_varint"},
	{ErrOversizedField, "oversized_field"},
	{ErrTruncatedFrame, "truncated_frame"},
	{ErrValueOutOfRange, "value_out_of_range"},
	{ErrUnknownPacket, "unknown_packet"},
}

// KindOf returns a stable label for err, suitable for logs and metric labels.
// Errors outside the taxonomy are labelled "other".
func KindOf(err error) string {
	if err == nil {
		return "none"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "other"
}

// Transport wraps a socket level failure as ErrTransport. Errors already in
// the taxonomy are returned unchanged.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Recoverable reports whether err may be skipped while in state. Only an
// unknown packet outside Handshaking and Login is recoverable.
func Recoverable(err error, state State) bool {
	if !errors.Is(err, ErrUnknownPacket) || errors.Is(err, ErrProtocolViolation) {
		return false
	}
	return state == Play || state == Status
}

// Violation builds a protocol violation with a formatted reason.
func Violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
