// Package protocol implements the wire format of the block game protocol:
// primitive codecs, packet frames with optional zlib compression, the CFB8
// stream cipher and the packet catalogue for protocol 754. All fixed width
// numbers are big-endian.
package protocol

import "fmt"

// ProtocolVersion is the protocol number spoken by this server (1.16.5).
const ProtocolVersion = 754

// VersionName is reported in status responses.
const VersionName = "1.16.5"

// State is the connection state a packet belongs to. The numeric values of
// Status and Login match the next state field of the handshake.
type State int32

const (
	Handshaking State = iota
	Status
	Login
	Play
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Status:
		return "status"
	case Login:
		return "login"
	case Play:
		return "play"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Direction is the side a packet travels towards.
type Direction uint8

const (
	Serverbound Direction = iota
	Clientbound
)

func (d Direction) String() string {
	if d == Serverbound {
		return "serverbound"
	}
	return "clientbound"
}

// Kind identifies a packet type on the wire.
type Kind struct {
	State     State
	Direction Direction
	ID        int32
}

func (k Kind) String() string {
	return fmt.Sprintf("%s/%s/0x%02X", k.State, k.Direction, k.ID)
}

// Packet is implemented by every catalogue entry.
type Packet interface {
	Kind() Kind
	Encode(b *Builder)
	Decode(r *Reader) error
}
