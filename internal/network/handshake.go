package network

import (
	"time"

	"github.com/energizer-project/quarry/internal/protocol"
)

// handshake reads the single Handshake packet and moves to the requested
// state.
func (c *Connection) handshake() (protocol.State, error) {
	c.setReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))

	p, err := c.readPacket()
	if err != nil {
		return 0, err
	}
	hs, err := expect[*protocol.Handshake](protocol.Handshaking, p)
	if err != nil {
		return 0, err
	}

	c.session.ProtocolVersion = hs.ProtocolVersion
	c.session.ServerAddress = hs.ServerAddress
	c.session.ServerPort = hs.ServerPort

	switch hs.NextState {
	case protocol.Status, protocol.Login:
	default:
		return 0, protocol.Violation("handshake requested state %d", int32(hs.NextState))
	}

	c.logger.Debug().
		Int32("protocol", hs.ProtocolVersion).
		Str("host", hs.ServerAddress).
		Str("next", hs.NextState.String()).
		Msg("handshake")

	if err := c.transition(hs.NextState); err != nil {
		return 0, err
	}
	return hs.NextState, nil
}
