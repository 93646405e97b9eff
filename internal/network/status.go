package network

import (
	"errors"

	"github.com/energizer-project/quarry/internal/protocol"
)

// status answers the server list exchange: one request, one ping, then
// the connection ends. A client that leaves after the response is fine.
func (c *Connection) status() error {
	answered := false
	for {
		p, err := c.readPacket()
		if err != nil {
			if answered && errors.Is(err, protocol.ErrTransport) {
				return nil
			}
			return err
		}

		switch pkt := p.(type) {
		case *protocol.StatusRequest:
			if answered {
				return protocol.Violation("second status request")
			}
			resp, err := protocol.NewStatusResponse(c.svc.Status())
			if err != nil {
				return err
			}
			if err := c.writePacket(resp); err != nil {
				return err
			}
			answered = true
		case *protocol.StatusPing:
			return c.writePacket(&protocol.StatusPong{Payload: pkt.Payload})
		default:
			return protocol.Violation("unexpected %s in status", p.Kind())
		}
	}
}
