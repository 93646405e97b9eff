package network

import (
	"context"
	"fmt"
	"time"

	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/protocol"
)

// play hands the connection to the game logic. A reader goroutine decodes
// inbound packets into the bridge; this goroutine writes outbound packets
// in queue order and drives keep-alive.
func (c *Connection) play(ctx context.Context) error {
	c.setReadDeadline(time.Time{})

	player := game.Player{
		ConnID: c.id,
		Name:   c.session.Username,
		UUID:   c.session.UUID,
		Remote: c.session.Remote,
	}
	bridge := game.NewBridge(c.opts.InboundQueueSize, c.opts.OutboundQueueSize)
	if err := c.svc.Logic.Join(ctx, player, bridge); err != nil {
		bridge.Close()
		return &disconnectError{reason: err.Error()}
	}
	c.bridge = bridge
	c.player = &player
	c.emit(ctx, events.EventPlayerJoined, events.PlayerPayload{
		ConnID: c.id,
		Name:   player.Name,
		UUID:   player.UUID,
		Remote: player.Remote,
	})

	readErr := make(chan error, 1)
	c.reader.Add(1)
	go func() {
		defer c.reader.Done()
		readErr <- c.readLoop(ctx)
	}()

	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()
	var sentAt time.Time

	for {
		select {
		case p := <-bridge.Outbound():
			if err := c.writePacket(p); err != nil {
				return err
			}
		case now := <-ticker.C:
			if err := c.keepAliveTick(now, &sentAt); err != nil {
				return err
			}
		case err := <-readErr:
			if kerr := c.kicked(); kerr != nil {
				return kerr
			}
			return err
		case <-c.interrupt:
			return c.kicked()
		case <-bridge.Done():
			return &disconnectError{reason: "Disconnected"}
		}
	}
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		p, err := c.transport.ReadPacket(protocol.Play)
		if err != nil {
			return err
		}
		if ka, ok := p.(*protocol.ServerboundKeepAlive); ok {
			if !c.keepAlive.CompareAndSwap(ka.ID, 0) {
				c.logger.Debug().Int64("id", ka.ID).Msg("ignored unexpected keep-alive")
			}
			continue
		}
		if err := c.bridge.Submit(ctx, p); err != nil {
			return err
		}
	}
}

// keepAliveTick sends a probe when none is outstanding and fails once the
// outstanding one is older than the timeout.
func (c *Connection) keepAliveTick(now time.Time, sentAt *time.Time) error {
	if c.keepAlive.Load() != 0 {
		if waited := now.Sub(*sentAt); waited >= c.opts.KeepAliveTimeout {
			return fmt.Errorf("%w: no answer for %s", protocol.ErrKeepAliveTimeout, waited.Round(time.Millisecond))
		}
		return nil
	}
	id := now.UnixNano()
	c.keepAlive.Store(id)
	*sentAt = now
	return c.writePacket(&protocol.ClientboundKeepAlive{ID: id})
}
