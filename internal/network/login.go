package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/quarry/internal/auth"
	"github.com/energizer-project/quarry/internal/protocol"
)

// login runs login-start, the optional key exchange and the optional
// compression switch, and leaves the connection in Play.
func (c *Connection) login(ctx context.Context) error {
	c.setReadDeadline(time.Now().Add(c.opts.LoginTimeout))

	if v := c.session.ProtocolVersion; v != protocol.ProtocolVersion {
		reason := "Outdated server! I'm still on " + protocol.VersionName
		if v < protocol.ProtocolVersion {
			reason = "Outdated client! Please use " + protocol.VersionName
		}
		return &disconnectError{reason: reason}
	}

	p, err := c.readPacket()
	if err != nil {
		return err
	}
	start, err := expect[*protocol.LoginStart](protocol.Login, p)
	if err != nil {
		return err
	}
	if err := auth.ValidateUsername(start.Username); err != nil {
		return err
	}
	c.setPlayerName(start.Username)

	if err := c.checkBans(ctx); err != nil {
		return err
	}

	if c.opts.OnlineMode {
		if err := c.authenticate(ctx); err != nil {
			return err
		}
	} else {
		c.session.UUID = auth.OfflineUUID(c.session.Username)
	}

	if t := c.opts.CompressionThreshold; t >= 0 {
		if err := c.writePacket(&protocol.SetCompression{Threshold: int32(t)}); err != nil {
			return err
		}
		c.transport.SetThreshold(t)
		c.session.Threshold = t
		c.threshold.Store(int32(t))
	}

	if err := c.writePacket(&protocol.LoginSuccess{
		UUID:     c.session.UUID,
		Username: c.session.Username,
	}); err != nil {
		return err
	}

	c.logger.Info().
		Str("uuid", c.session.UUID.String()).
		Bool("encrypted", c.session.Encrypted).
		Int("compression", c.session.Threshold).
		Msg("login succeeded")

	return c.transition(protocol.Play)
}

func (c *Connection) setPlayerName(name string) {
	c.session.Username = name
	c.name.Store(&name)
	c.logger = c.baseLogger().Str("player", name).Logger()
	c.transport.SetLogger(c.logger)
}

func (c *Connection) checkBans(ctx context.Context) error {
	if c.svc.Bans == nil {
		return nil
	}
	ban, err := c.svc.Bans.Check(ctx, c.session.Username, c.remoteHost())
	if err != nil {
		c.logger.Error().Err(err).Msg("ban lookup failed, allowing login")
		return nil
	}
	if ban == nil {
		return nil
	}
	return &disconnectError{reason: ban.Message()}
}

// authenticate performs the online mode key exchange. The cipher is on
// for every byte after the encryption response, including a disconnect.
func (c *Connection) authenticate(ctx context.Context) error {
	keys := c.svc.Keys
	token, err := auth.NewVerifyToken()
	if err != nil {
		return err
	}
	c.session.VerifyToken = token

	if err := c.writePacket(&protocol.EncryptionRequest{
		PublicKey:   keys.PublicKey(),
		VerifyToken: token,
	}); err != nil {
		return err
	}

	p, err := c.readPacket()
	if err != nil {
		return err
	}
	resp, err := expect[*protocol.EncryptionResponse](protocol.Login, p)
	if err != nil {
		return err
	}
	secret, err := keys.CheckEncryptionResponse(resp, token)
	if err != nil {
		return err
	}
	c.session.SharedSecret = secret

	if err := c.transport.EnableEncryption(secret); err != nil {
		return err
	}
	c.session.Encrypted = true
	c.encrypted.Store(true)

	hash := auth.ServerHash("", secret, keys.PublicKey())
	vctx, cancel := context.WithTimeout(ctx, c.opts.LoginTimeout)
	defer cancel()
	profile, err := c.svc.Verifier.HasJoined(vctx, c.session.Username, hash, c.remoteHost())
	if err != nil {
		if errors.Is(err, protocol.ErrAuthenticationFailed) {
			return err
		}
		return &disconnectError{
			reason: "Authentication servers are down. Please try again later.",
			cause:  fmt.Errorf("session verification: %w", err),
		}
	}

	c.session.UUID = profile.ID
	c.session.Properties = profile.Properties
	if profile.Name != c.session.Username {
		c.setPlayerName(profile.Name)
	}
	return nil
}
