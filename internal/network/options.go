package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/quarry/internal/config"
	"github.com/energizer-project/quarry/internal/protocol"
)

// Options are the listener and per-connection limits.
type Options struct {
	Address        string
	MaxConnections int

	CompressionThreshold int
	Limits               protocol.FrameLimits
	OnlineMode           bool

	HandshakeTimeout  time.Duration
	LoginTimeout      time.Duration
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration

	InboundQueueSize  int
	OutboundQueueSize int

	// Per remote IP connection rate; zero disables the limiter.
	ConnectionsPerSecond float64
	ConnectionBurst      int
	LimiterCacheSize     int
}

// OptionsFromConfig builds listener options from the server and network
// sections.
func OptionsFromConfig(cfg *config.Config) Options {
	srv := cfg.GetServer()
	n := cfg.GetNetwork()
	return Options{
		Address:              fmt.Sprintf("%s:%d", srv.Address, srv.Port),
		MaxConnections:       n.MaxConnections,
		CompressionThreshold: n.CompressionThreshold,
		Limits: protocol.FrameLimits{
			MaxFrameLength: n.MaxFrameLength,
			MaxDataLength:  n.MaxDecompressedLength,
		},
		OnlineMode:           srv.OnlineMode,
		HandshakeTimeout:     n.HandshakeTimeout(),
		LoginTimeout:         n.LoginTimeout(),
		KeepAliveInterval:    n.KeepAliveInterval(),
		KeepAliveTimeout:     n.KeepAliveTimeout(),
		WriteTimeout:         n.WriteTimeout(),
		ShutdownTimeout:      n.ShutdownTimeout(),
		InboundQueueSize:     n.InboundQueueSize,
		OutboundQueueSize:    n.OutboundQueueSize,
		ConnectionsPerSecond: n.ConnectionsPerSecond,
		ConnectionBurst:      n.ConnectionBurst,
		LimiterCacheSize:     n.LimiterCacheSize,
	}
}

func (o *Options) validate() error {
	switch {
	case o.MaxConnections <= 0:
		return errors.New("max connections must be positive")
	case o.CompressionThreshold < -1:
		return fmt.Errorf("compression threshold %d below -1", o.CompressionThreshold)
	case o.Limits.MaxFrameLength <= 0 || o.Limits.MaxFrameLength > protocol.MaxFrameLength:
		return fmt.Errorf("max frame length %d outside 1..%d", o.Limits.MaxFrameLength, protocol.MaxFrameLength)
	case o.Limits.MaxDataLength <= 0:
		return errors.New("max decompressed length must be positive")
	case o.HandshakeTimeout <= 0 || o.LoginTimeout <= 0:
		return errors.New("handshake and login timeouts must be positive")
	case o.KeepAliveInterval <= 0 || o.KeepAliveTimeout < o.KeepAliveInterval:
		return errors.New("keep-alive timeout must be at least the interval")
	case o.InboundQueueSize <= 0 || o.OutboundQueueSize <= 0:
		return errors.New("queue sizes must be positive")
	}
	return nil
}
