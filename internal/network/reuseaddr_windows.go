//go:build windows

package network

import (
	"fmt"
	"net"
	"syscall"
)

// ReuseAddrListenConfig sets SO_REUSEADDR on the game, query and admin
// API sockets before they bind.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: setReuseAddr}
}

func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	if sockErr != nil {
		return fmt.Errorf("SO_REUSEADDR on %s %s: %w", network, address, sockErr)
	}
	return nil
}
