//go:build linux

package network

import (
	"fmt"
	"net"
	"syscall"
)

// ReuseAddrListenConfig is used by the game listener, the query socket and
// the admin API. With SO_REUSEADDR a restarted Quarry binds its TCP and UDP
// ports again while connections from the previous run are in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: setReuseAddr}
}

func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	if sockErr != nil {
		return fmt.Errorf("SO_REUSEADDR on %s %s: %w", network, address, sockErr)
	}
	return nil
}
