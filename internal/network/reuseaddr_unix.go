//go:build unix

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a listen config that sets SO_REUSEADDR so a
// restarted host can rebind its beacon port while old sockets sit in TIME_WAIT.
// Accepted sockets get TCP keep-alive.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		KeepAlive: keepAlivePeriod,
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}
