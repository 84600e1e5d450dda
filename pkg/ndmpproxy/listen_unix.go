//go:build !windows

package ndmpproxy

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR on
// the listening socket before bind, mirroring the original's tolerance of
// "BIND: Address already in use" from a stale prior proxy instance in
// start_ndmp_proxy: a fresh ndmp-proxy can rebind a recently-released port
// immediately instead of waiting out TIME_WAIT.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}
