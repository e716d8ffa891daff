//go:build unix

package session

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl builds the ListenConfig control hook applying the server's
// socket options before bind.
func listenControl(opts ServerOptions) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if opts.ReuseAddr {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil && sockErr == nil {
					sockErr = e
				}
			}
			if opts.ReusePort {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil && sockErr == nil {
					sockErr = e
				}
			}
			if strings.HasPrefix(network, "tcp") && opts.DualStack {
				// Best-effort: only meaningful on IPv6 listeners.
				_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
