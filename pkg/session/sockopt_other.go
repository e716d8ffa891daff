//go:build !unix

package session

import "syscall"

// listenControl is a no-op on platforms without the unix sockopt surface.
func listenControl(opts ServerOptions) func(network, address string, c syscall.RawConn) error {
	return nil
}
