// Package session implements the per-connection I/O engine and the server
// acceptor built on top of it: goroutine-driven read and write loops with
// backpressure, buffer-growth policy, graceful shutdown, and statistics.
package session

import (
	"time"

	"github.com/WhileEndless/go-netserver/pkg/constants"
)

// Options tunes a single session's buffers and socket behavior.
type Options struct {
	// ReceiveBufferSize is the initial receive buffer capacity. The buffer
	// doubles whenever a read fills it completely. Default 8KB.
	ReceiveBufferSize int

	// ReceiveBufferLimit caps receive buffer growth. When a full read would
	// require growing past the limit the session surfaces a no_buffer_space
	// error and disconnects. Zero means unlimited.
	ReceiveBufferLimit int

	// SendBufferSize is the initial capacity of each send buffer
	// (main and flush). Default 8KB.
	SendBufferSize int

	// SendBufferLimit caps the amount of data queued for sending. SendAsync
	// refuses (returns false) once main would exceed the limit. Zero means
	// unlimited.
	SendBufferLimit int

	// KeepAlive enables OS-level TCP keep-alive probes.
	KeepAlive       bool
	KeepAlivePeriod time.Duration

	// NoDelay disables Nagle's algorithm.
	NoDelay bool
}

// withDefaults fills zero-valued fields with library defaults.
func (o Options) withDefaults() Options {
	if o.ReceiveBufferSize <= 0 {
		o.ReceiveBufferSize = constants.DefaultReceiveBufferSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = constants.DefaultSendBufferSize
	}
	return o
}

// ServerOptions tunes the listening endpoint.
type ServerOptions struct {
	// ReuseAddr sets SO_REUSEADDR on the listening socket.
	ReuseAddr bool

	// ReusePort sets SO_REUSEPORT on the listening socket, allowing several
	// acceptors to share one port.
	ReusePort bool

	// DualStack controls IPV6_V6ONLY for IPv6 listeners: when true
	// (the default for a zero value is false, so set it explicitly) the
	// listener accepts both IPv4-mapped and IPv6 connections.
	DualStack bool

	// AcceptBufferSize, when positive, is applied as SO_RCVBUF and SO_SNDBUF
	// to accepted sockets.
	AcceptBufferSize int

	// Session holds the per-session options applied to every accepted
	// connection.
	Session Options
}
