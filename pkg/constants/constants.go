// Package constants defines magic numbers and default values used throughout go-netserver
package constants

import "time"

// Connection timeouts
const (
	DefaultConnTimeout = 10 * time.Second
	DefaultDNSTimeout  = 5 * time.Second
)

// Session buffer defaults and limits
const (
	// DefaultReceiveBufferSize is the initial per-session receive buffer
	// capacity. The buffer doubles whenever a read fills it completely.
	DefaultReceiveBufferSize = 8 * 1024

	// DefaultSendBufferSize is the initial capacity of each of the two
	// send buffers (main and flush).
	DefaultSendBufferSize = 8 * 1024

	// DefaultAcceptBufferSize is the SO_RCVBUF/SO_SNDBUF hint applied to
	// accepted sockets when the server options request it. Zero leaves the
	// OS default untouched.
	DefaultAcceptBufferSize = 0
)

// HTTP limits
const (
	// MaxHeaderBytes bounds the header block the incremental parser will
	// accumulate before flagging a protocol error.
	MaxHeaderBytes = 64 * 1024

	// MaxContentLength bounds the Content-Length the parser accepts.
	MaxContentLength = 1024 * 1024 * 1024 // 1GB
)

// WebSocket limits
const (
	// WSMaxControlPayload is the RFC 6455 cap on control-frame payloads.
	WSMaxControlPayload = 125

	// WSSendBufferSize is the initial capacity of the per-engine frame
	// construction buffer.
	WSSendBufferSize = 4 * 1024
)

// File cache defaults
const (
	DefaultCacheTTL = time.Hour
)
