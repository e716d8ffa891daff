package session

import (
	"context"

	"github.com/WhileEndless/go-netserver/pkg/errors"
	"github.com/WhileEndless/go-netserver/pkg/timing"
	"github.com/WhileEndless/go-netserver/pkg/transport"
)

// Client manages one outbound session: dial (directly or through an
// upstream proxy), optional TLS upgrade, then the same Session contract the
// server side uses. A disconnected client can connect again; each connect
// produces a fresh session.
type Client struct {
	config transport.Config
	opts   Options
	cb     Callbacks

	// unixPath, when set, dials a Unix-domain socket instead of TCP.
	unixPath string

	session *Session
	metrics timing.Metrics
}

// NewTCPClient creates a client for a plain TCP endpoint.
func NewTCPClient(config transport.Config, opts Options, cb Callbacks) *Client {
	config.UseTLS = false
	return &Client{config: config, opts: opts, cb: cb}
}

// NewTLSClient creates a client that runs a TLS handshake after connecting.
func NewTLSClient(config transport.Config, opts Options, cb Callbacks) *Client {
	config.UseTLS = true
	return &Client{config: config, opts: opts, cb: cb}
}

// NewUnixClient creates a client for a Unix-domain stream socket.
func NewUnixClient(path string, opts Options, cb Callbacks) *Client {
	return &Client{unixPath: path, opts: opts, cb: cb}
}

// Session returns the current session, or nil before the first connect.
func (c *Client) Session() *Session {
	return c.session
}

// IsConnected reports whether the current session is usable.
func (c *Client) IsConnected() bool {
	return c.session != nil && c.session.IsConnected()
}

// Metrics returns the connect-phase timings of the last Connect call.
func (c *Client) Metrics() timing.Metrics {
	return c.metrics
}

// Connect establishes the session. For TLS targets the handshake runs
// inside the dial, so OnHandshaking/OnHandshaked fire around an
// already-completed handshake to preserve callback ordering.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	if c.IsConnected() {
		return nil, errors.NewValidationError("client is already connected")
	}

	timer := timing.NewTimer()

	var s *Session
	if c.unixPath != "" {
		conn, err := transport.ConnectUnix(ctx, c.unixPath, c.config.ConnTimeout)
		if err != nil {
			return nil, err
		}
		s = newSession(nil, conn, c.opts, c.cb)
	} else {
		cfg := c.config
		// Socket options ride through the dialer.
		cfg.KeepAlive = c.opts.KeepAlive
		cfg.KeepAlivePeriod = c.opts.KeepAlivePeriod
		cfg.NoDelay = c.opts.NoDelay
		conn, err := transport.Connect(ctx, cfg, timer)
		if err != nil {
			return nil, err
		}
		s = newSession(nil, conn, c.opts, c.cb)
	}

	c.metrics = timer.GetMetrics()
	c.session = s

	var handshake func() error
	if c.config.UseTLS {
		// The TLS handshake already completed inside Connect; the hook just
		// brackets the callbacks.
		handshake = func() error { return nil }
	}
	if err := s.start(handshake); err != nil {
		return nil, err
	}
	return s, nil
}

// Disconnect tears the current session down. Returns false when there is
// nothing to disconnect.
func (c *Client) Disconnect() bool {
	if c.session == nil {
		return false
	}
	return c.session.Disconnect()
}

// Wait blocks until the current session's I/O goroutines exit.
func (c *Client) Wait() {
	if c.session != nil {
		c.session.wait()
	}
}
