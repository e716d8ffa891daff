package session

// Callbacks bundles the observable hooks of a session. All fields are
// optional; nil hooks are skipped. Hooks are invoked from the session's I/O
// goroutines, so implementations must be reentrancy-aware: calling
// Disconnect, Send, or SendAsync from inside a hook is legal.
//
// The data slice passed to OnReceived aliases the session's receive buffer
// and is only valid until the hook returns; receivers must copy if they
// need to retain it.
type Callbacks struct {
	// OnConnecting fires when the session is being established, before any
	// handshake.
	OnConnecting func(s *Session)

	// OnConnected fires once the session is fully established (after the
	// TLS handshake for TLS transports).
	OnConnected func(s *Session)

	// OnHandshaking and OnHandshaked bracket the TLS handshake. Plain TCP
	// and Unix sessions never fire them.
	OnHandshaking func(s *Session)
	OnHandshaked  func(s *Session)

	// OnDisconnecting and OnDisconnected bracket teardown. Each fires at
	// most once per session.
	OnDisconnecting func(s *Session)
	OnDisconnected  func(s *Session)

	// OnReceived fires for every completed read with the received bytes.
	OnReceived func(s *Session, data []byte)

	// OnSent fires after a write completes with the bytes written by that
	// write and the bytes still pending in the send queue.
	OnSent func(s *Session, sent int64, pending int64)

	// OnEmpty fires when the send queue drains completely.
	OnEmpty func(s *Session)

	// OnError fires for errors that are not normal peer disconnects:
	// buffer-space exhaustion and unexpected I/O failures. Transient socket
	// conditions (reset, aborted, refused, closed) never reach OnError.
	OnError func(s *Session, err error)
}

func (c *Callbacks) fireConnecting(s *Session) {
	if c.OnConnecting != nil {
		c.OnConnecting(s)
	}
}

func (c *Callbacks) fireConnected(s *Session) {
	if c.OnConnected != nil {
		c.OnConnected(s)
	}
}

func (c *Callbacks) fireHandshaking(s *Session) {
	if c.OnHandshaking != nil {
		c.OnHandshaking(s)
	}
}

func (c *Callbacks) fireHandshaked(s *Session) {
	if c.OnHandshaked != nil {
		c.OnHandshaked(s)
	}
}

func (c *Callbacks) fireDisconnecting(s *Session) {
	if c.OnDisconnecting != nil {
		c.OnDisconnecting(s)
	}
}

func (c *Callbacks) fireDisconnected(s *Session) {
	if c.OnDisconnected != nil {
		c.OnDisconnected(s)
	}
}

func (c *Callbacks) fireReceived(s *Session, data []byte) {
	if c.OnReceived != nil {
		c.OnReceived(s, data)
	}
}

func (c *Callbacks) fireSent(s *Session, sent, pending int64) {
	if c.OnSent != nil {
		c.OnSent(s, sent, pending)
	}
}

func (c *Callbacks) fireEmpty(s *Session) {
	if c.OnEmpty != nil {
		c.OnEmpty(s)
	}
}

func (c *Callbacks) fireError(s *Session, err error) {
	if c.OnError != nil {
		c.OnError(s, err)
	}
}
