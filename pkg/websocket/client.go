package websocket

import (
	"context"

	"github.com/WhileEndless/go-netserver/pkg/http"
	"github.com/WhileEndless/go-netserver/pkg/session"
	"github.com/WhileEndless/go-netserver/pkg/transport"
)

// ClientCallbacks bundles the hooks of a WebSocket client.
type ClientCallbacks struct {
	Session session.Callbacks
	Engine  EngineCallbacks
}

// Client dials a WebSocket endpoint: TCP (ws) or TLS (wss) connect, HTTP
// upgrade handshake, then the frame codec. The engine masks every outgoing
// frame with a fresh random key as RFC 6455 requires of clients.
type Client struct {
	inner  *http.Client
	cb     ClientCallbacks
	target string
	host   string

	engine *Engine
}

// NewClient creates a ws:// client for the given target path (e.g. "/chat").
func NewClient(config transport.Config, target string, opts session.Options, cb ClientCallbacks) *Client {
	c := &Client{cb: cb, target: target, host: config.Host}
	c.inner = http.NewClient(config, opts, c.httpCallbacks())
	return c
}

// NewTLSClient creates a wss:// client.
func NewTLSClient(config transport.Config, target string, opts session.Options, cb ClientCallbacks) *Client {
	c := &Client{cb: cb, target: target, host: config.Host}
	c.inner = http.NewTLSClient(config, opts, c.httpCallbacks())
	return c
}

// Inner exposes the underlying HTTP client.
func (c *Client) Inner() *http.Client { return c.inner }

// Session returns the current session, or nil before the first connect.
func (c *Client) Session() *session.Session { return c.inner.Session() }

// Engine returns the frame engine of the current connection.
func (c *Client) Engine() *Engine { return c.engine }

// IsHandshaked reports whether the WebSocket upgrade completed.
func (c *Client) IsHandshaked() bool {
	return c.engine != nil && c.engine.IsHandshaked()
}

// Connect dials the endpoint and sends the upgrade request. The handshake
// completes asynchronously; EngineCallbacks.OnConnected fires when the 101
// has been validated.
func (c *Client) Connect(ctx context.Context) error {
	c.engine = newEngine(true, c.cb.Engine)
	s, err := c.inner.Connect(ctx)
	if err != nil {
		return err
	}
	if !c.inner.SendRequest(c.engine.makeUpgradeRequest(c.host, c.target)) {
		s.Disconnect()
		return newProtocolError("failed to send upgrade request")
	}
	return nil
}

// Disconnect tears the session down without a close handshake.
func (c *Client) Disconnect() bool { return c.inner.Disconnect() }

// SendText enqueues a TEXT message.
func (c *Client) SendText(payload []byte) bool {
	s := c.Session()
	return s != nil && c.IsHandshaked() && c.engine.SendText(s, payload)
}

// SendBinary enqueues a BINARY message.
func (c *Client) SendBinary(payload []byte) bool {
	s := c.Session()
	return s != nil && c.IsHandshaked() && c.engine.SendBinary(s, payload)
}

// SendFragment enqueues one fragment of a message.
func (c *Client) SendFragment(opcode byte, fin bool, payload []byte) bool {
	s := c.Session()
	return s != nil && c.IsHandshaked() && c.engine.SendFragment(s, opcode, fin, payload)
}

// SendPing enqueues a PING frame.
func (c *Client) SendPing(payload []byte) bool {
	s := c.Session()
	return s != nil && c.IsHandshaked() && c.engine.SendPing(s, payload)
}

// SendClose starts the closing handshake.
func (c *Client) SendClose(status int, reason []byte) bool {
	s := c.Session()
	return s != nil && c.IsHandshaked() && c.engine.SendClose(s, status, reason)
}

func (c *Client) httpCallbacks() http.ClientCallbacks {
	return http.ClientCallbacks{
		Session:            c.cb.Session,
		OnReceivedResponse: c.onResponse,
		OnReceivedResponseError: func(s *session.Session, resp *http.Response, err error) {
			if c.cb.Engine.OnError != nil {
				c.cb.Engine.OnError(s, err)
			}
		},
	}
}

// onResponse validates the upgrade reply and switches to the frame codec.
func (c *Client) onResponse(s *session.Session, resp *http.Response) {
	if c.engine.IsHandshaked() {
		return
	}
	if err := c.engine.checkClientUpgrade(resp); err != nil {
		if c.cb.Engine.OnError != nil {
			c.cb.Engine.OnError(s, err)
		}
		s.Disconnect()
		return
	}

	c.engine.handshaked = true
	c.inner.Upgrade(c.engine.ProcessReceived)
	if c.cb.Engine.OnConnected != nil {
		c.cb.Engine.OnConnected(s)
	}
}
