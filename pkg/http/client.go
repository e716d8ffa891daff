package http

import (
	"context"

	"github.com/WhileEndless/go-netserver/pkg/session"
	"github.com/WhileEndless/go-netserver/pkg/transport"
)

// ClientCallbacks bundles the hooks of an HTTP client.
type ClientCallbacks struct {
	Session session.Callbacks

	// OnReceivedResponse fires for every complete response.
	OnReceivedResponse func(s *session.Session, resp *Response)

	// OnReceivedResponseError fires when the response stream is malformed;
	// the client disconnects afterwards.
	OnReceivedResponseError func(s *session.Session, resp *Response, err error)
}

// Client speaks HTTP/1.1 over a persistent client session. Requests are
// sent explicitly; responses are assembled incrementally and delivered
// through OnReceivedResponse.
type Client struct {
	inner *session.Client
	cb    ClientCallbacks

	resp     *Response
	upgraded bool
	sink     func(s *session.Session, data []byte)
}

// NewClient creates a plain TCP HTTP client.
func NewClient(config transport.Config, opts session.Options, cb ClientCallbacks) *Client {
	c := &Client{cb: cb}
	c.inner = session.NewTCPClient(config, opts, c.sessionCallbacks())
	return c
}

// NewTLSClient creates an HTTPS client.
func NewTLSClient(config transport.Config, opts session.Options, cb ClientCallbacks) *Client {
	c := &Client{cb: cb}
	c.inner = session.NewTLSClient(config, opts, c.sessionCallbacks())
	return c
}

// NewUnixClient creates an HTTP client over a Unix-domain socket.
func NewUnixClient(path string, opts session.Options, cb ClientCallbacks) *Client {
	c := &Client{cb: cb}
	c.inner = session.NewUnixClient(path, opts, c.sessionCallbacks())
	return c
}

// Inner exposes the underlying session client.
func (c *Client) Inner() *session.Client { return c.inner }

// Session returns the current session, or nil before the first connect.
func (c *Client) Session() *session.Session { return c.inner.Session() }

// IsConnected reports whether the current session is usable.
func (c *Client) IsConnected() bool { return c.inner.IsConnected() }

// Connect establishes the session.
func (c *Client) Connect(ctx context.Context) (*session.Session, error) {
	c.resp = NewResponse()
	c.upgraded = false
	c.sink = nil
	return c.inner.Connect(ctx)
}

// Disconnect tears the session down.
func (c *Client) Disconnect() bool { return c.inner.Disconnect() }

// SendRequest enqueues a request's serialization on the session.
func (c *Client) SendRequest(req *Request) bool {
	s := c.Session()
	if s == nil {
		return false
	}
	return s.SendAsync(req.Cache().Data())
}

// Upgrade diverts subsequent received bytes away from the HTTP response
// parser into sink. The WebSocket layer calls this after validating the 101
// response. Must be called from within a session callback.
func (c *Client) Upgrade(sink func(s *session.Session, data []byte)) {
	c.upgraded = true
	c.sink = sink
}

func (c *Client) sessionCallbacks() session.Callbacks {
	user := c.cb.Session
	cb := user
	cb.OnReceived = func(s *session.Session, data []byte) {
		if user.OnReceived != nil {
			user.OnReceived(s, data)
		}
		c.onReceived(s, data)
	}
	cb.OnDisconnected = func(s *session.Session) {
		c.onDisconnected(s)
		if user.OnDisconnected != nil {
			user.OnDisconnected(s)
		}
	}
	return cb
}

// onReceived assembles responses out of the byte stream, delivering each
// complete one and carrying pipelined leftovers forward.
func (c *Client) onReceived(s *session.Session, data []byte) {
	if c.upgraded {
		c.sink(s, data)
		return
	}

	for {
		resp := c.resp
		if !resp.HeaderReceived() {
			resp.ReceiveHeader(data)
		} else {
			resp.ReceiveBody(data)
		}

		if resp.IsErrorSet() {
			if c.cb.OnReceivedResponseError != nil {
				c.cb.OnReceivedResponseError(s, resp, errResponseMalformed())
			}
			s.Disconnect()
			return
		}
		if !resp.BodyReceived() {
			return
		}

		var leftover []byte
		if total := resp.TotalSize(); total < resp.Cache().Size() {
			tail := resp.Cache().Data()[total:]
			leftover = make([]byte, len(tail))
			copy(leftover, tail)
			_ = resp.Cache().Resize(total)
		}

		c.resp = NewResponse()
		if c.cb.OnReceivedResponse != nil {
			c.cb.OnReceivedResponse(s, resp)
		}

		if c.upgraded {
			if len(leftover) > 0 {
				c.sink(s, leftover)
			}
			return
		}
		if len(leftover) == 0 {
			return
		}
		data = leftover
	}
}

// onDisconnected finalizes a response whose length was never declared.
func (c *Client) onDisconnected(s *session.Session) {
	if c.upgraded {
		return
	}
	resp := c.resp
	if resp.IsPendingBody() && !resp.BodyLengthProvided() {
		resp.FinalizeBody()
		if c.cb.OnReceivedResponse != nil {
			c.cb.OnReceivedResponse(s, resp)
		}
	}
}
