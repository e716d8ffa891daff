package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/WhileEndless/go-netserver/pkg/filecache"
	"github.com/WhileEndless/go-netserver/pkg/session"
	"github.com/WhileEndless/go-netserver/pkg/tlsconfig"
)

// ServerCallbacks bundles the hooks of an HTTP server. The embedded session
// callbacks fire for transport-level events; the request hooks fire once a
// complete (or malformed) request has been assembled.
type ServerCallbacks struct {
	Session session.Callbacks

	// OnReceivedRequest fires for every complete request that was not
	// served from the static-content cache.
	OnReceivedRequest func(s *session.Session, req *Request)

	// OnReceivedRequestError fires for a malformed request; the server has
	// already replied 400 and will disconnect the session.
	OnReceivedRequestError func(s *session.Session, req *Request, err error)
}

// serverSessionState is the per-session protocol state: the request under
// assembly and, after a protocol upgrade, the raw byte sink that replaces
// HTTP parsing.
type serverSessionState struct {
	req      *Request
	upgraded bool
	sink     func(s *session.Session, data []byte)
}

// Server serves HTTP/1.1 over any of the stream transports. Static GETs are
// short-circuited through the attached file cache; everything else reaches
// OnReceivedRequest.
type Server struct {
	inner *session.Server
	cache *filecache.Cache
	cb    ServerCallbacks
}

// NewServer creates a plain TCP HTTP server.
func NewServer(address string, opts session.ServerOptions, cb ServerCallbacks) *Server {
	srv := &Server{cb: cb}
	srv.inner = session.NewTCPServer(address, opts, srv.sessionCallbacks())
	return srv
}

// NewTLSServer creates an HTTPS server.
func NewTLSServer(address string, tlsOpts tlsconfig.ServerOptions, opts session.ServerOptions, cb ServerCallbacks) (*Server, error) {
	srv := &Server{cb: cb}
	inner, err := session.NewTLSServer(address, tlsOpts, opts, srv.sessionCallbacks())
	if err != nil {
		return nil, err
	}
	srv.inner = inner
	return srv, nil
}

// NewUnixServer creates an HTTP server on a Unix-domain socket.
func NewUnixServer(path string, opts session.ServerOptions, cb ServerCallbacks) *Server {
	srv := &Server{cb: cb}
	srv.inner = session.NewUnixServer(path, opts, srv.sessionCallbacks())
	return srv
}

// Inner exposes the underlying session server.
func (srv *Server) Inner() *session.Server { return srv.inner }

// Start binds the listener and begins accepting.
func (srv *Server) Start() error { return srv.inner.Start() }

// Stop closes the listener and disconnects every session.
func (srv *Server) Stop() error { return srv.inner.Stop() }

// Restart stops and starts the server.
func (srv *Server) Restart() error { return srv.inner.Restart() }

// ListenAddress returns the actual listener address once started.
func (srv *Server) ListenAddress() string { return srv.inner.ListenAddress() }

// Cache returns the attached static-content cache, or nil.
func (srv *Server) Cache() *filecache.Cache { return srv.cache }

// SetCache attaches a static-content cache. Must be called before Start.
func (srv *Server) SetCache(cache *filecache.Cache) { srv.cache = cache }

// AddStaticContent mirrors the directory tree at path into the cache under
// prefix and serves matching GETs directly from memory as prebuilt
// responses. ttl controls both cache expiry and the Cache-Control max-age
// advertised to clients.
func (srv *Server) AddStaticContent(path, prefix string, ttl time.Duration, filter string) bool {
	if srv.cache == nil {
		srv.cache = filecache.New()
	}
	return srv.cache.InsertPath(path, prefix, filter, ttl, StaticContentHandler)
}

// StaticContentHandler prebuilds a 200 response around a static file so a
// cache hit costs one buffer send. The stored value is the complete
// response serialization.
func StaticContentHandler(cache *filecache.Cache, key string, value []byte, ttl time.Duration) bool {
	resp := NewResponse().
		SetBegin(200).
		SetHeader("Content-Type", ContentTypeForPath(key)).
		SetHeader("Cache-Control", "max-age="+strconv.Itoa(int(ttl/time.Second))).
		SetBody(value)
	data := make([]byte, resp.Cache().Size())
	copy(data, resp.Cache().Data())
	cache.Add(key, data, ttl)
	return true
}

// SendResponse synchronously writes a response to a session.
func SendResponse(s *session.Session, resp *Response) int {
	return s.Send(resp.Cache().Data())
}

// SendResponseAsync enqueues a response on a session.
func SendResponseAsync(s *session.Session, resp *Response) bool {
	return s.SendAsync(resp.Cache().Data())
}

// Upgrade diverts the session's subsequent bytes away from the HTTP parser
// into sink. The WebSocket layer calls this after a successful handshake.
// Must be called from within a session callback.
func (srv *Server) Upgrade(s *session.Session, sink func(s *session.Session, data []byte)) {
	st := s.UserData().(*serverSessionState)
	st.upgraded = true
	st.sink = sink
}

// sessionCallbacks wires the protocol layer into the session engine while
// passing lifecycle events through to the application.
func (srv *Server) sessionCallbacks() session.Callbacks {
	user := srv.cb.Session
	cb := user
	cb.OnConnected = func(s *session.Session) {
		s.SetUserData(&serverSessionState{req: NewRequest()})
		if user.OnConnected != nil {
			user.OnConnected(s)
		}
	}
	cb.OnReceived = func(s *session.Session, data []byte) {
		if user.OnReceived != nil {
			user.OnReceived(s, data)
		}
		srv.onReceived(s, data)
	}
	cb.OnDisconnected = func(s *session.Session) {
		srv.onDisconnected(s)
		if user.OnDisconnected != nil {
			user.OnDisconnected(s)
		}
	}
	return cb
}

// onReceived feeds incoming bytes through the incremental parser, serving
// each completed request and carrying pipelined leftovers into the next.
func (srv *Server) onReceived(s *session.Session, data []byte) {
	st, ok := s.UserData().(*serverSessionState)
	if !ok {
		return
	}
	if st.upgraded {
		st.sink(s, data)
		return
	}

	for {
		req := st.req
		if !req.HeaderReceived() {
			req.ReceiveHeader(data)
		} else {
			req.ReceiveBody(data)
		}

		if req.IsErrorSet() {
			resp := MakeErrorResponse(400, "Bad Request")
			SendResponse(s, resp)
			if srv.cb.OnReceivedRequestError != nil {
				srv.cb.OnReceivedRequestError(s, req, errRequestMalformed())
			}
			s.Disconnect()
			return
		}
		if !req.BodyReceived() {
			return
		}

		// Pipelining: bytes beyond the completed request start the next one.
		var leftover []byte
		if total := req.TotalSize(); total < req.Cache().Size() {
			tail := req.Cache().Data()[total:]
			leftover = make([]byte, len(tail))
			copy(leftover, tail)
			_ = req.Cache().Resize(total)
		}

		st.req = NewRequest()
		srv.dispatch(s, req)

		// The dispatch may have upgraded the session; hand the remaining
		// bytes to the new protocol.
		if st.upgraded {
			if len(leftover) > 0 {
				st.sink(s, leftover)
			}
			return
		}
		if len(leftover) == 0 {
			return
		}
		data = leftover
	}
}

// dispatch serves a completed request: static cache first, application
// callback otherwise.
func (srv *Server) dispatch(s *session.Session, req *Request) {
	if srv.cache != nil && req.Method() == "GET" {
		key := req.URL()
		if i := strings.IndexByte(key, '?'); i >= 0 {
			key = key[:i]
		}
		if value, ok := srv.cache.Find(key); ok {
			s.SendAsync(value)
			return
		}
	}
	if srv.cb.OnReceivedRequest != nil {
		srv.cb.OnReceivedRequest(s, req)
	}
}

// onDisconnected finalizes a request whose body length was never declared:
// the accumulated body is delivered before the session goes away.
func (srv *Server) onDisconnected(s *session.Session) {
	st, ok := s.UserData().(*serverSessionState)
	if !ok || st.upgraded {
		return
	}
	req := st.req
	if req.IsPendingBody() && !req.BodyLengthProvided() {
		req.FinalizeBody()
		if srv.cb.OnReceivedRequest != nil {
			srv.cb.OnReceivedRequest(s, req)
		}
	}
}

// Multicast enqueues raw bytes to every connected session.
func (srv *Server) Multicast(data []byte) int { return srv.inner.Multicast(data) }

// MulticastResponse enqueues a response serialization to every session.
func (srv *Server) MulticastResponse(resp *Response) int {
	return srv.inner.Multicast(resp.Cache().Data())
}
