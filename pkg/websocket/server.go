package websocket

import (
	"sync"

	"github.com/google/uuid"

	"github.com/WhileEndless/go-netserver/pkg/filecache"
	"github.com/WhileEndless/go-netserver/pkg/http"
	"github.com/WhileEndless/go-netserver/pkg/session"
	"github.com/WhileEndless/go-netserver/pkg/tlsconfig"
)

// ServerCallbacks bundles the hooks of a WebSocket server. Ordinary HTTP
// requests (no upgrade headers at all) fall through to OnReceivedRequest,
// so one server can serve static content and WebSocket traffic on one port.
type ServerCallbacks struct {
	Session session.Callbacks

	// OnReceivedRequest fires for plain HTTP requests.
	OnReceivedRequest func(s *session.Session, req *http.Request)

	// OnReceivedRequestError fires for malformed HTTP requests.
	OnReceivedRequestError func(s *session.Session, req *http.Request, err error)

	// Engine holds the WebSocket hooks applied to every upgraded session.
	Engine EngineCallbacks
}

// Server accepts WebSocket connections: it serves the HTTP upgrade
// handshake and switches matching sessions onto the frame codec.
type Server struct {
	inner *http.Server
	cb    ServerCallbacks

	mu      sync.RWMutex
	engines map[uuid.UUID]*Engine
}

// NewServer creates a ws:// server on plain TCP.
func NewServer(address string, opts session.ServerOptions, cb ServerCallbacks) *Server {
	srv := &Server{cb: cb, engines: make(map[uuid.UUID]*Engine)}
	srv.inner = http.NewServer(address, opts, srv.httpCallbacks())
	return srv
}

// NewTLSServer creates a wss:// server.
func NewTLSServer(address string, tlsOpts tlsconfig.ServerOptions, opts session.ServerOptions, cb ServerCallbacks) (*Server, error) {
	srv := &Server{cb: cb, engines: make(map[uuid.UUID]*Engine)}
	inner, err := http.NewTLSServer(address, tlsOpts, opts, srv.httpCallbacks())
	if err != nil {
		return nil, err
	}
	srv.inner = inner
	return srv, nil
}

// Inner exposes the underlying HTTP server.
func (srv *Server) Inner() *http.Server { return srv.inner }

// Start binds the listener and begins accepting.
func (srv *Server) Start() error { return srv.inner.Start() }

// Stop closes the listener and disconnects every session.
func (srv *Server) Stop() error { return srv.inner.Stop() }

// ListenAddress returns the actual listener address once started.
func (srv *Server) ListenAddress() string { return srv.inner.ListenAddress() }

// SetCache attaches a static-content cache to the HTTP side.
func (srv *Server) SetCache(cache *filecache.Cache) { srv.inner.SetCache(cache) }

// Engine returns the frame engine of an upgraded session.
func (srv *Server) Engine(s *session.Session) (*Engine, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	e, ok := srv.engines[s.ID()]
	return e, ok
}

// SendText enqueues a TEXT message on an upgraded session.
func (srv *Server) SendText(s *session.Session, payload []byte) bool {
	e, ok := srv.Engine(s)
	return ok && e.SendText(s, payload)
}

// SendBinary enqueues a BINARY message on an upgraded session.
func (srv *Server) SendBinary(s *session.Session, payload []byte) bool {
	e, ok := srv.Engine(s)
	return ok && e.SendBinary(s, payload)
}

// SendClose enqueues a CLOSE frame on an upgraded session.
func (srv *Server) SendClose(s *session.Session, status int, reason []byte) bool {
	e, ok := srv.Engine(s)
	return ok && e.SendClose(s, status, reason)
}

// MulticastText enqueues one TEXT frame to every upgraded session.
// Server-to-client frames are unmasked, so the same encoding serves all.
func (srv *Server) MulticastText(payload []byte) int {
	return srv.multicastFrame(OpText, payload)
}

// MulticastBinary enqueues one BINARY frame to every upgraded session.
func (srv *Server) MulticastBinary(payload []byte) int {
	return srv.multicastFrame(OpBinary, payload)
}

func (srv *Server) multicastFrame(opcode byte, payload []byte) int {
	frame := EncodeServerFrame(opcode, true, payload, 0)

	srv.mu.RLock()
	ids := make([]uuid.UUID, 0, len(srv.engines))
	for id := range srv.engines {
		ids = append(ids, id)
	}
	srv.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if s, ok := srv.inner.Inner().FindSession(id); ok && s.SendAsync(frame) {
			sent++
		}
	}
	return sent
}

// EncodeServerFrame builds one unmasked (server-side) frame as a standalone
// byte slice, suitable for multicasting.
func EncodeServerFrame(opcode byte, fin bool, payload []byte, status int) []byte {
	e := newEngine(false, EngineCallbacks{})
	frame := e.buildFrame(opcode, fin, payload, status)
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}

func (srv *Server) httpCallbacks() http.ServerCallbacks {
	user := srv.cb.Session
	cb := http.ServerCallbacks{
		Session:                user,
		OnReceivedRequest:      srv.onRequest,
		OnReceivedRequestError: srv.cb.OnReceivedRequestError,
	}
	cb.Session.OnDisconnected = func(s *session.Session) {
		srv.mu.Lock()
		delete(srv.engines, s.ID())
		srv.mu.Unlock()
		if user.OnDisconnected != nil {
			user.OnDisconnected(s)
		}
	}
	return cb
}

// onRequest routes each complete HTTP request: upgrade, reject, or fall
// through to plain HTTP handling.
func (srv *Server) onRequest(s *session.Session, req *http.Request) {
	result, resp := CheckServerUpgrade(req)
	switch result {
	case UpgradeNotWebSocket:
		if srv.cb.OnReceivedRequest != nil {
			srv.cb.OnReceivedRequest(s, req)
		}
	case UpgradeRejected:
		http.SendResponseAsync(s, resp)
	case UpgradeAccepted:
		engine := newEngine(false, srv.cb.Engine)
		engine.handshaked = true

		srv.mu.Lock()
		srv.engines[s.ID()] = engine
		srv.mu.Unlock()

		// The 101 must be on the wire before any frame we send; SendAsync
		// keeps per-session FIFO so enqueue order is enough.
		http.SendResponseAsync(s, resp)
		srv.inner.Upgrade(s, engine.ProcessReceived)

		if srv.cb.Engine.OnConnected != nil {
			srv.cb.Engine.OnConnected(s)
		}
	}
}
