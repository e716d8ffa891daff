package session

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/WhileEndless/go-netserver/pkg/errors"
	"github.com/WhileEndless/go-netserver/pkg/tlsconfig"
	"github.com/WhileEndless/go-netserver/pkg/transport"
)

// Server owns a listening endpoint and the sessions accepted from it.
// A stopped server can be started again (restartable lifecycle).
type Server struct {
	network string // "tcp" or "unix"
	address string
	opts    ServerOptions
	cb      Callbacks

	// tlsCfg, when non-nil, upgrades every accepted connection with a
	// server-side TLS handshake before OnConnected.
	tlsCfg *tls.Config

	mu       sync.RWMutex
	listener net.Listener
	sessions map[uuid.UUID]*Session

	started   atomic.Bool
	accepting atomic.Bool
	acceptWG  sync.WaitGroup

	// Aggregate statistics, updated atomically by sessions.
	bytesReceived    atomic.Int64
	bytesSent        atomic.Int64
	acceptedSessions atomic.Int64
}

// NewTCPServer creates a plain TCP server bound to address ("host:port").
func NewTCPServer(address string, opts ServerOptions, cb Callbacks) *Server {
	return &Server{
		network:  "tcp",
		address:  address,
		opts:     opts,
		cb:       cb,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// NewTLSServer creates a TLS server bound to address. The certificate and
// handshake policy come from tlsOpts.
func NewTLSServer(address string, tlsOpts tlsconfig.ServerOptions, opts ServerOptions, cb Callbacks) (*Server, error) {
	cfg, err := tlsconfig.BuildServer(tlsOpts)
	if err != nil {
		return nil, err
	}
	s := NewTCPServer(address, opts, cb)
	s.tlsCfg = cfg
	return s, nil
}

// NewUnixServer creates a Unix-domain stream server bound to path.
func NewUnixServer(path string, opts ServerOptions, cb Callbacks) *Server {
	s := NewTCPServer(path, opts, cb)
	s.network = "unix"
	return s
}

// Address returns the configured bind address (or socket path).
func (srv *Server) Address() string {
	return srv.address
}

// ListenAddress returns the actual listener address once started; useful
// with ":0" binds. Empty when the server is stopped.
func (srv *Server) ListenAddress() string {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	if srv.listener == nil {
		return ""
	}
	return srv.listener.Addr().String()
}

// IsStarted reports whether the server is listening.
func (srv *Server) IsStarted() bool {
	return srv.started.Load()
}

// IsAccepting reports whether the accept loop is running.
func (srv *Server) IsAccepting() bool {
	return srv.accepting.Load()
}

// BytesReceived returns the aggregate bytes received across all sessions.
func (srv *Server) BytesReceived() int64 { return srv.bytesReceived.Load() }

// BytesSent returns the aggregate bytes sent across all sessions.
func (srv *Server) BytesSent() int64 { return srv.bytesSent.Load() }

// AcceptedSessions returns the lifetime count of accepted sessions.
func (srv *Server) AcceptedSessions() int64 { return srv.acceptedSessions.Load() }

// ConnectedSessions returns the number of currently registered sessions.
func (srv *Server) ConnectedSessions() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// FindSession looks a session up by id.
func (srv *Server) FindSession(id uuid.UUID) (*Session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	s, ok := srv.sessions[id]
	return s, ok
}

// Start binds the listener and launches the accept loop.
func (srv *Server) Start() error {
	if !srv.started.CompareAndSwap(false, true) {
		return errors.NewValidationError("server is already started")
	}

	lc := net.ListenConfig{
		Control: listenControl(srv.opts),
	}
	listener, err := lc.Listen(context.Background(), srv.network, srv.address)
	if err != nil {
		srv.started.Store(false)
		return errors.NewConnectionError(srv.address, err)
	}

	srv.mu.Lock()
	srv.listener = listener
	srv.mu.Unlock()

	srv.accepting.Store(true)
	srv.acceptWG.Add(1)
	go srv.acceptLoop(listener)
	return nil
}

// Stop closes the listener, disconnects every session, and waits for the
// accept loop and all session goroutines to drain. After Stop returns the
// server can be started again.
func (srv *Server) Stop() error {
	if !srv.started.CompareAndSwap(true, false) {
		return errors.NewValidationError("server is not started")
	}

	srv.accepting.Store(false)

	srv.mu.Lock()
	listener := srv.listener
	srv.listener = nil
	srv.mu.Unlock()
	if listener != nil {
		_ = listener.Close()
	}

	srv.acceptWG.Wait()

	sessions := srv.snapshot()
	for _, s := range sessions {
		s.Disconnect()
	}
	for _, s := range sessions {
		s.wait()
	}
	return nil
}

// Restart stops and starts the server.
func (srv *Server) Restart() error {
	if err := srv.Stop(); err != nil {
		return err
	}
	return srv.Start()
}

// Multicast enqueues data to every currently connected session. Delivery is
// per-session FIFO; no ordering is guaranteed across sessions. Returns the
// number of sessions the data was enqueued to.
func (srv *Server) Multicast(data []byte) int {
	sent := 0
	for _, s := range srv.snapshot() {
		if s.SendAsync(data) {
			sent++
		}
	}
	return sent
}

// MulticastString enqueues the UTF-8 bytes of text to every session.
func (srv *Server) MulticastString(text string) int {
	return srv.Multicast([]byte(text))
}

// DisconnectAll disconnects every currently connected session.
func (srv *Server) DisconnectAll() {
	for _, s := range srv.snapshot() {
		s.Disconnect()
	}
}

// snapshot copies the session registry so iteration tolerates concurrent
// disconnects.
func (srv *Server) snapshot() []*Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		out = append(out, s)
	}
	return out
}

func (srv *Server) register(s *Session) {
	srv.mu.Lock()
	srv.sessions[s.id] = s
	srv.mu.Unlock()
}

func (srv *Server) unregister(s *Session) {
	srv.mu.Lock()
	delete(srv.sessions, s.id)
	srv.mu.Unlock()
}

// acceptLoop accepts connections until the listener closes.
func (srv *Server) acceptLoop(listener net.Listener) {
	defer srv.acceptWG.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !srv.accepting.Load() || errors.IsDisconnectError(err) {
				return
			}
			log.Warn().Err(err).Str("address", srv.address).Msg("accept failed")
			continue
		}
		srv.acceptedSessions.Add(1)
		go srv.serveConn(conn)
	}
}

// serveConn wires an accepted connection into a session and starts its I/O.
func (srv *Server) serveConn(conn net.Conn) {
	transport.ApplySocketOptions(conn,
		srv.opts.Session.KeepAlive, srv.opts.Session.KeepAlivePeriod, srv.opts.Session.NoDelay)
	applyAcceptBuffers(conn, srv.opts.AcceptBufferSize)

	var handshake func() error
	if srv.tlsCfg != nil {
		tlsConn := tls.Server(conn, srv.tlsCfg)
		conn = tlsConn
		handshake = tlsConn.Handshake
	}

	s := newSession(srv, conn, srv.opts.Session, srv.cb)
	srv.register(s)

	if err := s.start(handshake); err != nil {
		log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("session handshake failed")
	}
}

// applyAcceptBuffers applies the accept buffer size hint to a socket.
func applyAcceptBuffers(conn net.Conn, size int) {
	if size <= 0 {
		return
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetReadBuffer(size)
		_ = tcpConn.SetWriteBuffer(size)
	}
}
